package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/nhle/tasktalk/internal/skill"
	"github.com/nhle/tasktalk/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the skill endpoint",
	Long: `Start the HTTPS webhook the voice platform posts requests to.

The endpoint answers POST /skill and GET /healthz. TLS is expected to be
terminated in front of it.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = e.cfg.Server.Addr
	}

	journal, err := e.openJournal()
	if err != nil {
		return err
	}
	if journal != nil {
		defer journal.Close()
	}

	h, err := e.handler(journal)
	if err != nil {
		return err
	}

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if journal != nil {
		pruner := sync.NewPruner(journal, e.cfg.Journal.Retention, e.cfg.Journal.PruneInterval, e.logger)
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		pctx, cancel := context.WithCancel(ctx)
		done := superviseJournal(pctx, pruner, hup, e.logger)
		defer func() {
			cancel()
			<-done
		}()
	}

	return skill.NewServer(h, e.logger).Run(ctx, addr)
}

// superviseJournal runs p until ctx is cancelled and prunes immediately on
// every value received from hup. The returned channel closes once the
// final prune status has been logged.
func superviseJournal(ctx context.Context, p *sync.Pruner, hup <-chan os.Signal, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go p.Run(ctx)
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				st := p.Status()
				logger.Info("journal pruner stopped",
					"last_prune", st.LastPrune,
					"removed", st.Removed,
					"error", st.Error,
				)
				return
			case <-hup:
				logger.Info("pruning journal on request")
				p.Trigger()
			}
		}
	}()
	return done
}
