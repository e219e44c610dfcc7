// Package cli implements the tasktalk command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/tasktalk/internal/locale"
	"github.com/nhle/tasktalk/internal/model"
	"github.com/nhle/tasktalk/internal/skill"
	"github.com/nhle/tasktalk/internal/source/jira"
	"github.com/nhle/tasktalk/internal/store"
	"github.com/nhle/tasktalk/internal/tasks"
)

var (
	cfgFile string
	verbose bool
	rootCmd *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "tasktalk",
		Short: "Voice skill backend that files and reads Jira tasks",
		Long: `tasktalk serves a voice-assistant skill that adds tasks to a Jira Cloud
project, counts the open ones and reads their titles aloud.

Run "tasktalk serve" to start the skill endpoint, or "tasktalk try" to
exercise the same intents from the terminal with your own access token.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/tasktalk/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command.
func Execute(version string) error {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tryCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// env is what every command needs after flags are parsed.
type env struct {
	cfg    *model.AppConfig
	logger *slog.Logger
}

func loadEnv(stderr io.Writer) (*env, error) {
	path := cfgFile
	if path == "" {
		path = model.DefaultConfigPath()
	}

	cfg, err := model.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, err := newLogger(stderr, level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return &env{cfg: cfg, logger: logger}, nil
}

// newLogger returns a text logger writing to w at the named level.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("config: invalid log.level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// connector builds the task connector the configuration describes.
func (e *env) connector(opts ...jira.Option) *tasks.Connector {
	catalog := model.NewCatalog(e.cfg.Jira.IssuePath)
	return tasks.NewConnector(
		jira.ConfigFrom(e.cfg.Jira),
		tasks.DefaultPolicy(e.cfg.Jira, catalog),
		e.logger,
		opts...,
	)
}

// openJournal opens the turn journal, or returns nil when it is disabled.
func (e *env) openJournal() (store.Store, error) {
	if !e.cfg.Journal.Enabled {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(e.cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", e.cfg.Journal.Path, err)
	}
	return s, nil
}

// handler wires prompts, connector and journal into a skill handler.
func (e *env) handler(journal store.Store) (*skill.Handler, error) {
	prompts, err := locale.Load(e.cfg.Locale.Dir)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("prompts loaded", "locales", prompts.Locales(), "default", e.cfg.Locale.Default)

	opts := []skill.HandlerOption{
		skill.WithLogger(e.logger),
		skill.WithDefaultLocale(e.cfg.Locale.Default),
	}
	if journal != nil {
		opts = append(opts, skill.WithJournal(journal))
	}
	return skill.NewHandler(skill.ConnectWith(e.connector()), prompts, opts...), nil
}
