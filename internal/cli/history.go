package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/tasktalk/internal/model"
	"github.com/nhle/tasktalk/internal/store"
	"github.com/nhle/tasktalk/internal/theme"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently handled voice turns",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Number of turns to show")
	historyCmd.Flags().String("intent", "", "Only show turns for this intent")
	historyCmd.Flags().Bool("failed", false, "Only show failed turns")
	historyCmd.Flags().Duration("since", 0, "Only show turns newer than this (e.g. 24h)")
	historyCmd.Flags().Duration("prune", 0, "Delete turns older than this instead of listing")
}

func runHistory(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	journal, err := e.openJournal()
	if err != nil {
		return err
	}
	if journal == nil {
		return errors.New("the journal is disabled (journal.enabled = false)")
	}
	defer journal.Close()

	out := cmd.OutOrStdout()
	now := time.Now()

	if prune, _ := cmd.Flags().GetDuration("prune"); prune > 0 {
		removed, err := journal.PruneTurns(cmd.Context(), now.Add(-prune))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d turns.\n", removed)
		return nil
	}

	filter := store.TurnFilter{}
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	filter.FailedOnly, _ = cmd.Flags().GetBool("failed")
	if intent, _ := cmd.Flags().GetString("intent"); intent != "" {
		filter.Intent = &intent
	}
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		from := now.Add(-since)
		filter.Since = &from
	}

	turns, err := journal.GetTurns(cmd.Context(), filter)
	if err != nil {
		return err
	}
	total, err := journal.CountTurns(cmd.Context(), filter)
	if err != nil {
		return err
	}

	printTurns(out, turns, total)
	return nil
}

func printTurns(w io.Writer, turns []model.Turn, total int) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No turns recorded.")
		return
	}

	fmt.Fprintln(w, theme.HeaderStyle.Render(fmt.Sprintf("Turns (%d of %d)", len(turns), total)))
	for _, t := range turns {
		fmt.Fprintf(w, "%s  %-22s %-6s %s",
			theme.MutedStyle.Render(t.CreatedAt.Local().Format("2006-01-02 15:04:05")),
			t.Intent,
			t.Locale,
			theme.ResultStyle(t.Result).Render(t.Result),
		)
		if t.IssueKey != "" {
			fmt.Fprintf(w, "  %s", theme.KeyStyle.Render(t.IssueKey))
		}
		fmt.Fprintf(w, "  %s\n", theme.MutedStyle.Render(t.Duration.String()))
	}
}
