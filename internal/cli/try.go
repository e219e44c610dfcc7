package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nhle/tasktalk/internal/credential"
	"github.com/nhle/tasktalk/internal/model"
	"github.com/nhle/tasktalk/internal/skill"
	"github.com/nhle/tasktalk/internal/theme"
)

// tokenEnv overrides the keyring token for try.
const tokenEnv = "TASKTALK_TOKEN"

var tryCmd = &cobra.Command{
	Use:   "try",
	Short: "Run a skill intent from the terminal",
	Long: `Send an intent through the same handler the skill endpoint uses and
print what the device would say.

The access token comes from --token, then $TASKTALK_TOKEN, then the token
stored with "tasktalk auth set".`,
}

var tryAddCmd = &cobra.Command{
	Use:   "add <task name>",
	Short: "Add a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTry(cmd, skill.IntentAddNewTask, strings.Join(args, " "))
	},
}

var tryCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count open tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTry(cmd, skill.IntentGetToDoCount, "")
	},
}

var tryListCmd = &cobra.Command{
	Use:   "list",
	Short: "Read open task titles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTry(cmd, skill.IntentGetToDoList, "")
	},
}

func init() {
	tryCmd.AddCommand(tryAddCmd)
	tryCmd.AddCommand(tryCountCmd)
	tryCmd.AddCommand(tryListCmd)

	tryCmd.PersistentFlags().String("token", "", "Jira OAuth access token")
	tryCmd.PersistentFlags().String("locale", "", "Request locale (default locale.default)")
}

func runTry(cmd *cobra.Command, intent, taskName string) error {
	e, err := loadEnv(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	flagToken, _ := cmd.Flags().GetString("token")
	token, err := resolveToken(flagToken, os.Getenv(tokenEnv), func() (string, error) {
		vault, err := credential.Open(model.ConfigDir())
		if err != nil {
			return "", err
		}
		return vault.Token()
	})
	if err != nil {
		return err
	}

	tag, _ := cmd.Flags().GetString("locale")
	if tag == "" {
		tag = e.cfg.Locale.Default
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

	start := time.Now()
	resp := h.Handle(cmd.Context(), tryEnvelope(intent, taskName, token, tag))
	printSpeech(cmd.OutOrStdout(), intent, resp, time.Since(start))
	return nil
}

// resolveToken picks the first non-empty token source. The keyring is
// consulted only when neither the flag nor the environment provide one.
func resolveToken(flag, envValue string, stored func() (string, error)) (string, error) {
	if t := strings.TrimSpace(flag); t != "" {
		return t, nil
	}
	if t := strings.TrimSpace(envValue); t != "" {
		return t, nil
	}

	t, err := stored()
	if errors.Is(err, credential.ErrNoToken) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("reading stored token: %w", err)
	}
	return t, nil
}

// tryEnvelope builds the request the voice platform would send for intent.
func tryEnvelope(intent, taskName, token, tag string) skill.RequestEnvelope {
	in := &skill.Intent{Name: intent}
	if taskName != "" {
		in.Slots = map[string]skill.Slot{
			skill.SlotTaskName: {Name: skill.SlotTaskName, Value: taskName},
		}
	}

	return skill.RequestEnvelope{
		Version: "1.0",
		Session: &skill.Session{
			New:       true,
			SessionID: "cli." + uuid.NewString(),
			User:      skill.User{UserID: "cli", AccessToken: token},
		},
		Request: skill.Request{
			Type:      skill.RequestIntent,
			RequestID: "cli." + uuid.NewString(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Locale:    tag,
			Intent:    in,
		},
	}
}

func printSpeech(w io.Writer, intent string, resp skill.ResponseEnvelope, elapsed time.Duration) {
	fmt.Fprintln(w, theme.HeaderStyle.Render(intent))
	fmt.Fprintln(w, theme.SpeechStyle.Render(resp.Speech()))
	fmt.Fprintln(w, theme.MutedStyle.Render(fmt.Sprintf("answered in %s", elapsed.Round(time.Millisecond))))
}
