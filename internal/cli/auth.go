package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/tasktalk/internal/credential"
	"github.com/nhle/tasktalk/internal/model"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the access token used by try",
}

var authSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a Jira access token in the system keyring",
	Args:  cobra.NoArgs,
	RunE:  runAuthSet,
}

var authClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored access token",
	Args:  cobra.NoArgs,
	RunE:  runAuthClear,
}

func init() {
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authClearCmd)

	authSetCmd.Flags().Bool("stdin", false, "Read the token from standard input instead of prompting")
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	fromStdin, _ := cmd.Flags().GetBool("stdin")

	var token string
	var err error
	if fromStdin {
		token, err = readToken(cmd.InOrStdin())
	} else {
		token, err = promptToken()
	}
	if err != nil {
		return err
	}

	vault, err := credential.Open(model.ConfigDir())
	if err != nil {
		return err
	}
	if err := vault.SetToken(token); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Access token stored.")
	return nil
}

func runAuthClear(cmd *cobra.Command, args []string) error {
	vault, err := credential.Open(model.ConfigDir())
	if err != nil {
		return err
	}
	if err := vault.ClearToken(); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Access token removed.")
	return nil
}

func promptToken() (string, error) {
	var token string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Jira access token").
				Description("OAuth 2.0 (3LO) access token for api.atlassian.com").
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Validate(validateToken),
		),
	).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", errors.New("cancelled")
	}
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(token), nil
}

// readToken reads the first line of r.
func readToken(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading token: %w", err)
	}
	token := strings.TrimSpace(line)
	if err := validateToken(token); err != nil {
		return "", err
	}
	return token, nil
}

func validateToken(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("token is required")
	}
	if strings.ContainsAny(s, " \t") {
		return errors.New("token must not contain whitespace")
	}
	return nil
}
