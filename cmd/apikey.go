package cmd

import (
	"os"
	"strings"

	"kimiauth/internal/session"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// apiKeyEnv is read when no key is given on the command line.
const apiKeyEnv = "KIMI_API_KEY"

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api-key",
		Short: "Work with Kimi API keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify [key]",
		Short: "Check an API key against the Kimi API",
		Long: `Check the format of an API key and verify it against the models endpoint.

The key is read from ` + apiKeyEnv + ` when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAPIKeyVerify,
	})
	return cmd
}

func runAPIKeyVerify(cmd *cobra.Command, args []string) error {
	key := os.Getenv(apiKeyEnv)
	if len(args) == 1 {
		key = args[0]
	}
	key = strings.TrimSpace(key)

	if err := session.ValidateAPIKey(key); err != nil {
		return err
	}

	m, err := newManager(true)
	if err != nil {
		return err
	}
	defer m.Close()

	if _, err := m.VerifyAPIKey(cmd.Context(), key); err != nil {
		return &AuthFailedError{Err: err}
	}
	printf(cmd, "%s\n", text.FgGreen.Sprint("API key is valid"))
	return nil
}
