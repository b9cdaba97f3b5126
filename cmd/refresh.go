package cmd

import (
	"errors"
	"time"

	"kimiauth/internal/session"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a token refresh",
		Long: `Exchange the stored refresh token for a new token pair, regardless of
how long the current access token remains valid.`,
		Args: cobra.NoArgs,
		RunE: runRefresh,
	}
}

func runRefresh(cmd *cobra.Command, args []string) error {
	m, err := newManager(true)
	if err != nil {
		return err
	}
	defer m.Close()

	tok, err := m.Refresh(cmd.Context())
	if errors.Is(err, session.ErrNotAuthenticated) {
		return &AuthRequiredError{Reason: "no refresh token stored"}
	}
	if err != nil {
		return err
	}

	printf(cmd, "%s (expires %s)\n", text.FgGreen.Sprint("Token refreshed"),
		tok.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}
