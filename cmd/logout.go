package cmd

import (
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		Long: `Remove the stored OAuth token.

The encryption key and device identifier are kept so a later login reuses
them.`,
		Args: cobra.NoArgs,
		RunE: runLogout,
	}
}

func runLogout(cmd *cobra.Command, args []string) error {
	m, err := newManager(true)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Logout(cmd.Context()); err != nil {
		return err
	}
	printf(cmd, "%s\n", text.FgGreen.Sprint("Logged out"))
	return nil
}
