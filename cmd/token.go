package cmd

import (
	"errors"
	"fmt"

	"kimiauth/internal/session"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var header bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token",
		Long: `Print a valid access token, refreshing it first when it is close to expiry.

Examples:
  kimi-auth token                 # Print the bare token
  kimi-auth token --header        # Print an Authorization header line`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, header)
		},
	}

	cmd.Flags().BoolVar(&header, "header", false, "Print as an Authorization header")
	return cmd
}

func runToken(cmd *cobra.Command, header bool) error {
	m, err := newManager(true)
	if err != nil {
		return err
	}
	defer m.Close()

	token, err := m.AccessToken(cmd.Context())
	if errors.Is(err, session.ErrNotAuthenticated) {
		return &AuthRequiredError{Reason: "no stored token"}
	}
	if err != nil {
		return err
	}

	if header {
		fmt.Fprintf(cmd.OutOrStdout(), "Authorization: Bearer %s\n", token)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
