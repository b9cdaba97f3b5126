package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kimiauth/internal/deviceflow"
	"kimiauth/internal/session"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Kimi using the device flow",
		Long: `Authenticate with Kimi using the OAuth device flow.

The command prints a verification URL and a user code. Open the URL in a
browser, approve the request and the token is stored encrypted on disk.

Examples:
  kimi-auth login           # Reuse a valid stored token or start a new flow
  kimi-auth login --force   # Always start a new device flow`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Start a new device flow even if a valid token is stored")
	return cmd
}

func runLogin(cmd *cobra.Command, force bool) error {
	m, err := newManager(true)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var s *spinner.Spinner
	show := func(ch *session.Challenge) {
		showChallenge(cmd, ch)
		if !rootQuiet {
			s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
			s.Suffix = " Waiting for authorization..."
			s.Start()
		}
	}

	var outcome session.Outcome
	if force {
		ch, err := m.Authorize(ctx)
		if err != nil {
			return err
		}
		show(ch)
		outcome = m.Complete(ctx, ch)
	} else {
		outcome = m.Login(ctx, show)
	}

	if s != nil {
		if !outcome.OK() {
			s.FinalMSG = text.FgRed.Sprint("Authorization did not complete") + "\n"
		}
		s.Stop()
	}

	switch outcome.Kind {
	case session.OutcomeHandled:
		printf(cmd, "%s\n", text.FgGreen.Sprint("Already authenticated"))
		return nil
	case session.OutcomeSuccess:
		printf(cmd, "%s (expires %s)\n", text.FgGreen.Sprint("Authentication successful"),
			outcome.Credential.Expires.Local().Format(time.RFC1123))
		return nil
	default:
		return loginError(outcome.Err)
	}
}

// showChallenge prints the verification URL and user code. It is printed
// even with --quiet because the user cannot proceed without it.
func showChallenge(cmd *cobra.Command, ch *session.Challenge) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", ch.Instructions)
	fmt.Fprintf(out, "Open: %s\n", text.Bold.Sprint(ch.URL))
	fmt.Fprintf(out, "The code expires in %s.\n", ch.ExpiresIn.Round(time.Second))
}

// loginError maps terminal device flow outcomes to AuthFailedError.
func loginError(err error) error {
	if errors.Is(err, context.Canceled) {
		return errors.New("login cancelled")
	}
	var authErr *deviceflow.AuthError
	if errors.As(err, &authErr) {
		return &AuthFailedError{Err: err}
	}
	return err
}
