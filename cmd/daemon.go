package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"kimiauth/pkg/logging"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Keep the stored token fresh in the background",
		Long: `Run in the foreground and refresh the stored token before it expires.

When watching is enabled, logins and logouts made by other kimi-auth
processes are picked up automatically. Under systemd the daemon reports
readiness with sd_notify, so it can be run as a Type=notify unit.`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	m, err := newManager(false)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ready := func() {
		logging.Info("Daemon", "Background refresh running. Press Ctrl+C to stop.")
		notify(daemon.SdNotifyReady)
	}

	err = m.Run(ctx, ready)
	notify(daemon.SdNotifyStopping)
	return err
}

// notify reports state to systemd. It is a no-op outside a notify unit.
func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logging.Warn("Daemon", "Failed to notify systemd: %v", err)
	}
}
