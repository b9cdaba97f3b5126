package cmd

import (
	"errors"
	"fmt"
	"os"

	"kimiauth/internal/config"
	"kimiauth/internal/session"
	"kimiauth/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates authentication is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the device authorization failed.
	ExitCodeAuthFailed = 3
)

var (
	rootConfigPath string
	rootDebug      bool
	rootQuiet      bool
)

// rootCmd represents the base command for the kimi-auth application.
var rootCmd = &cobra.Command{
	Use:   "kimi-auth",
	Short: "Manage Kimi OAuth credentials",
	Long: `kimi-auth obtains Kimi credentials through the OAuth device flow,
stores them encrypted on disk and keeps them fresh in the background.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "kimi-auth version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var authRequired *AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var authFailed *AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

// loadConfig reads the configuration and initializes logging. Interactive
// commands only log warnings unless --debug is set; the daemon honors the
// configured level.
func loadConfig(interactive bool) (config.Config, error) {
	if rootDebug {
		logging.InitForCLI(logging.LevelDebug, os.Stderr)
	} else {
		logging.InitForCLI(logging.LevelWarn, os.Stderr)
	}

	path := rootConfigPath
	if path == "" {
		path = config.GetDefaultConfigPathOrPanic()
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return config.Config{}, err
	}

	if interactive {
		return cfg, nil
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return config.Config{}, err
	}
	if rootDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, logging.Format(cfg.Logging.Format), os.Stderr)
	return cfg, nil
}

// newManager loads configuration and builds a session manager. Callers must
// Close the manager.
func newManager(interactive bool) (*session.Manager, error) {
	cfg, err := loadConfig(interactive)
	if err != nil {
		return nil, err
	}

	m, err := session.NewManager(cfg, session.WithVersion(GetVersion()))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	return m, nil
}

// printf prints unless --quiet is set. Use it for progress and other
// non-essential output.
func printf(cmd *cobra.Command, format string, args ...interface{}) {
	if !rootQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config-path", "", "Configuration directory (default is $HOME/.config/kimi-auth)")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&rootQuiet, "quiet", "q", false, "Suppress non-essential output")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newAPIKeyCmd())
	rootCmd.AddCommand(newDaemonCmd())
}
