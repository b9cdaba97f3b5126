// Package logging provides subsystem-tagged structured logging for kimi-auth.
//
// The package wraps Go's standard slog package. Every entry carries a
// subsystem attribute so output can be filtered per component:
//
//   - Identity: device id generation
//   - Keys: encryption key lifecycle
//   - CredentialStore: token persistence, migration and rotation
//   - DeviceFlow: device authorization polling
//   - RefreshScheduler: background token rotation
//   - TokenWatcher: token file change detection
//   - Session: the host facing facade
//   - Config: configuration loading
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("DeviceFlow", "Waiting for user approval of %s", userCode)
//	logging.Error("RefreshScheduler", err, "Background refresh failed")
//
// # Audit Logging
//
// Credential writes, deletions and corruption are recorded with Audit:
//
//	logging.Audit(logging.AuditEvent{
//	    Event:     "token_stored",
//	    Subsystem: "CredentialStore",
//	    Attrs:     []slog.Attr{slog.Bool("has_refresh_token", true)},
//	})
//
// Audit lines are emitted at INFO level with a SECURITY_AUDIT prefix. Token
// values are never logged.
package logging
