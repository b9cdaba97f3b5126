package session

import (
	"context"
	"fmt"

	"kimiauth/internal/credentials"
	"kimiauth/internal/refresh"
	"kimiauth/internal/watch"
	"kimiauth/pkg/logging"
)

// Run keeps the stored credential fresh until ctx is done. When watching is
// enabled, logins and logouts made by other processes are picked up from the
// token file. ready is called once background work has started.
func (m *Manager) Run(ctx context.Context, ready func()) error {
	// Peek does no refresh; a token that is already due is rotated by the
	// first tick, so a failing server cannot stop the daemon from starting.
	tok, err := m.store.Peek()
	if err != nil {
		return err
	}
	if tok != nil {
		m.scheduler.Start(ProviderKey, refresh.EntryFromToken(tok))
	} else {
		logging.Warn("Session", "No stored credential, waiting for login")
	}

	if m.cfg.Watch.Enabled {
		w, err := watch.New(watch.Config{
			Dir:          m.cfg.Storage.Dir,
			File:         credentials.TokenFile,
			Debounce:     m.cfg.Watch.Debounce,
			PollInterval: m.cfg.Watch.PollInterval,
			OnChange:     m.reloadFromDisk,
			OnRemove:     func() { m.scheduler.Stop(ProviderKey) },
		})
		if err != nil {
			return fmt.Errorf("failed to create token watcher: %w", err)
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to start token watcher: %w", err)
		}
		defer w.Stop()
	}

	if ready != nil {
		ready()
	}

	<-ctx.Done()
	logging.Info("Session", "Stopping background refresh")
	return nil
}

// reloadFromDisk reseeds the cached entry after an external write.
func (m *Manager) reloadFromDisk() {
	tok, err := m.store.Peek()
	if err != nil {
		logging.Warn("Session", "Failed to read token file after change: %v", err)
		return
	}
	if tok == nil {
		return
	}

	entry := refresh.EntryFromToken(tok)
	if !m.scheduler.Update(ProviderKey, entry) {
		m.scheduler.Start(ProviderKey, entry)
	}
	logging.Debug("Session", "Reloaded credential from disk")
}
