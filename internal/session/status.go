package session

import (
	"context"
	"time"
)

// Status describes the stored credential without refreshing it.
type Status struct {
	Authenticated   bool
	Expired         bool
	ExpiresAt       time.Time
	ExpiresIn       time.Duration
	HasRefreshToken bool
	Scope           string
	RefreshActive   bool
	DeviceID        string
	StorageDir      string
}

// Status reports the current credential state.
func (m *Manager) Status(_ context.Context) (Status, error) {
	st := Status{
		StorageDir:    m.cfg.Storage.Dir,
		RefreshActive: m.scheduler.Active(ProviderKey),
	}

	tok, err := m.store.Peek()
	if err != nil {
		return st, err
	}
	if tok == nil {
		return st, nil
	}

	if id, err := m.identity.DeviceID(); err == nil {
		st.DeviceID = id
	}
	st.Authenticated = true
	st.ExpiresAt = tok.ExpiresAt
	st.ExpiresIn = tok.ExpiresAt.Sub(m.now())
	st.Expired = st.ExpiresIn <= 0
	st.HasRefreshToken = tok.RefreshToken != ""
	st.Scope = tok.Scope
	return st, nil
}
