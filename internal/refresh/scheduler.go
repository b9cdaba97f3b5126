// Package refresh keeps cached credentials fresh in the background.
//
// A Scheduler owns a registry of cached entries keyed by provider. Each
// started key has exactly one repeating task. On every tick the task
// rotates the credential when it is within the refresh threshold of expiry.
// Failures are logged and retried on the next tick.
package refresh

import (
	"context"
	"sync"
	"time"

	"kimiauth/pkg/logging"
	"kimiauth/pkg/oauth"
)

const (
	// DefaultInterval is the tick period of a refresh task.
	DefaultInterval = 60 * time.Second
	// DefaultThreshold is how close to expiry a tick rotates the token.
	DefaultThreshold = oauth.TokenRefreshThreshold
)

// Rotator redeems a refresh token and persists the result.
// *credentials.Store satisfies it.
type Rotator interface {
	Rotate(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

// Entry is a cached credential.
type Entry struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// EntryFromToken builds an Entry from a token.
func EntryFromToken(tok *oauth.Token) Entry {
	return Entry{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	}
}

// Ticker is the tick source of a refresh task.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.Ticker.C }

// Config configures a Scheduler.
type Config struct {
	Rotator   Rotator
	Interval  time.Duration
	Threshold time.Duration
	Now       func() time.Time
	// NewTicker defaults to time.NewTicker.
	NewTicker func(d time.Duration) Ticker
	// OnRefresh, when set, is called after each successful rotation.
	OnRefresh func(key string, e Entry)
}

type handle struct {
	cancel context.CancelFunc
}

type slot struct {
	entry  Entry
	handle *handle
}

// Scheduler is an owned registry of cached entries and their refresh tasks.
type Scheduler struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*slot
}

// NewScheduler creates a Scheduler. Close releases its tasks.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = func(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*slot),
	}
}

// Start seeds the entry for key and starts its refresh task, cancelling any
// task previously started for the same key.
func (s *Scheduler) Start(key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		logging.Warn("RefreshScheduler", "Ignoring start for %s after close", key)
		return
	}

	if old, ok := s.entries[key]; ok {
		old.handle.cancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	h := &handle{cancel: cancel}
	s.entries[key] = &slot{entry: e, handle: h}

	ticker := s.cfg.NewTicker(s.cfg.Interval)
	s.wg.Add(1)
	go s.run(ctx, key, h, ticker)

	logging.Debug("RefreshScheduler", "Started refresh for %s, expires %s", key, e.ExpiresAt.Format(time.RFC3339))
}

// Stop cancels the task for key and evicts its entry.
func (s *Scheduler) Stop(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sl, ok := s.entries[key]; ok {
		sl.handle.cancel()
		delete(s.entries, key)
		logging.Debug("RefreshScheduler", "Stopped refresh for %s", key)
	}
}

// Get returns the cached entry for key.
func (s *Scheduler) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return sl.entry, true
}

// Update replaces the cached entry for an active key without touching its
// task. It reports whether key was active.
func (s *Scheduler) Update(key string, e Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.entries[key]
	if !ok {
		return false
	}
	sl.entry = e
	return true
}

// Active reports whether key has a running task.
func (s *Scheduler) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]
	return ok
}

// Close stops every task and waits for them to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.cancel()
	s.entries = make(map[string]*slot)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, key string, h *handle, ticker Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tick(ctx, key, h)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, key string, h *handle) {
	s.mu.Lock()
	sl, ok := s.entries[key]
	if !ok || sl.handle != h {
		s.mu.Unlock()
		return
	}
	entry := sl.entry
	s.mu.Unlock()

	if entry.ExpiresAt.Sub(s.cfg.Now()) > s.cfg.Threshold {
		return
	}

	tok, err := s.cfg.Rotator.Rotate(ctx, entry.RefreshToken)
	if err != nil {
		if ctx.Err() == nil {
			logging.Warn("RefreshScheduler", "Failed to refresh token for %s, retrying next tick: %v", key, err)
		}
		return
	}

	fresh := EntryFromToken(tok)
	s.mu.Lock()
	sl, ok = s.entries[key]
	current := ok && sl.handle == h
	if current {
		sl.entry = fresh
	}
	s.mu.Unlock()

	if !current {
		return
	}
	logging.Info("RefreshScheduler", "Refreshed token for %s", key)
	if s.cfg.OnRefresh != nil {
		s.cfg.OnRefresh(key, fresh)
	}
}
