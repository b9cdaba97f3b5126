// Package deviceflow polls the token endpoint until a device authorization
// reaches a terminal state.
package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kimiauth/pkg/logging"
	"kimiauth/pkg/oauth"
)

// State is a poll state. Only StatePending is non-terminal.
type State string

const (
	StatePending  State = "pending"
	StateSuccess  State = "success"
	StateExpired  State = "expired"
	StateDenied   State = "denied"
	StateFailed   State = "failed"
	StateTimedOut State = "timed_out"
)

const (
	// DefaultInterval is the wait between attempts when none is configured.
	DefaultInterval = 5 * time.Second
	// DefaultTimeout bounds the whole poll loop.
	DefaultTimeout = 10 * time.Minute
	// SlowDownIncrement is added to the interval on a slow_down reply.
	SlowDownIncrement = 5 * time.Second
)

// Exchanger performs one device code exchange. *oauth.Client satisfies it.
type Exchanger interface {
	ExchangeDeviceCode(ctx context.Context, deviceCode string) (*oauth.Token, error)
}

// TokenSink persists the issued token. *credentials.Store satisfies it.
type TokenSink interface {
	StoreToken(tok *oauth.Token) (*oauth.Token, error)
}

// Options controls a single Poll call.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Poller drives the device flow state machine.
type Poller struct {
	exchanger Exchanger
	sink      TokenSink
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithClock sets the time source.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		p.now = now
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) PollerOption {
	return func(p *Poller) {
		p.sleep = sleep
	}
}

// NewPoller creates a Poller.
func NewPoller(exchanger Exchanger, sink TokenSink, opts ...PollerOption) *Poller {
	p := &Poller{
		exchanger: exchanger,
		sink:      sink,
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll exchanges deviceCode until the server issues tokens, reports a
// terminal error, or the timeout elapses. The issued token is persisted
// before Poll returns. Non-success outcomes are returned as *AuthError,
// except context cancellation which returns the context error.
func (p *Poller) Poll(ctx context.Context, deviceCode string, opts Options) (*oauth.Token, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := p.now()
	attempt := 0
	for p.now().Sub(start) < timeout {
		attempt++
		tok, err := p.exchanger.ExchangeDeviceCode(ctx, deviceCode)
		if err == nil {
			return p.complete(tok)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var tokenErr *oauth.TokenError
		if !errors.As(err, &tokenErr) {
			logging.Debug("DeviceFlow", "Poll attempt %d failed: %v", attempt, err)
			return nil, &AuthError{State: StateFailed, Err: err}
		}

		var wait time.Duration
		switch tokenErr.Code {
		case oauth.ErrorCodeAuthorizationPending:
			wait = interval
		case oauth.ErrorCodeSlowDown:
			wait = max(time.Duration(tokenErr.Interval)*time.Second, interval+SlowDownIncrement)
			logging.Debug("DeviceFlow", "Server asked to slow down, waiting %s", wait)
		case oauth.ErrorCodeExpiredToken:
			return nil, &AuthError{State: StateExpired, Code: tokenErr.Code, Description: tokenErr.Description}
		case oauth.ErrorCodeAccessDenied:
			return nil, &AuthError{State: StateDenied, Code: tokenErr.Code, Description: tokenErr.Description}
		default:
			return nil, &AuthError{State: StateFailed, Code: tokenErr.Code, Description: tokenErr.Description}
		}

		logging.Debug("DeviceFlow", "Authorization pending after attempt %d", attempt)
		if err := p.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	logging.Warn("DeviceFlow", "Device authorization timed out after %s", timeout)
	return nil, &AuthError{State: StateTimedOut}
}

func (p *Poller) complete(tok *oauth.Token) (*oauth.Token, error) {
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, &AuthError{
			State:       StateFailed,
			Code:        "invalid_response",
			Description: "missing access_token or refresh_token",
		}
	}

	stored, err := p.sink.StoreToken(tok)
	if err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	logging.Info("DeviceFlow", "Device authorization completed")
	return stored, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
