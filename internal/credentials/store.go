package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"kimiauth/internal/envelope"
	"kimiauth/pkg/logging"
	"kimiauth/pkg/oauth"
	pkgstrings "kimiauth/pkg/strings"
)

// TokenFile is the name of the credential file in the storage directory.
const TokenFile = "oauth.json"

const subsystem = "CredentialStore"

// DefaultRotateTimeout bounds a single refresh request made by Rotate.
const DefaultRotateTimeout = 30 * time.Second

// ErrNoRefresher is returned by Rotate when the store was built without a
// Refresher.
var ErrNoRefresher = errors.New("credential store has no refresher configured")

// Refresher redeems a refresh token. *oauth.Client satisfies it.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

// KeySource provides the symmetric key. *keys.Manager satisfies it.
type KeySource interface {
	GetOrCreateKey() ([]byte, error)
}

// DeviceIDSource provides the device id. *identity.Manager satisfies it.
type DeviceIDSource interface {
	DeviceID() (string, error)
}

// Config configures a Store.
type Config struct {
	// Dir is the storage directory.
	Dir string

	Keys      KeySource
	Devices   DeviceIDSource
	Refresher Refresher

	// RefreshWindow is how close to expiry a read triggers a refresh.
	// Defaults to oauth.TokenRefreshThreshold.
	RefreshWindow time.Duration

	// RotateTimeout bounds a shared refresh. Defaults to DefaultRotateTimeout.
	RotateTimeout time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Store is the credential store for one storage directory.
type Store struct {
	dir       string
	keys      KeySource
	devices   DeviceIDSource
	refresher Refresher
	window    time.Duration
	timeout   time.Duration
	now       func() time.Time

	mu     sync.Mutex // serialises writes
	flight singleflight.Group
}

// NewStore creates a Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key source is required")
	}
	if cfg.Devices == nil {
		return nil, fmt.Errorf("device id source is required")
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = oauth.TokenRefreshThreshold
	}
	if cfg.RotateTimeout <= 0 {
		cfg.RotateTimeout = DefaultRotateTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		dir:       cfg.Dir,
		keys:      cfg.Keys,
		devices:   cfg.Devices,
		refresher: cfg.Refresher,
		window:    cfg.RefreshWindow,
		timeout:   cfg.RotateTimeout,
		now:       cfg.Now,
	}, nil
}

// Path returns the location of the token file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, TokenFile)
}

// StoreToken persists tok, replacing any previous record. The absolute
// expiry is computed from ExpiresIn at the time of the call. The returned
// token carries that expiry.
func (s *Store) StoreToken(tok *oauth.Token) (*oauth.Token, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, fmt.Errorf("refusing to store token without access_token")
	}

	key, err := s.keys.GetOrCreateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption key: %w", err)
	}
	deviceID, err := s.devices.DeviceID()
	if err != nil {
		return nil, fmt.Errorf("failed to load device id: %w", err)
	}

	now := s.now()
	rec := record{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
		ExpiresAt:    now.UnixMilli() + tok.ExpiresIn*1000,
		Scope:        tok.Scope,
		DeviceID:     deviceID,
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token record: %w", err)
	}
	sealed, err := envelope.Seal(key, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt token record: %w", err)
	}
	data, err := json.Marshal(sealedFile{Encrypted: sealed})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	s.mu.Lock()
	err = writeFileAtomic(s.Path(), data, 0600)
	s.mu.Unlock()
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Event:     "token_store_failed",
			Subsystem: subsystem,
			Attrs:     []slog.Attr{slog.String("error", err.Error())},
		})
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}

	logging.Audit(logging.AuditEvent{
		Event:     "token_stored",
		Subsystem: subsystem,
		Attrs: []slog.Attr{
			slog.Time("expiry", rec.expiry()),
			slog.Bool("has_refresh_token", rec.RefreshToken != ""),
		},
	})

	out := tok.Clone()
	out.ExpiresAt = rec.expiry()
	return out, nil
}

// GetToken returns the stored token, or nil when there is no usable record.
// A token within the refresh window is refreshed first; when that refresh
// fails the result is nil and the record is left for a later retry.
// Cancellation of ctx is still returned as an error. A legacy plaintext
// record that is not due for refresh is re-stored encrypted.
func (s *Store) GetToken(ctx context.Context) (*oauth.Token, error) {
	rec, legacy, err := s.load()
	if err != nil || rec == nil {
		return nil, err
	}

	now := s.now()
	if rec.expiry().Sub(now) < s.window && rec.RefreshToken != "" {
		logging.Debug(subsystem, "Stored token expires within %s, refreshing", s.window)
		tok, err := s.Rotate(ctx, rec.RefreshToken)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logging.Warn(subsystem, "Failed to refresh stored token: %v", err)
			return nil, nil
		}
		return tok, nil
	}

	tok := rec.token(now)

	if legacy {
		migrated := tok.Clone()
		migrated.ExpiresIn = max(1, tok.ExpiresIn)
		if _, err := s.StoreToken(migrated); err != nil {
			logging.Warn(subsystem, "Failed to migrate plaintext token file: %v", err)
		} else {
			logging.Audit(logging.AuditEvent{Event: "token_migrated", Subsystem: subsystem})
		}
	}

	return tok, nil
}

// Peek returns the stored token without refreshing or migrating it.
func (s *Store) Peek() (*oauth.Token, error) {
	rec, _, err := s.load()
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.token(s.now()), nil
}

// Rotate redeems refreshToken and persists the result. Concurrent calls for
// this store share a single network request. When the stored record already
// carries a different refresh token that is not due, it was rotated by
// another caller and is returned without contacting the server.
//
// The shared request is detached from any single caller's cancellation and
// bounded by the rotate timeout. Each caller stops waiting when its own ctx
// is done; the request still completes and persists for the others.
func (s *Store) Rotate(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(s.Path(), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(flightCtx, s.timeout)
		defer cancel()

		rec, _, err := s.load()
		if err != nil {
			return nil, err
		}
		now := s.now()
		if rec != nil && rec.RefreshToken != "" && rec.RefreshToken != refreshToken &&
			rec.expiry().Sub(now) >= s.window {
			logging.Debug(subsystem, "Token already rotated, using stored token")
			return rec.token(now), nil
		}

		if s.refresher == nil {
			return nil, ErrNoRefresher
		}

		logging.Debug(subsystem, "Redeeming refresh token %s", pkgstrings.Redact(refreshToken))
		fresh, err := s.refresher.RefreshToken(ctx, refreshToken)
		if err != nil {
			logging.Audit(logging.AuditEvent{
				Event:     "token_refresh_failed",
				Subsystem: subsystem,
				Attrs:     []slog.Attr{slog.String("error", err.Error())},
			})
			return nil, err
		}

		stored, err := s.StoreToken(fresh)
		if err != nil {
			return nil, err
		}
		logging.Audit(logging.AuditEvent{Event: "token_refreshed", Subsystem: subsystem})
		return stored, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logging.Debug(subsystem, "Joined in-flight token refresh")
		}
		return res.Val.(*oauth.Token).Clone(), nil
	}
}

// Clear removes the token file. Clearing an absent file succeeds.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}

	logging.Audit(logging.AuditEvent{Event: "token_cleared", Subsystem: subsystem})
	return nil
}

// IsAuthenticated reports whether GetToken yields a token.
func (s *Store) IsAuthenticated(ctx context.Context) bool {
	tok, err := s.GetToken(ctx)
	if err != nil {
		logging.Debug(subsystem, "Treating token read failure as unauthenticated: %v", err)
		return false
	}
	return tok != nil
}

// load reads and decodes the token file. Missing or unreadable content
// yields a nil record; only I/O failures other than absence are errors.
func (s *Store) load() (rec *record, legacy bool, err error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read token file: %w", err)
	}

	var shape map[string]any
	if err := json.Unmarshal(data, &shape); err != nil {
		s.unreadable("invalid_json")
		return nil, false, nil
	}

	if sealed, ok := shape["encrypted"].(string); ok {
		key, err := s.keys.GetOrCreateKey()
		if err != nil {
			return nil, false, fmt.Errorf("failed to load encryption key: %w", err)
		}
		payload, err := envelope.Open(key, sealed)
		if err != nil {
			s.unreadable("decrypt_failed")
			return nil, false, nil
		}
		rec, ok := decodeRecord(payload)
		if !ok {
			s.unreadable("invalid_record")
			return nil, false, nil
		}
		return rec, false, nil
	}

	if isRecordShape(shape) {
		rec, ok := decodeRecord(data)
		if !ok {
			s.unreadable("invalid_record")
			return nil, false, nil
		}
		return rec, true, nil
	}

	s.unreadable("unknown_shape")
	return nil, false, nil
}

func (s *Store) unreadable(reason string) {
	logging.Debug(subsystem, "Ignoring unreadable token file (%s)", reason)
	logging.Audit(logging.AuditEvent{
		Event:     "token_unreadable",
		Subsystem: subsystem,
		Attrs:     []slog.Attr{slog.String("reason", reason)},
	})
}
