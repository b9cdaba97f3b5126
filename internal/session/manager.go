package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"kimiauth/internal/config"
	"kimiauth/internal/credentials"
	"kimiauth/internal/deviceflow"
	"kimiauth/internal/identity"
	"kimiauth/internal/keys"
	"kimiauth/internal/refresh"
	"kimiauth/pkg/logging"
	"kimiauth/pkg/oauth"
)

// ProviderKey is the scheduler key of the Kimi credential.
const ProviderKey = "kimi"

// ErrNotAuthenticated is returned when no usable credential is stored.
var ErrNotAuthenticated = errors.New("not authenticated")

// Challenge is a pending device authorization shown to the user.
type Challenge struct {
	URL          string
	UserCode     string
	Instructions string
	ExpiresIn    time.Duration

	auth *oauth.DeviceAuthorization
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	httpClient *http.Client
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	newTicker  func(d time.Duration) refresh.Ticker
	version    string
}

// WithHTTPClient sets the HTTP client used for all server requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSleep replaces the wait between device flow polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithTicker replaces the tick source of the refresh scheduler.
func WithTicker(newTicker func(d time.Duration) refresh.Ticker) Option {
	return func(o *options) { o.newTicker = newTicker }
}

// WithVersion sets the client version reported in device headers.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// Manager owns the credential lifecycle for one storage directory.
type Manager struct {
	cfg          config.Config
	httpClient   *http.Client
	now          func() time.Time
	identity     *identity.Manager
	client       *oauth.Client
	store        *credentials.Store
	poller       *deviceflow.Poller
	scheduler    *refresh.Scheduler
	instructions *template.Template
}

// NewManager builds a Manager from cfg. Close releases background tasks.
func NewManager(cfg config.Config, opts ...Option) (*Manager, error) {
	o := options{
		now:     time.Now,
		version: "dev",
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.OAuth.HTTPTimeout}
	}
	if cfg.Client.Version != "" {
		o.version = cfg.Client.Version
	}

	tmpl, err := template.New("instructions").Funcs(sprig.TxtFuncMap()).Parse(cfg.Login.Instructions)
	if err != nil {
		return nil, fmt.Errorf("failed to parse login instructions: %w", err)
	}

	ids := identity.NewManager(cfg.Storage.Dir)
	headers := identity.NewHeaderBuilder(ids, cfg.Client.Platform, o.version)

	client := oauth.NewClient(cfg.OAuth.ClientID,
		oauth.Endpoints{
			DeviceAuthorizationURL: cfg.OAuth.DeviceAuthorizationURL,
			TokenURL:               cfg.OAuth.TokenURL,
		},
		oauth.WithHTTPClient(o.httpClient),
		oauth.WithLogger(logging.Logger()),
		oauth.WithHeaders(headers.Build),
	)

	store, err := credentials.NewStore(credentials.Config{
		Dir:           cfg.Storage.Dir,
		Keys:          keys.NewManager(cfg.Storage.Dir),
		Devices:       ids,
		Refresher:     client,
		RefreshWindow: cfg.Refresh.ReadWindow,
		Now:           o.now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	pollerOpts := []deviceflow.PollerOption{deviceflow.WithClock(o.now)}
	if o.sleep != nil {
		pollerOpts = append(pollerOpts, deviceflow.WithSleep(o.sleep))
	}

	scheduler := refresh.NewScheduler(refresh.Config{
		Rotator:   store,
		Interval:  cfg.Refresh.Interval,
		Threshold: cfg.Refresh.Threshold,
		Now:       o.now,
		NewTicker: o.newTicker,
	})

	return &Manager{
		cfg:          cfg,
		httpClient:   o.httpClient,
		now:          o.now,
		identity:     ids,
		client:       client,
		store:        store,
		poller:       deviceflow.NewPoller(client, store, pollerOpts...),
		scheduler:    scheduler,
		instructions: tmpl,
	}, nil
}

// Store exposes the credential store.
func (m *Manager) Store() *credentials.Store {
	return m.store
}

// Authorize starts a device authorization.
func (m *Manager) Authorize(ctx context.Context) (*Challenge, error) {
	auth, err := m.client.RequestDeviceAuthorization(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to request device authorization: %w", err)
	}

	ch := &Challenge{
		URL:       auth.URL(),
		UserCode:  auth.UserCode,
		ExpiresIn: auth.Lifetime(),
		auth:      auth,
	}

	var buf bytes.Buffer
	if err := m.instructions.Execute(&buf, ch); err != nil {
		return nil, fmt.Errorf("failed to render login instructions: %w", err)
	}
	ch.Instructions = buf.String()

	logging.Info("Session", "Device authorization started, code valid for %s", ch.ExpiresIn)
	return ch, nil
}

// Complete waits for the user to approve ch. On success any stale refresh
// task is replaced by one for the new token.
func (m *Manager) Complete(ctx context.Context, ch *Challenge) Outcome {
	if ch == nil || ch.auth == nil {
		return failed(errors.New("no pending device authorization"))
	}

	timeout := m.cfg.OAuth.PollTimeout
	if lifetime := ch.auth.Lifetime(); lifetime > 0 && lifetime < timeout {
		timeout = lifetime
	}

	tok, err := m.poller.Poll(ctx, ch.auth.DeviceCode, deviceflow.Options{
		Interval: ch.auth.PollInterval(m.cfg.OAuth.PollInterval),
		Timeout:  timeout,
	})
	if err != nil {
		logging.Error("Session", err, "OAuth authorization failed")
		return failed(err)
	}

	m.scheduler.Stop(ProviderKey)
	m.scheduler.Start(ProviderKey, refresh.EntryFromToken(tok))

	cred, err := OAuthCredential(tok.AccessToken, tok.RefreshToken, tok.ExpiresAt)
	if err != nil {
		return failed(err)
	}
	return Outcome{Kind: OutcomeSuccess, Credential: cred}
}

// Login reuses a valid stored credential or runs the device flow, calling
// show with the challenge to display.
func (m *Manager) Login(ctx context.Context, show func(*Challenge)) Outcome {
	if tok, err := m.store.GetToken(ctx); err == nil && tok != nil {
		cred, err := OAuthCredential(tok.AccessToken, tok.RefreshToken, tok.ExpiresAt)
		if err == nil {
			logging.Info("Session", "Already authenticated")
			return Outcome{Kind: OutcomeHandled, Credential: cred}
		}
	}

	ch, err := m.Authorize(ctx)
	if err != nil {
		return failed(err)
	}
	if show != nil {
		show(ch)
	}
	return m.Complete(ctx, ch)
}

// Load returns the request headers for cred. OAuth credentials also get a
// background refresh task.
func (m *Manager) Load(_ context.Context, cred Credential) (http.Header, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	if cred.Kind == KindOAuth {
		m.scheduler.Start(ProviderKey, refresh.Entry{
			AccessToken:  cred.Access,
			RefreshToken: cred.Refresh,
			ExpiresAt:    cred.Expires,
		})
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+cred.bearer())
	return h, nil
}

// Token returns a valid token, preferring the scheduler cache while it is
// outside the read-path refresh window.
func (m *Manager) Token(ctx context.Context) (*oauth.Token, error) {
	if e, ok := m.scheduler.Get(ProviderKey); ok && e.AccessToken != "" {
		if remaining := e.ExpiresAt.Sub(m.now()); remaining >= m.cfg.Refresh.ReadWindow {
			return &oauth.Token{
				AccessToken:  e.AccessToken,
				RefreshToken: e.RefreshToken,
				TokenType:    "Bearer",
				ExpiresIn:    int64(remaining / time.Second),
				ExpiresAt:    e.ExpiresAt,
			}, nil
		}
	}

	tok, err := m.store.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrNotAuthenticated
	}
	m.scheduler.Update(ProviderKey, refresh.EntryFromToken(tok))
	return tok, nil
}

// AccessToken returns a valid access token.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	tok, err := m.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Refresh forces a rotation of the stored token.
func (m *Manager) Refresh(ctx context.Context) (*oauth.Token, error) {
	current, err := m.store.Peek()
	if err != nil {
		return nil, err
	}
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNotAuthenticated
	}

	tok, err := m.store.Rotate(ctx, current.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	m.scheduler.Update(ProviderKey, refresh.EntryFromToken(tok))
	return tok, nil
}

// Logout stops background refresh and removes the stored token.
func (m *Manager) Logout(_ context.Context) error {
	m.scheduler.Stop(ProviderKey)
	return m.store.Clear()
}

// Close stops all background refresh tasks.
func (m *Manager) Close() {
	m.scheduler.Close()
}
