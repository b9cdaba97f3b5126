package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kimiauth/internal/config"
	"kimiauth/internal/deviceflow"
	"kimiauth/internal/identity"
	"kimiauth/internal/refresh"
	"kimiauth/internal/testing/mock"
	"kimiauth/pkg/oauth"
)

type sessionFixture struct {
	server  *mock.AuthServer
	clock   *mock.MockClock
	sleeper *mock.Sleeper
	cfg     config.Config
	m       *Manager
}

func newSessionFixture(t *testing.T, mutate ...func(*config.Config)) *sessionFixture {
	t.Helper()
	server := mock.NewAuthServer(mock.AuthServerConfig{
		ClientID: config.DefaultClientID,
		Interval: 5,
		APIKeys:  []string{"kimi-api-valid"},
	})
	t.Cleanup(server.Close)

	cfg := config.GetDefaultConfig()
	cfg.OAuth.DeviceAuthorizationURL = server.Endpoints().DeviceAuthorizationURL
	cfg.OAuth.TokenURL = server.Endpoints().TokenURL
	cfg.OAuth.APIBaseURL = server.APIBaseURL()
	cfg.Storage.Dir = t.TempDir()
	for _, fn := range mutate {
		fn(&cfg)
	}

	clock := mock.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	sleeper := &mock.Sleeper{Clock: clock}

	m, err := NewManager(cfg, WithClock(clock.Now), WithSleep(sleeper.Sleep), WithVersion("1.0.0"))
	require.NoError(t, err)
	t.Cleanup(m.Close)

	return &sessionFixture{server: server, clock: clock, sleeper: sleeper, cfg: cfg, m: m}
}

func (f *sessionFixture) login(t *testing.T) Outcome {
	t.Helper()
	f.server.QueueDeviceToken(mock.Issue("A1", "R1", 1800))
	ch, err := f.m.Authorize(context.Background())
	require.NoError(t, err)
	out := f.m.Complete(context.Background(), ch)
	require.Equal(t, OutcomeSuccess, out.Kind, "login failed: %v", out.Err)
	return out
}

func TestNewManager_BadTemplate(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Storage.Dir = t.TempDir()
	cfg.Login.Instructions = "{{ .Nope"

	_, err := NewManager(cfg)
	assert.Error(t, err)
}

func TestAuthorize(t *testing.T) {
	t.Run("default instructions", func(t *testing.T) {
		f := newSessionFixture(t)

		ch, err := f.m.Authorize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ABCD-1234", ch.UserCode)
		assert.Equal(t, "Enter code: ABCD-1234", ch.Instructions)
		assert.Contains(t, ch.URL, "user_code=ABCD-1234")
		assert.Equal(t, 10*time.Minute, ch.ExpiresIn)

		reqs := f.server.Requests("/device_authorization")
		require.Len(t, reqs, 1)
		assert.Equal(t, "opencode", reqs[0].Header.Get(identity.HeaderPlatform))
		assert.Equal(t, "1.0.0", reqs[0].Header.Get(identity.HeaderVersion))
		assert.NotEmpty(t, reqs[0].Header.Get(identity.HeaderDeviceID))
	})

	t.Run("sprig template", func(t *testing.T) {
		f := newSessionFixture(t, func(c *config.Config) {
			c.Login.Instructions = `Code {{ .UserCode | lower }} at {{ .URL | trunc 4 }}`
		})

		ch, err := f.m.Authorize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Code abcd-1234 at http", ch.Instructions)
	})
}

func TestComplete(t *testing.T) {
	t.Run("success starts background refresh", func(t *testing.T) {
		f := newSessionFixture(t)
		f.server.QueueDeviceToken(mock.Pending(), mock.Pending(), mock.Issue("A1", "R1", 1800))

		ch, err := f.m.Authorize(context.Background())
		require.NoError(t, err)
		out := f.m.Complete(context.Background(), ch)

		require.Equal(t, OutcomeSuccess, out.Kind)
		assert.True(t, out.OK())
		assert.Equal(t, KindOAuth, out.Credential.Kind)
		assert.Equal(t, "A1", out.Credential.Access)
		assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, f.sleeper.Waits())
		assert.True(t, f.m.scheduler.Active(ProviderKey))
		assert.True(t, f.m.Store().IsAuthenticated(context.Background()))

		// The device id header is stable across requests.
		ids := map[string]bool{}
		for _, r := range f.server.Requests("") {
			ids[r.Header.Get(identity.HeaderDeviceID)] = true
		}
		assert.Len(t, ids, 1)
	})

	t.Run("denied is a failed outcome", func(t *testing.T) {
		f := newSessionFixture(t)
		f.server.QueueDeviceToken(mock.Denied())

		ch, err := f.m.Authorize(context.Background())
		require.NoError(t, err)
		out := f.m.Complete(context.Background(), ch)

		assert.Equal(t, OutcomeFailed, out.Kind)
		assert.False(t, out.OK())
		assert.ErrorIs(t, out.Err, deviceflow.ErrDenied)
		assert.False(t, f.m.scheduler.Active(ProviderKey))
	})

	t.Run("nil challenge", func(t *testing.T) {
		f := newSessionFixture(t)
		assert.Equal(t, OutcomeFailed, f.m.Complete(context.Background(), nil).Kind)
	})
}

func TestLogin(t *testing.T) {
	t.Run("already authenticated is handled", func(t *testing.T) {
		f := newSessionFixture(t)
		f.login(t)
		before := len(f.server.Requests("/device_authorization"))

		shown := false
		out := f.m.Login(context.Background(), func(*Challenge) { shown = true })

		assert.Equal(t, OutcomeHandled, out.Kind)
		assert.True(t, out.OK())
		assert.False(t, shown)
		assert.Len(t, f.server.Requests("/device_authorization"), before)
	})

	t.Run("runs device flow when unauthenticated", func(t *testing.T) {
		f := newSessionFixture(t)
		f.server.QueueDeviceToken(mock.Issue("A1", "R1", 1800))

		var shown *Challenge
		out := f.m.Login(context.Background(), func(ch *Challenge) { shown = ch })

		assert.Equal(t, OutcomeSuccess, out.Kind)
		require.NotNil(t, shown)
		assert.Equal(t, "ABCD-1234", shown.UserCode)
	})
}

func TestLoad(t *testing.T) {
	f := newSessionFixture(t)

	api, err := APICredential("kimi-api-123")
	require.NoError(t, err)
	h, err := f.m.Load(context.Background(), api)
	require.NoError(t, err)
	assert.Equal(t, "Bearer kimi-api-123", h.Get("Authorization"))
	assert.False(t, f.m.scheduler.Active(ProviderKey))

	wk, err := WellKnownCredential("kimi", "wk-token")
	require.NoError(t, err)
	h, err = f.m.Load(context.Background(), wk)
	require.NoError(t, err)
	assert.Equal(t, "Bearer wk-token", h.Get("Authorization"))

	oc, err := OAuthCredential("A1", "R1", f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	h, err = f.m.Load(context.Background(), oc)
	require.NoError(t, err)
	assert.Equal(t, "Bearer A1", h.Get("Authorization"))
	assert.True(t, f.m.scheduler.Active(ProviderKey))

	_, err = f.m.Load(context.Background(), Credential{Kind: "saml"})
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	t.Run("not authenticated", func(t *testing.T) {
		f := newSessionFixture(t)
		_, err := f.m.AccessToken(context.Background())
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})

	t.Run("refreshes within read window", func(t *testing.T) {
		f := newSessionFixture(t)
		f.login(t)

		got, err := f.m.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "A1", got)

		f.clock.Advance(1600 * time.Second)
		got, err = f.m.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-1", got)
		assert.Equal(t, 1, f.server.GrantCount(oauth.GrantTypeRefreshToken))

		e, ok := f.m.scheduler.Get(ProviderKey)
		require.True(t, ok)
		assert.Equal(t, "access-1", e.AccessToken, "scheduler cache follows the refreshed token")
	})

	t.Run("cached token reports remaining seconds", func(t *testing.T) {
		f := newSessionFixture(t)
		f.login(t)
		f.clock.Advance(100 * time.Second)

		cached, err := f.m.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1700), cached.ExpiresIn)

		stored, err := f.m.Store().GetToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, stored.ExpiresIn, cached.ExpiresIn)
		assert.True(t, stored.ExpiresAt.Equal(cached.ExpiresAt))
	})
}

func TestRefreshAndLogout(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	f.login(t)
	tok, err := f.m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)

	require.NoError(t, f.m.Logout(context.Background()))
	require.NoError(t, f.m.Logout(context.Background()))
	assert.False(t, f.m.scheduler.Active(ProviderKey))
	assert.False(t, f.m.Store().IsAuthenticated(context.Background()))
}

func TestStatus(t *testing.T) {
	f := newSessionFixture(t)

	st, err := f.m.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Authenticated)
	assert.Equal(t, f.cfg.Storage.Dir, st.StorageDir)

	f.login(t)
	f.clock.Advance(30 * time.Minute)

	st, err = f.m.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Authenticated)
	assert.True(t, st.Expired)
	assert.True(t, st.HasRefreshToken)
	assert.True(t, st.RefreshActive)
	assert.NotEmpty(t, st.DeviceID)
	assert.Zero(t, f.server.GrantCount(oauth.GrantTypeRefreshToken), "status never refreshes")
}

func TestHTTPClient(t *testing.T) {
	f := newSessionFixture(t)
	f.login(t)

	var gotAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer api.Close()

	resp, err := f.m.HTTPClient(context.Background()).Get(api.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer A1", gotAuth)
}

func TestVerifyAPIKey(t *testing.T) {
	f := newSessionFixture(t)

	cred, err := f.m.VerifyAPIKey(context.Background(), "kimi-api-valid")
	require.NoError(t, err)
	assert.Equal(t, KindAPI, cred.Kind)

	_, err = f.m.VerifyAPIKey(context.Background(), "kimi-api-revoked")
	assert.Error(t, err)

	_, err = f.m.VerifyAPIKey(context.Background(), "sk-wrong-prefix")
	assert.Error(t, err)
	assert.Len(t, f.server.Requests("/models"), 2, "malformed keys are rejected locally")
}

func TestRun_ReloadsExternalLogin(t *testing.T) {
	f := newSessionFixture(t, func(c *config.Config) {
		c.Watch.Debounce = 20 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx, func() { close(ready) }) }()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not become ready")
	}
	assert.False(t, f.m.scheduler.Active(ProviderKey))

	// Another process logs in by writing the token file.
	other, err := NewManager(f.cfg, WithClock(f.clock.Now))
	require.NoError(t, err)
	defer other.Close()
	_, err = other.Store().StoreToken(&oauth.Token{AccessToken: "EXT", RefreshToken: "R", TokenType: "Bearer", ExpiresIn: 3600})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e, ok := f.m.scheduler.Get(ProviderKey)
		return ok && e.AccessToken == "EXT"
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, other.Store().Clear())
	require.Eventually(t, func() bool { return !f.m.scheduler.Active(ProviderKey) }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// chanTicker ticks when the test sends on c.
type chanTicker struct{ c chan time.Time }

func (t *chanTicker) C() <-chan time.Time { return t.c }
func (t *chanTicker) Stop()               {}

func TestRun_StartsWhenStoredTokenCannotBeRefreshed(t *testing.T) {
	f := newSessionFixture(t, func(c *config.Config) {
		c.Watch.Enabled = false
	})
	f.login(t)

	ticks := make(chan time.Time)
	d, err := NewManager(f.cfg, WithClock(f.clock.Now), WithTicker(func(time.Duration) refresh.Ticker {
		return &chanTicker{c: ticks}
	}))
	require.NoError(t, err)
	defer d.Close()

	// Inside the refresh window with the server failing.
	f.clock.Advance(1700 * time.Second)
	f.server.QueueRefresh(mock.Failure(http.StatusServiceUnavailable, "temporarily_unavailable"))

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, func() { close(ready) }) }()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("Run returned before ready: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not become ready")
	}
	assert.True(t, d.scheduler.Active(ProviderKey))
	assert.Zero(t, f.server.GrantCount(oauth.GrantTypeRefreshToken), "startup does not refresh")

	ticks <- f.clock.Now()
	require.Eventually(t, func() bool {
		return f.server.GrantCount(oauth.GrantTypeRefreshToken) == 1
	}, 2*time.Second, 10*time.Millisecond)
	e, ok := d.scheduler.Get(ProviderKey)
	require.True(t, ok, "a failed tick keeps the entry")
	assert.Equal(t, "A1", e.AccessToken)

	ticks <- f.clock.Now()
	require.Eventually(t, func() bool {
		e, ok := d.scheduler.Get(ProviderKey)
		return ok && e.AccessToken != "A1"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, f.server.GrantCount(oauth.GrantTypeRefreshToken))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCredentialConstructors(t *testing.T) {
	tests := []struct {
		name    string
		build   func() (Credential, error)
		wantErr bool
	}{
		{"oauth ok", func() (Credential, error) { return OAuthCredential("a", "r", time.Now()) }, false},
		{"oauth missing refresh", func() (Credential, error) { return OAuthCredential("a", "", time.Now()) }, true},
		{"api ok", func() (Credential, error) { return APICredential(" kimi-api-x ") }, false},
		{"api empty", func() (Credential, error) { return APICredential("") }, true},
		{"api bad prefix", func() (Credential, error) { return APICredential("sk-123") }, true},
		{"wellknown ok", func() (Credential, error) { return WellKnownCredential("k", "t") }, false},
		{"wellknown missing token", func() (Credential, error) { return WellKnownCredential("k", "") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, ValidateAPIKey("   "))
}
