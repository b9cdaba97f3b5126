package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kimiauth/internal/envelope"
	"kimiauth/internal/identity"
	"kimiauth/internal/keys"
	"kimiauth/internal/testing/mock"
	"kimiauth/pkg/oauth"
)

type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	next    func(n int32, refreshToken string) *oauth.Token
}

func (f *fakeRefresher) RefreshToken(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.next != nil {
		return f.next(n, refreshToken), nil
	}
	return &oauth.Token{
		AccessToken:  fmt.Sprintf("A%d", n+1),
		RefreshToken: fmt.Sprintf("R%d", n+1),
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}, nil
}

type fixture struct {
	dir       string
	clock     *mock.MockClock
	refresher *fakeRefresher
	keys      *keys.Manager
	store     *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:       dir,
		clock:     mock.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		refresher: &fakeRefresher{},
		keys:      keys.NewManager(dir),
	}
	store, err := NewStore(Config{
		Dir:       dir,
		Keys:      f.keys,
		Devices:   identity.NewManager(dir),
		Refresher: f.refresher,
		Now:       f.clock.Now,
	})
	require.NoError(t, err)
	f.store = store
	return f
}

func (f *fixture) readFile(t *testing.T) map[string]any {
	t.Helper()
	data, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func (f *fixture) decryptRecord(t *testing.T) record {
	t.Helper()
	m := f.readFile(t)
	sealed, ok := m["encrypted"].(string)
	require.True(t, ok, "token file should be an encrypted envelope")
	key, err := f.keys.GetOrCreateKey()
	require.NoError(t, err)
	payload, err := envelope.Open(key, sealed)
	require.NoError(t, err)
	var rec record
	require.NoError(t, json.Unmarshal(payload, &rec))
	return rec
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore(Config{})
	assert.Error(t, err)

	_, err = NewStore(Config{Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestStore_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := &oauth.Token{
		AccessToken:  "A1",
		RefreshToken: "R1",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		Scope:        "kimi-code",
	}
	stored, err := f.store.StoreToken(in)
	require.NoError(t, err)
	assert.True(t, f.clock.Now().Add(time.Hour).Equal(stored.ExpiresAt))

	f.clock.Advance(10 * time.Minute)

	got, err := f.store.GetToken(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)

	if diff := cmp.Diff(in, got, cmpopts.IgnoreFields(oauth.Token{}, "ExpiresIn", "ExpiresAt")); diff != "" {
		t.Errorf("token mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(3000), got.ExpiresIn)
	assert.LessOrEqual(t, got.ExpiresIn, in.ExpiresIn)
	assert.Zero(t, f.refresher.calls.Load())
}

func TestStore_FileIsEncrypted(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.StoreToken(&oauth.Token{AccessToken: "secret-access", RefreshToken: "secret-refresh", TokenType: "Bearer", ExpiresIn: 60})
	require.NoError(t, err)

	data, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-access")
	assert.NotContains(t, string(data), "secret-refresh")

	rec := f.decryptRecord(t)
	assert.Equal(t, "secret-access", rec.AccessToken)
	assert.Equal(t, f.clock.Now().UnixMilli()+60_000, rec.ExpiresAt)
	assert.NotEmpty(t, rec.DeviceID)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(f.store.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temporary file left behind: %s", e.Name())
	}
}

func TestStore_StoreTokenRejectsEmpty(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.StoreToken(&oauth.Token{})
	assert.Error(t, err)
	_, err = os.Stat(f.store.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestStore_GetTokenUnusableFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", "{not json"},
		{"unknown shape", `{"foo":"bar"}`},
		{"legacy with string expiry", `{"access_token":"A","refresh_token":"R","token_type":"Bearer","expires_at":"soon"}`},
		{"bad envelope", `{"encrypted":"AAAA"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, os.WriteFile(f.store.Path(), []byte(tt.content), 0600))

			tok, err := f.store.GetToken(context.Background())
			assert.NoError(t, err)
			assert.Nil(t, tok)
			assert.False(t, f.store.IsAuthenticated(context.Background()))
		})
	}

	t.Run("missing file", func(t *testing.T) {
		f := newFixture(t)
		tok, err := f.store.GetToken(context.Background())
		assert.NoError(t, err)
		assert.Nil(t, tok)
	})
}

func TestStore_TamperedEnvelope(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.StoreToken(&oauth.Token{AccessToken: "A1", RefreshToken: "R1", TokenType: "Bearer", ExpiresIn: 3600})
	require.NoError(t, err)

	m := f.readFile(t)
	sealed := []byte(m["encrypted"].(string))
	// Changing one base64 character changes the decoded payload.
	i := len(sealed) / 2
	if sealed[i] == 'A' {
		sealed[i] = 'B'
	} else {
		sealed[i] = 'A'
	}
	data, err := json.Marshal(sealedFile{Encrypted: string(sealed)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.store.Path(), data, 0600))

	tok, err := f.store.GetToken(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, tok)
}

func TestStore_ClearTwice(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.StoreToken(&oauth.Token{AccessToken: "A1", RefreshToken: "R1", TokenType: "Bearer", ExpiresIn: 3600})
	require.NoError(t, err)
	require.True(t, f.store.IsAuthenticated(context.Background()))

	assert.NoError(t, f.store.Clear())
	assert.NoError(t, f.store.Clear())
	assert.False(t, f.store.IsAuthenticated(context.Background()))
}

func TestStore_LegacyMigration(t *testing.T) {
	t.Run("plaintext file is re-encrypted on read", func(t *testing.T) {
		f := newFixture(t)
		legacy := map[string]any{
			"access_token":  "A1",
			"refresh_token": "R1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "kimi-code",
			"expires_at":    f.clock.Now().Add(time.Hour).UnixMilli(),
		}
		data, err := json.Marshal(legacy)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(f.store.Path(), data, 0600))

		tok, err := f.store.GetToken(context.Background())
		require.NoError(t, err)
		require.NotNil(t, tok)
		assert.Equal(t, "A1", tok.AccessToken)
		assert.Equal(t, int64(3600), tok.ExpiresIn)

		rec := f.decryptRecord(t)
		assert.Equal(t, "A1", rec.AccessToken)
		assert.Equal(t, "R1", rec.RefreshToken)
		assert.Equal(t, "kimi-code", rec.Scope)
		assert.Equal(t, legacy["expires_at"], rec.ExpiresAt)
		assert.Zero(t, f.refresher.calls.Load())
	})

	t.Run("due plaintext file is refreshed instead", func(t *testing.T) {
		f := newFixture(t)
		legacy := fmt.Sprintf(`{"access_token":"A1","refresh_token":"R1","token_type":"Bearer","expires_in":3600,"expires_at":%d}`,
			f.clock.Now().Add(time.Minute).UnixMilli())
		require.NoError(t, os.WriteFile(f.store.Path(), []byte(legacy), 0600))

		tok, err := f.store.GetToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "A2", tok.AccessToken)
		assert.Equal(t, int32(1), f.refresher.calls.Load())
		assert.Equal(t, "A2", f.decryptRecord(t).AccessToken)
	})
}

func TestStore_RefreshWindowScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued := f.clock.Now()

	_, err := f.store.StoreToken(&oauth.Token{AccessToken: "A1", RefreshToken: "R1", TokenType: "Bearer", ExpiresIn: 1800})
	require.NoError(t, err)
	assert.Equal(t, issued.UnixMilli()+1_800_000, f.decryptRecord(t).ExpiresAt)

	f.clock.Set(issued.Add(1499 * time.Second))
	tok, err := f.store.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A1", tok.AccessToken)
	assert.Zero(t, f.refresher.calls.Load())

	f.clock.Set(issued.Add(1501 * time.Second))
	tok, err = f.store.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A2", tok.AccessToken)
	assert.Equal(t, "R2", tok.RefreshToken)
	assert.Equal(t, int32(1), f.refresher.calls.Load())

	rec := f.decryptRecord(t)
	assert.Equal(t, "A2", rec.AccessToken)
	assert.Equal(t, f.clock.Now().UnixMilli()+3_600_000, rec.ExpiresAt)
}

func TestStore_RefreshFailure(t *testing.T) {
	f := newFixture(t)
	f.refresher.err = errors.New("invalid_grant")

	_, err := f.store.StoreToken(&oauth.Token{AccessToken: "A1", RefreshToken: "R1", TokenType: "Bearer", ExpiresIn: 60})
	require.NoError(t, err)

	tok, err := f.store.GetToken(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tok, "a failed refresh reads as no credential")
	assert.False(t, f.store.IsAuthenticated(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.store.GetToken(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	peeked, err := f.store.Peek()
	require.NoError(t, err)
	assert.Equal(t, "A1", peeked.AccessToken, "failed refresh must leave the record untouched")
}

func TestStore_PeekDoesNotRefresh(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.StoreToken(&oauth.Token{AccessToken: "A1", RefreshToken: "R1", TokenType: "Bearer", ExpiresIn: 10})
	require.NoError(t, err)

	tok, err := f.store.Peek()
	require.NoError(t, err)
	assert.Equal(t, "A1", tok.AccessToken)
	assert.Zero(t, f.refresher.calls.Load())
}

func TestStore_RotateSkipsAlreadyRotated(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.StoreToken(&oauth.Token{AccessToken: "A2", RefreshToken: "R2", TokenType: "Bearer", ExpiresIn: 3600})
	require.NoError(t, err)

	tok, err := f.store.Rotate(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, "A2", tok.AccessToken)
	assert.Zero(t, f.refresher.calls.Load())

	// The current refresh token is always redeemed.
	tok, err = f.store.Rotate(context.Background(), "R2")
	require.NoError(t, err)
	assert.Equal(t, "A2", tok.AccessToken)
	assert.Equal(t, int32(1), f.refresher.calls.Load())
}

func TestStore_ConcurrentRefreshIsSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.refresher.release = make(chan struct{})

	_, err := f.store.StoreToken(&oauth.Token{AccessToken: "A1", RefreshToken: "R1", TokenType: "Bearer", ExpiresIn: 60})
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*oauth.Token, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				results[i], errs[i] = f.store.GetToken(context.Background())
			} else {
				results[i], errs[i] = f.store.Rotate(context.Background(), "R1")
			}
		}(i)
	}

	require.Eventually(t, func() bool { return f.refresher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(f.refresher.release)
	wg.Wait()

	assert.Equal(t, int32(1), f.refresher.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "A2", results[i].AccessToken)
		assert.Equal(t, "R2", results[i].RefreshToken)
	}
}

func TestStore_RotateSurvivesLeaderCancellation(t *testing.T) {
	f := newFixture(t)
	f.refresher.release = make(chan struct{})

	_, err := f.store.StoreToken(&oauth.Token{AccessToken: "A1", RefreshToken: "R1", TokenType: "Bearer", ExpiresIn: 60})
	require.NoError(t, err)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.store.Rotate(leaderCtx, "R1")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return f.refresher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		tok *oauth.Token
		err error
	}
	reader := make(chan result, 1)
	go func() {
		tok, err := f.store.GetToken(context.Background())
		reader <- result{tok, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(f.refresher.release)
	res := <-reader
	require.NoError(t, res.err)
	require.NotNil(t, res.tok)
	assert.Equal(t, "A2", res.tok.AccessToken)
	assert.Equal(t, int32(1), f.refresher.calls.Load())
	assert.Equal(t, "A2", f.decryptRecord(t).AccessToken, "the shared refresh is persisted")
}

func TestStore_RotateTimeout(t *testing.T) {
	f := newFixture(t)
	f.refresher.release = make(chan struct{})
	defer close(f.refresher.release)

	store, err := NewStore(Config{
		Dir:           f.dir,
		Keys:          f.keys,
		Devices:       identity.NewManager(f.dir),
		Refresher:     f.refresher,
		RotateTimeout: 50 * time.Millisecond,
		Now:           f.clock.Now,
	})
	require.NoError(t, err)
	_, err = store.StoreToken(&oauth.Token{AccessToken: "A1", RefreshToken: "R1", TokenType: "Bearer", ExpiresIn: 60})
	require.NoError(t, err)

	_, err = store.Rotate(context.Background(), "R1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	peeked, err := store.Peek()
	require.NoError(t, err)
	assert.Equal(t, "A1", peeked.AccessToken)
}

func TestStore_RotateWithoutRefresher(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(Config{Dir: dir, Keys: keys.NewManager(dir), Devices: identity.NewManager(dir)})
	require.NoError(t, err)

	_, err = store.Rotate(context.Background(), "R1")
	assert.ErrorIs(t, err, ErrNoRefresher)
}

func TestWriteFileAtomic_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "file.json")
	require.NoError(t, writeFileAtomic(path, []byte("{}"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
