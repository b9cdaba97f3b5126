package session

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx context.Context
	m   *Manager
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.m.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	return tok.ToOAuth2Token(), nil
}

// TokenSource returns an oauth2.TokenSource backed by the managed credential.
// Tokens are reused until they enter the read-path refresh window.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, &tokenSource{ctx: ctx, m: m}, m.cfg.Refresh.ReadWindow)
}

// HTTPClient returns a client that authorizes requests with the managed
// credential.
func (m *Manager) HTTPClient(ctx context.Context) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	return oauth2.NewClient(ctx, m.TokenSource(ctx))
}
