package oauth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// GrantTypeDeviceCode is the RFC 8628 grant type used while polling.
const GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

// GrantTypeRefreshToken is the grant type used to rotate tokens.
const GrantTypeRefreshToken = "refresh_token"

// Error codes returned by the token endpoint during the device flow.
const (
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeSlowDown             = "slow_down"
	ErrorCodeExpiredToken         = "expired_token"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeUnknown              = "unknown"
)

// DefaultExpiryMargin is the default margin when checking token expiry.
// This accounts for clock skew and network latency.
const DefaultExpiryMargin = 30 * time.Second

// TokenRefreshThreshold is the duration before token expiry when tokens should be proactively refreshed.
// It is shared by the read path in the credential store and the background scheduler.
const TokenRefreshThreshold = 5 * time.Minute

// DeviceAuthorization is the device authorization endpoint response.
// It is created per authorization attempt and discarded once polling ends.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// URL returns the address the user should open, preferring the complete
// verification URI that embeds the user code.
func (d *DeviceAuthorization) URL() string {
	if d.VerificationURIComplete != "" {
		return d.VerificationURIComplete
	}
	return d.VerificationURI
}

// PollInterval returns the server suggested polling interval, or fallback
// when the server did not send one.
func (d *DeviceAuthorization) PollInterval(fallback time.Duration) time.Duration {
	if d.Interval > 0 {
		return time.Duration(d.Interval) * time.Second
	}
	return fallback
}

// Lifetime returns how long the device code stays valid, or zero when unknown.
func (d *DeviceAuthorization) Lifetime() time.Duration {
	if d.ExpiresIn <= 0 {
		return 0
	}
	return time.Duration(d.ExpiresIn) * time.Second
}

// Token represents an OAuth token set with associated metadata.
type Token struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// RefreshToken is used to obtain new access tokens.
	RefreshToken string `json:"refresh_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the token lifetime in seconds, relative to when it was
	// issued or, for tokens read back from storage, to the time of the read.
	ExpiresIn int64 `json:"expires_in"`

	// ExpiresAt is the absolute expiry, computed when the token is stored.
	ExpiresAt time.Time `json:"-"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`
}

// IsExpired checks if the token has expired.
// Returns true if the token is expired or will expire within the default margin.
func (t *Token) IsExpired() bool {
	return t.IsExpiredWithMargin(DefaultExpiryMargin)
}

// IsExpiredWithMargin checks if the token has expired or will expire within the margin.
func (t *Token) IsExpiredWithMargin(margin time.Duration) bool {
	return t.IsExpiredAt(time.Now(), margin)
}

// IsExpiredAt reports whether the token is expired at now, or will be within margin.
func (t *Token) IsExpiredAt(now time.Time, margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false // Tokens without expiration don't expire
	}
	return now.Add(margin).After(t.ExpiresAt)
}

// Scopes returns the scope as a slice of individual scopes.
func (t *Token) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// Clone returns a copy of the token.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// ToOAuth2Token converts the Token to an oauth2.Token for compatibility with golang.org/x/oauth2.
func (t *Token) ToOAuth2Token() *oauth2.Token {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    tokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
	if t.Scope != "" {
		token = token.WithExtra(map[string]interface{}{
			"scope": t.Scope,
		})
	}
	return token
}
