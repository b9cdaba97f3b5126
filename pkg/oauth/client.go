package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
const DefaultHTTPTimeout = 30 * time.Second

// Endpoints holds the authorization server URLs used by the device flow.
type Endpoints struct {
	DeviceAuthorizationURL string
	TokenURL               string
}

// HeaderFunc supplies extra request headers, such as device identification,
// for every call to the authorization server.
type HeaderFunc func(ctx context.Context) (http.Header, error)

// Client handles the OAuth 2.0 Device Authorization Grant protocol operations:
// device authorization, device code exchange and token refresh.
type Client struct {
	clientID   string
	endpoints  Endpoints
	httpClient *http.Client
	logger     *slog.Logger
	headers    HeaderFunc
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHeaders sets the function that supplies per-request headers.
func WithHeaders(fn HeaderFunc) ClientOption {
	return func(c *Client) {
		c.headers = fn
	}
}

// NewClient creates a new OAuth client for clientID talking to endpoints.
func NewClient(clientID string, endpoints Endpoints, opts ...ClientOption) *Client {
	c := &Client{
		clientID:   clientID,
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ClientID returns the OAuth client identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// RequestDeviceAuthorization requests a device code and user code pair.
// It has no persistence side effects.
func (c *Client) RequestDeviceAuthorization(ctx context.Context) (*DeviceAuthorization, error) {
	const op = "device authorization"

	data := url.Values{
		"client_id": {c.clientID},
	}

	status, body, err := c.postForm(ctx, c.endpoints.DeviceAuthorizationURL, data)
	if err != nil {
		return nil, &ProtocolError{Op: op, Err: err}
	}

	if status < 200 || status > 299 {
		c.logger.Debug("Device authorization request failed",
			"status", status)
		return nil, &ProtocolError{Op: op, StatusCode: status, Body: truncateBody(body)}
	}

	var auth DeviceAuthorization
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, &ProtocolError{Op: op, StatusCode: status, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if auth.DeviceCode == "" || auth.UserCode == "" || auth.URL() == "" {
		return nil, &ProtocolError{Op: op, StatusCode: status, Err: fmt.Errorf("invalid response: missing required fields")}
	}

	return &auth, nil
}

// ExchangeDeviceCode performs a single device code exchange against the token
// endpoint. An OAuth error body is returned as a *TokenError so callers can
// distinguish continuation signals from terminal failures.
func (c *Client) ExchangeDeviceCode(ctx context.Context, deviceCode string) (*Token, error) {
	const op = "device code exchange"

	data := url.Values{
		"grant_type":  {GrantTypeDeviceCode},
		"device_code": {deviceCode},
		"client_id":   {c.clientID},
	}

	status, body, err := c.postForm(ctx, c.endpoints.TokenURL, data)
	if err != nil {
		return nil, &ProtocolError{Op: op, Err: err}
	}

	if status < 200 || status > 299 {
		return nil, parseTokenError(status, body)
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, &ProtocolError{Op: op, StatusCode: status, Err: fmt.Errorf("failed to parse token response: %w", err)}
	}

	return &token, nil
}

// RefreshToken obtains a new access token using a refresh token. When the
// server omits a new refresh token the previous one is preserved.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	const op = "token refresh"

	data := url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
	}

	status, body, err := c.postForm(ctx, c.endpoints.TokenURL, data)
	if err != nil {
		return nil, &ProtocolError{Op: op, Err: err}
	}

	if status < 200 || status > 299 {
		c.logger.Debug("Token refresh failed",
			"status", status)
		return nil, &ProtocolError{Op: op, StatusCode: status, Body: truncateBody(body)}
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, &ProtocolError{Op: op, StatusCode: status, Err: fmt.Errorf("failed to parse token response: %w", err)}
	}

	if token.AccessToken == "" {
		return nil, &ProtocolError{Op: op, StatusCode: status, Err: fmt.Errorf("invalid refresh response: missing access_token")}
	}

	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	return &token, nil
}

// postForm sends a form encoded POST and returns the status code and body.
func (c *Client) postForm(ctx context.Context, endpoint string, data url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.headers != nil {
		extra, err := c.headers(ctx)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to build request headers: %w", err)
		}
		for name, values := range extra {
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, body, nil
}

// parseTokenError decodes an OAuth error body. Bodies that cannot be decoded
// are reported with the "unknown" code.
func parseTokenError(status int, body []byte) *TokenError {
	var tokenErr TokenError
	if err := json.Unmarshal(body, &tokenErr); err != nil {
		return &TokenError{Code: ErrorCodeUnknown, Description: http.StatusText(status), StatusCode: status}
	}
	if tokenErr.Code == "" {
		tokenErr.Code = ErrorCodeUnknown
		if tokenErr.Description == "" {
			tokenErr.Description = http.StatusText(status)
		}
	}
	tokenErr.StatusCode = status
	return &tokenErr
}
