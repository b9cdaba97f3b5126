package oauth

import (
	"fmt"
	"net/http"

	pkgstrings "kimiauth/pkg/strings"
)

// ProtocolError reports a failed or malformed HTTP exchange with the
// authorization server. It is always surfaced to the caller.
type ProtocolError struct {
	// Op names the exchange, e.g. "device authorization".
	Op string
	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int
	// Body is a truncated copy of the response body, if any.
	Body string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s failed: %d %s - %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s failed: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	default:
		return e.Op + " failed"
	}
}

// Unwrap returns the underlying cause.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TokenError is an OAuth error body returned by the token endpoint.
type TokenError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	// Interval is the server requested polling interval in seconds (slow_down).
	Interval   int64 `json:"interval,omitempty"`
	StatusCode int   `json:"-"`
}

// Error implements the error interface.
func (e *TokenError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token request failed: %s: %s", e.Code, e.Description)
	}
	return "token request failed: " + e.Code
}

// IsPending reports whether the user has not yet approved the request.
func (e *TokenError) IsPending() bool {
	return e.Code == ErrorCodeAuthorizationPending
}

// IsSlowDown reports whether the server asked the client to poll less often.
func (e *TokenError) IsSlowDown() bool {
	return e.Code == ErrorCodeSlowDown
}

func truncateBody(body []byte) string {
	return pkgstrings.Truncate(string(body), pkgstrings.DefaultMaxLen)
}
