package mock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"kimiauth/pkg/oauth"
)

const (
	deviceAuthorizationPath = "/api/oauth/device_authorization"
	tokenPath               = "/api/oauth/token"
	apiPrefix               = "/api/v1"
)

// AuthServerConfig configures the mock authorization server behavior.
type AuthServerConfig struct {
	// ClientID is the expected OAuth client ID. Empty accepts any.
	ClientID string

	// DeviceCode and UserCode are returned by the device authorization endpoint.
	DeviceCode string
	UserCode   string

	// Interval and ExpiresIn are the polling hints sent with the device code.
	Interval  int64
	ExpiresIn int64

	// OmitCompleteURI leaves verification_uri_complete out of the response.
	OmitCompleteURI bool

	// APIKeys lists the bearer values accepted by the models endpoint.
	APIKeys []string
}

// TokenReply is one scripted token endpoint response.
type TokenReply struct {
	Status int
	Body   map[string]any
}

// Pending returns an authorization_pending reply.
func Pending() TokenReply {
	return tokenError(oauth.ErrorCodeAuthorizationPending)
}

// SlowDown returns a slow_down reply carrying the given interval hint.
func SlowDown(interval int64) TokenReply {
	r := tokenError(oauth.ErrorCodeSlowDown)
	if interval > 0 {
		r.Body["interval"] = interval
	}
	return r
}

// Expired returns an expired_token reply.
func Expired() TokenReply {
	return tokenError(oauth.ErrorCodeExpiredToken)
}

// Denied returns an access_denied reply.
func Denied() TokenReply {
	return tokenError(oauth.ErrorCodeAccessDenied)
}

// Failure returns an error reply with an arbitrary code and status.
func Failure(status int, code string) TokenReply {
	r := tokenError(code)
	r.Status = status
	return r
}

// Issue returns a successful token reply. An empty refresh token is omitted
// from the body.
func Issue(access, refresh string, expiresIn int64) TokenReply {
	body := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
		"scope":        "kimi-code",
	}
	if refresh != "" {
		body["refresh_token"] = refresh
	}
	return TokenReply{Status: http.StatusOK, Body: body}
}

func tokenError(code string) TokenReply {
	return TokenReply{
		Status: http.StatusBadRequest,
		Body:   map[string]any{"error": code},
	}
}

// RecordedRequest is a request received by the AuthServer.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Form   url.Values
}

// AuthServer is a scripted device authorization server.
type AuthServer struct {
	config AuthServerConfig
	server *httptest.Server

	mu           sync.Mutex
	deviceQueue  []TokenReply
	refreshQueue []TokenReply
	requests     []RecordedRequest
	rotations    int
}

// NewAuthServer starts a new mock server. Call Close when done.
func NewAuthServer(config AuthServerConfig) *AuthServer {
	if config.DeviceCode == "" {
		config.DeviceCode = "D1"
	}
	if config.UserCode == "" {
		config.UserCode = "ABCD-1234"
	}
	if config.ExpiresIn == 0 {
		config.ExpiresIn = 600
	}

	s := &AuthServer{config: config}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Post(deviceAuthorizationPath, s.handleDeviceAuthorization)
	r.Post(tokenPath, s.handleToken)
	r.Get(apiPrefix+"/models", s.handleModels)

	s.server = httptest.NewServer(r)
	return s
}

// Close shuts the server down.
func (s *AuthServer) Close() {
	s.server.Close()
}

// URL returns the base URL of the server.
func (s *AuthServer) URL() string {
	return s.server.URL
}

// Endpoints returns the protocol endpoints served by this server.
func (s *AuthServer) Endpoints() oauth.Endpoints {
	return oauth.Endpoints{
		DeviceAuthorizationURL: s.server.URL + deviceAuthorizationPath,
		TokenURL:               s.server.URL + tokenPath,
	}
}

// APIBaseURL returns the base URL of the mock model API.
func (s *AuthServer) APIBaseURL() string {
	return s.server.URL + apiPrefix
}

// QueueDeviceToken appends replies for device-code grant requests. When the
// queue is empty the server answers authorization_pending.
func (s *AuthServer) QueueDeviceToken(replies ...TokenReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceQueue = append(s.deviceQueue, replies...)
}

// QueueRefresh appends replies for refresh grant requests. When the queue is
// empty the server rotates to access-N / refresh-N with a one hour lifetime.
func (s *AuthServer) QueueRefresh(replies ...TokenReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshQueue = append(s.refreshQueue, replies...)
}

// Requests returns the recorded requests for path, or all requests when
// path is empty.
func (s *AuthServer) Requests(path string) []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RecordedRequest
	for _, r := range s.requests {
		if path == "" || strings.HasSuffix(r.Path, path) {
			out = append(out, r)
		}
	}
	return out
}

// GrantCount returns how many token requests used grantType.
func (s *AuthServer) GrantCount(grantType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Form.Get("grant_type") == grantType {
			n++
		}
	}
	return n
}

func (s *AuthServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "invalid request", http.StatusBadRequest)
				return
			}
		}
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Form:   cloneValues(r.PostForm),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *AuthServer) handleDeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	if !s.clientAllowed(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}

	body := map[string]any{
		"device_code":      s.config.DeviceCode,
		"user_code":        s.config.UserCode,
		"verification_uri": s.server.URL + "/device",
		"expires_in":       s.config.ExpiresIn,
	}
	if !s.config.OmitCompleteURI {
		body["verification_uri_complete"] = s.server.URL + "/device?user_code=" + s.config.UserCode
	}
	if s.config.Interval > 0 {
		body["interval"] = s.config.Interval
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *AuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.clientAllowed(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}

	switch grant := r.PostForm.Get("grant_type"); grant {
	case oauth.GrantTypeDeviceCode:
		if r.PostForm.Get("device_code") != s.config.DeviceCode {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			return
		}
		reply := s.nextDevice()
		writeJSON(w, reply.Status, reply.Body)
	case oauth.GrantTypeRefreshToken:
		if r.PostForm.Get("refresh_token") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
			return
		}
		reply := s.nextRefresh()
		writeJSON(w, reply.Status, reply.Body)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "unsupported_grant_type",
			"error_description": fmt.Sprintf("grant_type %s not supported", grant),
		})
	}
}

func (s *AuthServer) handleModels(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	for _, k := range s.config.APIKeys {
		if k == key {
			writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
			return
		}
	}
	writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_api_key"})
}

func (s *AuthServer) nextDevice() TokenReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.deviceQueue) == 0 {
		return Pending()
	}
	reply := s.deviceQueue[0]
	s.deviceQueue = s.deviceQueue[1:]
	return reply
}

func (s *AuthServer) nextRefresh() TokenReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.refreshQueue) == 0 {
		s.rotations++
		return Issue(fmt.Sprintf("access-%d", s.rotations), fmt.Sprintf("refresh-%d", s.rotations), 3600)
	}
	reply := s.refreshQueue[0]
	s.refreshQueue = s.refreshQueue[1:]
	return reply
}

func (s *AuthServer) clientAllowed(r *http.Request) bool {
	return s.config.ClientID == "" || r.PostForm.Get("client_id") == s.config.ClientID
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
