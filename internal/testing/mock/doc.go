// Package mock provides test doubles for the kimi-auth credential lifecycle.
//
// Key Components:
//
// MockClock: a controllable Clock for simulating token expiry and refresh
// thresholds without waiting for real time to pass.
//
// Sleeper: records the waits requested by the device flow poller and
// advances a MockClock instead of blocking.
//
// AuthServer: a scripted OAuth device authorization server running on
// net/http/httptest. Tests queue the responses the token endpoint should
// return for device-code polling and for refresh grants, and inspect the
// requests that were received afterwards.
//
// Usage:
//
//	server := mock.NewAuthServer(mock.AuthServerConfig{ClientID: "test"})
//	defer server.Close()
//
//	server.QueueDeviceToken(mock.Pending(), mock.Issue("A1", "R1", 3600))
//	client := oauth.NewClient("test", server.Endpoints())
package mock
