// Package oauth provides the OAuth 2.0 Device Authorization Grant protocol
// types and the HTTP client used by kimi-auth.
//
// # Core Components
//
//   - DeviceAuthorization: the device/user code pair returned by the server
//   - Token: token set with absolute expiry, convertible to *oauth2.Token
//   - Client: device authorization, device code exchange and token refresh
//   - ProtocolError and TokenError: failed exchanges and OAuth error bodies
//
// # Usage
//
//	client := oauth.NewClient(clientID, oauth.Endpoints{
//	    DeviceAuthorizationURL: "https://auth.kimi.com/api/oauth/device_authorization",
//	    TokenURL:               "https://auth.kimi.com/api/oauth/token",
//	}, oauth.WithHeaders(identity.Headers))
//
//	auth, err := client.RequestDeviceAuthorization(ctx)
//	token, err := client.ExchangeDeviceCode(ctx, auth.DeviceCode)
//
// ExchangeDeviceCode returns a *TokenError for authorization_pending and
// slow_down; polling policy lives in internal/deviceflow.
package oauth
