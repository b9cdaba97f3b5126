package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the credential variants a host may hand to Load.
type Kind string

const (
	KindOAuth     Kind = "oauth"
	KindAPI       Kind = "api"
	KindWellKnown Kind = "wellknown"
)

// Credential is one of the supported credential variants. Use the
// constructors, which validate the fields of each variant.
type Credential struct {
	Kind Kind `json:"type"`

	// oauth
	Access  string    `json:"access,omitempty"`
	Refresh string    `json:"refresh,omitempty"`
	Expires time.Time `json:"expires,omitempty"`

	// api and wellknown
	Key string `json:"key,omitempty"`

	// wellknown
	Token string `json:"token,omitempty"`
}

// OAuthCredential builds an oauth credential.
func OAuthCredential(access, refresh string, expires time.Time) (Credential, error) {
	c := Credential{Kind: KindOAuth, Access: access, Refresh: refresh, Expires: expires}
	return c, c.Validate()
}

// APICredential builds an api key credential.
func APICredential(key string) (Credential, error) {
	c := Credential{Kind: KindAPI, Key: strings.TrimSpace(key)}
	return c, c.Validate()
}

// WellKnownCredential builds a well-known token credential.
func WellKnownCredential(key, token string) (Credential, error) {
	c := Credential{Kind: KindWellKnown, Key: key, Token: token}
	return c, c.Validate()
}

// Validate checks the fields required by the credential's kind.
func (c Credential) Validate() error {
	switch c.Kind {
	case KindOAuth:
		if c.Access == "" {
			return errors.New("oauth credential requires an access token")
		}
		if c.Refresh == "" {
			return errors.New("oauth credential requires a refresh token")
		}
	case KindAPI:
		return ValidateAPIKey(c.Key)
	case KindWellKnown:
		if c.Token == "" {
			return errors.New("wellknown credential requires a token")
		}
	default:
		return fmt.Errorf("unsupported credential type %q", c.Kind)
	}
	return nil
}

// bearer returns the value sent in the Authorization header.
func (c Credential) bearer() string {
	switch c.Kind {
	case KindOAuth:
		return c.Access
	case KindAPI:
		return c.Key
	case KindWellKnown:
		return c.Token
	}
	return ""
}
