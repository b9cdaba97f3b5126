package credentials

import (
	"encoding/json"
	"math"
	"time"

	"kimiauth/pkg/oauth"
)

// record is the persisted token shape, also used by legacy plaintext files.
type record struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"` // Unix milliseconds
	Scope        string `json:"scope,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`
}

// sealedFile is the on-disk envelope wrapper.
type sealedFile struct {
	Encrypted string `json:"encrypted"`
}

func (r *record) expiry() time.Time {
	return time.UnixMilli(r.ExpiresAt)
}

// token converts the record to a token with ExpiresIn relative to now.
func (r *record) token(now time.Time) *oauth.Token {
	return &oauth.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		ExpiresIn:    remainingSeconds(r.expiry(), now),
		ExpiresAt:    r.expiry(),
		Scope:        r.Scope,
	}
}

func remainingSeconds(expiresAt, now time.Time) int64 {
	return int64(math.Floor(expiresAt.Sub(now).Seconds()))
}

// isRecordShape reports whether m has the string token fields and a numeric
// expires_at.
func isRecordShape(m map[string]any) bool {
	for _, k := range []string{"access_token", "refresh_token", "token_type"} {
		if _, ok := m[k].(string); !ok {
			return false
		}
	}
	_, ok := m["expires_at"].(float64)
	return ok
}

// decodeRecord validates the shape of data before decoding it.
func decodeRecord(data []byte) (*record, bool) {
	var shape map[string]any
	if err := json.Unmarshal(data, &shape); err != nil || !isRecordShape(shape) {
		return nil, false
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	// expires_at may carry a fractional part in old files.
	rec.ExpiresAt = int64(shape["expires_at"].(float64))
	return &rec, true
}
