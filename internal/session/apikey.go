package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIKeyPrefix is the required prefix of Kimi API keys.
const APIKeyPrefix = "kimi-api-"

// ValidateAPIKey checks the format of an API key without contacting the server.
func ValidateAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("API key is required")
	}
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return fmt.Errorf("invalid API key format, should start with %q", APIKeyPrefix)
	}
	return nil
}

// VerifyAPIKey checks an API key against the models endpoint.
func (m *Manager) VerifyAPIKey(ctx context.Context, key string) (Credential, error) {
	cred, err := APICredential(key)
	if err != nil {
		return Credential{}, err
	}

	endpoint := strings.TrimSuffix(m.cfg.OAuth.APIBaseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Key)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to verify API key: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, fmt.Errorf("API key rejected: %s", resp.Status)
	}
	return cred, nil
}
