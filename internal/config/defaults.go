package config

import "time"

const (
	// DefaultClientID is the public client id of the Kimi device flow.
	DefaultClientID = "17e5f671-d194-4dfb-9706-5516cb48c098"

	DefaultDeviceAuthorizationURL = "https://auth.kimi.com/api/oauth/device_authorization"
	DefaultTokenURL               = "https://auth.kimi.com/api/oauth/token"
	DefaultAPIBaseURL             = "https://kimi.com/api/v1"

	// DefaultStorageDir is relative to the home directory.
	DefaultStorageDir = "~/.opencode-kimi-auth"

	DefaultPlatform = "opencode"

	// DefaultInstructions is the login prompt template.
	DefaultInstructions = "Enter code: {{ .UserCode }}"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		OAuth: OAuthConfig{
			ClientID:               DefaultClientID,
			DeviceAuthorizationURL: DefaultDeviceAuthorizationURL,
			TokenURL:               DefaultTokenURL,
			APIBaseURL:             DefaultAPIBaseURL,
			PollInterval:           5 * time.Second,
			PollTimeout:            10 * time.Minute,
			HTTPTimeout:            30 * time.Second,
		},
		Storage: StorageConfig{
			Dir: DefaultStorageDir,
		},
		Refresh: RefreshConfig{
			Interval:   60 * time.Second,
			Threshold:  300 * time.Second,
			ReadWindow: 300 * time.Second,
		},
		Client: ClientConfig{
			Platform: DefaultPlatform,
		},
		Login: LoginConfig{
			Instructions: DefaultInstructions,
		},
		Watch: WatchConfig{
			Enabled:      true,
			Debounce:     500 * time.Millisecond,
			PollInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
