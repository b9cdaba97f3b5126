package config

import "time"

// Config is the top-level kimi-auth configuration.
type Config struct {
	OAuth   OAuthConfig   `yaml:"oauth"`
	Storage StorageConfig `yaml:"storage"`
	Refresh RefreshConfig `yaml:"refresh"`
	Client  ClientConfig  `yaml:"client"`
	Login   LoginConfig   `yaml:"login"`
	Watch   WatchConfig   `yaml:"watch"`
	Logging LoggingConfig `yaml:"logging"`
}

// OAuthConfig holds the authorization server settings.
type OAuthConfig struct {
	// ClientID is the public OAuth client identifier.
	ClientID string `yaml:"clientID"`

	// DeviceAuthorizationURL is the RFC 8628 device authorization endpoint.
	DeviceAuthorizationURL string `yaml:"deviceAuthorizationURL"`

	// TokenURL is the token endpoint used for polling and refresh.
	TokenURL string `yaml:"tokenURL"`

	// APIBaseURL is the model API used to verify API keys.
	APIBaseURL string `yaml:"apiBaseURL"`

	// PollInterval is used when the server sends no interval hint.
	PollInterval time.Duration `yaml:"pollInterval"`

	// PollTimeout bounds the wait for user approval.
	PollTimeout time.Duration `yaml:"pollTimeout"`

	// HTTPTimeout bounds each request to the authorization server.
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
}

// StorageConfig locates the credential files.
type StorageConfig struct {
	// Dir holds oauth.json, .key and device_id. A leading ~ is expanded.
	Dir string `yaml:"dir"`
}

// RefreshConfig tunes background and read-path refresh.
type RefreshConfig struct {
	// Interval is the tick period of the background refresh task.
	Interval time.Duration `yaml:"interval"`

	// Threshold is how close to expiry the background task rotates.
	Threshold time.Duration `yaml:"threshold"`

	// ReadWindow is how close to expiry a read triggers a refresh.
	ReadWindow time.Duration `yaml:"readWindow"`
}

// ClientConfig identifies this client to the authorization server.
type ClientConfig struct {
	Platform string `yaml:"platform"`
	// Version defaults to the build version.
	Version string `yaml:"version,omitempty"`
}

// LoginConfig customises the device login prompt.
type LoginConfig struct {
	// Instructions is a text/template rendered with the device challenge.
	// Sprig functions are available.
	Instructions string `yaml:"instructions"`
}

// WatchConfig controls the token file watcher used by the daemon.
type WatchConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Debounce     time.Duration `yaml:"debounce"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// LoggingConfig sets the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envOverrides are the supported environment variables.
type envOverrides struct {
	ClientID      string        `envconfig:"KIMI_CLIENT_ID"`
	DeviceAuthURL string        `envconfig:"KIMI_DEVICE_AUTH_URL"`
	TokenURL      string        `envconfig:"KIMI_TOKEN_URL"`
	APIBaseURL    string        `envconfig:"KIMI_API_BASE_URL"`
	AuthDir       string        `envconfig:"KIMI_AUTH_DIR"`
	PollInterval  time.Duration `envconfig:"KIMI_POLL_INTERVAL"`
	PollTimeout   time.Duration `envconfig:"KIMI_POLL_TIMEOUT"`
	LogLevel      string        `envconfig:"KIMI_LOG_LEVEL"`
}
