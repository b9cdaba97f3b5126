package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"kimiauth/pkg/logging"
)

const (
	userConfigDir  = ".config/kimi-auth"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns ~/.config/kimi-auth.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from configPath, applies environment
// overrides and validates the result. A missing config.yaml is not an error.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, ConfigurationError{
				FilePath:    configFilePath,
				ErrorType:   "parse",
				Message:     "malformed YAML",
				Details:     err.Error(),
				Suggestions: []string{"Durations must be quoted Go duration strings such as \"5s\""},
			}
		}
		logging.Info("Config", "Loaded configuration from %s", configFilePath)
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("Config", "No config.yaml found at %s, using defaults", configFilePath)
	default:
		return Config{}, ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: "io",
			Message:   "failed to read configuration",
			Details:   err.Error(),
		}
	}

	if err := applyEnv(&config); err != nil {
		return Config{}, err
	}

	dir, err := ExpandHome(config.Storage.Dir)
	if err != nil {
		return Config{}, ConfigurationError{ErrorType: "io", Message: "failed to resolve storage directory", Details: err.Error()}
	}
	config.Storage.Dir = dir

	if err := Validate(config); err != nil {
		return Config{}, ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: "validation",
			Message:   err.Error(),
		}
	}

	return config, nil
}

// applyEnv overlays the KIMI_* environment variables that are set.
func applyEnv(config *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return ConfigurationError{
			ErrorType: "env",
			Message:   "invalid environment override",
			Details:   err.Error(),
		}
	}

	setString(&config.OAuth.ClientID, env.ClientID)
	setString(&config.OAuth.DeviceAuthorizationURL, env.DeviceAuthURL)
	setString(&config.OAuth.TokenURL, env.TokenURL)
	setString(&config.OAuth.APIBaseURL, env.APIBaseURL)
	setString(&config.Storage.Dir, env.AuthDir)
	setString(&config.Logging.Level, env.LogLevel)
	if env.PollInterval > 0 {
		config.OAuth.PollInterval = env.PollInterval
	}
	if env.PollTimeout > 0 {
		config.OAuth.PollTimeout = env.PollTimeout
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
