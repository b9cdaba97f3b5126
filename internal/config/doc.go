// Package config provides configuration management for kimi-auth.
//
// Configuration is loaded from a single directory containing config.yaml.
// The default directory is ~/.config/kimi-auth; commands accept a custom
// directory through the --config-path flag.
//
// Loading happens in three steps:
//
//  1. Defaults from GetDefaultConfig.
//  2. Values from config.yaml, decoded with gopkg.in/yaml.v3. Durations are
//     written as Go duration strings ("5s", "10m").
//  3. Environment overrides processed with envconfig:
//     KIMI_CLIENT_ID, KIMI_DEVICE_AUTH_URL, KIMI_TOKEN_URL,
//     KIMI_API_BASE_URL, KIMI_AUTH_DIR, KIMI_POLL_INTERVAL,
//     KIMI_POLL_TIMEOUT and KIMI_LOG_LEVEL.
//
// The merged configuration is checked by Validate.
//
// # Example config.yaml
//
//	oauth:
//	  clientID: 17e5f671-d194-4dfb-9706-5516cb48c098
//	  pollInterval: 5s
//	storage:
//	  dir: ~/.opencode-kimi-auth
//	refresh:
//	  interval: 60s
//	  threshold: 5m
//	login:
//	  instructions: "Enter code: {{ .UserCode | upper }}"
package config
