package config

import (
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// addErr appends err when it is a ValidationError.
func (ve *ValidationErrors) addErr(err error) {
	if v, ok := err.(ValidationError); ok {
		*ve = append(*ve, v)
	}
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: "is required",
		}
	}
	return nil
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateURL checks that value is an absolute http(s) URL.
func ValidateURL(field, value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: "must be an absolute http or https URL",
		}
	}
	return nil
}

// ValidatePositiveDuration checks that d is greater than zero.
func ValidatePositiveDuration(field string, d time.Duration) error {
	if d <= 0 {
		return ValidationError{
			Field:   field,
			Value:   d,
			Message: "must be a positive duration",
		}
	}
	return nil
}

// Validate checks a merged configuration.
func Validate(cfg Config) error {
	var errs ValidationErrors

	errs.addErr(ValidateRequired("oauth.clientID", cfg.OAuth.ClientID))
	errs.addErr(ValidateURL("oauth.deviceAuthorizationURL", cfg.OAuth.DeviceAuthorizationURL))
	errs.addErr(ValidateURL("oauth.tokenURL", cfg.OAuth.TokenURL))
	errs.addErr(ValidateURL("oauth.apiBaseURL", cfg.OAuth.APIBaseURL))
	errs.addErr(ValidatePositiveDuration("oauth.pollInterval", cfg.OAuth.PollInterval))
	errs.addErr(ValidatePositiveDuration("oauth.pollTimeout", cfg.OAuth.PollTimeout))
	errs.addErr(ValidatePositiveDuration("oauth.httpTimeout", cfg.OAuth.HTTPTimeout))
	errs.addErr(ValidateRequired("storage.dir", cfg.Storage.Dir))
	errs.addErr(ValidatePositiveDuration("refresh.interval", cfg.Refresh.Interval))
	errs.addErr(ValidatePositiveDuration("refresh.threshold", cfg.Refresh.Threshold))
	errs.addErr(ValidatePositiveDuration("refresh.readWindow", cfg.Refresh.ReadWindow))
	errs.addErr(ValidateRequired("client.platform", cfg.Client.Platform))
	errs.addErr(ValidateOneOf("logging.level", strings.ToLower(cfg.Logging.Level), []string{"debug", "info", "warn", "error"}))
	errs.addErr(ValidateOneOf("logging.format", strings.ToLower(cfg.Logging.Format), []string{"text", "json"}))

	if cfg.Watch.Enabled {
		errs.addErr(ValidatePositiveDuration("watch.debounce", cfg.Watch.Debounce))
		errs.addErr(ValidatePositiveDuration("watch.pollInterval", cfg.Watch.PollInterval))
	}

	if _, err := template.New("instructions").Funcs(sprig.TxtFuncMap()).Parse(cfg.Login.Instructions); err != nil {
		errs.Add("login.instructions", fmt.Sprintf("invalid template: %v", err), cfg.Login.Instructions)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
