package cmd

import "fmt"

// AuthRequiredError indicates no usable credential is stored.
// Implements error with actionable guidance.
type AuthRequiredError struct {
	Reason string
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthRequiredError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "not authenticated"
	}
	return fmt.Sprintf(`Authentication required: %s

To authenticate, run:
  kimi-auth login

To check current authentication status:
  kimi-auth status`, reason)
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthRequiredError) Is(target error) bool {
	_, ok := target.(*AuthRequiredError)
	return ok
}

// AuthFailedError indicates the device authorization did not complete.
type AuthFailedError struct {
	Err error
}

// Error returns a user-friendly error message.
func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Authentication failed: %v

To try again, run:
  kimi-auth login`, e.Err)
}

// Unwrap returns the underlying error.
func (e *AuthFailedError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthFailedError) Is(target error) bool {
	_, ok := target.(*AuthFailedError)
	return ok
}
