package deviceflow

import (
	"errors"
	"fmt"
)

// Sentinels matched by errors.Is against an *AuthError of the same state.
var (
	ErrExpired = errors.New("device code expired")
	ErrDenied  = errors.New("authorization denied")
	ErrTimeout = errors.New("authorization timed out")
	ErrFailed  = errors.New("authorization failed")
)

// AuthError is a terminal poll outcome other than success.
type AuthError struct {
	State       State
	Code        string
	Description string
	Err         error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("device authorization %s", e.State)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's state.
func (e *AuthError) Is(target error) bool {
	switch e.State {
	case StateExpired:
		return target == ErrExpired
	case StateDenied:
		return target == ErrDenied
	case StateTimedOut:
		return target == ErrTimeout
	case StateFailed:
		return target == ErrFailed
	}
	return false
}
