package gateway

import (
	"errors"
	"fmt"
)

// ValidationError reports bad user input caught before any network
// call (empty or over-long title, malformed email, password mismatch).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// AuthCode classifies known sign-in/sign-up failure causes so they can
// be mapped to stable user-facing messages.
type AuthCode string

const (
	AuthUnknown           AuthCode = "unknown"
	AuthEmailNotConfirmed AuthCode = "email_not_confirmed"
	AuthBadCredentials    AuthCode = "bad_credentials"
	AuthAlreadyRegistered AuthCode = "already_registered"
)

// AuthError reports a sign-in or sign-up failure.
type AuthError struct {
	Code    AuthCode
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// UserMessage returns the user-facing message for known causes.
func (e *AuthError) UserMessage() string {
	switch e.Code {
	case AuthEmailNotConfirmed:
		return "Please check your email to confirm your account"
	case AuthBadCredentials:
		return "Invalid email or password"
	case AuthAlreadyRegistered:
		return "An account with this email already exists"
	default:
		if e.Message != "" {
			return e.Message
		}
		return "Authentication failed"
	}
}

// GatewayError reports a transport or remote failure on a task
// operation. It always triggers the optimistic-rollback path.
type GatewayError struct {
	Op     string // "fetch", "create", "update", "remove", "subscribe"
	Status int    // HTTP status if available, 0 otherwise
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s failed: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NotFoundError reports an update or delete whose target is absent or
// not owned by the caller; the two cases are indistinguishable.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}

// CacheError reports a local cache read or write failure. Cache errors
// are always non-fatal: callers log them and carry on with an empty
// cache.
type CacheError struct {
	Op  string // "load", "save"
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s failed: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
