package security

import (
	"errors"
	"fmt"

	"github.com/glimte/mmate-chansec/interceptors"
)

var (
	// ErrConfiguration marks setup-time failures that cannot be recovered from
	ErrConfiguration = errors.New("security: invalid configuration")

	// ErrAccessDenied marks operations rejected by the security interceptor
	ErrAccessDenied = errors.New("security: access denied")

	// ErrAuthenticationRequired is the cause of denials with no principal in context
	ErrAuthenticationRequired = errors.New("security: authentication required")
)

// ConfigurationError describes an invalid setup
type ConfigurationError struct {
	Name   string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("security configuration error for %q: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("security configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	if e.Err == nil {
		return ErrConfiguration
	}
	return e.Err
}

// Is lets errors.Is match ErrConfiguration regardless of the underlying cause
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// AccessDeniedError is returned when a secured channel operation is rejected
type AccessDeniedError struct {
	Channel   string
	Operation interceptors.Operation
	Principal string
	Reason    string
	Err       error
}

func (e *AccessDeniedError) Error() string {
	who := e.Principal
	if who == "" {
		who = "anonymous"
	}
	msg := fmt.Sprintf("access denied: %s on channel %s for %s", e.Operation, e.Channel, who)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *AccessDeniedError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrAccessDenied regardless of the underlying cause
func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// IsAccessDenied reports whether err is an access denial
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
