package channel

import (
	"errors"
	"fmt"
)

var (
	// Delivery errors
	ErrNilMessage     = errors.New("channel: message must not be nil")
	ErrSendTimeout    = errors.New("channel: send timed out")
	ErrReceiveTimeout = errors.New("channel: receive timed out")
	ErrNoSubscriber   = errors.New("channel: no subscriber")

	// Registry errors
	ErrChannelNotFound = errors.New("channel: not found")
	ErrNotAChannel     = errors.New("channel: registered object is not a channel")
	ErrDuplicateName   = errors.New("channel: name already registered")
	ErrEmptyName       = errors.New("channel: name must not be empty")
)

// SendError represents a failed send on a named channel
type SendError struct {
	Channel   string
	MessageID string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("channel %s: send of message %s failed: %v", e.Channel, e.MessageID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// RegistrationError represents a failed registry operation
type RegistrationError struct {
	Op   string
	Name string
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("channel registry: %s %q failed: %v", e.Op, e.Name, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}
