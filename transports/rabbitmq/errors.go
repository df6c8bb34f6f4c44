package rabbitmq

import (
	"errors"
	"fmt"
)

var (
	ErrChannelClosed = errors.New("rabbitmq: channel is closed")
	ErrNacked        = errors.New("rabbitmq: publish was nacked")
	ErrReturned      = errors.New("rabbitmq: message was returned as unroutable")
	ErrInvalidURL    = errors.New("rabbitmq: invalid connection url")
)

// PublishError represents a failed publish
type PublishError struct {
	Exchange   string
	RoutingKey string
	MessageID  string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: exchange=%q routingKey=%q message=%s: %v",
		e.Exchange, e.RoutingKey, e.MessageID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ConnectionError represents a failed dial
type ConnectionError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rabbitmq connection error: dial %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
