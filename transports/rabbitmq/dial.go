package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DialFunc opens a connection to url
type DialFunc func(url string) (*amqp.Connection, error)

type dialConfig struct {
	dial            DialFunc
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	logger          *slog.Logger
}

// DialOption configures Dial
type DialOption func(*dialConfig)

// WithDialFunc replaces amqp.Dial
func WithDialFunc(dial DialFunc) DialOption {
	return func(c *dialConfig) {
		c.dial = dial
	}
}

// WithRetryIntervals sets the first and the largest delay between attempts
func WithRetryIntervals(initial, max time.Duration) DialOption {
	return func(c *dialConfig) {
		c.initialInterval = initial
		c.maxInterval = max
	}
}

// WithMaxElapsedTime bounds the total time spent retrying; zero retries
// until ctx is done
func WithMaxElapsedTime(d time.Duration) DialOption {
	return func(c *dialConfig) {
		c.maxElapsedTime = d
	}
}

// WithDialLogger sets the logger
func WithDialLogger(logger *slog.Logger) DialOption {
	return func(c *dialConfig) {
		c.logger = logger
	}
}

// Dial connects to the broker at url, retrying with exponential backoff
func Dial(ctx context.Context, url string, options ...DialOption) (*amqp.Connection, error) {
	cfg := &dialConfig{
		dial:            amqp.Dial,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
		maxElapsedTime:  2 * time.Minute,
		logger:          slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	uri, err := amqp.ParseURI(url)
	if err != nil {
		return nil, &ConnectionError{URL: "<invalid>", Err: ErrInvalidURL}
	}
	uri.Password = ""
	safeURL := uri.String()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.initialInterval
	b.MaxInterval = cfg.maxInterval
	b.MaxElapsedTime = cfg.maxElapsedTime

	attempts := 0
	var conn *amqp.Connection
	operation := func() error {
		attempts++
		c, err := cfg.dial(url)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		cfg.logger.Warn("rabbitmq dial failed, retrying",
			"url", safeURL,
			"attempt", attempts,
			"retryIn", next,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, &ConnectionError{URL: safeURL, Attempts: attempts, Err: err}
	}

	cfg.logger.Info("connected to rabbitmq", "url", safeURL, "attempts", attempts)
	return conn, nil
}
