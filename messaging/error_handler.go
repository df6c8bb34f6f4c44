package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/glimte/mmate-chansec/channel"
	"github.com/glimte/mmate-chansec/contracts"
)

// DefaultSendTimeout bounds the publication of an error message
const DefaultSendTimeout = time.Second

// ErrorHandler receives failures that nothing else handled. Implementations
// must not panic.
type ErrorHandler interface {
	Handle(err error)
}

type channelRef struct {
	ch channel.Channel
}

// PublishingErrorHandler logs every failure and publishes it as a
// contracts.ErrorMessage on the error channel, when one is set. Publication
// is best effort: one attempt, bounded by the send timeout, and its failures
// are swallowed.
type PublishingErrorHandler struct {
	errorChannel atomic.Pointer[channelRef]
	sendTimeout  time.Duration
	logger       *slog.Logger
	metrics      *Metrics
}

// ErrorHandlerOption configures the PublishingErrorHandler
type ErrorHandlerOption func(*PublishingErrorHandler)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ErrorHandlerOption {
	return func(h *PublishingErrorHandler) {
		h.logger = logger
	}
}

// WithErrorChannel sets the channel error messages are published on
func WithErrorChannel(ch channel.Channel) ErrorHandlerOption {
	return func(h *PublishingErrorHandler) {
		h.SetErrorChannel(ch)
	}
}

// WithSendTimeout bounds the send on channels supporting bounded sends. A
// negative timeout sends without a bound.
func WithSendTimeout(timeout time.Duration) ErrorHandlerOption {
	return func(h *PublishingErrorHandler) {
		h.sendTimeout = timeout
	}
}

// WithMetrics records failures and publication outcomes
func WithMetrics(metrics *Metrics) ErrorHandlerOption {
	return func(h *PublishingErrorHandler) {
		h.metrics = metrics
	}
}

// NewPublishingErrorHandler creates an error handler
func NewPublishingErrorHandler(options ...ErrorHandlerOption) *PublishingErrorHandler {
	h := &PublishingErrorHandler{
		sendTimeout: DefaultSendTimeout,
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(h)
	}

	return h
}

// SetErrorChannel replaces the error channel; nil disables publishing. Safe
// to call while Handle runs.
func (h *PublishingErrorHandler) SetErrorChannel(ch channel.Channel) {
	if ch == nil {
		h.errorChannel.Store(nil)
		return
	}
	h.errorChannel.Store(&channelRef{ch: ch})
}

// ErrorChannel returns the current error channel, or nil
func (h *PublishingErrorHandler) ErrorChannel() channel.Channel {
	ref := h.errorChannel.Load()
	if ref == nil {
		return nil
	}
	return ref.ch
}

// Handle implements ErrorHandler. It never panics.
func (h *PublishingErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	defer func() {
		_ = recover()
	}()

	h.metrics.recordFailure()
	h.logFailure(err)

	ref := h.errorChannel.Load()
	if ref == nil {
		h.metrics.recordPublish("skipped")
		return
	}

	msg := contracts.NewErrorMessage(err)
	if sendErr := h.publish(ref.ch, msg); sendErr != nil {
		h.metrics.recordPublish("dropped")
		h.logger.Debug("dropped error message",
			"channel", ref.ch.Name(),
			"messageId", msg.GetID(),
			"error", sendErr,
		)
		return
	}
	h.metrics.recordPublish("sent")
}

func (h *PublishingErrorHandler) logFailure(err error) {
	failed, ok := contracts.FailedMessageOf(err)
	if !ok {
		h.logger.Warn("unhandled failure", "error", err)
		return
	}

	h.logger.Warn("failure while handling message",
		"error", err,
		slog.Group("failedMessage",
			"id", failed.GetID(),
			"type", failed.GetType(),
		),
	)
}

func (h *PublishingErrorHandler) publish(ch channel.Channel, msg contracts.Message) error {
	if h.sendTimeout < 0 {
		return safeSend(func() error {
			return channel.SendWithin(context.Background(), ch, msg, h.sendTimeout)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
	defer cancel()

	// The channel might ignore its own timeout; the attempt is abandoned
	// when ctx expires.
	done := make(chan error, 1)
	go func() {
		done <- safeSend(func() error {
			return channel.SendWithin(ctx, ch, msg, h.sendTimeout)
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &channel.SendError{Channel: ch.Name(), MessageID: msg.GetID(), Err: channel.ErrSendTimeout}
	}
}

func safeSend(send func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	if err := send(); err != nil {
		return fmt.Errorf("publish error message: %w", err)
	}
	return nil
}

var _ ErrorHandler = (*PublishingErrorHandler)(nil)
