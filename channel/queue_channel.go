package channel

import (
	"context"
	"time"

	"github.com/glimte/mmate-chansec/contracts"
)

const defaultQueueCapacity = 256

// QueueChannel buffers messages in memory until a consumer receives them
type QueueChannel struct {
	name  string
	queue chan contracts.Message
}

// QueueChannelOption configures a QueueChannel
type QueueChannelOption func(*queueChannelConfig)

type queueChannelConfig struct {
	capacity int
}

// WithCapacity sets the buffer size. Zero gives a rendezvous channel where
// every send waits for a receiver.
func WithCapacity(capacity int) QueueChannelOption {
	return func(cfg *queueChannelConfig) {
		if capacity >= 0 {
			cfg.capacity = capacity
		}
	}
}

// NewQueueChannel creates a buffered channel
func NewQueueChannel(name string, options ...QueueChannelOption) *QueueChannel {
	cfg := &queueChannelConfig{capacity: defaultQueueCapacity}
	for _, opt := range options {
		opt(cfg)
	}

	return &QueueChannel{
		name:  name,
		queue: make(chan contracts.Message, cfg.capacity),
	}
}

// Name implements Channel
func (c *QueueChannel) Name() string {
	return c.name
}

// Send blocks until the message is buffered or ctx is done
func (c *QueueChannel) Send(ctx context.Context, msg contracts.Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	select {
	case c.queue <- msg:
		return nil
	case <-ctx.Done():
		return c.sendError(msg, ctx.Err())
	}
}

// SendTimeout waits at most timeout for buffer space
func (c *QueueChannel) SendTimeout(ctx context.Context, msg contracts.Message, timeout time.Duration) error {
	if timeout < 0 {
		return c.Send(ctx, msg)
	}
	if msg == nil {
		return ErrNilMessage
	}

	if timeout == 0 {
		select {
		case c.queue <- msg:
			return nil
		default:
			return c.sendError(msg, ErrSendTimeout)
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.queue <- msg:
		return nil
	case <-timer.C:
		return c.sendError(msg, ErrSendTimeout)
	case <-ctx.Done():
		return c.sendError(msg, ctx.Err())
	}
}

// Receive blocks until a message is available or ctx is done
func (c *QueueChannel) Receive(ctx context.Context) (contracts.Message, error) {
	select {
	case msg := <-c.queue:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReceiveTimeout waits at most timeout for a message
func (c *QueueChannel) ReceiveTimeout(ctx context.Context, timeout time.Duration) (contracts.Message, error) {
	if timeout < 0 {
		return c.Receive(ctx)
	}

	if timeout == 0 {
		select {
		case msg := <-c.queue:
			return msg, nil
		default:
			return nil, ErrReceiveTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-c.queue:
		return msg, nil
	case <-timer.C:
		return nil, ErrReceiveTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of buffered messages
func (c *QueueChannel) Len() int {
	return len(c.queue)
}

// Capacity returns the buffer size
func (c *QueueChannel) Capacity() int {
	return cap(c.queue)
}

func (c *QueueChannel) sendError(msg contracts.Message, err error) error {
	return &SendError{Channel: c.name, MessageID: msg.GetID(), Err: err}
}

var (
	_ PollableChannel = (*QueueChannel)(nil)
	_ BoundedSender   = (*QueueChannel)(nil)
)
