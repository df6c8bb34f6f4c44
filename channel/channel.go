package channel

import (
	"context"
	"time"

	"github.com/glimte/mmate-chansec/contracts"
)

// Channel is a named endpoint messages can be sent to
type Channel interface {
	// Name returns the channel's unique name
	Name() string

	// Send delivers msg, blocking as long as ctx allows
	Send(ctx context.Context, msg contracts.Message) error
}

// BoundedSender is implemented by channels that can give up on a send after
// a fixed timeout. A negative timeout means wait indefinitely.
type BoundedSender interface {
	SendTimeout(ctx context.Context, msg contracts.Message, timeout time.Duration) error
}

// PollableChannel is a channel that buffers messages for consumers to pull
type PollableChannel interface {
	Channel

	// Receive blocks until a message is available or ctx is done
	Receive(ctx context.Context) (contracts.Message, error)

	// ReceiveTimeout waits at most timeout for a message
	ReceiveTimeout(ctx context.Context, timeout time.Duration) (contracts.Message, error)
}

// SubscribableChannel is a channel that pushes messages to its subscribers
type SubscribableChannel interface {
	Channel

	// Subscribe adds a handler for every message sent from now on
	Subscribe(handler Handler)
}

// Handler consumes messages dispatched by a subscribable channel
type Handler interface {
	Handle(ctx context.Context, msg contracts.Message) error
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, msg contracts.Message) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, msg contracts.Message) error {
	return f(ctx, msg)
}

// SendWithin sends msg on ch using a bounded send when the channel supports
// it and a plain send otherwise
func SendWithin(ctx context.Context, ch Channel, msg contracts.Message, timeout time.Duration) error {
	if bounded, ok := ch.(BoundedSender); ok && timeout >= 0 {
		return bounded.SendTimeout(ctx, msg, timeout)
	}
	return ch.Send(ctx, msg)
}
