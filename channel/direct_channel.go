package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/glimte/mmate-chansec/contracts"
)

// DirectChannel hands each message to one subscriber on the sender's
// goroutine, rotating between subscribers. It has no bounded send: a send
// lasts as long as the handler does.
type DirectChannel struct {
	name        string
	mu          sync.Mutex
	subscribers atomic.Pointer[[]Handler]
	next        atomic.Uint64
}

// NewDirectChannel creates a direct channel
func NewDirectChannel(name string) *DirectChannel {
	c := &DirectChannel{name: name}
	empty := make([]Handler, 0)
	c.subscribers.Store(&empty)
	return c
}

// Name implements Channel
func (c *DirectChannel) Name() string {
	return c.name
}

// Subscribe adds a handler
func (c *DirectChannel) Subscribe(handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := *c.subscribers.Load()
	updated := make([]Handler, 0, len(current)+1)
	updated = append(updated, current...)
	updated = append(updated, handler)
	c.subscribers.Store(&updated)
}

// UnsubscribeAll removes every handler
func (c *DirectChannel) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	empty := make([]Handler, 0)
	c.subscribers.Store(&empty)
}

// SubscriberCount returns the number of handlers
func (c *DirectChannel) SubscriberCount() int {
	return len(*c.subscribers.Load())
}

// Send dispatches msg to the next subscriber
func (c *DirectChannel) Send(ctx context.Context, msg contracts.Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	subscribers := *c.subscribers.Load()
	if len(subscribers) == 0 {
		return &SendError{Channel: c.name, MessageID: msg.GetID(), Err: ErrNoSubscriber}
	}

	idx := c.next.Add(1) - 1
	handler := subscribers[idx%uint64(len(subscribers))]

	if err := handler.Handle(ctx, msg); err != nil {
		return &contracts.MessagingError{
			Description: fmt.Sprintf("dispatch on channel %s failed for message", c.name),
			Msg:         msg,
			Err:         err,
		}
	}
	return nil
}

var _ SubscribableChannel = (*DirectChannel)(nil)
