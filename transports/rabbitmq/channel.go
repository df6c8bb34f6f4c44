package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-chansec/channel"
	"github.com/glimte/mmate-chansec/contracts"
)

// AMQPChannel is the part of *amqp.Channel used for confirmed publishing
type AMQPChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// notifyBuffer sizes the confirm and return notification channels. A
// background reader drains them, so the buffer only absorbs bursts.
const notifyBuffer = 64

// Channel is a message channel backed by a RabbitMQ exchange. Messages are
// published as JSON envelopes in confirm mode; a send succeeds once the broker
// acknowledges the message.
type Channel struct {
	name       string
	exchange   string
	routingKey string
	mandatory  bool
	logger     *slog.Logger

	// mu serializes publishes so delivery tags follow publish order
	mu      sync.Mutex
	amqpCh  AMQPChannel
	nextTag uint64

	pendingMu sync.Mutex
	pending   map[uint64]*pendingConfirm
	returned  map[string]amqp.Return
	closed    bool
}

// pendingConfirm is a publish waiting for its broker confirm. The result
// channel is buffered so an abandoned publish never blocks the reader.
type pendingConfirm struct {
	messageID string
	result    chan error
}

// ChannelOption configures the Channel
type ChannelOption func(*Channel)

// WithExchange sets the exchange; the default exchange routes by queue name
func WithExchange(exchange string) ChannelOption {
	return func(c *Channel) {
		c.exchange = exchange
	}
}

// WithRoutingKey sets the routing key; it defaults to the channel name
func WithRoutingKey(key string) ChannelOption {
	return func(c *Channel) {
		c.routingKey = key
	}
}

// WithMandatory makes unroutable messages fail with ErrReturned
func WithMandatory(mandatory bool) ChannelOption {
	return func(c *Channel) {
		c.mandatory = mandatory
	}
}

// WithChannelLogger sets the logger
func WithChannelLogger(logger *slog.Logger) ChannelOption {
	return func(c *Channel) {
		c.logger = logger
	}
}

// NewChannel puts ch into confirm mode and wraps it as a message channel
func NewChannel(name string, ch AMQPChannel, options ...ChannelOption) (*Channel, error) {
	c := &Channel{
		name:       name,
		routingKey: name,
		mandatory:  true,
		logger:     slog.Default(),
		amqpCh:     ch,
		pending:    make(map[uint64]*pendingConfirm),
		returned:   make(map[string]amqp.Return),
	}

	for _, opt := range options {
		opt(c)
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, notifyBuffer))
	returns := ch.NotifyReturn(make(chan amqp.Return, notifyBuffer))

	go c.readNotifications(confirms, returns)

	return c, nil
}

// OpenChannel opens an AMQP channel on conn and wraps it
func OpenChannel(conn *amqp.Connection, name string, options ...ChannelOption) (*Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c, err := NewChannel(name, ch, options...)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return c, nil
}

// Name implements channel.Channel
func (c *Channel) Name() string {
	return c.name
}

// Send publishes msg and waits for the broker confirm until ctx is done
func (c *Channel) Send(ctx context.Context, msg contracts.Message) error {
	return c.publish(ctx, msg)
}

// SendTimeout publishes msg and waits at most timeout for the broker confirm.
// A negative timeout behaves like Send.
func (c *Channel) SendTimeout(ctx context.Context, msg contracts.Message, timeout time.Duration) error {
	if timeout < 0 {
		return c.publish(ctx, msg)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := c.publish(timeoutCtx, msg)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return c.publishError(msg, channel.ErrSendTimeout)
	}
	return err
}

// Close closes the underlying AMQP channel
func (c *Channel) Close() error {
	return c.amqpCh.Close()
}

func (c *Channel) publish(ctx context.Context, msg contracts.Message) error {
	if msg == nil {
		return channel.ErrNilMessage
	}

	envelope, err := contracts.NewEnvelope(msg)
	if err != nil {
		return c.publishError(msg, err)
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return c.publishError(msg, fmt.Errorf("failed to marshal envelope: %w", err))
	}

	pending := &pendingConfirm{messageID: msg.GetID(), result: make(chan error, 1)}

	c.mu.Lock()
	tag := c.nextTag + 1
	if !c.track(tag, pending) {
		c.mu.Unlock()
		return c.publishError(msg, ErrChannelClosed)
	}

	err = c.amqpCh.PublishWithContext(ctx, c.exchange, c.routingKey, c.mandatory, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.GetID(),
		CorrelationId: msg.GetCorrelationID(),
		Type:          msg.GetType(),
		Timestamp:     msg.GetTimestamp(),
		Body:          body,
	})
	if err != nil {
		// the client library only advances its tag on a successful publish
		c.untrack(tag)
		c.mu.Unlock()
		return c.publishError(msg, fmt.Errorf("failed to publish: %w", err))
	}
	c.nextTag = tag
	c.mu.Unlock()

	select {
	case err := <-pending.result:
		if err != nil {
			return c.publishError(msg, err)
		}
		return nil
	case <-ctx.Done():
		// the entry stays until its confirm arrives and is then discarded
		return c.publishError(msg, ctx.Err())
	}
}

func (c *Channel) track(tag uint64, p *pendingConfirm) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.closed {
		return false
	}
	c.pending[tag] = p
	return true
}

func (c *Channel) untrack(tag uint64) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pending, tag)
}

// readNotifications hands confirms and returns to waiting publishes until
// the confirm channel is closed
func (c *Channel) readNotifications(confirms <-chan amqp.Confirmation, returns <-chan amqp.Return) {
	for {
		select {
		case ret, ok := <-returns:
			if !ok {
				returns = nil
				continue
			}
			c.recordReturn(ret)

		case confirm, ok := <-confirms:
			if !ok {
				c.failPending(ErrChannelClosed)
				return
			}
			// A return always precedes the confirm of its message
		drain:
			for returns != nil {
				select {
				case ret, ok := <-returns:
					if !ok {
						returns = nil
						break drain
					}
					c.recordReturn(ret)
				default:
					break drain
				}
			}
			c.resolve(confirm)
		}
	}
}

func (c *Channel) recordReturn(ret amqp.Return) {
	c.logger.Warn("message returned by broker",
		"channel", c.name,
		"messageId", ret.MessageId,
		"replyCode", ret.ReplyCode,
		"replyText", ret.ReplyText,
	)

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.returned[ret.MessageId] = ret
}

func (c *Channel) resolve(confirm amqp.Confirmation) {
	c.pendingMu.Lock()
	p, ok := c.pending[confirm.DeliveryTag]
	if !ok {
		c.pendingMu.Unlock()
		return
	}
	delete(c.pending, confirm.DeliveryTag)
	_, returned := c.returned[p.messageID]
	delete(c.returned, p.messageID)
	c.pendingMu.Unlock()

	switch {
	case returned:
		p.result <- ErrReturned
	case !confirm.Ack:
		p.result <- ErrNacked
	default:
		p.result <- nil
	}
}

func (c *Channel) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	c.closed = true
	for tag, p := range c.pending {
		p.result <- err
		delete(c.pending, tag)
	}
	clear(c.returned)
}

// Pending returns the number of publishes still waiting for a confirm,
// abandoned ones included
func (c *Channel) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

func (c *Channel) publishError(msg contracts.Message, err error) error {
	pubErr := &PublishError{Exchange: c.exchange, RoutingKey: c.routingKey, Err: err}
	if msg != nil {
		pubErr.MessageID = msg.GetID()
	}
	return pubErr
}

var (
	_ channel.Channel       = (*Channel)(nil)
	_ channel.BoundedSender = (*Channel)(nil)
	_ AMQPChannel           = (*amqp.Channel)(nil)
)
