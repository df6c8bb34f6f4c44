package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/glimte/mmate-chansec/channel"
	"github.com/glimte/mmate-chansec/contracts"
)

const defaultPollTimeout = time.Second

// Poller drains a pollable channel and hands each message to a handler on
// the executor. Handler failures reach the executor's error handler as a
// contracts.MessagingError carrying the message.
type Poller struct {
	source      channel.PollableChannel
	handler     channel.Handler
	executor    *TaskExecutor
	pollTimeout time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// PollerOption configures the Poller
type PollerOption func(*Poller)

// WithPollTimeout sets how long each receive waits for a message
func WithPollTimeout(timeout time.Duration) PollerOption {
	return func(p *Poller) {
		p.pollTimeout = timeout
	}
}

// WithMaxReceiveBackoff caps the delay between failing receives
func WithMaxReceiveBackoff(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.maxBackoff = d
	}
}

// WithPollerLogger sets the logger
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

// NewPoller creates a poller
func NewPoller(source channel.PollableChannel, handler channel.Handler, executor *TaskExecutor, options ...PollerOption) *Poller {
	p := &Poller{
		source:      source,
		handler:     handler,
		executor:    executor,
		pollTimeout: defaultPollTimeout,
		maxBackoff:  5 * time.Second,
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Start begins polling in the background
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPollerRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.pollLoop(ctx, p.done)

	p.logger.Info("poller started", "channel", p.source.Name())
	return nil
}

// Stop stops polling and waits for the loop to exit. Dispatched messages
// keep running on the executor.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	done := p.done
	p.mu.Unlock()

	<-done
	p.logger.Info("poller stopped", "channel", p.source.Name())
}

func (p *Poller) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = p.maxBackoff
	b.MaxElapsedTime = 0

	for {
		msg, err := p.source.ReceiveTimeout(ctx, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, channel.ErrReceiveTimeout) {
				continue
			}

			p.executor.ErrorHandler().Handle(err)

			select {
			case <-time.After(b.NextBackOff()):
				continue
			case <-ctx.Done():
				return
			}
		}
		b.Reset()

		// A message taken off the source is always dispatched, even when
		// Stop raced with the receive.
		if err := p.executor.Execute(context.WithoutCancel(ctx), p.dispatch(msg)); err != nil {
			p.executor.ErrorHandler().Handle(contracts.NewMessagingError(msg, err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Poller) dispatch(msg contracts.Message) Task {
	return func(ctx context.Context) error {
		if err := p.handler.Handle(ctx, msg); err != nil {
			return contracts.NewMessagingError(msg, err)
		}
		return nil
	}
}
