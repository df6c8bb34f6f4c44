package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/mmate-chansec/contracts"
)

// Operation names a channel operation that can be intercepted
type Operation string

const (
	OperationSend    Operation = "send"
	OperationReceive Operation = "receive"
)

// NoTimeout marks an invocation that may block indefinitely
const NoTimeout time.Duration = -1

// Invocation describes a single intercepted channel operation
type Invocation struct {
	Channel   string
	Operation Operation
	// Message is the outgoing message for sends and nil for receives
	Message contracts.Message
	Timeout time.Duration
}

// Invoker performs an invocation
type Invoker interface {
	Invoke(ctx context.Context, inv *Invocation) (contracts.Message, error)
}

// InvokerFunc is a function adapter for Invoker
type InvokerFunc func(ctx context.Context, inv *Invocation) (contracts.Message, error)

// Invoke implements Invoker
func (f InvokerFunc) Invoke(ctx context.Context, inv *Invocation) (contracts.Message, error) {
	return f(ctx, inv)
}

// Interceptor wraps channel operations. Sends return a nil message;
// receives return the received message.
type Interceptor interface {
	// Intercept processes an invocation and calls the next invoker in the chain
	Intercept(ctx context.Context, inv *Invocation, next Invoker) (contracts.Message, error)

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, inv *Invocation, next Invoker) (contracts.Message, error)
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, inv *Invocation, next Invoker) (contracts.Message, error)) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, inv *Invocation, next Invoker) (contracts.Message, error) {
	return i.fn(ctx, inv, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain manages an ordered chain of interceptors. It is built once
// and read concurrently afterwards.
type InterceptorChain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(logger *slog.Logger) *InterceptorChain {
	if logger == nil {
		logger = slog.Default()
	}

	return &InterceptorChain{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Len returns the number of interceptors
func (c *InterceptorChain) Len() int {
	return len(c.interceptors)
}

// Contains reports whether interceptor is part of the chain
func (c *InterceptorChain) Contains(interceptor Interceptor) bool {
	for _, i := range c.interceptors {
		if i == interceptor {
			return true
		}
	}
	return false
}

// Interceptors returns a copy of the chain's interceptors
func (c *InterceptorChain) Interceptors() []Interceptor {
	out := make([]Interceptor, len(c.interceptors))
	copy(out, c.interceptors)
	return out
}

// Execute runs the chain, ending with final
func (c *InterceptorChain) Execute(ctx context.Context, inv *Invocation, final Invoker) (contracts.Message, error) {
	if len(c.interceptors) == 0 {
		return final.Invoke(ctx, inv)
	}

	// Build the chain in reverse order
	invoker := final
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		current := invoker
		invoker = InvokerFunc(func(ctx context.Context, inv *Invocation) (contracts.Message, error) {
			return interceptor.Intercept(ctx, inv, current)
		})
	}

	return invoker.Invoke(ctx, inv)
}

// LoggingInterceptor logs channel operations
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, inv *Invocation, next Invoker) (contracts.Message, error) {
	start := time.Now()

	msg, err := next.Invoke(ctx, inv)
	duration := time.Since(start)

	attrs := []any{
		"channel", inv.Channel,
		"operation", inv.Operation,
		"duration", duration,
	}
	if m := invocationMessage(inv, msg); m != nil {
		attrs = append(attrs, "messageId", m.GetID(), "messageType", m.GetType())
	}

	if err != nil {
		i.logger.Error("channel operation failed", append(attrs, "error", err)...)
	} else {
		i.logger.Debug("channel operation completed", attrs...)
	}

	return msg, err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// invocationMessage returns the message an invocation concerns: the outgoing
// one for sends, the received one for receives
func invocationMessage(inv *Invocation, received contracts.Message) contracts.Message {
	if inv.Message != nil {
		return inv.Message
	}
	return received
}
