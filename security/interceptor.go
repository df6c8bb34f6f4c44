package security

import (
	"context"
	"errors"
	"log/slog"

	"github.com/glimte/mmate-chansec/contracts"
	"github.com/glimte/mmate-chansec/interceptors"
)

// Interceptor gates channel operations. Operations whose channel has
// attributes for them require a principal in the context and a positive
// decision; denials are returned to the caller unchanged.
type Interceptor struct {
	source       InvocationDefinitionSource
	decider      AccessDecisionManager
	rejectPublic bool
	logger       *slog.Logger
	metrics      *Metrics
}

// InterceptorOption configures the Interceptor
type InterceptorOption func(*Interceptor)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) InterceptorOption {
	return func(i *Interceptor) {
		i.logger = logger
	}
}

// WithRejectPublicInvocations denies operations that have no attributes
// instead of letting them through
func WithRejectPublicInvocations(reject bool) InterceptorOption {
	return func(i *Interceptor) {
		i.rejectPublic = reject
	}
}

// WithMetrics records access decisions
func WithMetrics(metrics *Metrics) InterceptorOption {
	return func(i *Interceptor) {
		i.metrics = metrics
	}
}

// NewInterceptor creates a security interceptor
func NewInterceptor(source InvocationDefinitionSource, decider AccessDecisionManager, options ...InterceptorOption) (*Interceptor, error) {
	if source == nil {
		return nil, &ConfigurationError{Reason: "definition source must not be nil"}
	}
	if decider == nil {
		return nil, &ConfigurationError{Reason: "access decision manager must not be nil"}
	}

	i := &Interceptor{
		source:  source,
		decider: decider,
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(i)
	}

	return i, nil
}

// DefinitionSource returns the source of secured patterns and attributes
func (i *Interceptor) DefinitionSource() InvocationDefinitionSource {
	return i.source
}

// Intercept implements interceptors.Interceptor
func (i *Interceptor) Intercept(ctx context.Context, inv *interceptors.Invocation, next interceptors.Invoker) (contracts.Message, error) {
	op := string(inv.Operation)

	attributes := i.source.Attributes(inv.Channel, inv.Operation)
	if len(attributes) == 0 {
		if i.rejectPublic {
			i.metrics.recordDecision(op, "denied")
			return nil, i.deny(inv, "", &AccessDeniedError{
				Channel:   inv.Channel,
				Operation: inv.Operation,
				Reason:    "public invocations are rejected",
			})
		}
		i.metrics.recordDecision(op, "public")
		return next.Invoke(ctx, inv)
	}

	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		i.metrics.recordDecision(op, "denied")
		return nil, i.deny(inv, "", &AccessDeniedError{
			Channel:   inv.Channel,
			Operation: inv.Operation,
			Reason:    "authentication required",
			Err:       ErrAuthenticationRequired,
		})
	}

	if err := i.decider.Decide(ctx, principal, inv, attributes); err != nil {
		i.metrics.recordDecision(op, "denied")

		var denied *AccessDeniedError
		if !errors.As(err, &denied) {
			err = &AccessDeniedError{
				Channel:   inv.Channel,
				Operation: inv.Operation,
				Principal: principal.Name,
				Reason:    err.Error(),
				Err:       err,
			}
		}
		return nil, i.deny(inv, principal.Name, err)
	}

	i.metrics.recordDecision(op, "granted")
	return next.Invoke(ctx, inv)
}

// Name implements interceptors.Interceptor
func (i *Interceptor) Name() string {
	return "ChannelSecurityInterceptor"
}

func (i *Interceptor) deny(inv *interceptors.Invocation, principal string, err error) error {
	i.logger.Warn("channel access denied",
		"channel", inv.Channel,
		"operation", inv.Operation,
		"principal", principal,
		"error", err,
	)
	return err
}

var _ interceptors.Interceptor = (*Interceptor)(nil)
