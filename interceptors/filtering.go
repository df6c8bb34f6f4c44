package interceptors

import (
	"context"
	"regexp"

	"github.com/glimte/mmate-chansec/contracts"
)

// InvocationFilter decides whether an interceptor applies to an invocation
type InvocationFilter interface {
	Matches(inv *Invocation) bool
}

// InvocationFilterFunc is a function adapter for InvocationFilter
type InvocationFilterFunc func(inv *Invocation) bool

// Matches implements InvocationFilter
func (f InvocationFilterFunc) Matches(inv *Invocation) bool {
	return f(inv)
}

// OperationFilter matches invocations of the listed operations
type OperationFilter struct {
	operations map[Operation]struct{}
}

// NewOperationFilter creates a filter for the given operations
func NewOperationFilter(operations ...Operation) *OperationFilter {
	set := make(map[Operation]struct{}, len(operations))
	for _, op := range operations {
		set[op] = struct{}{}
	}
	return &OperationFilter{operations: set}
}

// Matches implements InvocationFilter
func (f *OperationFilter) Matches(inv *Invocation) bool {
	_, ok := f.operations[inv.Operation]
	return ok
}

// ChannelNameFilter matches channels whose whole name matches a pattern
type ChannelNameFilter struct {
	pattern *regexp.Regexp
}

// NewChannelNameFilter compiles expr as a full-name match
func NewChannelNameFilter(expr string) (*ChannelNameFilter, error) {
	pattern, err := regexp.Compile(`^(?:` + expr + `)$`)
	if err != nil {
		return nil, err
	}
	return &ChannelNameFilter{pattern: pattern}, nil
}

// Matches implements InvocationFilter
func (f *ChannelNameFilter) Matches(inv *Invocation) bool {
	return f.pattern.MatchString(inv.Channel)
}

// ConditionalInterceptor only applies an interceptor when a filter matches
type ConditionalInterceptor struct {
	condition   InvocationFilter
	interceptor Interceptor
}

// NewConditionalInterceptor creates a new conditional interceptor
func NewConditionalInterceptor(condition InvocationFilter, interceptor Interceptor) *ConditionalInterceptor {
	return &ConditionalInterceptor{
		condition:   condition,
		interceptor: interceptor,
	}
}

// Intercept implements Interceptor
func (i *ConditionalInterceptor) Intercept(ctx context.Context, inv *Invocation, next Invoker) (contracts.Message, error) {
	if i.condition.Matches(inv) {
		return i.interceptor.Intercept(ctx, inv, next)
	}
	return next.Invoke(ctx, inv)
}

// Name implements Interceptor
func (i *ConditionalInterceptor) Name() string {
	return "Conditional(" + i.interceptor.Name() + ")"
}
