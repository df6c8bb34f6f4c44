package interceptors

import (
	"context"
	"time"

	"github.com/glimte/mmate-chansec/channel"
	"github.com/glimte/mmate-chansec/contracts"
)

// ProxyChannel decorates a channel so every send passes through an
// interceptor chain before reaching the target
type ProxyChannel struct {
	target channel.Channel
	chain  *InterceptorChain
}

// PollableProxyChannel additionally intercepts receives on a pollable target
type PollableProxyChannel struct {
	*ProxyChannel
	pollable channel.PollableChannel
}

// SubscribableProxyChannel additionally exposes a subscribable target's
// Subscribe. Dispatch to subscribers happens inside the target, after the
// send has passed the chain.
type SubscribableProxyChannel struct {
	*ProxyChannel
	subscribable channel.SubscribableChannel
}

// NewProxyChannel wraps target with the given interceptors
func NewProxyChannel(target channel.Channel, interceptors ...Interceptor) *ProxyChannel {
	chain := NewInterceptorChain(nil)
	for _, i := range interceptors {
		chain.Add(i)
	}
	return &ProxyChannel{target: target, chain: chain}
}

// Wrap wraps target, keeping its pollable or subscribable capability. A
// target that is both keeps the pollable one.
func Wrap(target channel.Channel, interceptors ...Interceptor) channel.Channel {
	proxy := NewProxyChannel(target, interceptors...)
	switch t := target.(type) {
	case channel.PollableChannel:
		return &PollableProxyChannel{ProxyChannel: proxy, pollable: t}
	case channel.SubscribableChannel:
		return &SubscribableProxyChannel{ProxyChannel: proxy, subscribable: t}
	default:
		return proxy
	}
}

// AsProxy returns the proxy behind ch if ch was produced by this package
func AsProxy(ch channel.Channel) (*ProxyChannel, bool) {
	switch p := ch.(type) {
	case *ProxyChannel:
		return p, true
	case *PollableProxyChannel:
		return p.ProxyChannel, true
	case *SubscribableProxyChannel:
		return p.ProxyChannel, true
	default:
		return nil, false
	}
}

// Guarded reports whether interceptor guards ch at any level of nested
// proxies
func Guarded(ch channel.Channel, interceptor Interceptor) bool {
	for {
		proxy, ok := AsProxy(ch)
		if !ok {
			return false
		}
		if proxy.Has(interceptor) {
			return true
		}
		ch = proxy.Target()
	}
}

// Name returns the target's name; it is not intercepted
func (p *ProxyChannel) Name() string {
	return p.target.Name()
}

// Target returns the wrapped channel
func (p *ProxyChannel) Target() channel.Channel {
	return p.target
}

// Has reports whether interceptor guards this proxy
func (p *ProxyChannel) Has(interceptor Interceptor) bool {
	return p.chain.Contains(interceptor)
}

// Interceptors returns the proxy's interceptors in order
func (p *ProxyChannel) Interceptors() []Interceptor {
	return p.chain.Interceptors()
}

// Send implements channel.Channel
func (p *ProxyChannel) Send(ctx context.Context, msg contracts.Message) error {
	inv := &Invocation{
		Channel:   p.target.Name(),
		Operation: OperationSend,
		Message:   msg,
		Timeout:   NoTimeout,
	}
	_, err := p.chain.Execute(ctx, inv, InvokerFunc(p.invokeSend))
	return err
}

// SendTimeout implements channel.BoundedSender. A target without bounded
// sends gets a context deadline instead.
func (p *ProxyChannel) SendTimeout(ctx context.Context, msg contracts.Message, timeout time.Duration) error {
	inv := &Invocation{
		Channel:   p.target.Name(),
		Operation: OperationSend,
		Message:   msg,
		Timeout:   timeout,
	}
	_, err := p.chain.Execute(ctx, inv, InvokerFunc(p.invokeSend))
	return err
}

func (p *ProxyChannel) invokeSend(ctx context.Context, inv *Invocation) (contracts.Message, error) {
	if inv.Timeout < 0 {
		return nil, p.target.Send(ctx, inv.Message)
	}
	if bounded, ok := p.target.(channel.BoundedSender); ok {
		return nil, bounded.SendTimeout(ctx, inv.Message, inv.Timeout)
	}

	ctx, cancel := context.WithTimeout(ctx, inv.Timeout)
	defer cancel()
	return nil, p.target.Send(ctx, inv.Message)
}

// Receive implements channel.PollableChannel
func (p *PollableProxyChannel) Receive(ctx context.Context) (contracts.Message, error) {
	inv := &Invocation{
		Channel:   p.target.Name(),
		Operation: OperationReceive,
		Timeout:   NoTimeout,
	}
	return p.chain.Execute(ctx, inv, InvokerFunc(p.invokeReceive))
}

// ReceiveTimeout implements channel.PollableChannel
func (p *PollableProxyChannel) ReceiveTimeout(ctx context.Context, timeout time.Duration) (contracts.Message, error) {
	inv := &Invocation{
		Channel:   p.target.Name(),
		Operation: OperationReceive,
		Timeout:   timeout,
	}
	return p.chain.Execute(ctx, inv, InvokerFunc(p.invokeReceive))
}

func (p *PollableProxyChannel) invokeReceive(ctx context.Context, inv *Invocation) (contracts.Message, error) {
	if inv.Timeout < 0 {
		return p.pollable.Receive(ctx)
	}
	return p.pollable.ReceiveTimeout(ctx, inv.Timeout)
}

// Subscribe implements channel.SubscribableChannel
func (p *SubscribableProxyChannel) Subscribe(handler channel.Handler) {
	p.subscribable.Subscribe(handler)
}

var (
	_ channel.Channel             = (*ProxyChannel)(nil)
	_ channel.BoundedSender       = (*ProxyChannel)(nil)
	_ channel.PollableChannel     = (*PollableProxyChannel)(nil)
	_ channel.SubscribableChannel = (*SubscribableProxyChannel)(nil)
)
