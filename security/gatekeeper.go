package security

import (
	"log/slog"

	"github.com/glimte/mmate-chansec/channel"
	"github.com/glimte/mmate-chansec/interceptors"
)

// Gatekeeper is a channel.PostProcessor that wraps channels whose name fully
// matches a secured pattern behind the security interceptor. The decision is
// made once, when the channel is registered.
type Gatekeeper struct {
	interceptor *Interceptor
	logger      *slog.Logger
	metrics     *Metrics
}

// GatekeeperOption configures the Gatekeeper
type GatekeeperOption func(*Gatekeeper)

// WithGatekeeperLogger sets the logger
func WithGatekeeperLogger(logger *slog.Logger) GatekeeperOption {
	return func(g *Gatekeeper) {
		g.logger = logger
	}
}

// WithGatekeeperMetrics records inspection outcomes
func WithGatekeeperMetrics(metrics *Metrics) GatekeeperOption {
	return func(g *Gatekeeper) {
		g.metrics = metrics
	}
}

// NewGatekeeper creates a gatekeeper applying interceptor
func NewGatekeeper(interceptor *Interceptor, options ...GatekeeperOption) (*Gatekeeper, error) {
	if interceptor == nil {
		return nil, &ConfigurationError{Reason: "interceptor must not be nil"}
	}

	g := &Gatekeeper{
		interceptor: interceptor,
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(g)
	}

	return g, nil
}

// PostProcessBeforeInit implements channel.PostProcessor; it never changes obj
func (g *Gatekeeper) PostProcessBeforeInit(obj any, name string) (any, error) {
	return obj, nil
}

// PostProcessAfterInit implements channel.PostProcessor
func (g *Gatekeeper) PostProcessAfterInit(obj any, name string) (any, error) {
	ch, ok := obj.(channel.Channel)
	if !ok {
		return obj, nil
	}

	channelName := ch.Name()
	if channelName == "" {
		return nil, &ConfigurationError{
			Name:   name,
			Reason: "channel name must not be empty",
		}
	}

	// Other decorators may have wrapped the secured proxy since
	if interceptors.Guarded(ch, g.interceptor) {
		return obj, nil
	}

	if !g.ShouldSecure(channelName) {
		g.metrics.recordInspection("skipped")
		return obj, nil
	}

	g.logger.Info("securing channel", "channel", channelName, "registeredAs", name)
	g.metrics.recordInspection("secured")
	return interceptors.Wrap(ch, g.interceptor), nil
}

// ShouldSecure reports whether channelName fully matches a secured pattern
func (g *Gatekeeper) ShouldSecure(channelName string) bool {
	for _, pattern := range g.interceptor.DefinitionSource().Patterns() {
		if pattern.MatchString(channelName) {
			return true
		}
	}
	return false
}

var _ channel.PostProcessor = (*Gatekeeper)(nil)
