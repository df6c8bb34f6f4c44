// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-chansec/channel"
	"github.com/glimte/mmate-chansec/interceptors"
	"github.com/glimte/mmate-chansec/messaging"
	"github.com/glimte/mmate-chansec/security"
)

// Client wires a channel registry with the security gatekeeper, the
// publishing error handler and the task executor
type Client struct {
	registry     *channel.Registry
	interceptor  *security.Interceptor
	gatekeeper   *security.Gatekeeper
	source       *security.DefinitionSource
	watcher      *security.PolicyWatcher
	errorHandler *messaging.PublishingErrorHandler
	executor     *messaging.TaskExecutor
	logger       *slog.Logger

	errorChannelName string
	securityMetrics  *security.Metrics
	messagingMetrics *messaging.Metrics
	channelMetrics   *interceptors.ChannelMetrics

	mu      sync.Mutex
	pollers []*messaging.Poller
}

// NewClient creates a client. The policy file, when configured, must load;
// the decision manager defaults to role based decisions.
func NewClient(ctx context.Context, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:      slog.Default(),
		sendTimeout: messaging.DefaultSendTimeout,
		poolSize:    16,
	}

	for _, opt := range options {
		opt(cfg)
	}

	c := &Client{
		logger:           cfg.logger,
		errorChannelName: cfg.errorChannelName,
		securityMetrics:  security.NewMetrics(),
		messagingMetrics: messaging.NewMetrics(),
	}

	source, err := security.NewDefinitionSource(cfg.rules...)
	if err != nil {
		return nil, err
	}
	c.source = source

	if cfg.policyFile != "" {
		watcher, err := security.NewPolicyWatcher(cfg.policyFile, source,
			security.WithWatcherLogger(cfg.logger),
			security.WithWatcherMetrics(c.securityMetrics),
		)
		if err != nil {
			return nil, err
		}
		if err := watcher.Load(); err != nil {
			_ = watcher.Stop()
			return nil, fmt.Errorf("failed to load policy file: %w", err)
		}
		if cfg.watchPolicy {
			if err := watcher.Start(ctx); err != nil {
				_ = watcher.Stop()
				return nil, fmt.Errorf("failed to watch policy file: %w", err)
			}
		}
		c.watcher = watcher
	}

	decider := cfg.decider
	if decider == nil {
		decider = security.NewRoleDecisionManager()
	}

	c.interceptor, err = security.NewInterceptor(source, decider,
		security.WithLogger(cfg.logger),
		security.WithRejectPublicInvocations(cfg.rejectPublic),
		security.WithMetrics(c.securityMetrics),
	)
	if err != nil {
		c.stopWatcher()
		return nil, err
	}

	c.gatekeeper, err = security.NewGatekeeper(c.interceptor,
		security.WithGatekeeperLogger(cfg.logger),
		security.WithGatekeeperMetrics(c.securityMetrics),
	)
	if err != nil {
		c.stopWatcher()
		return nil, err
	}

	processors := []channel.PostProcessor{c.gatekeeper}
	if cfg.observability {
		c.channelMetrics = interceptors.NewChannelMetrics()
		processors = append(processors, &observabilityProcessor{
			interceptors: []interceptors.Interceptor{
				interceptors.NewTracingInterceptor(cfg.tracer),
				interceptors.NewMetricsInterceptor(c.channelMetrics),
			},
		})
	}

	c.registry = channel.NewRegistry(
		channel.WithRegistryLogger(cfg.logger),
		channel.WithPostProcessors(processors...),
	)

	c.errorHandler = messaging.NewPublishingErrorHandler(
		messaging.WithLogger(cfg.logger),
		messaging.WithSendTimeout(cfg.sendTimeout),
		messaging.WithMetrics(c.messagingMetrics),
	)

	c.executor, err = messaging.NewTaskExecutor(
		messaging.WithPoolSize(cfg.poolSize),
		messaging.WithExecutorErrorHandler(c.errorHandler),
		messaging.WithExecutorLogger(cfg.logger),
		messaging.WithExecutorMetrics(c.messagingMetrics),
	)
	if err != nil {
		c.stopWatcher()
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	return c, nil
}

// RegisterChannel registers ch, returning the channel to use from now on. A
// channel registered under the configured error channel name becomes the
// error handler's destination.
func (c *Client) RegisterChannel(ctx context.Context, ch channel.Channel) (channel.Channel, error) {
	registered, err := c.registry.RegisterChannel(ctx, ch)
	if err != nil {
		return nil, err
	}

	if c.errorChannelName != "" && registered.Name() == c.errorChannelName {
		c.errorHandler.SetErrorChannel(registered)
		c.logger.Info("error channel configured", "channel", registered.Name())
	}
	return registered, nil
}

// Channel returns the registered channel with name
func (c *Client) Channel(name string) (channel.Channel, error) {
	return c.registry.Channel(name)
}

// SetErrorChannel points the error handler at the registered channel name
func (c *Client) SetErrorChannel(name string) error {
	ch, err := c.registry.Channel(name)
	if err != nil {
		return err
	}
	c.errorHandler.SetErrorChannel(ch)
	return nil
}

// Poll dispatches messages from the registered pollable channel name to
// handler until the client is closed
func (c *Client) Poll(ctx context.Context, name string, handler channel.Handler, options ...messaging.PollerOption) error {
	ch, err := c.registry.Channel(name)
	if err != nil {
		return err
	}

	pollable, ok := ch.(channel.PollableChannel)
	if !ok {
		return fmt.Errorf("channel %s is not pollable", name)
	}

	options = append([]messaging.PollerOption{messaging.WithPollerLogger(c.logger)}, options...)
	poller := messaging.NewPoller(pollable, handler, c.executor, options...)
	if err := poller.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.pollers = append(c.pollers, poller)
	c.mu.Unlock()
	return nil
}

// Registry returns the channel registry
func (c *Client) Registry() *channel.Registry {
	return c.registry
}

// Gatekeeper returns the security gatekeeper
func (c *Client) Gatekeeper() *security.Gatekeeper {
	return c.gatekeeper
}

// DefinitionSource returns the secured patterns and their attributes
func (c *Client) DefinitionSource() *security.DefinitionSource {
	return c.source
}

// ErrorHandler returns the publishing error handler
func (c *Client) ErrorHandler() *messaging.PublishingErrorHandler {
	return c.errorHandler
}

// Executor returns the task executor
func (c *Client) Executor() *messaging.TaskExecutor {
	return c.executor
}

// Gatherer collects every metric the client records
func (c *Client) Gatherer() prometheus.Gatherer {
	gatherers := prometheus.Gatherers{
		c.securityMetrics.Registry(),
		c.messagingMetrics.Registry(),
	}
	if c.channelMetrics != nil {
		gatherers = append(gatherers, c.channelMetrics.Registry())
	}
	return gatherers
}

// Close stops pollers and the policy watcher and waits for running tasks
func (c *Client) Close() error {
	c.mu.Lock()
	pollers := c.pollers
	c.pollers = nil
	c.mu.Unlock()

	for _, p := range pollers {
		p.Stop()
	}

	var errs []error
	if c.watcher != nil {
		errs = append(errs, c.watcher.Stop())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errs = append(errs, c.executor.Shutdown(ctx))

	return errors.Join(errs...)
}

func (c *Client) stopWatcher() {
	if c.watcher != nil {
		_ = c.watcher.Stop()
	}
}

// observabilityProcessor wraps every channel with tracing and metrics
type observabilityProcessor struct {
	interceptors []interceptors.Interceptor
}

func (p *observabilityProcessor) PostProcessBeforeInit(obj any, name string) (any, error) {
	return obj, nil
}

func (p *observabilityProcessor) PostProcessAfterInit(obj any, name string) (any, error) {
	ch, ok := obj.(channel.Channel)
	if !ok {
		return obj, nil
	}
	return interceptors.Wrap(ch, p.interceptors...), nil
}

// clientConfig holds client configuration
type clientConfig struct {
	logger           *slog.Logger
	rules            []security.PolicyRule
	policyFile       string
	watchPolicy      bool
	decider          security.AccessDecisionManager
	rejectPublic     bool
	errorChannelName string
	sendTimeout      time.Duration
	poolSize         int
	observability    bool
	tracer           trace.Tracer
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = slog.Default()
	}
}

// WithSecuredChannels adds channel security rules
func WithSecuredChannels(rules ...security.PolicyRule) ClientOption {
	return func(cfg *clientConfig) {
		cfg.rules = append(cfg.rules, rules...)
	}
}

// WithPolicyFile loads rules from a YAML policy file, replacing rules set
// with WithSecuredChannels. With watch set, changes to the file are applied
// while the client runs.
func WithPolicyFile(path string, watch bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.policyFile = path
		cfg.watchPolicy = watch
	}
}

// WithDecisionManager replaces the role based decision manager
func WithDecisionManager(decider security.AccessDecisionManager) ClientOption {
	return func(cfg *clientConfig) {
		cfg.decider = decider
	}
}

// WithRejectPublicInvocations denies operations on secured channels that
// have no attributes
func WithRejectPublicInvocations(reject bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.rejectPublic = reject
	}
}

// WithErrorChannel names the channel unhandled failures are published on
func WithErrorChannel(name string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.errorChannelName = name
	}
}

// WithErrorSendTimeout bounds publishing to the error channel
func WithErrorSendTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.sendTimeout = timeout
	}
}

// WithPoolSize sets how many tasks run concurrently
func WithPoolSize(size int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.poolSize = size
	}
}

// WithChannelObservability traces and measures every channel operation. A
// nil tracer uses the global tracer provider.
func WithChannelObservability(tracer trace.Tracer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.observability = true
		cfg.tracer = tracer
	}
}
