package interceptors

import (
	"context"
	"time"

	"github.com/glimte/mmate-chansec/contracts"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/glimte/mmate-chansec/interceptors"

// TracingInterceptor opens a span per channel operation
type TracingInterceptor struct {
	tracer trace.Tracer
}

// NewTracingInterceptor creates a tracing interceptor. A nil tracer uses the
// global tracer provider.
func NewTracingInterceptor(tracer trace.Tracer) *TracingInterceptor {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &TracingInterceptor{tracer: tracer}
}

// Intercept implements Interceptor
func (i *TracingInterceptor) Intercept(ctx context.Context, inv *Invocation, next Invoker) (contracts.Message, error) {
	kind := trace.SpanKindProducer
	if inv.Operation == OperationReceive {
		kind = trace.SpanKindConsumer
	}

	spanCtx, span := i.tracer.Start(ctx, "channel."+string(inv.Operation),
		trace.WithSpanKind(kind),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", inv.Channel),
			attribute.String("messaging.operation", string(inv.Operation)),
		),
	)
	defer span.End()

	msg, err := next.Invoke(spanCtx, inv)
	if m := invocationMessage(inv, msg); m != nil {
		span.SetAttributes(
			attribute.String("messaging.message.id", m.GetID()),
			attribute.String("messaging.message.type", m.GetType()),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return msg, err
}

// Name implements Interceptor
func (i *TracingInterceptor) Name() string {
	return "TracingInterceptor"
}

// MetricsCollector records the outcome of channel operations
type MetricsCollector interface {
	RecordOperation(channelName string, op Operation, duration time.Duration, err error)
}

// MetricsInterceptor feeds a MetricsCollector
type MetricsInterceptor struct {
	collector MetricsCollector
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(ctx context.Context, inv *Invocation, next Invoker) (contracts.Message, error) {
	start := time.Now()
	msg, err := next.Invoke(ctx, inv)
	i.collector.RecordOperation(inv.Channel, inv.Operation, time.Since(start), err)
	return msg, err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

// ChannelMetrics is a prometheus-backed MetricsCollector
type ChannelMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewChannelMetrics creates channel metrics on a private registry
func NewChannelMetrics() *ChannelMetrics {
	registry := prometheus.NewRegistry()

	m := &ChannelMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channel_operations_total",
				Help: "Total number of channel operations by outcome",
			},
			[]string{"channel", "operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "channel_operation_duration_seconds",
				Help:    "Channel operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel", "operation"},
		),
		registry: registry,
	}

	registry.MustRegister(m.operations, m.duration)
	return m
}

// RecordOperation implements MetricsCollector
func (m *ChannelMetrics) RecordOperation(channelName string, op Operation, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(channelName, string(op), outcome).Inc()
	m.duration.WithLabelValues(channelName, string(op)).Observe(duration.Seconds())
}

// Registry returns the registry holding the channel metrics
func (m *ChannelMetrics) Registry() *prometheus.Registry {
	return m.registry
}
