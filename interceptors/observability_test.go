package interceptors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type mockMetricsCollector struct {
	mock.Mock
}

func (m *mockMetricsCollector) RecordOperation(channelName string, op Operation, duration time.Duration, err error) {
	m.Called(channelName, op, duration, err)
}

func TestTracingInterceptor(t *testing.T) {
	newTracer := func() (*TracingInterceptor, *tracetest.SpanRecorder) {
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		return NewTracingInterceptor(provider.Tracer("test")), recorder
	}

	t.Run("records a span per operation", func(t *testing.T) {
		interceptor, recorder := newTracer()
		msg := newTestMessage()
		invoker := &mockInvoker{}
		invoker.On("Invoke", mock.Anything, mock.Anything).Return(nil, nil)

		_, err := interceptor.Intercept(context.Background(), sendInvocation(msg), invoker)
		require.NoError(t, err)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "channel.send", spans[0].Name())

		attrs := map[string]string{}
		for _, kv := range spans[0].Attributes() {
			attrs[string(kv.Key)] = kv.Value.AsString()
		}
		assert.Equal(t, "orders", attrs["messaging.destination.name"])
		assert.Equal(t, msg.GetID(), attrs["messaging.message.id"])
	})

	t.Run("marks failed operations", func(t *testing.T) {
		interceptor, recorder := newTracer()
		invoker := &mockInvoker{}
		invoker.On("Invoke", mock.Anything, mock.Anything).Return(nil, errors.New("denied"))

		_, err := interceptor.Intercept(context.Background(), sendInvocation(newTestMessage()), invoker)
		require.Error(t, err)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		assert.Equal(t, "denied", spans[0].Status().Description)
	})

	t.Run("defaults to global tracer", func(t *testing.T) {
		interceptor := NewTracingInterceptor(nil)
		assert.NotNil(t, interceptor.tracer)
		assert.Equal(t, "TracingInterceptor", interceptor.Name())
	})
}

func TestMetricsInterceptor(t *testing.T) {
	t.Run("reports to collector", func(t *testing.T) {
		collector := &mockMetricsCollector{}
		cause := errors.New("boom")
		collector.On("RecordOperation", "orders", OperationSend, mock.AnythingOfType("time.Duration"), cause).Return()

		invoker := &mockInvoker{}
		invoker.On("Invoke", mock.Anything, mock.Anything).Return(nil, cause)

		interceptor := NewMetricsInterceptor(collector)
		_, err := interceptor.Intercept(context.Background(), sendInvocation(newTestMessage()), invoker)

		assert.ErrorIs(t, err, cause)
		collector.AssertExpectations(t)
		assert.Equal(t, "MetricsInterceptor", interceptor.Name())
	})

	t.Run("ChannelMetrics counts outcomes", func(t *testing.T) {
		metrics := NewChannelMetrics()

		metrics.RecordOperation("orders", OperationSend, time.Millisecond, nil)
		metrics.RecordOperation("orders", OperationSend, time.Millisecond, nil)
		metrics.RecordOperation("orders", OperationSend, time.Millisecond, errors.New("x"))

		assert.Equal(t, 2.0, testutil.ToFloat64(metrics.operations.WithLabelValues("orders", "send", "success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("orders", "send", "error")))

		count, err := testutil.GatherAndCount(metrics.Registry(), "channel_operation_duration_seconds")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
