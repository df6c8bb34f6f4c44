package mmate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/glimte/mmate-chansec/channel"
	"github.com/glimte/mmate-chansec/contracts"
	"github.com/glimte/mmate-chansec/interceptors"
	"github.com/glimte/mmate-chansec/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, options ...ClientOption) *Client {
	t.Helper()
	options = append([]ClientOption{WithLogger(testLogger())}, options...)
	client, err := NewClient(context.Background(), options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

var adminRule = security.PolicyRule{
	Pattern: `admin\..*`,
	Policy:  security.AccessPolicy{Send: []string{"ROLE_ADMIN"}},
}

func TestClientSecuresMatchingChannels(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, WithSecuredChannels(adminRule))

	admin, err := client.RegisterChannel(ctx, channel.NewQueueChannel("admin.orders"))
	require.NoError(t, err)
	public, err := client.RegisterChannel(ctx, channel.NewQueueChannel("public.orders"))
	require.NoError(t, err)

	_, secured := interceptors.AsProxy(admin)
	assert.True(t, secured)
	_, secured = interceptors.AsProxy(public)
	assert.False(t, secured)

	looked, err := client.Channel("admin.orders")
	require.NoError(t, err)
	assert.Same(t, admin, looked)

	msg := contracts.NewGenericMessage("OrderPlaced", "order-1")
	err = admin.Send(security.WithPrincipal(ctx, &security.Principal{Name: "bob"}), msg)
	assert.True(t, security.IsAccessDenied(err))

	err = admin.Send(security.WithPrincipal(ctx, &security.Principal{Name: "alice", Roles: []string{"ROLE_ADMIN"}}), msg)
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(client.Gatherer(), "chansec_access_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestClientPublishesTaskFailures(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, WithErrorChannel("errors"))

	errorsCh, err := client.RegisterChannel(ctx, channel.NewQueueChannel("errors"))
	require.NoError(t, err)
	assert.Same(t, errorsCh, client.ErrorHandler().ErrorChannel())

	orders, err := client.RegisterChannel(ctx, channel.NewQueueChannel("orders"))
	require.NoError(t, err)

	cause := errors.New("handler failed")
	require.NoError(t, client.Poll(ctx, "orders", channel.HandlerFunc(func(ctx context.Context, msg contracts.Message) error {
		return cause
	})))

	msg := contracts.NewGenericMessage("OrderPlaced", "order-1")
	require.NoError(t, orders.Send(ctx, msg))

	got, err := errorsCh.(channel.PollableChannel).ReceiveTimeout(ctx, 2*time.Second)
	require.NoError(t, err)

	errMsg, ok := got.(*contracts.ErrorMessage)
	require.True(t, ok)
	assert.ErrorIs(t, errMsg.Err(), cause)
	assert.Same(t, msg, errMsg.OriginalMessage())
}

func TestClientPollErrors(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	err := client.Poll(ctx, "missing", channel.HandlerFunc(func(ctx context.Context, msg contracts.Message) error { return nil }))
	assert.ErrorIs(t, err, channel.ErrChannelNotFound)

	_, err = client.RegisterChannel(ctx, channel.NewDirectChannel("direct"))
	require.NoError(t, err)
	err = client.Poll(ctx, "direct", channel.HandlerFunc(func(ctx context.Context, msg contracts.Message) error { return nil }))
	assert.Error(t, err)

	assert.ErrorIs(t, client.SetErrorChannel("missing"), channel.ErrChannelNotFound)
}

func TestClientPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("channels:\n  - pattern: \"ops\\\\..*\"\n    send: [ROLE_OPS]\n"), 0o600))

	client := newTestClient(t, WithPolicyFile(path, false))

	assert.True(t, client.Gatekeeper().ShouldSecure("ops.deploy"))
	assert.False(t, client.Gatekeeper().ShouldSecure("dev.deploy"))
	assert.Len(t, client.DefinitionSource().Rules(), 1)
}

func TestClientInvalidConfiguration(t *testing.T) {
	_, err := NewClient(context.Background(), WithLogger(testLogger()), WithSecuredChannels(security.PolicyRule{Pattern: "("}))
	assert.ErrorIs(t, err, security.ErrConfiguration)

	_, err = NewClient(context.Background(), WithLogger(testLogger()), WithPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"), false))
	assert.Error(t, err)
}

func TestClientChannelObservability(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	provider := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))

	client := newTestClient(t,
		WithSecuredChannels(adminRule),
		WithChannelObservability(provider.Tracer("test")),
	)

	admin, err := client.RegisterChannel(ctx, channel.NewQueueChannel("admin.orders"))
	require.NoError(t, err)

	err = admin.Send(ctx, contracts.NewGenericMessage("OrderPlaced", "order-1"))
	assert.True(t, security.IsAccessDenied(err))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "channel.send", spans[0].Name())

	count, err := testutil.GatherAndCount(client.Gatherer(), "channel_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClientRejectsUnnamedChannel(t *testing.T) {
	client := newTestClient(t, WithSecuredChannels(adminRule))

	_, err := client.RegisterChannel(context.Background(), channel.NewQueueChannel(""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, security.ErrConfiguration))
	assert.Empty(t, client.Registry().Names())
}

func TestClientSecuredDirectChannelWithObservability(t *testing.T) {
	ctx := context.Background()
	provider := trace.NewTracerProvider(trace.WithSpanProcessor(tracetest.NewSpanRecorder()))
	client := newTestClient(t,
		WithSecuredChannels(adminRule),
		WithChannelObservability(provider.Tracer("test")),
	)

	events, err := client.RegisterChannel(ctx, channel.NewDirectChannel("admin.events"))
	require.NoError(t, err)

	subscribable, ok := events.(channel.SubscribableChannel)
	require.True(t, ok)
	received := make(chan contracts.Message, 1)
	subscribable.Subscribe(channel.HandlerFunc(func(ctx context.Context, msg contracts.Message) error {
		received <- msg
		return nil
	}))

	msg := contracts.NewGenericMessage("UserCreated", "carol")
	admin := security.WithPrincipal(ctx, &security.Principal{Name: "alice", Roles: []string{"ROLE_ADMIN"}})
	require.NoError(t, events.Send(admin, msg))
	assert.Same(t, msg, <-received)

	// running the gatekeeper again over the observed proxy adds nothing
	again, err := client.Gatekeeper().PostProcessAfterInit(events, "admin.events")
	require.NoError(t, err)
	assert.Same(t, events, again)
}
