package channel

import (
	"context"
	"testing"
	"time"

	"github.com/glimte/mmate-chansec/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMessage() contracts.Message {
	return contracts.NewGenericMessage("test", "data")
}

func TestQueueChannel(t *testing.T) {
	t.Run("Send and Receive round trip", func(t *testing.T) {
		ch := NewQueueChannel("orders", WithCapacity(2))
		msg := newTestMessage()

		require.NoError(t, ch.Send(context.Background(), msg))
		assert.Equal(t, 1, ch.Len())

		got, err := ch.Receive(context.Background())
		require.NoError(t, err)
		assert.Same(t, msg, got)
		assert.Equal(t, 0, ch.Len())
	})

	t.Run("Name and Capacity", func(t *testing.T) {
		ch := NewQueueChannel("orders", WithCapacity(5))

		assert.Equal(t, "orders", ch.Name())
		assert.Equal(t, 5, ch.Capacity())
	})

	t.Run("default capacity", func(t *testing.T) {
		ch := NewQueueChannel("orders")
		assert.Equal(t, defaultQueueCapacity, ch.Capacity())
	})

	t.Run("Send rejects nil message", func(t *testing.T) {
		ch := NewQueueChannel("orders")

		assert.ErrorIs(t, ch.Send(context.Background(), nil), ErrNilMessage)
		assert.ErrorIs(t, ch.SendTimeout(context.Background(), nil, time.Second), ErrNilMessage)
	})

	t.Run("SendTimeout gives up when full", func(t *testing.T) {
		ch := NewQueueChannel("orders", WithCapacity(1))
		require.NoError(t, ch.Send(context.Background(), newTestMessage()))

		start := time.Now()
		err := ch.SendTimeout(context.Background(), newTestMessage(), 50*time.Millisecond)

		assert.ErrorIs(t, err, ErrSendTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

		var sendErr *SendError
		require.ErrorAs(t, err, &sendErr)
		assert.Equal(t, "orders", sendErr.Channel)
	})

	t.Run("SendTimeout with zero timeout does not block", func(t *testing.T) {
		ch := NewQueueChannel("orders", WithCapacity(1))

		require.NoError(t, ch.SendTimeout(context.Background(), newTestMessage(), 0))
		assert.ErrorIs(t, ch.SendTimeout(context.Background(), newTestMessage(), 0), ErrSendTimeout)
	})

	t.Run("Send honours context cancellation", func(t *testing.T) {
		ch := NewQueueChannel("orders", WithCapacity(0))
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := ch.Send(ctx, newTestMessage())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("ReceiveTimeout on empty channel", func(t *testing.T) {
		ch := NewQueueChannel("orders")

		_, err := ch.ReceiveTimeout(context.Background(), 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrReceiveTimeout)

		_, err = ch.ReceiveTimeout(context.Background(), 0)
		assert.ErrorIs(t, err, ErrReceiveTimeout)
	})

	t.Run("rendezvous send completes when a receiver arrives", func(t *testing.T) {
		ch := NewQueueChannel("orders", WithCapacity(0))
		msg := newTestMessage()

		received := make(chan contracts.Message, 1)
		go func() {
			got, err := ch.ReceiveTimeout(context.Background(), time.Second)
			if err == nil {
				received <- got
			}
		}()

		require.NoError(t, ch.SendTimeout(context.Background(), msg, time.Second))
		assert.Same(t, msg, <-received)
	})
}

func TestSendWithin(t *testing.T) {
	t.Run("uses bounded send when supported", func(t *testing.T) {
		ch := NewQueueChannel("orders", WithCapacity(1))
		require.NoError(t, ch.Send(context.Background(), newTestMessage()))

		err := SendWithin(context.Background(), ch, newTestMessage(), 10*time.Millisecond)
		assert.ErrorIs(t, err, ErrSendTimeout)
	})

	t.Run("falls back to plain send", func(t *testing.T) {
		ch := NewDirectChannel("direct")
		var got contracts.Message
		ch.Subscribe(HandlerFunc(func(ctx context.Context, msg contracts.Message) error {
			got = msg
			return nil
		}))

		msg := newTestMessage()
		require.NoError(t, SendWithin(context.Background(), ch, msg, time.Second))
		assert.Same(t, msg, got)
	})
}
