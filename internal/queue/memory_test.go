package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryClient_PublishReceive(t *testing.T) {
	c := NewInMemoryClient()
	ctx := context.Background()

	require.NoError(t, c.Publish(ctx, "telegram_events", []byte(`{"a":1}`)))
	require.NoError(t, c.Publish(ctx, "telegram_events", []byte(`{"a":2}`)))

	msg, err := c.Receive(ctx, "telegram_events")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(msg.Body()))

	msg, err = c.Receive(ctx, "telegram_events")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(msg.Body()))

	assert.Equal(t, 0, c.Len("telegram_events"))
}

func TestInMemoryClient_ReceiveBlocksUntilPublish(t *testing.T) {
	c := NewInMemoryClient()
	ctx := context.Background()

	received := make(chan Message, 1)
	go func() {
		msg, err := c.Receive(ctx, "gateway_events")
		if err == nil {
			received <- msg
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Publish(ctx, "gateway_events", []byte("late")))

	select {
	case msg := <-received:
		assert.Equal(t, "late", string(msg.Body()))
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake up after Publish")
	}
}

func TestInMemoryClient_ReceiveHonoursContext(t *testing.T) {
	c := NewInMemoryClient()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Receive(ctx, "empty")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryClient_NackRequeues(t *testing.T) {
	c := NewInMemoryClient()
	ctx := context.Background()

	require.NoError(t, c.Publish(ctx, "q", []byte("one")))
	msg, err := c.Receive(ctx, "q")
	require.NoError(t, err)

	require.NoError(t, c.Nack(ctx, msg))
	assert.Equal(t, 1, c.Len("q"))
}

func TestInMemoryClient_Closed(t *testing.T) {
	c := NewInMemoryClient()
	require.NoError(t, c.Close())

	err := c.Publish(context.Background(), "q", []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}
