package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishAndReceive(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()
	ctx := context.Background()

	id, err := bus.Publish(ctx, []byte("hello"), map[string]string{"source": "web"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	got, err := sub.Receive(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, "hello", string(got[0].Data))
	assert.Equal(t, "web", got[0].Attributes["source"])

	require.NoError(t, sub.AckBatch(ctx, got))
	assert.Equal(t, int64(1), bus.Stats().Acked)
}

func TestMemoryBus_ReceiveTimesOutEmpty(t *testing.T) {
	bus := NewMemoryBus(1)
	sub, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	got, err := sub.Receive(context.Background(), 5, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryBus_ReceiveHonoursMax(t *testing.T) {
	bus := NewMemoryBus(8)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := bus.Publish(ctx, []byte("m"), nil)
		require.NoError(t, err)
	}

	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	got, err := sub.Receive(ctx, 3, time.Second)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 2, bus.Stats().Pending)
}

func TestMemoryBus_NackRedeliversWithNewID(t *testing.T) {
	bus := NewMemoryBus(8)
	ctx := context.Background()
	_, err := bus.Publish(ctx, []byte("retry me"), nil)
	require.NoError(t, err)

	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	first, err := sub.Receive(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NoError(t, first[0].Nack(ctx))
	// second settle is a no-op
	require.NoError(t, first[0].Ack(ctx))

	second, err := sub.Receive(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "retry me", string(second[0].Data))
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.False(t, first[0].Redelivered)
	assert.True(t, second[0].Redelivered)

	stats := bus.Stats()
	assert.Equal(t, int64(1), stats.Nacked)
	assert.Equal(t, int64(0), stats.Acked)
}

func TestMemoryBus_NackDoesNotWaitOnFullQueue(t *testing.T) {
	bus := NewMemoryBus(1)
	ctx := context.Background()
	_, err := bus.Publish(ctx, []byte("first"), nil)
	require.NoError(t, err)

	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	got, err := sub.Receive(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = bus.Publish(ctx, []byte("second"), nil)
	require.NoError(t, err)

	nacked := make(chan error, 1)
	go func() { nacked <- got[0].Nack(ctx) }()
	select {
	case err := <-nacked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("nack blocked on a full queue")
	}
	assert.Equal(t, 2, bus.Stats().Pending)

	again, err := sub.Receive(ctx, 2, time.Second)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, "first", string(again[0].Data))
	assert.True(t, again[0].Redelivered)
	assert.Equal(t, "second", string(again[1].Data))
}

func TestMemoryBus_StreamDeliversRedeliveries(t *testing.T) {
	bus := NewMemoryBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	_, err = bus.Publish(ctx, []byte("flaky"), nil)
	require.NoError(t, err)

	seen := make(chan bool, 2)
	go func() {
		_ = sub.Stream(ctx, func(ctx context.Context, d *Delivery) {
			seen <- d.Redelivered
			if d.Redelivered {
				_ = d.Ack(ctx)
				return
			}
			_ = d.Nack(ctx)
		})
	}()

	for _, want := range []bool{false, true} {
		select {
		case got := <-seen:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("no delivery")
		}
	}
	require.Eventually(t, func() bool { return bus.Stats().Acked == 1 }, time.Second, 5*time.Millisecond)
}

func TestMemoryBus_StreamStopsOnInterrupt(t *testing.T) {
	bus := NewMemoryBus(8)
	ctx := context.Background()
	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	_, err = bus.Publish(ctx, []byte("one"), nil)
	require.NoError(t, err)

	received := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- sub.Stream(ctx, func(ctx context.Context, d *Delivery) {
			received <- string(d.Data)
			_ = d.Ack(ctx)
		})
	}()

	assert.Equal(t, "one", <-received)

	connLost := errors.New("connection reset")
	bus.Interrupt(connLost)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, connLost)
	case <-time.After(time.Second):
		t.Fatal("stream did not return after interrupt")
	}
}

func TestMemoryBus_FailSubscribe(t *testing.T) {
	bus := NewMemoryBus(1)
	boom := errors.New("refused")
	bus.FailSubscribe(boom)

	_, err := bus.Subscribe(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = bus.Subscribe(context.Background())
	assert.NoError(t, err)
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := NewMemoryBus(1)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	_, err := bus.Publish(context.Background(), []byte("x"), nil)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = bus.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBus_PublishCopiesAttributes(t *testing.T) {
	bus := NewMemoryBus(1)
	attrs := map[string]string{"k": "v"}
	_, err := bus.Publish(context.Background(), []byte("x"), attrs)
	require.NoError(t, err)
	attrs["k"] = "changed"

	sub, _ := bus.Subscribe(context.Background())
	got, err := sub.Receive(context.Background(), 1, time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v", got[0].Attributes["k"])
}
