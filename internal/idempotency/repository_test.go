package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgstream/internal/testinfra"
)

func TestRedisRepository(t *testing.T) {
	client := testinfra.Redis(t)
	repo := NewRepository(client)
	ctx := context.Background()

	ok, err := repo.Reserve(ctx, "k", []byte("pending"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Reserve(ctx, "k", []byte("pending"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Store(ctx, "k", []byte(`{"status":200}`), time.Minute))
	value, found, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"status":200}`, string(value))

	require.NoError(t, repo.Release(ctx, "k"))
	_, found, err = repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestService_WithRedis(t *testing.T) {
	client := testinfra.Redis(t)
	svc := newTestService(NewCircuitBreakerRepository(NewRepository(client), testBreakerConfig()))

	calls := 0
	fn := func(ctx context.Context) Response {
		calls++
		return Response{Status: 200, Body: []byte(`{"ok":true}`)}
	}

	_, replayed, err := svc.Execute(context.Background(), "abc", fn)
	require.NoError(t, err)
	assert.False(t, replayed)

	resp, replayed, err := svc.Execute(context.Background(), "abc", fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, 1, calls)
}
