package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgstream/internal/config"
	"msgstream/internal/logger"
	apperrors "msgstream/pkg/errors"
)

type memoryRepository struct {
	mu     sync.Mutex
	values map[string][]byte
	err    error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{values: make(map[string][]byte)}
}

func (r *memoryRepository) Reserve(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.values[key]; ok {
		return false, nil
	}
	r.values[key] = value
	return true, nil
}

func (r *memoryRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, false, r.err
	}
	v, ok := r.values[key]
	return v, ok, nil
}

func (r *memoryRepository) Store(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}

func (r *memoryRepository) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}

func okResponse(body string) func(ctx context.Context) Response {
	return func(ctx context.Context) Response {
		return Response{Status: http.StatusOK, Body: json.RawMessage(body)}
	}
}

func newTestService(repo Repository) *Service {
	return NewService(repo, config.IdempotencyConfig{Enabled: true, TTLSeconds: 60}, logger.NopLogger())
}

func TestExecute_ReplaysCompletedResponse(t *testing.T) {
	svc := newTestService(newMemoryRepository())
	calls := 0
	fn := func(ctx context.Context) Response {
		calls++
		return Response{Status: http.StatusOK, Body: json.RawMessage(`{"rowId":1}`)}
	}

	first, replayed, err := svc.Execute(context.Background(), "key-1", fn)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := svc.Execute(context.Background(), "key-1", fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.Status, second.Status)
	assert.JSONEq(t, string(first.Body), string(second.Body))
	assert.Equal(t, 1, calls)
}

func TestExecute_EmptyKeyAlwaysRuns(t *testing.T) {
	svc := newTestService(newMemoryRepository())
	calls := 0
	for i := 0; i < 2; i++ {
		_, replayed, err := svc.Execute(context.Background(), "", func(ctx context.Context) Response {
			calls++
			return Response{Status: http.StatusOK}
		})
		require.NoError(t, err)
		assert.False(t, replayed)
	}
	assert.Equal(t, 2, calls)
}

func TestExecute_InFlightIsConflict(t *testing.T) {
	svc := newTestService(newMemoryRepository())

	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _, _ = svc.Execute(context.Background(), "slow", func(ctx context.Context) Response {
			close(inside)
			<-release
			return Response{Status: http.StatusOK, Body: json.RawMessage(`{}`)}
		})
	}()
	<-inside

	_, _, err := svc.Execute(context.Background(), "slow", okResponse(`{}`))
	close(release)

	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestExecute_ServerErrorIsNotCached(t *testing.T) {
	svc := newTestService(newMemoryRepository())

	resp, _, err := svc.Execute(context.Background(), "k", func(ctx context.Context) Response {
		return Response{Status: http.StatusInternalServerError, Body: json.RawMessage(`{"error":"boom"}`)}
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)

	resp, replayed, err := svc.Execute(context.Background(), "k", okResponse(`{"ok":true}`))
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestExecute_ClientErrorIsCached(t *testing.T) {
	svc := newTestService(newMemoryRepository())

	_, _, err := svc.Execute(context.Background(), "k", func(ctx context.Context) Response {
		return Response{Status: http.StatusBadRequest, Body: json.RawMessage(`{"error":"empty"}`)}
	})
	require.NoError(t, err)

	resp, replayed, err := svc.Execute(context.Background(), "k", okResponse(`{}`))
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestExecute_RedisErrorFallsBack(t *testing.T) {
	repo := newMemoryRepository()
	repo.err = errors.New("connection refused")
	svc := newTestService(repo)

	calls := 0
	for i := 0; i < 2; i++ {
		_, replayed, err := svc.Execute(context.Background(), "k", func(ctx context.Context) Response {
			calls++
			return Response{Status: http.StatusOK}
		})
		require.NoError(t, err)
		assert.False(t, replayed)
	}
	assert.Equal(t, 2, calls)
}

func TestCacheKey_IsPrefixedHash(t *testing.T) {
	svc := newTestService(newMemoryRepository())
	key := svc.cacheKey("some client key")
	assert.Equal(t, key, svc.cacheKey("some client key"))
	assert.NotEqual(t, key, svc.cacheKey("another key"))
	assert.Contains(t, key, "msgstream:idem:")
	assert.Len(t, key, len("msgstream:idem:")+64)
}

func testBreakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{Enabled: true, MaxRequests: 1, Timeout: time.Second, FailureRatio: 0.5, MinRequests: 2}
}

func TestCircuitBreakerRepository_OpensOnFailures(t *testing.T) {
	repo := newMemoryRepository()
	repo.err = errors.New("connection refused")
	cb := NewCircuitBreakerRepository(repo, testBreakerConfig())

	for i := 0; i < 2; i++ {
		_, err := cb.Reserve(context.Background(), "k", pendingMarker, time.Minute)
		require.Error(t, err)
	}
	assert.True(t, cb.IsOpen())
	assert.Equal(t, "open", cb.State())

	// the service still answers while the breaker is open
	svc := newTestService(cb)
	resp, replayed, err := svc.Execute(context.Background(), "k", okResponse(`{}`))
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, http.StatusOK, resp.Status)
}
