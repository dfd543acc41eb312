package idempotency

import (
	"context"
	"fmt"
	"time"

	"msgstream/internal/config"
	"msgstream/pkg/circuitbreaker"
)

type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{repo: repo}
	}

	cbConfig := circuitbreaker.RatioConfig("redis-idempotency",
		cfg.MaxRequests, cfg.Interval, cfg.Timeout, cfg.FailureRatio, cfg.MinRequests)

	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.NewWrapper(cbConfig),
	}
}

func (r *CircuitBreakerRepository) Reserve(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := circuitbreaker.Run(ctx, r.cb, func() (bool, error) {
		return r.repo.Reserve(ctx, key, value, ttl)
	})
	return ok, r.wrap(err)
}

func (r *CircuitBreakerRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	type getResult struct {
		value []byte
		found bool
	}
	res, err := circuitbreaker.Run(ctx, r.cb, func() (getResult, error) {
		value, found, err := r.repo.Get(ctx, key)
		return getResult{value: value, found: found}, err
	})
	return res.value, res.found, r.wrap(err)
}

func (r *CircuitBreakerRepository) Store(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := circuitbreaker.Run(ctx, r.cb, func() (struct{}, error) {
		return struct{}{}, r.repo.Store(ctx, key, value, ttl)
	})
	return r.wrap(err)
}

func (r *CircuitBreakerRepository) Release(ctx context.Context, key string) error {
	_, err := circuitbreaker.Run(ctx, r.cb, func() (struct{}, error) {
		return struct{}{}, r.repo.Release(ctx, key)
	})
	return r.wrap(err)
}

func (r *CircuitBreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	if r.cb == nil {
		return false
	}
	return r.cb.IsOpen()
}

func (r *CircuitBreakerRepository) wrap(err error) error {
	if err != nil && r.IsOpen() {
		return fmt.Errorf("circuit breaker is open for redis-idempotency: %w", err)
	}
	return err
}
