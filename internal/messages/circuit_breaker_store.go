package messages

import (
	"context"
	"errors"

	"msgstream/internal/config"
	"msgstream/pkg/circuitbreaker"
	pkgerrors "msgstream/pkg/errors"
)

// CircuitBreakerStore stops hammering PostgreSQL once it is failing. Only
// storage errors count against the breaker; validation failures do not.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store Store, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{store: store}
	}

	cbConfig := circuitbreaker.RatioConfig("postgres-messages",
		cfg.MaxRequests, cfg.Interval, cfg.Timeout, cfg.FailureRatio, cfg.MinRequests)
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil || !pkgerrors.IsStorage(err)
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) Upsert(ctx context.Context, msg NewMessage) (UpsertResult, error) {
	res, err := circuitbreaker.Run(ctx, s.cb, func() (UpsertResult, error) {
		return s.store.Upsert(ctx, msg)
	})
	return res, openToStorage(err, "upsert")
}

func (s *CircuitBreakerStore) Query(ctx context.Context, filter Filter, page, pageSize int) (Page, error) {
	res, err := circuitbreaker.Run(ctx, s.cb, func() (Page, error) {
		return s.store.Query(ctx, filter, page, pageSize)
	})
	return res, openToStorage(err, "query")
}

func (s *CircuitBreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}

func openToStorage(err error, operation string) error {
	if err == nil || !errors.Is(err, circuitbreaker.ErrOpen) {
		return err
	}
	return pkgerrors.ErrStorage.WithCause(err).
		WithDetail("operation", operation).
		WithMessage("message store unavailable (circuit open)")
}
