// Package idempotency replays completed POST /publish responses for repeated
// Idempotency-Key headers, backed by Redis.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"msgstream/internal/config"
	"msgstream/internal/constants"
	"msgstream/internal/logger"
	apperrors "msgstream/pkg/errors"
	"msgstream/pkg/metrics"
)

var pendingMarker = []byte("pending")

// Response is a completed HTTP response as cached for replay.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type Service struct {
	repo   Repository
	ttl    time.Duration
	logger logger.Logger
}

func NewService(repo Repository, cfg config.IdempotencyConfig, log logger.Logger) *Service {
	ttl := cfg.TTLSeconds
	if ttl <= 0 {
		ttl = constants.DefaultTTLSeconds
	}
	return &Service{
		repo:   repo,
		ttl:    time.Duration(ttl) * time.Second,
		logger: log.Named("idempotency"),
	}
}

// Execute runs fn at most once per key within the TTL. A repeat after fn
// completed gets the cached response with replayed set; a repeat while fn is
// still running gets a conflict error. Server errors are not cached so the
// client may retry. Redis failures fall back to running fn.
func (s *Service) Execute(ctx context.Context, key string, fn func(ctx context.Context) Response) (Response, bool, error) {
	if key == "" {
		return fn(ctx), false, nil
	}
	return s.execute(ctx, s.cacheKey(key), fn, true)
}

func (s *Service) execute(ctx context.Context, cacheKey string, fn func(ctx context.Context) Response, retryExpired bool) (Response, bool, error) {
	reserved, err := s.repo.Reserve(ctx, cacheKey, pendingMarker, s.ttl)
	if err != nil {
		s.fallback(ctx, err)
		return fn(ctx), false, nil
	}

	if !reserved {
		return s.replay(ctx, cacheKey, fn, retryExpired)
	}

	metrics.IncIdempotencyLookup("miss")
	resp := fn(ctx)

	if resp.Status >= http.StatusInternalServerError {
		if err := s.repo.Release(ctx, cacheKey); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to release idempotency key", "error", err)
		}
		return resp, false, nil
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Response is not cacheable", "error", err)
		if err := s.repo.Release(ctx, cacheKey); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to release idempotency key", "error", err)
		}
		return resp, false, nil
	}
	if err := s.repo.Store(ctx, cacheKey, encoded, s.ttl); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to cache idempotent response", "error", err)
	}
	return resp, false, nil
}

func (s *Service) replay(ctx context.Context, cacheKey string, fn func(ctx context.Context) Response, retryExpired bool) (Response, bool, error) {
	value, found, err := s.repo.Get(ctx, cacheKey)
	if err != nil {
		s.fallback(ctx, err)
		return fn(ctx), false, nil
	}

	// expired between Reserve and Get
	if !found {
		if retryExpired {
			return s.execute(ctx, cacheKey, fn, false)
		}
		return fn(ctx), false, nil
	}

	if bytes.Equal(value, pendingMarker) {
		metrics.IncIdempotencyLookup("in_flight")
		return Response{}, false, apperrors.ErrConflict.
			WithMessage("a request with this Idempotency-Key is still in progress")
	}

	var resp Response
	if err := json.Unmarshal(value, &resp); err != nil {
		return Response{}, false, apperrors.ErrInternal.WithCause(fmt.Errorf("decode cached response: %w", err))
	}

	metrics.IncIdempotencyLookup("hit")
	return resp, true, nil
}

func (s *Service) fallback(ctx context.Context, err error) {
	metrics.IncIdempotencyLookup("error")
	metrics.FallbackUsageTotal.WithLabelValues("idempotency", "process_without_key", "redis_error").Inc()
	s.logger.WarnwCtx(ctx, "Redis error during idempotency check, processing without it",
		"error", err,
	)
}

func (s *Service) cacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return constants.CacheKeyPrefixIdempotency + hex.EncodeToString(sum[:])
}
