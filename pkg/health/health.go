package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"msgstream/internal/constants"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DegradedError marks a check that still serves traffic but is not at full
// health, such as a consumer waiting to reconnect.
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string {
	return e.Reason
}

func Degraded(format string, args ...interface{}) error {
	return &DegradedError{Reason: fmt.Sprintf(format, args...)}
}

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckerRegistry struct {
	mu       sync.RWMutex
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{
		checkers: make([]Checker, 0),
	}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, checker)
}

// Check runs every checker concurrently. Any failure makes the result
// unhealthy; a DegradedError only downgrades it to degraded.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	r.mu.RLock()
	checkers := append([]Checker(nil), r.checkers...)
	r.mu.RUnlock()

	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func(i int, checker Checker) {
			defer wg.Done()
			results[i] = run(ctx, checker)
		}(i, checker)
	}
	wg.Wait()

	h := Health{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checkers)),
	}
	for i, res := range results {
		h.Checks[checkers[i].Name()] = res
		switch {
		case res.Status == StatusUnhealthy:
			h.Status = StatusUnhealthy
		case res.Status == StatusDegraded && h.Status == StatusHealthy:
			h.Status = StatusDegraded
		}
	}
	return h
}

func run(ctx context.Context, checker Checker) (result CheckResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusUnhealthy
			result.Message = fmt.Sprintf("check panicked: %v", r)
		}
		result.LatencyMS = time.Since(start).Milliseconds()
		result.Timestamp = time.Now()
	}()

	err := checker.Check(ctx)

	var degraded *DegradedError
	switch {
	case errors.As(err, &degraded):
		return CheckResult{Status: StatusDegraded, Message: degraded.Reason}
	case err != nil:
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	default:
		return CheckResult{Status: StatusHealthy}
	}
}

type PostgreSQLChecker struct {
	db *sql.DB
}

func NewPostgreSQLChecker(db *sql.DB) *PostgreSQLChecker {
	return &PostgreSQLChecker{db: db}
}

func (c *PostgreSQLChecker) Name() string {
	return "postgresql"
}

func (c *PostgreSQLChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgresql ping failed: %w", err)
	}
	// reachable but not migrated is still unable to ingest
	if _, err := c.db.ExecContext(ctx, "SELECT 1 FROM messages LIMIT 0"); err != nil {
		return fmt.Errorf("messages table unavailable: %w", err)
	}
	return nil
}

type RedisChecker struct {
	client *redis.Client
}

func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string {
	return "redis"
}

func (c *RedisChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
