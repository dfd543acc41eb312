package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubChecker struct {
	name string
	err  error
}

func (c stubChecker) Name() string                    { return c.name }
func (c stubChecker) Check(ctx context.Context) error { return c.err }

func TestCheckerRegistry_Check(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Checker{stubChecker{name: "a"}, stubChecker{name: "b"}}, StatusHealthy},
		{"degraded", []Checker{stubChecker{name: "a"}, stubChecker{name: "consumer", err: Degraded("state %s", "backoff")}}, StatusDegraded},
		{"unhealthy wins", []Checker{stubChecker{name: "db", err: errors.New("down")}, stubChecker{name: "consumer", err: Degraded("backoff")}}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			for _, c := range tt.checkers {
				r.Register(c)
			}
			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.checkers))
		})
	}
}

func TestCheckerRegistry_DegradedMessage(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(stubChecker{name: "consumer", err: Degraded("state %s", "backoff")})

	h := r.Check(context.Background())
	assert.Equal(t, StatusDegraded, h.Checks["consumer"].Status)
	assert.Equal(t, "state backoff", h.Checks["consumer"].Message)
}

type slowChecker struct {
	name  string
	delay time.Duration
}

func (c slowChecker) Name() string { return c.name }
func (c slowChecker) Check(ctx context.Context) error {
	time.Sleep(c.delay)
	return nil
}

type panickingChecker struct{}

func (panickingChecker) Name() string                    { return "broken" }
func (panickingChecker) Check(ctx context.Context) error { panic("nil client") }

func TestCheckerRegistry_RunsChecksConcurrently(t *testing.T) {
	r := NewCheckerRegistry()
	for _, name := range []string{"a", "b", "c", "d"} {
		r.Register(slowChecker{name: name, delay: 100 * time.Millisecond})
	}

	start := time.Now()
	h := r.Check(context.Background())
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, StatusHealthy, h.Status)
	assert.GreaterOrEqual(t, h.Checks["a"].LatencyMS, int64(100))
}

func TestCheckerRegistry_PanicIsUnhealthy(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(stubChecker{name: "ok"})
	r.Register(panickingChecker{})

	h := r.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Contains(t, h.Checks["broken"].Message, "nil client")
	assert.False(t, h.Checks["broken"].Timestamp.IsZero())
}
