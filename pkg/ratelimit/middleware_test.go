package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"msgstream/internal/config"
)

func TestMiddleware_LimitsPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiters := NewLimiters(RateLimitConfig{RPS: 1, Burst: 2, CleanupInterval: time.Minute, MaxAge: time.Minute})

	router := gin.New()
	router.Use(limiters.Middleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2"))
	assert.Equal(t, 2, limiters.Len())
}

func TestLimiters_CleanupDropsIdle(t *testing.T) {
	limiters := NewLimiters(RateLimitConfig{RPS: 1, Burst: 1, MaxAge: time.Minute})
	limiters.get("10.0.0.1")

	limiters.cleanup(time.Now())
	assert.Equal(t, 1, limiters.Len())

	limiters.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, limiters.Len())
}

func TestFromConfig(t *testing.T) {
	got := FromConfig(config.RateLimitConfig{RPS: 5, CleanupInterval: 30})
	assert.Equal(t, 5.0, got.RPS)
	assert.Equal(t, 20, got.Burst)
	assert.Equal(t, 30*time.Second, got.CleanupInterval)
	assert.Equal(t, 10*time.Minute, got.MaxAge)
}
