package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/bankguard/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(rpm, burst int) (*Limiter, *time.Time) {
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Hour})
	clock := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l, clock := newTestLimiter(60, 3)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))

	*clock = clock.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "one token per second at 60 rpm")
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(60, 1)
	defer l.Stop()

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestEvictIdle(t *testing.T) {
	l, clock := newTestLimiter(60, 1)
	defer l.Stop()

	l.Allow("a")
	*clock = clock.Add(10 * time.Minute)
	l.Allow("b")
	l.evictIdle(5 * time.Minute)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "a")
	assert.Contains(t, l.clients, "b")
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(60, 2)
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/v1/alerts", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(metrics.RateLimitedTotal)
	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/alerts", nil))
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RateLimitedTotal))
}

func TestStop_Idempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}
