// Package ratelimit provides per-client rate limiting middleware for the bankguard API.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/bankguard/internal/metrics"
	"golang.org/x/time/rate"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the sustained rate per client
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often idle clients are forgotten
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 600,
		BurstSize:         50,
		CleanupInterval:   time.Minute,
	}
}

// Limiter tracks one token bucket per client key
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter and starts its cleanup loop
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*client),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(2 * l.cfg.CleanupInterval)
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idle)
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow reports whether a request for key may proceed now
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		perSecond := rate.Limit(float64(l.cfg.RequestsPerMinute) / 60.0)
		c = &client{limiter: rate.NewLimiter(perSecond, l.cfg.BurstSize)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Middleware returns a Gin middleware that rate limits by client IP
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			metrics.RateLimitedTotal.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			return
		}
		c.Next()
	}
}
