package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/homecam-relay/internal/clock"
	"github.com/psds-microservice/homecam-relay/pkg/constants"
)

// Limiter is a fixed-window counter per key.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clock   clock.Clock
	buckets map[string]bucket
}

type bucket struct {
	start time.Time
	count int
}

func New(limit int, window time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		clock:   clk,
		buckets: map[string]bucket{},
	}
}

// Allow reports whether key may proceed. A nil Limiter allows everything.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	entry := l.buckets[key]
	if entry.start.IsZero() || now.Sub(entry.start) >= l.window {
		entry = bucket{start: now, count: 0}
	}

	if entry.count >= l.limit {
		l.buckets[key] = entry
		return false
	}

	entry.count++
	l.buckets[key] = entry
	return true
}

// Prune drops buckets whose window has passed. Returns how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	n := 0
	for k, b := range l.buckets {
		if now.Sub(b.start) >= l.window {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// Middleware limits by X-User-ID, falling back to the client IP.
func Middleware(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(constants.HeaderUserID)
		if key == "" {
			key = c.ClientIP()
		}
		if !l.Allow(c.FullPath() + "|" + key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": "E_RATE_LIMITED", "error": "too many requests"})
			return
		}
		c.Next()
	}
}
