package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/blacktop/unipost/internal/logutil"
)

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-ID", reqID)
		c.Next()

		l := logutil.With(
			"request_id", reqID,
			"status", c.Writer.Status(),
			"latency", time.Since(start).Round(time.Millisecond),
		)
		if len(c.Errors) > 0 {
			l.Warnf("%s %s: %s", c.Request.Method, c.Request.URL.Path, c.Errors.String())
			return
		}
		l.Infof("%s %s", c.Request.Method, c.Request.URL.Path)
	}
}

const bucketIdleTTL = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiter hands out one token bucket per key. Buckets idle for longer than
// idle and already refilled to burst are swept, so dropping them does not
// change any caller's allowance.
type limiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	buckets   map[string]*bucket
}

func newLimiter(perSecond float64, burst int) *limiter {
	if burst <= 0 {
		burst = 1
	}
	return &limiter{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		idle:      bucketIdleTTL,
		now:       time.Now,
		lastSweep: time.Now(),
		buckets:   map[string]*bucket{},
	}
}

func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (l *limiter) sweep(now time.Time) {
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= l.idle && b.lim.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// rateLimit keys on the authenticated user, falling back to the client IP.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		key := currentUser(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !s.limiter.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
