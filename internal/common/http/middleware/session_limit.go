package middleware

import (
	"sync"
	"time"

	pkgerrors "labyrinth/pkg/errors"
	"labyrinth/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// SessionLimiter throttles look/move per session with a token bucket.
type SessionLimiter struct {
	rps      rate.Limit
	burst    int
	limiters *xsync.MapOf[string, *sessionBucket]
	now      func() time.Time
}

type sessionBucket struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	seen    time.Time
}

// NewSessionLimiter allows rps calls per second per session with the given burst.
// A non-positive rps disables limiting.
func NewSessionLimiter(rps float64, burst int) *SessionLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &SessionLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: xsync.NewMapOf[string, *sessionBucket](),
		now:      time.Now,
	}
}

// Middleware limits requests by the :id path parameter.
func (l *SessionLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.rps <= 0 {
			c.Next()
			return
		}
		if !l.Allow(c.Param("id")) {
			response.AbortWithError(c, pkgerrors.New(pkgerrors.TooManyRequests).WithMessage("Too many look/move calls for this session"))
			return
		}
		c.Next()
	}
}

// Allow reports whether one more call for sessionID fits in the bucket.
func (l *SessionLimiter) Allow(sessionID string) bool {
	now := l.now()
	b, _ := l.limiters.LoadOrCompute(sessionID, func() *sessionBucket {
		return &sessionBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
	})
	b.mu.Lock()
	b.seen = now
	b.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// Forget drops the bucket of a finished session.
func (l *SessionLimiter) Forget(sessionID string) {
	l.limiters.Delete(sessionID)
}

// Prune drops buckets idle for longer than idle and returns how many went.
func (l *SessionLimiter) Prune(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	removed := 0
	l.limiters.Range(func(id string, b *sessionBucket) bool {
		b.mu.Lock()
		stale := b.seen.Before(cutoff)
		b.mu.Unlock()
		if stale {
			l.limiters.Delete(id)
			removed++
		}
		return true
	})
	return removed
}

// Len reports the number of tracked sessions.
func (l *SessionLimiter) Len() int {
	return l.limiters.Size()
}
