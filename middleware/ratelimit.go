package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LimiterSet hands out one token bucket per key and forgets keys that have
// been idle for ten minutes.
type LimiterSet struct {
	r rate.Limit
	b int

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
	sweptAt  time.Time
}

func NewLimiterSet(r rate.Limit, b int) *LimiterSet {
	return &LimiterSet{r: r, b: b, limiters: make(map[string]*keyedLimiter), sweptAt: time.Now()}
}

// Allow spends one token from key's bucket.
func (s *LimiterSet) Allow(key string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.sweptAt) > 5*time.Minute {
		cutoff := now.Add(-10 * time.Minute)
		for k, l := range s.limiters {
			if l.lastSeen.Before(cutoff) {
				delete(s.limiters, k)
			}
		}
		s.sweptAt = now
	}

	l, ok := s.limiters[key]
	if !ok {
		l = &keyedLimiter{limiter: rate.NewLimiter(s.r, s.b)}
		s.limiters[key] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// Len is the number of tracked keys.
func (s *LimiterSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimit provides token-bucket rate limiting per authenticated owner, or
// per client IP before authentication. r = requests per second, b = burst.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	set := NewLimiterSet(r, b)
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if owner := GetOwner(c); owner != "" {
			key = "owner:" + owner
		}
		if !set.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
