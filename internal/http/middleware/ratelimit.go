// README: Per-key token bucket limiter for high-frequency device endpoints.
package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit allows rps requests per second (with burst) per key. The key
// is derived from the request, typically a path parameter.
func RateLimit(rps float64, burst int, key func(*gin.Context) string) gin.HandlerFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	get := func(k string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[k]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[k] = l
		}
		return l
	}
	return func(c *gin.Context) {
		if rps <= 0 {
			c.Next()
			return
		}
		if !get(key(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func ParamKey(name string) func(*gin.Context) string {
	return func(c *gin.Context) string { return c.Param(name) }
}
