package middleware

import (
	"time"

	"github.com/frlabs/sitegate/internal/pkg/apperrors"
	"github.com/frlabs/sitegate/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
	cache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// IPRateLimiter hands out one token bucket per client IP. Idle buckets are
// evicted after ten minutes.
type IPRateLimiter struct {
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
}

func NewIPRateLimiter(qps float64, burst int) *IPRateLimiter {
	limit := rate.Limit(qps)
	if qps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		limiters: cache.New(10*time.Minute, 5*time.Minute),
		limit:    limit,
		burst:    burst,
	}
}

func (l *IPRateLimiter) Allow(ip string) bool {
	if l.limit == rate.Inf {
		return true
	}
	if v, ok := l.limiters.Get(ip); ok {
		lim := v.(*rate.Limiter)
		l.limiters.SetDefault(ip, lim)
		return lim.Allow()
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	if err := l.limiters.Add(ip, lim, cache.DefaultExpiration); err != nil {
		// Lost the race to another request from the same IP.
		if v, ok := l.limiters.Get(ip); ok {
			lim = v.(*rate.Limiter)
		}
	}
	return lim.Allow()
}

// RateLimitMiddleware applies the per-IP token bucket. It runs before any
// request checks; the daily question quota is charged later, by the chat
// handler, only for questions that will reach the upstream API.
func RateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow(c.ClientIP()) {
			metrics.RateLimited.WithLabelValues("burst").Inc()
			c.Error(apperrors.New(apperrors.ErrRateLimited, "Troppe richieste, riprova tra poco", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
