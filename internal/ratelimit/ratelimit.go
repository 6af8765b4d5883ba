// Package ratelimit throttles requests per principal with a Redis-backed
// GCRA limiter.
package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"pricealerts/internal/auth"
	"pricealerts/internal/metrics"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "alerts_rate:"

// Limiter is the part of redis_rate.Limiter the middleware uses.
type Limiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

// NewRedisLimiter returns a redis_rate limiter on client.
func NewRedisLimiter(client *redis.Client) *redis_rate.Limiter {
	return redis_rate.NewLimiter(client)
}

// Middleware allows perMinute requests per principal. Requests without a
// principal are keyed by remote address. Limiter errors let the request
// through.
func Middleware(limiter Limiter, perMinute int, log *zap.Logger) func(http.Handler) http.Handler {
	limit := redis_rate.PerMinute(perMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
				key = principal
			}

			res, err := limiter.Allow(r.Context(), keyPrefix+key, limit)
			if err != nil {
				log.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Rate))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if res.Allowed == 0 {
				metrics.RecordRateLimited()
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
