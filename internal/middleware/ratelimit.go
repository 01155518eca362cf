package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	gatewayerrors "github.com/graphops/query-gateway/internal/pkg/errors"
	"github.com/graphops/query-gateway/internal/pkg/response"
)

// RateLimitConfig defines the per-IP rate limiting window.
type RateLimitConfig struct {
	RequestsPerMinute int
}

// RateLimit returns a middleware enforcing a per-IP requests-per-minute
// budget backed by a Redis incr-then-expire counter. When
// Redis is unreachable a process-local token bucket takes over so a
// rate-limiter outage degrades to coarse limiting rather than none.
func RateLimit(client *redis.Client, cfg RateLimitConfig) func(next http.Handler) http.Handler {
	fallback := rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getRealIP(r)
			key := fmt.Sprintf("ratelimit:ip:%s", ip)
			ctx := r.Context()
			window := time.Minute

			count, err := incrWithExpire(ctx, client, key, window)
			if err != nil {
				if !fallback.Allow() {
					w.Header().Set("Retry-After", "60")
					response.Error(w, gatewayerrors.ErrRateLimited())
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			limit := cfg.RequestsPerMinute
			remaining := limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			resetTime := time.Now().Add(window).Unix()

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

			if int(count) > limit {
				w.Header().Set("Retry-After", "60")
				response.Error(w, gatewayerrors.ErrRateLimited())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// incrWithExpire increments key and, only on its first increment, attaches a
// TTL so the counter resets at the start of the next window.
func incrWithExpire(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// getRealIP extracts the client IP, considering proxies.
func getRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	return r.RemoteAddr
}
