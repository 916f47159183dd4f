package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"screen-service/internal/cache"
	"screen-service/internal/metrics"
	"screen-service/pkg/errors"

	"go.uber.org/zap"
)

// RateLimitMiddleware limits requests per client IP. Cache errors fail open
// so a Redis outage never locks devices out of the auth endpoints.
// trustProxy selects whether forwarding headers identify the client.
func RateLimitMiddleware(c cache.Cache, logger *zap.Logger, limit int, window time.Duration, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r, trustProxy)
			exceeded, retryAfter, err := c.CheckRateLimit(r.Context(), "auth:"+ip, limit, window)
			if err != nil {
				logger.Warn("Rate limit check failed, allowing request", zap.String("client_ip", ip), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if exceeded {
				metrics.AuthRateLimited(r.URL.Path)
				if retryAfter <= 0 {
					retryAfter = window
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
				writeError(w, errors.ErrRateLimitExceeded)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the peer address. With trustProxy set it prefers X-Real-IP,
// then the first X-Forwarded-For hop, which any client can forge unless a
// proxy in front rewrites them.
func ClientIP(r *http.Request, trustProxy bool) string {
	ip := r.RemoteAddr
	if !trustProxy {
		if host, _, err := net.SplitHostPort(ip); err == nil {
			return host
		}
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip = strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip = xri
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ip
}
