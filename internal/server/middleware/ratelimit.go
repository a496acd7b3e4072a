package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/everest/internal/domain"
)

// RateLimit caps each client at limit requests per window. Clients that
// present an API key share one budget per key; anonymous clients are keyed
// by IP. Paths in exempt bypass the limiter. Limiter errors let the request
// through.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger, exempt ...string) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(max(int(window.Seconds()), 1))
	limitHdr := strconv.Itoa(limit)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path, exempt) {
				next.ServeHTTP(w, r)
				return
			}

			key := clientKey(r)
			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				logger.WarnContext(r.Context(), "middleware: rate limiter unavailable",
					slog.String("client", key),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", limitHdr)
			if !allowed {
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey names the budget a request draws from. Keys are hashed so they
// never reach the limiter backend in clear text.
func clientKey(r *http.Request) string {
	if token := credential(r); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "key:" + hex.EncodeToString(sum[:8])
	}
	return "ip:" + clientIP(r)
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket address.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
