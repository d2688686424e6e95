package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"nileguard/internal/guard"
	"nileguard/internal/platform/telemetry"
)

// RateLimit returns middleware that enforces per-principal quotas: the
// bucket key is the authenticated user when present, the client IP
// otherwise. Place after Authenticate for per-user limiting, before it for
// plain per-IP limiting. The metrics parameter is optional; pass nil to
// skip metric recording.
func RateLimit(limiter guard.RateLimiter, m *telemetry.GuardMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			layer := "ip"
			if p, ok := guard.PrincipalFromContext(r.Context()); ok {
				key = p.UserID
				layer = "principal"
			}

			if result := limiter.Allow(key); !result.Allowed {
				if m != nil {
					m.RecordRateLimitDecision(r.Context(), layer, "denied")
				}
				writeRateLimitError(w, result.RetryAfter)
				return
			}

			if m != nil {
				m.RecordRateLimitDecision(r.Context(), layer, "allowed")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	// Use RemoteAddr directly. X-Forwarded-For is client-controlled and
	// must not be trusted without a validated trusted proxy list.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimitError(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]any{
			"code":       "RATE_LIMITED",
			"message":    "too many requests",
			"retryAfter": retryAfter,
		},
	}); err != nil {
		slog.Error("encoding error response", "error", err)
	}
}
