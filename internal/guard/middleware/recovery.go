package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"nileguard/internal/domain"
	"nileguard/internal/guard"
)

// Recovery catches panics from downstream handlers and returns a 500 with
// the AUTHENTICATION_FAILED code: an escaped panic on this path is an
// unexpected failure of the auth plumbing, distinct from every deliberate
// denial.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"error", err,
					"request_id", guard.RequestIDFromContext(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeDenied(w, domain.CodeAuthenticationFailed, "an unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
