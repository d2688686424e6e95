package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"nileguard/internal/domain"
	"nileguard/internal/guard"
	"nileguard/internal/platform/telemetry"
)

// RequireRole returns middleware that allows only principals whose role is
// in the given set. Must run after Authenticate. Every denial is logged for
// audit with the actual and required roles.
func RequireRole(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := guard.PrincipalFromContext(r.Context())
			if !ok {
				writeDenied(w, domain.CodeAuthRequired, "authentication required")
				return
			}

			if !slices.Contains(roles, p.Role) {
				slog.Warn("role denied",
					"user_id", p.UserID,
					"role", p.Role,
					"required_roles", roles,
					"endpoint", r.URL.Path,
					"request_id", guard.RequestIDFromContext(r.Context()),
				)
				writeDenied(w, domain.CodeForbidden,
					fmt.Sprintf("requires one of roles: %s", strings.Join(roles, ", ")))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission returns middleware that delegates a permission check to
// the Auth authority. Must run after Authenticate. The delegate fails
// closed, so an unreachable authority denies the request. The metrics
// parameter is optional; pass nil to skip metric recording.
func RequirePermission(validator guard.TokenValidator, permission string, m *telemetry.GuardMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := guard.PrincipalFromContext(r.Context())
			if !ok {
				writeDenied(w, domain.CodeAuthRequired, "authentication required")
				return
			}

			if !validator.CheckPermission(r.Context(), p.UserID, permission) {
				if m != nil {
					m.RecordPolicyDecision(r.Context(), "permission", domain.CodeInsufficientPermissions)
				}
				slog.Warn("permission denied",
					"user_id", p.UserID,
					"role", p.Role,
					"permission", permission,
					"endpoint", r.URL.Path,
					"request_id", guard.RequestIDFromContext(r.Context()),
				)
				writeDenied(w, domain.CodeInsufficientPermissions,
					fmt.Sprintf("requires permission: %s", permission))
				return
			}

			if m != nil {
				m.RecordPolicyDecision(r.Context(), "permission", "allowed")
			}
			next.ServeHTTP(w, r)
		})
	}
}
