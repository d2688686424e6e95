package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"nileguard/internal/domain"
	"nileguard/internal/guard"
	"nileguard/internal/platform/telemetry"
)

// Authenticate returns middleware that resolves the bearer token through
// the Auth authority and attaches the resulting principal to the request
// context. A missing or malformed Authorization header is rejected before
// any outbound call is made. When logSuccess is true every successful
// authentication emits a structured log line. The metrics parameter is
// optional; pass nil to skip metric recording.
func Authenticate(validator guard.TokenValidator, logSuccess bool, m *telemetry.GuardMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				if m != nil {
					m.RecordTokenValidation(r.Context(), "rejected_header")
				}
				writeDenied(w, domain.CodeUnauthorized, "missing or malformed authorization header")
				return
			}

			result := validator.ValidateToken(r.Context(), token)
			if !result.Valid || result.User == nil {
				if m != nil {
					m.RecordTokenValidation(r.Context(), "failure")
				}
				reason := result.Reason
				if reason == "" {
					reason = "Invalid token"
				}
				writeDenied(w, domain.CodeInvalidToken, reason)
				return
			}

			if m != nil {
				m.RecordTokenValidation(r.Context(), "success")
			}
			if logSuccess {
				slog.Info("authenticated",
					"user_id", result.User.UserID,
					"role", result.User.Role,
					"facility_id", result.User.FacilityID,
					"request_id", guard.RequestIDFromContext(r.Context()),
				)
			}
			ctx := guard.ContextWithPrincipal(r.Context(), *result.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches a principal when a valid token is presented and
// silently continues without one otherwise. Used for endpoints with tiered
// anonymous/authenticated behavior.
func OptionalAuth(validator guard.TokenValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			result := validator.ValidateToken(r.Context(), token)
			if !result.Valid || result.User == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := guard.ContextWithPrincipal(r.Context(), *result.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// writeDenied emits the standard rejection envelope with the status fixed
// by the denial code.
func writeDenied(w http.ResponseWriter, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(domain.StatusFor(code))
	if err := json.NewEncoder(w).Encode(domain.NewErrorResponse(code, msg)); err != nil {
		slog.Error("encoding error response", "error", err)
	}
}
