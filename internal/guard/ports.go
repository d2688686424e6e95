package guard

import (
	"context"
	"net/http"
	"time"

	"nileguard/internal/domain"
)

// TokenValidator delegates token and permission decisions to the central
// Auth authority. Services never verify JWT signatures themselves.
type TokenValidator interface {
	// ValidateToken resolves a raw bearer token (without the "Bearer "
	// prefix) into a principal. Transport failures surface as a negative
	// result, never as an error.
	ValidateToken(ctx context.Context, token string) domain.TokenValidationResult

	// CheckPermission asks the authority whether the user holds the
	// permission. Fails closed: any failure is a denial.
	CheckPermission(ctx context.Context, userID, permission string) bool
}

// AuditRecord is one sensitive-access trail entry.
type AuditRecord struct {
	UserID         string    `json:"userId"`
	Role           string    `json:"role"`
	FacilityID     string    `json:"facilityId,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	ResourceID     string    `json:"resourceId,omitempty"`
	ClientIP       string    `json:"clientIp"`
	Timestamp      time.Time `json:"timestamp"`
	AccessType     string    `json:"accessType"`
	Status         int       `json:"status"`
}

// AuditSink receives access-trail records. Implementations must not block
// the request path; a sink failure never fails the request.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord)
}

// RateLimiter decides whether a request identified by key should be allowed.
type RateLimiter interface {
	Allow(key string) RateLimitResult
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter int // seconds until next token available; 0 if allowed
}

// StatusWriter wraps http.ResponseWriter to capture the status code.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (sw *StatusWriter) WriteHeader(code int) {
	sw.Code = code
	sw.ResponseWriter.WriteHeader(code)
}

// PrincipalFromContext extracts the authenticated principal from a request context.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// ContextWithPrincipal stores the authenticated principal in the context.
func ContextWithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

type principalKey struct{}

// FacilityContextFromRequest re-derives the isolation view from the
// principal on every call. Deriving rather than caching keeps the check
// idempotent and immune to middleware-ordering bugs.
func FacilityContextFromRequest(ctx context.Context) (domain.FacilityContext, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return domain.FacilityContext{}, false
	}
	return domain.NewFacilityContext(p), true
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID stores the request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

type requestIDKey struct{}
