package domain

import (
	"errors"
	"net/http"
)

// Sentinel errors used across service boundaries.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidToken     = errors.New("invalid token")
	ErrNoPrincipal      = errors.New("no principal attached to request")
	ErrAuthUnavailable  = errors.New("auth service unavailable")
	ErrAuthTimeout      = errors.New("auth service timeout")
	ErrFacilityRequired = errors.New("facility assignment required")
)

// Stable denial codes clients branch on. The HTTP status for each is fixed
// by StatusFor.
const (
	CodeAuthRequired            = "AUTH_REQUIRED"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeInvalidToken            = "INVALID_TOKEN"
	CodeForbidden               = "FORBIDDEN"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodeFacilityRequired        = "FACILITY_REQUIRED"
	CodeCrossFacilityAccess     = "CROSS_FACILITY_ACCESS_DENIED"
	CodeCrossFacilityWrite      = "CROSS_FACILITY_WRITE_DENIED"
	CodeFacilityIDRequired      = "FACILITY_ID_REQUIRED"
	CodeAuthenticationFailed    = "AUTHENTICATION_FAILED"
)

// StatusFor maps a denial code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case CodeAuthRequired, CodeUnauthorized, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeForbidden, CodeInsufficientPermissions, CodeFacilityRequired,
		CodeCrossFacilityAccess, CodeCrossFacilityWrite:
		return http.StatusForbidden
	case CodeFacilityIDRequired:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorDetail carries the stable code plus a terse human message. Messages
// never name facilities beyond what the requester already supplied.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON error envelope returned to clients on every
// rejection.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// NewErrorResponse builds the standard rejection envelope.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Success: false, Error: ErrorDetail{Code: code, Message: message}}
}
