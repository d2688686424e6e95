package domain

import "strings"

// Principal represents the authenticated identity resolved from a bearer
// token by the central Auth authority. It lives for one request and is
// never persisted.
type Principal struct {
	UserID                      string
	Email                       string
	Role                        string
	Permissions                 []string
	OrganizationID              string
	FacilityID                  string
	CanAccessMultipleFacilities bool
}

// HasPermission reports whether the principal holds the given permission.
// Permissions may carry wildcard segments: "*" grants everything and
// "labs:*" grants every action on the labs resource.
func (p Principal) HasPermission(perm string) bool {
	if perm == "" {
		return false
	}
	for _, held := range p.Permissions {
		if held == perm || held == "*" {
			return true
		}
		if res, ok := strings.CutSuffix(held, ":*"); ok && strings.HasPrefix(perm, res+":") {
			return true
		}
	}
	return false
}

// FacilityContext is the projection of a Principal that isolation
// decisions read. Derived per request, read-only.
type FacilityContext struct {
	UserID                      string
	OrganizationID              string
	FacilityID                  string
	UserRole                    string
	CanAccessMultipleFacilities bool
}

// NewFacilityContext derives the isolation view of a principal.
func NewFacilityContext(p Principal) FacilityContext {
	return FacilityContext{
		UserID:                      p.UserID,
		OrganizationID:              p.OrganizationID,
		FacilityID:                  p.FacilityID,
		UserRole:                    p.Role,
		CanAccessMultipleFacilities: p.CanAccessMultipleFacilities,
	}
}

// TokenValidationResult is the outcome of one validation round trip to the
// Auth authority. Valid=false implies User is nil. Never cached: the next
// request asks the authority again, so revocation takes effect immediately.
type TokenValidationResult struct {
	Valid  bool
	User   *Principal
	Reason string
}
