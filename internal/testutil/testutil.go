// Package testutil provides a scriptable in-process Auth authority and
// principal fixtures shared by adapter, middleware, and integration tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"nileguard/internal/domain"
)

// MockAuthority simulates the central Auth service's integration API.
// Tokens are opaque strings seeded per test; revocation and permission
// grants can be changed between requests to exercise the no-caching
// guarantees of the delegate.
type MockAuthority struct {
	mu          sync.Mutex
	users       map[string]domain.Principal // token -> principal
	revoked     map[string]bool
	permissions map[string]bool // userID + "\x00" + permission -> allowed
	apiKey      string          // required X-API-Key when non-empty

	ValidateCalls   atomic.Int64
	PermissionCalls atomic.Int64
	UserCalls       atomic.Int64
}

// NewMockAuthority creates an empty authority. apiKey, when non-empty, is
// enforced on every integration endpoint.
func NewMockAuthority(apiKey string) *MockAuthority {
	return &MockAuthority{
		users:       make(map[string]domain.Principal),
		revoked:     make(map[string]bool),
		permissions: make(map[string]bool),
		apiKey:      apiKey,
	}
}

// Seed registers a token as resolving to the given principal.
func (a *MockAuthority) Seed(token string, p domain.Principal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[token] = p
}

// Revoke marks a token invalid; the next validation reflects it.
func (a *MockAuthority) Revoke(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revoked[token] = true
}

// Grant sets the answer for a user/permission pair.
func (a *MockAuthority) Grant(userID, permission string, allowed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.permissions[userID+"\x00"+permission] = allowed
}

// Handler serves the authority's integration API.
func (a *MockAuthority) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/integration/validate-token", func(w http.ResponseWriter, r *http.Request) {
		a.ValidateCalls.Add(1)
		if !a.checkAPIKey(w, r) {
			return
		}
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, map[string]any{"valid": false, "reason": "malformed request"})
			return
		}

		a.mu.Lock()
		p, ok := a.users[req.Token]
		revoked := a.revoked[req.Token]
		a.mu.Unlock()

		if !ok || revoked {
			writeJSON(w, map[string]any{"valid": false, "reason": "Invalid token"})
			return
		}
		writeJSON(w, map[string]any{"valid": true, "user": principalPayload(p)})
	})

	mux.HandleFunc("POST /api/v1/integration/check-permission", func(w http.ResponseWriter, r *http.Request) {
		a.PermissionCalls.Add(1)
		if !a.checkAPIKey(w, r) {
			return
		}
		var req struct {
			UserID     string `json:"userId"`
			Permission string `json:"permission"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, map[string]any{"allowed": false})
			return
		}

		a.mu.Lock()
		allowed := a.permissions[req.UserID+"\x00"+req.Permission]
		a.mu.Unlock()

		writeJSON(w, map[string]any{"allowed": allowed})
	})

	mux.HandleFunc("GET /api/v1/integration/users/{userId}", func(w http.ResponseWriter, r *http.Request) {
		a.UserCalls.Add(1)
		if !a.checkAPIKey(w, r) {
			return
		}
		userID := r.PathValue("userId")

		a.mu.Lock()
		var found *domain.Principal
		for _, p := range a.users {
			if p.UserID == userID {
				found = &p
				break
			}
		}
		a.mu.Unlock()

		if found == nil {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]any{"success": false})
			return
		}
		writeJSON(w, map[string]any{"success": true, "user": principalPayload(*found)})
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	return mux
}

func (a *MockAuthority) checkAPIKey(w http.ResponseWriter, r *http.Request) bool {
	if a.apiKey == "" || r.Header.Get("X-API-Key") == a.apiKey {
		return true
	}
	w.WriteHeader(http.StatusUnauthorized)
	writeJSON(w, map[string]any{"valid": false, "reason": "invalid service credentials"})
	return false
}

// principalPayload serializes a principal the way the authority's API does,
// using "id" rather than "userId" to exercise the delegate's field mapping.
func principalPayload(p domain.Principal) map[string]any {
	return map[string]any{
		"id":                          p.UserID,
		"email":                       p.Email,
		"username":                    strings.SplitN(p.Email, "@", 2)[0],
		"role":                        p.Role,
		"permissions":                 p.Permissions,
		"organizationId":              p.OrganizationID,
		"facilityId":                  p.FacilityID,
		"canAccessMultipleFacilities": p.CanAccessMultipleFacilities,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// SingleFacilityPrincipal returns a clinician bound to one facility.
func SingleFacilityPrincipal(facilityID string) domain.Principal {
	return domain.Principal{
		UserID:         "user-f1",
		Email:          "nurse@nilecare.example",
		Role:           "nurse",
		Permissions:    []string{"labs:read", "labs:write"},
		OrganizationID: "org-1",
		FacilityID:     facilityID,
	}
}

// MultiFacilityPrincipal returns a medical director allowed to read across
// facilities.
func MultiFacilityPrincipal() domain.Principal {
	return domain.Principal{
		UserID:                      "user-md",
		Email:                       "director@nilecare.example",
		Role:                        "medical_director",
		Permissions:                 []string{"*"},
		OrganizationID:              "org-1",
		CanAccessMultipleFacilities: true,
	}
}
