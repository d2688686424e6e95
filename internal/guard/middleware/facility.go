package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"nileguard/internal/domain"
	"nileguard/internal/guard"
	"nileguard/internal/platform/telemetry"
)

// RequireFacility rejects principals that have neither a facility
// assignment nor the multi-facility override. Optional check: services that
// tolerate unscoped reads compose ValidateFacilityAccess alone instead.
// The metrics parameter is optional; pass nil to skip metric recording.
func RequireFacility(m *telemetry.GuardMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fc, ok := guard.FacilityContextFromRequest(r.Context())
			if !ok {
				writeDenied(w, domain.CodeAuthRequired, "authentication required")
				return
			}

			if fc.FacilityID == "" && !fc.CanAccessMultipleFacilities {
				if m != nil {
					m.RecordPolicyDecision(r.Context(), "require_facility", domain.CodeFacilityRequired)
				}
				slog.Warn("principal has no facility assignment",
					"user_id", fc.UserID,
					"role", fc.UserRole,
					"endpoint", r.URL.Path,
				)
				writeDenied(w, domain.CodeFacilityRequired, "no facility assignment")
				return
			}

			if m != nil {
				m.RecordPolicyDecision(r.Context(), "require_facility", "allowed")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateFacilityAccess enforces tenant boundaries on the read/query path.
// The requested facility is taken from the body, then the query string,
// then the path parameter. When no facility is requested the principal's
// own facility is injected so downstream logic always has a value to
// filter on. Multi-facility principals pass any explicit facility; everyone
// else must match their own.
func ValidateFacilityAccess(m *telemetry.GuardMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fc, ok := guard.FacilityContextFromRequest(r.Context())
			if !ok {
				writeDenied(w, domain.CodeAuthRequired, "authentication required")
				return
			}

			body, bodyIsJSON := readJSONBody(r)

			requested := ""
			if bodyIsJSON {
				requested = stringField(body, "facilityId")
			}
			if requested == "" {
				requested = r.URL.Query().Get("facilityId")
			}
			if requested == "" {
				requested = r.PathValue("facilityId")
			}

			if requested == "" {
				// Auto-injection fills only an absent filter, never an
				// explicit one.
				if fc.FacilityID != "" {
					injectFacilityFilter(r, body, bodyIsJSON, fc.FacilityID)
				}
				if m != nil {
					m.RecordPolicyDecision(r.Context(), "validate_access", "allowed")
				}
				next.ServeHTTP(w, r)
				return
			}

			if fc.CanAccessMultipleFacilities {
				slog.Info("multi-facility access",
					"user_id", fc.UserID,
					"role", fc.UserRole,
					"facility_id", requested,
					"endpoint", r.URL.Path,
					"method", r.Method,
				)
				if m != nil {
					m.RecordPolicyDecision(r.Context(), "validate_access", "allowed")
				}
				next.ServeHTTP(w, r)
				return
			}

			if requested != fc.FacilityID {
				slog.Warn("cross-facility access denied",
					"user_id", fc.UserID,
					"role", fc.UserRole,
					"own_facility", fc.FacilityID,
					"requested_facility", requested,
					"endpoint", r.URL.Path,
					"method", r.Method,
					"client_ip", clientIP(r),
				)
				if m != nil {
					m.RecordPolicyDecision(r.Context(), "validate_access", domain.CodeCrossFacilityAccess)
				}
				writeDenied(w, domain.CodeCrossFacilityAccess, "access to this facility is not permitted")
				return
			}

			if m != nil {
				m.RecordPolicyDecision(r.Context(), "validate_access", "allowed")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// EnforceFacilityOnWrite scopes every mutating request to the principal's
// facility and organization. The facility is auto-injected when absent; an
// explicit mismatch is rejected, never overwritten. Organization scoping
// has no multi-facility override.
func EnforceFacilityOnWrite(m *telemetry.GuardMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			fc, ok := guard.FacilityContextFromRequest(r.Context())
			if !ok {
				writeDenied(w, domain.CodeAuthRequired, "authentication required")
				return
			}

			body, bodyIsJSON := readJSONBody(r)
			changed := false

			declared := ""
			if bodyIsJSON {
				declared = stringField(body, "facilityId")
			}

			switch {
			case declared == "":
				if fc.FacilityID != "" {
					if bodyIsJSON {
						if body == nil {
							body = map[string]any{}
						}
						body["facilityId"] = fc.FacilityID
						changed = true
					}
				} else if !fc.CanAccessMultipleFacilities {
					// A write with no resolvable tenant is invalid, not
					// silently globally scoped.
					if m != nil {
						m.RecordPolicyDecision(r.Context(), "enforce_write", domain.CodeFacilityIDRequired)
					}
					writeDenied(w, domain.CodeFacilityIDRequired, "facilityId is required for this operation")
					return
				}
			case declared != fc.FacilityID && !fc.CanAccessMultipleFacilities:
				slog.Warn("cross-facility write denied",
					"user_id", fc.UserID,
					"role", fc.UserRole,
					"own_facility", fc.FacilityID,
					"declared_facility", declared,
					"endpoint", r.URL.Path,
					"method", r.Method,
					"client_ip", clientIP(r),
				)
				if m != nil {
					m.RecordPolicyDecision(r.Context(), "enforce_write", domain.CodeCrossFacilityWrite)
				}
				writeDenied(w, domain.CodeCrossFacilityWrite, "writes to this facility are not permitted")
				return
			}

			// Organization scoping applies to every write, override or not.
			if bodyIsJSON && fc.OrganizationID != "" && stringField(body, "organizationId") == "" {
				if body == nil {
					body = map[string]any{}
				}
				body["organizationId"] = fc.OrganizationID
				changed = true
			}

			if changed {
				setJSONBody(r, body)
			}

			if m != nil {
				m.RecordPolicyDecision(r.Context(), "enforce_write", "allowed")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// injectFacilityFilter adds the principal's facility to the request so
// downstream handlers filter on it: into the JSON body when the request
// carries one, otherwise into the query string.
func injectFacilityFilter(r *http.Request, body map[string]any, bodyIsJSON bool, facilityID string) {
	if bodyIsJSON && body != nil {
		body["facilityId"] = facilityID
		setJSONBody(r, body)
		return
	}
	q := r.URL.Query()
	q.Set("facilityId", facilityID)
	r.URL.RawQuery = q.Encode()
}

// readJSONBody reads and restores the request body. The second return is
// false only when a body is present but is not a JSON object; an empty or
// absent body yields (nil, true).
func readJSONBody(r *http.Request) (map[string]any, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true
	}
	data, err := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, true
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return m, true
}

// setJSONBody replaces the request body with the re-encoded object.
func setJSONBody(r *http.Request, body map[string]any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("re-encoding request body", "error", err)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	r.ContentLength = int64(len(data))
	r.Header.Set("Content-Type", "application/json")
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
