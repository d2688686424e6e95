package middleware

import (
	"net/http"
	"strings"
	"time"

	"nileguard/internal/guard"
	"nileguard/internal/platform/telemetry"
)

// DefaultSensitivePaths are the read paths audited even though GETs are
// otherwise exempt: clinical results, stock movements, and patient records.
var DefaultSensitivePaths = []string{
	"/results",
	"/critical-values",
	"/stock",
	"/reserve",
	"/commit",
	"/patient",
}

// AuditAccess returns middleware that records sensitive access into the
// injected sink: every mutating request, plus reads whose path matches one
// of sensitivePaths. Must run after Authenticate. The record is emitted
// when the request finishes, whatever its outcome, so denials by later
// checks still leave a trail. The metrics parameter is optional; pass nil
// to skip metric recording.
func AuditAccess(sink guard.AuditSink, sensitivePaths []string, m *telemetry.GuardMetrics) Middleware {
	if sensitivePaths == nil {
		sensitivePaths = DefaultSensitivePaths
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isSensitive(r, sensitivePaths) {
				next.ServeHTTP(w, r)
				return
			}

			// Capture request data before downstream checks mutate it.
			p, _ := guard.PrincipalFromContext(r.Context())
			body, _ := readJSONBody(r)
			resourceID := resolveResourceID(r, body)
			accessType := classifyAccess(r.Method)

			sw := &guard.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			defer func() {
				sink.Record(r.Context(), guard.AuditRecord{
					UserID:         p.UserID,
					Role:           p.Role,
					FacilityID:     p.FacilityID,
					OrganizationID: p.OrganizationID,
					Endpoint:       r.URL.Path,
					Method:         r.Method,
					ResourceID:     resourceID,
					ClientIP:       clientIP(r),
					Timestamp:      time.Now().UTC(),
					AccessType:     accessType,
					Status:         sw.Code,
				})
				if m != nil {
					m.RecordAuditRecord(r.Context(), accessType)
				}
			}()

			next.ServeHTTP(sw, r)
		})
	}
}

func isSensitive(r *http.Request, paths []string) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		for _, p := range paths {
			if strings.Contains(r.URL.Path, p) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func resolveResourceID(r *http.Request, body map[string]any) string {
	if id := stringField(body, "patientId"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("patientId"); id != "" {
		return id
	}
	if id := r.PathValue("patientId"); id != "" {
		return id
	}
	return r.PathValue("id")
}

// classifyAccess maps the HTTP method to a coarse access type for the trail.
func classifyAccess(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "view"
	case http.MethodPost:
		return "create"
	case http.MethodDelete:
		return "delete"
	default:
		return "update"
	}
}
