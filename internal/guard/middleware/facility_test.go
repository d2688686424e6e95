package middleware_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nileguard/internal/domain"
	"nileguard/internal/guard/middleware"
	"nileguard/internal/testutil"
)

func echoBody(t *testing.T, captured *map[string]any) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("reading body: %v", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, captured); err != nil {
				t.Fatalf("decoding body %q: %v", data, err)
			}
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireFacility(t *testing.T) {
	tests := []struct {
		name       string
		principal  *domain.Principal
		wantStatus int
		wantCode   string
	}{
		{
			name:       "no principal",
			principal:  nil,
			wantStatus: http.StatusUnauthorized,
			wantCode:   domain.CodeAuthRequired,
		},
		{
			name: "no facility and no override",
			principal: &domain.Principal{
				UserID: "u1", Role: "nurse", OrganizationID: "org-1",
			},
			wantStatus: http.StatusForbidden,
			wantCode:   domain.CodeFacilityRequired,
		},
		{
			name:       "facility assigned",
			principal:  ptr(testutil.SingleFacilityPrincipal("F1")),
			wantStatus: http.StatusOK,
		},
		{
			name:       "multi-facility override without assignment",
			principal:  ptr(testutil.MultiFacilityPrincipal()),
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := middleware.RequireFacility(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/labs", nil)
			if tt.principal != nil {
				req = withPrincipal(req, *tt.principal)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantCode != "" {
				if errResp := decodeError(t, rec); errResp.Error.Code != tt.wantCode {
					t.Errorf("expected code %q, got %q", tt.wantCode, errResp.Error.Code)
				}
			}
		})
	}
}

func ptr(p domain.Principal) *domain.Principal { return &p }

func TestValidateAccessCrossFacilityQueryDenied(t *testing.T) {
	// Single-facility principal requesting another facility's data.
	handler := middleware.ValidateFacilityAccess(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/labs?facilityId=F2", nil),
		testutil.SingleFacilityPrincipal("F1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if errResp := decodeError(t, rec); errResp.Error.Code != domain.CodeCrossFacilityAccess {
		t.Errorf("expected CROSS_FACILITY_ACCESS_DENIED, got %q", errResp.Error.Code)
	}
}

func TestValidateAccessAutoInjectsQueryFilter(t *testing.T) {
	// No facility requested: the principal's own facility becomes the filter.
	var gotQuery string
	handler := middleware.ValidateFacilityAccess(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("facilityId")
		w.WriteHeader(http.StatusOK)
	}))

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/labs", nil),
		testutil.SingleFacilityPrincipal("F1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotQuery != "F1" {
		t.Errorf("expected injected facility filter F1, got %q", gotQuery)
	}
}

func TestValidateAccessAutoInjectsBodyField(t *testing.T) {
	var captured map[string]any
	handler := middleware.ValidateFacilityAccess(nil)(echoBody(t, &captured))

	req := httptest.NewRequest(http.MethodPost, "/labs/search", strings.NewReader(`{"status":"pending"}`))
	req.Header.Set("Content-Type", "application/json")
	req = withPrincipal(req, testutil.SingleFacilityPrincipal("F1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured["facilityId"] != "F1" {
		t.Errorf("expected facilityId injected into body, got %v", captured["facilityId"])
	}
	if captured["status"] != "pending" {
		t.Errorf("expected original body fields preserved, got %v", captured)
	}
}

func TestValidateAccessMultiFacilityOverride(t *testing.T) {
	// A multi-facility principal may read any facility it names.
	called := false
	handler := middleware.ValidateFacilityAccess(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/labs?facilityId=F2", nil),
		testutil.MultiFacilityPrincipal())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("handler should have been called")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestValidateAccessMatchingFacilityPasses(t *testing.T) {
	handler := middleware.ValidateFacilityAccess(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/labs?facilityId=F1", nil),
		testutil.SingleFacilityPrincipal("F1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestValidateAccessBodyClaimMismatch(t *testing.T) {
	handler := middleware.ValidateFacilityAccess(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/labs/search", strings.NewReader(`{"facilityId":"F2"}`))
	req.Header.Set("Content-Type", "application/json")
	req = withPrincipal(req, testutil.SingleFacilityPrincipal("F1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestValidateAccessPathParamClaim(t *testing.T) {
	// The path parameter is the last fallback for the requested facility.
	mux := http.NewServeMux()
	mux.Handle("GET /facilities/{facilityId}/labs",
		middleware.ValidateFacilityAccess(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	t.Run("own facility passes", func(t *testing.T) {
		req := withPrincipal(httptest.NewRequest(http.MethodGet, "/facilities/F1/labs", nil),
			testutil.SingleFacilityPrincipal("F1"))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("foreign facility denied", func(t *testing.T) {
		req := withPrincipal(httptest.NewRequest(http.MethodGet, "/facilities/F2/labs", nil),
			testutil.SingleFacilityPrincipal("F1"))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})
}

func TestValidateAccessUnassignedPrincipalUnfilteredRead(t *testing.T) {
	// A principal with no facility and no override may still issue reads
	// that name no facility; only an explicit mismatch is rejected here.
	handler := middleware.ValidateFacilityAccess(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	p := domain.Principal{UserID: "u1", Role: "nurse", OrganizationID: "org-1"}
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/labs", nil), p)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestValidateAccessNoPrincipal(t *testing.T) {
	handler := middleware.ValidateFacilityAccess(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/labs", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if errResp := decodeError(t, rec); errResp.Error.Code != domain.CodeAuthRequired {
		t.Errorf("expected AUTH_REQUIRED, got %q", errResp.Error.Code)
	}
}

func TestValidateAccessIdempotentExtraction(t *testing.T) {
	// Duplicate registration of the same check must change nothing: each
	// pass re-derives the context rather than trusting prior attachment.
	var gotQuery string
	handler := middleware.Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query().Get("facilityId")
			w.WriteHeader(http.StatusOK)
		}),
		middleware.ValidateFacilityAccess(nil),
		middleware.ValidateFacilityAccess(nil),
	)

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/labs", nil),
		testutil.SingleFacilityPrincipal("F1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotQuery != "F1" {
		t.Errorf("expected facility filter F1 after duplicate checks, got %q", gotQuery)
	}
}

func TestEnforceWritePassThroughForReads(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			handler := middleware.EnforceFacilityOnWrite(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			// No principal needed: read methods bypass write enforcement.
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(method, "/labs", nil))

			if !called {
				t.Error("handler should have been called")
			}
		})
	}
}

func TestEnforceWriteAutoInjection(t *testing.T) {
	// Absent facility and organization are filled from the principal.
	var captured map[string]any
	handler := middleware.EnforceFacilityOnWrite(nil)(echoBody(t, &captured))

	req := httptest.NewRequest(http.MethodPost, "/labs", strings.NewReader(`{"test":"cbc"}`))
	req.Header.Set("Content-Type", "application/json")
	req = withPrincipal(req, testutil.SingleFacilityPrincipal("F1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured["facilityId"] != "F1" {
		t.Errorf("expected injected facilityId F1, got %v", captured["facilityId"])
	}
	if captured["organizationId"] != "org-1" {
		t.Errorf("expected injected organizationId org-1, got %v", captured["organizationId"])
	}
	if captured["test"] != "cbc" {
		t.Errorf("expected original fields preserved, got %v", captured)
	}
}

func TestEnforceWriteMatchingFacilityUnchanged(t *testing.T) {
	// Scenario: body already declares the principal's own facility.
	var captured map[string]any
	handler := middleware.EnforceFacilityOnWrite(nil)(echoBody(t, &captured))

	req := httptest.NewRequest(http.MethodPost, "/labs",
		strings.NewReader(`{"facilityId":"F1","organizationId":"org-9"}`))
	req.Header.Set("Content-Type", "application/json")
	req = withPrincipal(req, testutil.SingleFacilityPrincipal("F1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured["facilityId"] != "F1" {
		t.Errorf("facilityId must be untouched, got %v", captured["facilityId"])
	}
	// Present values are never overwritten, only absent ones filled.
	if captured["organizationId"] != "org-9" {
		t.Errorf("explicit organizationId must be preserved, got %v", captured["organizationId"])
	}
}

func TestEnforceWriteCrossFacilityDenied(t *testing.T) {
	handler := middleware.EnforceFacilityOnWrite(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/labs", strings.NewReader(`{"facilityId":"F2"}`))
	req.Header.Set("Content-Type", "application/json")
	req = withPrincipal(req, testutil.SingleFacilityPrincipal("F1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if errResp := decodeError(t, rec); errResp.Error.Code != domain.CodeCrossFacilityWrite {
		t.Errorf("expected CROSS_FACILITY_WRITE_DENIED, got %q", errResp.Error.Code)
	}
}

func TestEnforceWriteNoResolvableFacility(t *testing.T) {
	// Scenario: facility-less principal, no facility in body.
	handler := middleware.EnforceFacilityOnWrite(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	p := domain.Principal{UserID: "u1", Role: "nurse", OrganizationID: "org-1"}
	req := httptest.NewRequest(http.MethodPost, "/labs", strings.NewReader(`{"test":"cbc"}`))
	req.Header.Set("Content-Type", "application/json")
	req = withPrincipal(req, p)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if errResp := decodeError(t, rec); errResp.Error.Code != domain.CodeFacilityIDRequired {
		t.Errorf("expected FACILITY_ID_REQUIRED, got %q", errResp.Error.Code)
	}
}

func TestEnforceWriteMultiFacilityOrgStillScoped(t *testing.T) {
	// The multi-facility override never bypasses organization scoping.
	var captured map[string]any
	handler := middleware.EnforceFacilityOnWrite(nil)(echoBody(t, &captured))

	req := httptest.NewRequest(http.MethodPost, "/labs", strings.NewReader(`{"facilityId":"F2"}`))
	req.Header.Set("Content-Type", "application/json")
	req = withPrincipal(req, testutil.MultiFacilityPrincipal())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured["facilityId"] != "F2" {
		t.Errorf("multi-facility write to F2 must pass unchanged, got %v", captured["facilityId"])
	}
	if captured["organizationId"] != "org-1" {
		t.Errorf("expected organizationId auto-injected, got %v", captured["organizationId"])
	}
}

func TestEnforceWriteEmptyBodyInjected(t *testing.T) {
	var captured map[string]any
	handler := middleware.EnforceFacilityOnWrite(nil)(echoBody(t, &captured))

	req := httptest.NewRequest(http.MethodPost, "/labs", nil)
	req = withPrincipal(req, testutil.SingleFacilityPrincipal("F1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured["facilityId"] != "F1" || captured["organizationId"] != "org-1" {
		t.Errorf("expected tenant fields injected into empty body, got %v", captured)
	}
}

func TestEnforceWriteNoPrincipal(t *testing.T) {
	handler := middleware.EnforceFacilityOnWrite(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/labs", strings.NewReader(`{}`))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
