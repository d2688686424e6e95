package authority_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nileguard/internal/guard/adapter/authority"
	"nileguard/internal/testutil"
)

func newClient(t *testing.T, baseURL string) *authority.Client {
	t.Helper()
	return authority.NewClient(baseURL, "lab-service", "test-key", 2*time.Second, nil)
}

func TestValidateTokenSuccess(t *testing.T) {
	auth := testutil.NewMockAuthority("test-key")
	auth.Seed("tok-1", testutil.SingleFacilityPrincipal("F1"))
	srv := httptest.NewServer(auth.Handler())
	defer srv.Close()

	client := newClient(t, srv.URL)
	result := client.ValidateToken(context.Background(), "tok-1")

	if !result.Valid {
		t.Fatalf("expected valid result, got reason %q", result.Reason)
	}
	if result.User == nil {
		t.Fatal("expected user on valid result")
	}
	// The authority serves the user id under "id"; the client must map it.
	if result.User.UserID != "user-f1" {
		t.Errorf("expected user-f1, got %q", result.User.UserID)
	}
	if result.User.FacilityID != "F1" {
		t.Errorf("expected facility F1, got %q", result.User.FacilityID)
	}
	if result.User.OrganizationID != "org-1" {
		t.Errorf("expected org-1, got %q", result.User.OrganizationID)
	}
	if len(result.User.Permissions) != 2 {
		t.Errorf("expected 2 permissions, got %v", result.User.Permissions)
	}
}

func TestValidateTokenUnknown(t *testing.T) {
	auth := testutil.NewMockAuthority("test-key")
	srv := httptest.NewServer(auth.Handler())
	defer srv.Close()

	client := newClient(t, srv.URL)
	result := client.ValidateToken(context.Background(), "no-such-token")

	if result.Valid {
		t.Fatal("expected invalid result")
	}
	if result.Reason != "Invalid token" {
		t.Errorf("expected upstream reason, got %q", result.Reason)
	}
}

func TestValidateTokenEmptySkipsCall(t *testing.T) {
	auth := testutil.NewMockAuthority("test-key")
	srv := httptest.NewServer(auth.Handler())
	defer srv.Close()

	client := newClient(t, srv.URL)
	result := client.ValidateToken(context.Background(), "")

	if result.Valid {
		t.Fatal("expected invalid result for empty token")
	}
	if auth.ValidateCalls.Load() != 0 {
		t.Errorf("expected no authority calls for empty token, got %d", auth.ValidateCalls.Load())
	}
}

func TestValidateTokenRevocationImmediate(t *testing.T) {
	// No caching: a token revoked between two requests is rejected on the
	// second, and both requests reach the authority.
	auth := testutil.NewMockAuthority("test-key")
	auth.Seed("tok-1", testutil.SingleFacilityPrincipal("F1"))
	srv := httptest.NewServer(auth.Handler())
	defer srv.Close()

	client := newClient(t, srv.URL)

	if result := client.ValidateToken(context.Background(), "tok-1"); !result.Valid {
		t.Fatalf("expected first validation to pass, got %q", result.Reason)
	}

	auth.Revoke("tok-1")

	if result := client.ValidateToken(context.Background(), "tok-1"); result.Valid {
		t.Fatal("expected revoked token to be rejected")
	}
	if auth.ValidateCalls.Load() != 2 {
		t.Errorf("expected 2 authority calls, got %d", auth.ValidateCalls.Load())
	}
}

func TestValidateTokenFailsClosed(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantReason string
	}{
		{
			name: "authority returns 500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantReason: "Auth service unavailable",
		},
		{
			name: "malformed response body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
			wantReason: "Auth service unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := newClient(t, srv.URL)
			result := client.ValidateToken(context.Background(), "tok-1")

			if result.Valid {
				t.Fatal("expected invalid result")
			}
			if result.Reason != tt.wantReason {
				t.Errorf("expected reason %q, got %q", tt.wantReason, result.Reason)
			}
		})
	}
}

func TestValidateTokenUnreachableAuthority(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // no listener left behind the URL

	client := newClient(t, srv.URL)
	result := client.ValidateToken(context.Background(), "tok-1")

	if result.Valid {
		t.Fatal("expected invalid result when authority is down")
	}
	if result.Reason != "Auth service unavailable" {
		t.Errorf("expected unavailable reason, got %q", result.Reason)
	}
}

func TestValidateTokenTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := authority.NewClient(srv.URL, "lab-service", "test-key", 20*time.Millisecond, nil)
	result := client.ValidateToken(context.Background(), "tok-1")

	if result.Valid {
		t.Fatal("expected invalid result on timeout")
	}
	if result.Reason != "Auth service timeout" {
		t.Errorf("expected timeout reason, got %q", result.Reason)
	}
}

func TestOutboundHeaders(t *testing.T) {
	var gotServiceID, gotAPIKey, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotServiceID = r.Header.Get("X-Service-ID")
		gotAPIKey = r.Header.Get("X-API-Key")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Write([]byte(`{"valid":false,"reason":"Invalid token"}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)
	client.ValidateToken(context.Background(), "tok-1")

	if gotServiceID != "lab-service" {
		t.Errorf("expected X-Service-ID lab-service, got %q", gotServiceID)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("expected X-API-Key test-key, got %q", gotAPIKey)
	}
	if gotRequestID == "" {
		t.Error("expected X-Request-ID on outbound call")
	}
}

func TestCheckPermission(t *testing.T) {
	auth := testutil.NewMockAuthority("test-key")
	auth.Grant("user-f1", "labs:read", true)
	srv := httptest.NewServer(auth.Handler())
	defer srv.Close()

	client := newClient(t, srv.URL)

	if !client.CheckPermission(context.Background(), "user-f1", "labs:read") {
		t.Error("expected granted permission to be allowed")
	}
	if client.CheckPermission(context.Background(), "user-f1", "labs:delete") {
		t.Error("expected ungranted permission to be denied")
	}
	if auth.PermissionCalls.Load() != 2 {
		t.Errorf("expected 2 permission calls, got %d", auth.PermissionCalls.Load())
	}
}

func TestCheckPermissionFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)
	if client.CheckPermission(context.Background(), "user-f1", "labs:read") {
		t.Error("expected denial when the authority errors")
	}
}

func TestGetUserByID(t *testing.T) {
	auth := testutil.NewMockAuthority("test-key")
	auth.Seed("tok-1", testutil.SingleFacilityPrincipal("F1"))
	srv := httptest.NewServer(auth.Handler())
	defer srv.Close()

	client := newClient(t, srv.URL)

	p := client.GetUserByID(context.Background(), "user-f1")
	if p == nil {
		t.Fatal("expected principal")
	}
	if p.UserID != "user-f1" || p.FacilityID != "F1" {
		t.Errorf("unexpected principal %+v", p)
	}

	if p := client.GetUserByID(context.Background(), "nobody"); p != nil {
		t.Errorf("expected nil for unknown user, got %+v", p)
	}
}

func TestHealthCheck(t *testing.T) {
	auth := testutil.NewMockAuthority("test-key")
	srv := httptest.NewServer(auth.Handler())

	client := newClient(t, srv.URL)
	if !client.HealthCheck(context.Background()) {
		t.Error("expected healthy authority")
	}

	srv.Close()
	if client.HealthCheck(context.Background()) {
		t.Error("expected unhealthy after shutdown")
	}
}
