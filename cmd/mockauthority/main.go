// mockauthority simulates the central NileCare Auth service for local
// development: it issues RS256 tokens, answers the integration API that
// every service delegates to, and supports revocation so the no-caching
// guarantee of the delegate is observable.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nileguard/internal/domain"
	"nileguard/internal/platform/server"
)

const tokenTTL = 15 * time.Minute

type account struct {
	password  string
	principal domain.Principal
}

func main() {
	addr := envOr("AUTHORITY_ADDR", ":8081")
	apiKey := envOr("AUTH_API_KEY", "dev-api-key")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		slog.Error("generating RSA key", "error", err)
		os.Exit(1)
	}

	// Seed accounts covering the roles the policy engine distinguishes.
	accounts := map[string]account{
		"nurse": {password: "nurse", principal: domain.Principal{
			UserID: "user-nurse", Email: "nurse@nilecare.example", Role: "nurse",
			Permissions:    []string{"labs:read", "labs:write"},
			OrganizationID: "org-1", FacilityID: "F1",
		}},
		"doctor": {password: "doctor", principal: domain.Principal{
			UserID: "user-doctor", Email: "doctor@nilecare.example", Role: "doctor",
			Permissions:    []string{"labs:*", "medications:*"},
			OrganizationID: "org-1", FacilityID: "F1",
		}},
		"director": {password: "director", principal: domain.Principal{
			UserID: "user-director", Email: "director@nilecare.example", Role: "medical_director",
			Permissions:    []string{"*"},
			OrganizationID: "org-1", CanAccessMultipleFacilities: true,
		}},
	}

	var mu sync.Mutex
	revoked := map[string]bool{}

	slog.Info("mock auth authority starting", "addr", addr,
		"accounts", "nurse, doctor, director (password = username)")

	requireAPIKey := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != apiKey {
				w.WriteHeader(http.StatusUnauthorized)
				writeJSON(w, map[string]any{"valid": false, "reason": "invalid service credentials"})
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	// Token issuance for interactive use.
	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"error": "invalid JSON body"})
			return
		}
		acct, ok := accounts[req.Username]
		if !ok || acct.password != req.Password {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]string{"error": "invalid credentials"})
			return
		}

		now := time.Now()
		claims := jwt.MapClaims{
			"sub": acct.principal.UserID,
			"iat": now.Unix(),
			"exp": now.Add(tokenTTL).Unix(),
			"iss": "nilecare-auth",
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": "failed to sign token"})
			return
		}
		writeJSON(w, map[string]any{
			"access_token": signed,
			"token_type":   "Bearer",
			"expires_in":   int(tokenTTL.Seconds()),
		})
	})

	// Revocation — the next validate-token call reflects it immediately.
	mux.HandleFunc("POST /auth/revoke", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"error": "token required"})
			return
		}
		mu.Lock()
		revoked[req.Token] = true
		mu.Unlock()
		writeJSON(w, map[string]bool{"revoked": true})
	})

	// The integration API services delegate to.
	mux.HandleFunc("POST /api/v1/integration/validate-token", requireAPIKey(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			writeJSON(w, map[string]any{"valid": false, "reason": "Invalid token"})
			return
		}

		mu.Lock()
		isRevoked := revoked[req.Token]
		mu.Unlock()
		if isRevoked {
			writeJSON(w, map[string]any{"valid": false, "reason": "Token revoked"})
			return
		}

		token, err := jwt.Parse(req.Token, func(t *jwt.Token) (any, error) {
			return &priv.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		if err != nil || !token.Valid {
			writeJSON(w, map[string]any{"valid": false, "reason": "Invalid token"})
			return
		}

		sub, _ := token.Claims.GetSubject()
		p, ok := findPrincipal(accounts, sub)
		if !ok {
			writeJSON(w, map[string]any{"valid": false, "reason": "Unknown user"})
			return
		}
		writeJSON(w, map[string]any{"valid": true, "user": userPayload(p)})
	}))

	mux.HandleFunc("POST /api/v1/integration/check-permission", requireAPIKey(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID     string `json:"userId"`
			Permission string `json:"permission"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, map[string]bool{"allowed": false})
			return
		}
		p, ok := findPrincipal(accounts, req.UserID)
		writeJSON(w, map[string]bool{"allowed": ok && p.HasPermission(req.Permission)})
	}))

	mux.HandleFunc("GET /api/v1/integration/users/{userId}", requireAPIKey(func(w http.ResponseWriter, r *http.Request) {
		p, ok := findPrincipal(accounts, r.PathValue("userId"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]bool{"success": false})
			return
		}
		writeJSON(w, map[string]any{"success": true, "user": userPayload(p)})
	}))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "service": "mock-authority"})
	})

	srv := server.New(addr, mux)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

func findPrincipal(accounts map[string]account, userID string) (domain.Principal, bool) {
	for _, a := range accounts {
		if a.principal.UserID == userID {
			return a.principal, true
		}
	}
	return domain.Principal{}, false
}

func userPayload(p domain.Principal) map[string]any {
	return map[string]any{
		"id":                          p.UserID,
		"email":                       p.Email,
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

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
