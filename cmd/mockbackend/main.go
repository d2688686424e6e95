// mockbackend stands in for a NileCare business service. It echoes the
// identity headers and the (possibly rewritten) JSON body it receives,
// which makes facility auto-injection visible end to end.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"nileguard/internal/platform/server"
)

func main() {
	addr := envOr("ADDR", ":8082")
	name := envOr("BACKEND_NAME", "mock-backend")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	slog.Info("mock backend starting", "addr", addr, "name", name)

	mux := http.NewServeMux()

	// Catch-all: echo request details
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if data, err := io.ReadAll(r.Body); err == nil && len(data) > 0 {
			json.Unmarshal(data, &body)
		}

		resp := map[string]any{
			"backend":         name,
			"method":          r.Method,
			"path":            r.URL.Path,
			"query":           r.URL.Query(),
			"body":            body,
			"user_id":         r.Header.Get("X-User-ID"),
			"user_role":       r.Header.Get("X-User-Role"),
			"facility_id":     r.Header.Get("X-Facility-ID"),
			"organization_id": r.Header.Get("X-Organization-ID"),
			"request_id":      r.Header.Get("X-Request-ID"),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": name})
	})

	srv := server.New(addr, mux)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
