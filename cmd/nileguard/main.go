// nileguard fronts one NileCare business backend with the full
// access-control chain: every request is authenticated against the central
// Auth authority and screened by the facility isolation policy engine
// before being forwarded.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nileguard/internal/guard/adapter/audit"
	"nileguard/internal/guard/adapter/authority"
	"nileguard/internal/guard/adapter/inmem"
	"nileguard/internal/guard/adapter/proxy"
	"nileguard/internal/guard/middleware"
	"nileguard/internal/platform/config"
	"nileguard/internal/platform/server"
	"nileguard/internal/platform/telemetry"
)

func main() {
	cfg := config.Load()

	// Logging
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdown, err := telemetry.Setup(context.Background(), "nileguard")
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}

	metrics, err := telemetry.NewGuardMetrics()
	if err != nil {
		slog.Error("metrics initialization failed", "error", err)
		os.Exit(1)
	}

	// Authentication delegate — the only component that talks to the
	// Auth authority.
	delegate := authority.NewClient(cfg.AuthServiceURL, cfg.ServiceID, cfg.AuthAPIKey, cfg.AuthTimeout, metrics)

	// Rate limiter
	rl := inmem.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, time.Now)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()

	// Audit trail
	sink := audit.NewSlogSink(logger)

	// Backend forwarder
	forwarder, err := proxy.NewForwarder(cfg.BackendURL, "backend", metrics)
	if err != nil {
		slog.Error("forwarder initialization failed", "error", err)
		os.Exit(1)
	}

	// Assemble the chain. AuditAccess sits inside Authenticate so records
	// carry the principal, and outside the facility checks so their
	// denials still leave a trail.
	protected := middleware.Chain(
		forwarder,
		middleware.Metrics(metrics),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery,
		middleware.MaxBodySize(1<<20),
		middleware.Authenticate(delegate, cfg.LogAuthSuccess, metrics),
		middleware.RateLimit(rl, metrics),
		middleware.AuditAccess(sink, cfg.SensitivePaths, metrics),
		middleware.ValidateFacilityAccess(metrics),
		middleware.EnforceFacilityOnWrite(metrics),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !delegate.HealthCheck(r.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "auth authority unreachable"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.Handle("/", protected)

	srv := server.New(cfg.ListenAddr, mux)

	slog.Info("nileguard starting",
		"addr", cfg.ListenAddr,
		"auth_service_url", cfg.AuthServiceURL,
		"backend_url", cfg.BackendURL,
		"service_id", cfg.ServiceID,
	)

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}

	if err := shutdown(context.Background()); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}
}
