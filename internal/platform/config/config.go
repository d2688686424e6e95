package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for a service embedding the
// access-control core.
type Config struct {
	ListenAddr     string
	BackendURL     string // Full URL of the protected business backend
	AuthServiceURL string // Base URL of the central Auth authority
	ServiceID      string // This service's identity on outbound auth calls
	AuthAPIKey     string // Shared secret for the authority's integration API
	AuthTimeout    time.Duration
	LogLevel       string
	LogAuthSuccess bool     // opt-in log line per successful authentication
	SensitivePaths []string // GET paths audited in addition to all writes
	RateLimit      RateLimitConfig
}

// RateLimitConfig holds token bucket parameters for per-principal rate limiting.
type RateLimitConfig struct {
	Rate  float64
	Burst int
}

// Load reads configuration from environment variables, falling back to defaults.
func Load() Config {
	return Config{
		ListenAddr:     envOr("LISTEN_ADDR", ":8080"),
		BackendURL:     envOr("BACKEND_URL", "http://localhost:8082"),
		AuthServiceURL: envOr("AUTH_SERVICE_URL", "http://localhost:8081"),
		ServiceID:      envOr("SERVICE_ID", "nileguard"),
		AuthAPIKey:     envOr("AUTH_API_KEY", ""),
		AuthTimeout:    envDuration("AUTH_TIMEOUT_MS", 5000),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogAuthSuccess: envBool("LOG_AUTH_SUCCESS", false),
		SensitivePaths: envList("SENSITIVE_PATHS", nil),
		RateLimit: RateLimitConfig{
			Rate:  envFloat("RATE_LIMIT_RATE", 100),
			Burst: envInt("RATE_LIMIT_BURST", 20),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return n
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid float env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return f
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return b
	}
	return fallback
}

// envDuration reads a duration in milliseconds (e.g. "5000" -> 5s).
func envDuration(key string, fallbackMS int) time.Duration {
	return time.Duration(envInt(key, fallbackMS)) * time.Millisecond
}

// envList reads a comma-separated list.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
