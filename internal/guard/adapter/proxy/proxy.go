// Package proxy forwards requests that cleared the policy chain to the
// protected business backend. The backend never sees the bearer token; it
// trusts the identity headers this forwarder injects, and it receives the
// body exactly as the policy engine rewrote it.
package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"nileguard/internal/guard"
	"nileguard/internal/platform/telemetry"
)

// Forwarder is a reverse proxy to one upstream backend.
type Forwarder struct {
	proxy   *httputil.ReverseProxy
	backend string // metrics label
	metrics *telemetry.GuardMetrics
}

// NewForwarder creates a forwarder to backendURL. name labels the backend
// in metrics. The metrics parameter is optional; pass nil to skip metric
// recording.
func NewForwarder(backendURL, name string, m *telemetry.GuardMetrics) (*Forwarder, error) {
	target, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host

			// Strip the bearer token — the backend trusts identity headers.
			req.Header.Del("Authorization")

			if p, ok := guard.PrincipalFromContext(req.Context()); ok {
				req.Header.Set("X-User-ID", p.UserID)
				req.Header.Set("X-User-Role", p.Role)
				req.Header.Set("X-Organization-ID", p.OrganizationID)
				req.Header.Set("X-Facility-ID", p.FacilityID)
				req.Header.Set("X-User-Permissions", strings.Join(p.Permissions, " "))
			}

			if reqID := guard.RequestIDFromContext(req.Context()); reqID != "" {
				req.Header.Set("X-Request-ID", reqID)
			}
		},
	}

	return &Forwarder{proxy: rp, backend: name, metrics: m}, nil
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &guard.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
	f.proxy.ServeHTTP(sw, r)

	if f.metrics != nil {
		duration := time.Since(start).Seconds()
		f.metrics.RecordProxyRequest(r.Context(), f.backend, sw.Code, duration)
	}
}
