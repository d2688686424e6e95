package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ShutdownFunc releases telemetry resources.
type ShutdownFunc func(ctx context.Context) error

// Setup initializes OpenTelemetry with a Prometheus exporter.
// Returns a shutdown function that must be called on exit.
func Setup(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// GuardMetrics holds all OTel instruments for the access-control core.
type GuardMetrics struct {
	httpRequestsTotal     otelmetric.Int64Counter
	httpRequestDuration   otelmetric.Float64Histogram
	tokenValidationsTotal otelmetric.Int64Counter
	authorityDuration     otelmetric.Float64Histogram
	policyDecisionsTotal  otelmetric.Int64Counter
	auditRecordsTotal     otelmetric.Int64Counter
	rateLimitDecisions    otelmetric.Int64Counter
	proxyRequestsTotal    otelmetric.Int64Counter
	proxyDuration         otelmetric.Float64Histogram
}

// NewGuardMetrics creates and registers all core metrics.
func NewGuardMetrics() (*GuardMetrics, error) {
	meter := otel.Meter("nileguard")
	m := &GuardMetrics{}
	var err error

	latencyBuckets := otelmetric.WithExplicitBucketBoundaries(
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	)

	if m.httpRequestsTotal, err = meter.Int64Counter("nileguard_http_requests_total",
		otelmetric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("creating http_requests_total: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("nileguard_http_request_duration_seconds",
		otelmetric.WithDescription("HTTP request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating http_request_duration: %w", err)
	}
	if m.tokenValidationsTotal, err = meter.Int64Counter("nileguard_token_validations_total",
		otelmetric.WithDescription("Total token validations against the Auth authority")); err != nil {
		return nil, fmt.Errorf("creating token_validations_total: %w", err)
	}
	if m.authorityDuration, err = meter.Float64Histogram("nileguard_authority_request_duration_seconds",
		otelmetric.WithDescription("Auth authority round-trip duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating authority_request_duration: %w", err)
	}
	if m.policyDecisionsTotal, err = meter.Int64Counter("nileguard_policy_decisions_total",
		otelmetric.WithDescription("Facility isolation policy decisions")); err != nil {
		return nil, fmt.Errorf("creating policy_decisions_total: %w", err)
	}
	if m.auditRecordsTotal, err = meter.Int64Counter("nileguard_audit_records_total",
		otelmetric.WithDescription("Sensitive access audit records emitted")); err != nil {
		return nil, fmt.Errorf("creating audit_records_total: %w", err)
	}
	if m.rateLimitDecisions, err = meter.Int64Counter("nileguard_ratelimit_decisions_total",
		otelmetric.WithDescription("Total rate limit decisions")); err != nil {
		return nil, fmt.Errorf("creating ratelimit_decisions_total: %w", err)
	}
	if m.proxyRequestsTotal, err = meter.Int64Counter("nileguard_proxy_requests_total",
		otelmetric.WithDescription("Total requests forwarded to the protected backend")); err != nil {
		return nil, fmt.Errorf("creating proxy_requests_total: %w", err)
	}
	if m.proxyDuration, err = meter.Float64Histogram("nileguard_proxy_duration_seconds",
		otelmetric.WithDescription("Backend forwarding duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating proxy_duration: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric.
func (m *GuardMetrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, durationSec float64) {
	attrs := otelmetric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(status),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, durationSec, attrs)
}

// RecordTokenValidation records a token validation result.
func (m *GuardMetrics) RecordTokenValidation(ctx context.Context, result string) {
	m.tokenValidationsTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordAuthorityRequest records one round trip to the Auth authority.
func (m *GuardMetrics) RecordAuthorityRequest(ctx context.Context, operation, result string, durationSec float64) {
	m.authorityDuration.Record(ctx, durationSec, otelmetric.WithAttributes(
		operationAttr(operation),
		resultAttr(result),
	))
}

// RecordPolicyDecision records one isolation check outcome. code is the
// denial code, or "allowed".
func (m *GuardMetrics) RecordPolicyDecision(ctx context.Context, check, code string) {
	m.policyDecisionsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		checkAttr(check),
		codeAttr(code),
	))
}

// RecordAuditRecord counts an emitted audit trail entry.
func (m *GuardMetrics) RecordAuditRecord(ctx context.Context, accessType string) {
	m.auditRecordsTotal.Add(ctx, 1, otelmetric.WithAttributes(accessTypeAttr(accessType)))
}

// RecordRateLimitDecision records a rate limit decision.
func (m *GuardMetrics) RecordRateLimitDecision(ctx context.Context, layer, result string) {
	m.rateLimitDecisions.Add(ctx, 1, otelmetric.WithAttributes(
		layerAttr(layer),
		resultAttr(result),
	))
}

// RecordProxyRequest records a request forwarded to the protected backend.
func (m *GuardMetrics) RecordProxyRequest(ctx context.Context, backend string, status int, durationSec float64) {
	attrs := otelmetric.WithAttributes(
		backendAttr(backend),
		statusAttr(status),
	)
	m.proxyRequestsTotal.Add(ctx, 1, attrs)
	m.proxyDuration.Record(ctx, durationSec, attrs)
}
