// Package audit provides concrete sinks for the access trail. The policy
// engine only sees the guard.AuditSink interface; the sink is chosen at
// startup (or per test).
package audit

import (
	"context"
	"log/slog"
	"sync"

	"nileguard/internal/guard"
)

// SlogSink writes audit records as structured log lines. Logging failures
// are swallowed by slog itself, so a broken sink never fails a request.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to logger, or the default logger when
// nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Record(ctx context.Context, rec guard.AuditRecord) {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "sensitive access",
		slog.String("user_id", rec.UserID),
		slog.String("role", rec.Role),
		slog.String("facility_id", rec.FacilityID),
		slog.String("organization_id", rec.OrganizationID),
		slog.String("endpoint", rec.Endpoint),
		slog.String("method", rec.Method),
		slog.String("resource_id", rec.ResourceID),
		slog.String("client_ip", rec.ClientIP),
		slog.Time("timestamp", rec.Timestamp),
		slog.String("access_type", rec.AccessType),
		slog.Int("status", rec.Status),
	)
}

// MemorySink collects records in memory for tests and compliance tooling.
type MemorySink struct {
	mu      sync.Mutex
	records []guard.AuditRecord
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(ctx context.Context, rec guard.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// Records returns a copy of everything recorded so far.
func (s *MemorySink) Records() []guard.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]guard.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}
