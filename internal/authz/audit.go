// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

// Authorization decision audit logging. Every allow/deny the guard
// makes is recorded here for security monitoring and forensics.
// Recording is best-effort relative to availability: a full buffer or
// a failing sink never alters or blocks the decision already made.

package authz

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tfedor/rolegate/internal/logging"
	"github.com/tfedor/rolegate/internal/models"
)

// Audit event kinds.
const (
	EventGrant = "grant"
	EventDeny  = "deny"
)

// Audit reasons. The reason is written only to the audit trail, never
// surfaced to the requester.
const (
	// ReasonOK marks a granted decision.
	ReasonOK = "ok"

	// ReasonInsufficientRole marks a deny where the resolved role is
	// below the required tier.
	ReasonInsufficientRole = "insufficient_role"

	// ReasonRevoked marks a deny where a freshly consulted revoked
	// record was the source of the decision.
	ReasonRevoked = "revoked"

	// ReasonResolutionFailure marks a fail-closed deny caused by a
	// source error or timeout, distinguishable from an ordinary deny.
	ReasonResolutionFailure = "resolution_failure"

	// ReasonStaleGrant marks a grant served from an expired entry
	// inside the configured grace window during a source outage.
	ReasonStaleGrant = "stale_grant"
)

// AuditEvent records one authorization decision.
type AuditEvent struct {
	// ID is a unique identifier for this audit event.
	ID string `json:"id"`

	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`

	// Event is EventGrant or EventDeny.
	Event string `json:"event"`

	// UserID is the subject the decision was made for.
	UserID string `json:"user_id"`

	// Operation names the protected operation the guard wraps.
	Operation string `json:"operation"`

	// RequiredRole is the minimum tier the operation demands.
	RequiredRole models.Role `json:"required_role"`

	// ResolvedRole is the tier the subject resolved to.
	ResolvedRole models.Role `json:"resolved_role"`

	// Reason is one of the Reason* constants.
	Reason string `json:"reason"`

	// Duration is how long the decision took.
	Duration time.Duration `json:"duration_ns"`

	// CacheHit indicates whether the role came from the cache.
	CacheHit bool `json:"cache_hit"`
}

// EventSink is an optional persistent destination for audit events,
// implemented by internal/audit. Append errors are swallowed by the
// logger after a warning.
type EventSink interface {
	Append(ctx context.Context, event *AuditEvent) error
}

// AuditLoggerConfig configures the audit logger behavior.
type AuditLoggerConfig struct {
	// Enabled controls whether audit logging is active.
	Enabled bool

	// BufferSize is the size of the async event buffer.
	// Events are dropped if the buffer is full (non-blocking).
	BufferSize int
}

// DefaultAuditLoggerConfig returns sensible defaults for production.
func DefaultAuditLoggerConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		Enabled:    true,
		BufferSize: 1000,
	}
}

// AuditLogger handles async recording of authorization decisions.
type AuditLogger struct {
	config   *AuditLoggerConfig
	sink     EventSink
	events   chan *AuditEvent
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAuditLogger creates an audit logger. sink may be nil, in which
// case events go to the structured log only.
func NewAuditLogger(config *AuditLoggerConfig, sink EventSink) *AuditLogger {
	if config == nil {
		config = DefaultAuditLoggerConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}

	al := &AuditLogger{
		config:   config,
		sink:     sink,
		events:   make(chan *AuditEvent, config.BufferSize),
		stopChan: make(chan struct{}),
	}

	if config.Enabled {
		al.wg.Add(1)
		go al.processEvents()
	}

	return al
}

// Record queues an authorization decision. Non-blocking; the event is
// dropped with a warning if the buffer is full.
func (al *AuditLogger) Record(event *AuditEvent) {
	if al == nil || !al.config.Enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case al.events <- event:
	default:
		RecordAuditDrop()
		logging.Warn().
			Str("user_id", event.UserID).
			Str("operation", event.Operation).
			Msg("Audit buffer full, event dropped")
	}
}

// processEvents handles the async event processing.
func (al *AuditLogger) processEvents() {
	defer al.wg.Done()

	for {
		select {
		case <-al.stopChan:
			al.drainEvents()
			return
		case event := <-al.events:
			al.writeEvent(event)
		}
	}
}

// drainEvents flushes any remaining buffered events.
func (al *AuditLogger) drainEvents() {
	for {
		select {
		case event := <-al.events:
			al.writeEvent(event)
		default:
			return
		}
	}
}

// writeEvent emits the event to the structured log and, when a sink
// is configured, persists it. Sink failures are logged and swallowed.
func (al *AuditLogger) writeEvent(event *AuditEvent) {
	logEvent := logging.Info()
	if event.Event == EventDeny {
		// Denials log at warn for visibility.
		logEvent = logging.Warn()
	}

	logEvent.
		Str("event_type", "authz_decision").
		Str("audit_id", event.ID).
		Time("audit_timestamp", event.Timestamp).
		Str("event", event.Event).
		Str("user_id", event.UserID).
		Str("operation", event.Operation).
		Str("required_role", event.RequiredRole.String()).
		Str("resolved_role", event.ResolvedRole.String()).
		Str("reason", event.Reason).
		Dur("duration", event.Duration).
		Bool("cache_hit", event.CacheHit).
		Msg("Authorization decision")

	if al.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := al.sink.Append(ctx, event); err != nil {
		logging.Err(err).
			Str("audit_id", event.ID).
			Msg("Failed to persist audit event")
	}
}

// Flush blocks until the current buffer has been handed to the sink.
// Intended for tests and shutdown paths that need to observe events.
func (al *AuditLogger) Flush() {
	if al == nil || !al.config.Enabled {
		return
	}
	for len(al.events) > 0 {
		time.Sleep(time.Millisecond)
	}
}

// Close stops the audit logger and flushes remaining events.
func (al *AuditLogger) Close() {
	if al == nil {
		return
	}
	al.stopOnce.Do(func() {
		close(al.stopChan)
	})
	al.wg.Wait()
}
