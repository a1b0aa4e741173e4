// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

// Prometheus metrics for the authorization core.
//
// Metrics Categories:
//   - Decisions: grant/deny counts by reason, decision latency
//   - Cache: hits, misses, size, evictions, invalidations
//   - Resolver: failure counts by kind
//   - Audit: dropped events

package authz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts authorization decisions.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolegate_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"required_role", "resolved_role", "event", "reason"},
	)

	// DecisionDuration tracks decision latency.
	DecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "rolegate_decision_duration_seconds",
			Help: "Duration of authorization decisions in seconds",
			// Cache hits land in the microsecond buckets, source round
			// trips in the millisecond ones.
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"cache_hit"},
	)

	// DeniedTotal tracks denials separately for alerting.
	DeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolegate_denied_total",
			Help: "Total number of authorization denials (for alerting)",
		},
		[]string{"required_role", "reason"},
	)

	// CacheHitsTotal counts role cache hits.
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rolegate_cache_hits_total",
			Help: "Total number of role cache hits",
		},
	)

	// CacheMissesTotal counts role cache misses.
	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rolegate_cache_misses_total",
			Help: "Total number of role cache misses",
		},
	)

	// CacheSize tracks the current number of cached entries.
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rolegate_cache_entries",
			Help: "Current number of entries in the role cache",
		},
	)

	// CacheEvictionsTotal counts TTL evictions by the janitor.
	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rolegate_cache_evictions_total",
			Help: "Total number of role cache evictions (TTL expiry)",
		},
	)

	// CacheInvalidationsTotal counts explicit invalidations.
	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolegate_cache_invalidations_total",
			Help: "Total number of role cache invalidations",
		},
		[]string{"scope"}, // "user", "all"
	)

	// ResolverFailuresTotal counts resolution failures by kind.
	ResolverFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolegate_resolver_failures_total",
			Help: "Total number of record source resolution failures",
		},
		[]string{"kind"}, // "timeout", "source_error"
	)

	// AuditDroppedTotal counts audit events dropped on a full buffer.
	AuditDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rolegate_audit_dropped_total",
			Help: "Total number of audit events dropped due to a full buffer",
		},
	)
)

// RecordDecision records a decision outcome and its latency.
func RecordDecision(event *AuditEvent) {
	DecisionsTotal.WithLabelValues(
		event.RequiredRole.String(),
		event.ResolvedRole.String(),
		event.Event,
		event.Reason,
	).Inc()

	DecisionDuration.WithLabelValues(boolLabel(event.CacheHit)).Observe(event.Duration.Seconds())

	if event.Event == EventDeny {
		DeniedTotal.WithLabelValues(event.RequiredRole.String(), event.Reason).Inc()
	}
}

// RecordCacheHit records a role cache hit.
func RecordCacheHit() {
	CacheHitsTotal.Inc()
}

// RecordCacheMiss records a role cache miss.
func RecordCacheMiss() {
	CacheMissesTotal.Inc()
}

// RecordCacheSize updates the cache size gauge.
func RecordCacheSize(n int) {
	CacheSize.Set(float64(n))
}

// RecordCacheEvictions records janitor evictions.
func RecordCacheEvictions(n int) {
	CacheEvictionsTotal.Add(float64(n))
}

// RecordCacheInvalidation records an explicit invalidation.
// scope is "user" or "all".
func RecordCacheInvalidation(scope string) {
	CacheInvalidationsTotal.WithLabelValues(scope).Inc()
}

// RecordResolverFailure records a resolution failure.
// kind is "timeout" or "source_error".
func RecordResolverFailure(kind string) {
	ResolverFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordAuditDrop records a dropped audit event.
func RecordAuditDrop() {
	AuditDroppedTotal.Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
