// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

/*
guard.go - Uniform Access Enforcement

The Guard wraps every protected operation with a required minimum
role. Per invocation it resolves the caller's role (cache first,
record source on miss), decides allow/deny, records the decision, and
only then delegates to the wrapped operation.

Fail-closed contract: a resolution failure, unknown user, or missing
identity always denies. A resolution failure is audited as
resolution_failure so operators can tell it apart from an ordinary
insufficient_role deny; the requester sees the same uniform denial
either way.

Guards compose by parameterizing the required role: the admin guard is
a strict superset check over the coordinator guard, so one
implementation serves every tier.
*/

package authz

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tfedor/rolegate/internal/logging"
	"github.com/tfedor/rolegate/internal/models"
)

// ErrAccessDenied is returned by guarded functions on any deny path.
// It carries no reason; reasons live only in the audit trail.
var ErrAccessDenied = errors.New("access denied")

// denialBody is the single, non-discriminating response used for
// every deny, preventing enumeration of why access was refused.
var denialBody = map[string]string{"error": "access denied"}

type contextKey string

const (
	userIDKey       contextKey = "user_id"
	resolvedRoleKey contextKey = "resolved_role"
)

// WithUserID attaches the caller's user id to the context. The
// identity middleware is the only expected writer.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext extracts the caller's user id from the context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

// ResolvedRoleFromContext returns the role the guard resolved for the
// request. Present only downstream of an allowing Require, so handlers
// never re-resolve (and re-audit) a decision already made.
func ResolvedRoleFromContext(ctx context.Context) (models.Role, bool) {
	role, ok := ctx.Value(resolvedRoleKey).(models.Role)
	return role, ok
}

// GuardConfig holds guard tuning.
type GuardConfig struct {
	// TTL bounds how long a resolved role is reused before the source
	// is consulted again.
	TTL time.Duration

	// GraceWindow optionally lets an entry that expired less than
	// this long ago satisfy a request when the source is down.
	// Zero (the default) disables the grace window.
	GraceWindow time.Duration
}

// DefaultGuardConfig returns production defaults. The grace window is
// off by default; staleness past the TTL then always re-resolves.
func DefaultGuardConfig() *GuardConfig {
	return &GuardConfig{
		TTL:         5 * time.Minute,
		GraceWindow: 0,
	}
}

// Guard enforces a minimum role on protected operations.
type Guard struct {
	cache    *RoleCache
	resolver *Resolver
	audit    *AuditLogger
	ttl      time.Duration
	grace    time.Duration
}

// NewGuard creates a guard over the given cache, resolver and audit
// logger. All three are required.
func NewGuard(cache *RoleCache, resolver *Resolver, audit *AuditLogger, config *GuardConfig) (*Guard, error) {
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if audit == nil {
		return nil, errors.New("audit logger is required")
	}
	if config == nil {
		config = DefaultGuardConfig()
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	return &Guard{
		cache:    cache,
		resolver: resolver,
		audit:    audit,
		ttl:      config.TTL,
		grace:    config.GraceWindow,
	}, nil
}

// Decision is the outcome of one guarded check.
type Decision struct {
	Allowed  bool
	Role     models.Role
	Required models.Role
	Reason   string
	CacheHit bool
}

// Check resolves the user's role and decides against the required
// tier. It always returns a decision; resolution failures surface as
// a deny with Reason ReasonResolutionFailure, never as an error.
func (g *Guard) Check(ctx context.Context, userID string, required models.Role, operation string) Decision {
	start := time.Now()

	role, reason, cacheHit := g.resolveRole(ctx, userID, required)

	allowed := reason == ReasonOK || reason == ReasonStaleGrant
	event := EventDeny
	if allowed {
		event = EventGrant
	}

	auditEvent := &AuditEvent{
		Event:        event,
		UserID:       userID,
		Operation:    operation,
		RequiredRole: required,
		ResolvedRole: role,
		Reason:       reason,
		Duration:     time.Since(start),
		CacheHit:     cacheHit,
	}
	RecordDecision(auditEvent)
	g.audit.Record(auditEvent)

	return Decision{
		Allowed:  allowed,
		Role:     role,
		Required: required,
		Reason:   reason,
		CacheHit: cacheHit,
	}
}

// resolveRole produces the effective role and the audit reason for
// one check. On a cache miss it consults the resolver and caches a
// successful resolution; a failed resolution never writes an entry.
func (g *Guard) resolveRole(ctx context.Context, userID string, required models.Role) (role models.Role, reason string, cacheHit bool) {
	if cached, ok := g.cache.Get(userID); ok {
		RecordCacheHit()
		return cached, decideReason(cached, required, OriginRecord, true), true
	}
	RecordCacheMiss()

	res, err := g.resolver.Resolve(ctx, userID)
	if err != nil {
		g.recordResolutionFailure(userID, err)

		// The grace window can only turn a failure into a stale grant.
		// A stale role below the required tier does not soften the
		// failure into an ordinary deny.
		if stale, ok := g.cache.GetStale(userID, g.grace); ok && stale.AtLeast(required) {
			return stale, ReasonStaleGrant, false
		}

		// Fail closed: no role, and distinguishable in the audit
		// trail from an ordinary denial.
		return models.RoleNone, ReasonResolutionFailure, false
	}

	g.cache.Put(userID, res.Role, g.ttl)
	return res.Role, decideReason(res.Role, required, res.Origin, false), false
}

// decideReason maps a successful resolution onto an audit reason.
// The revoked reason applies only when the revoked record itself was
// consulted; a cached none loses that distinction by design of the
// cache entry shape.
func decideReason(role, required models.Role, origin Origin, fromCache bool) string {
	if role.AtLeast(required) {
		return ReasonOK
	}
	if !fromCache && origin == OriginRevoked {
		return ReasonRevoked
	}
	return ReasonInsufficientRole
}

func (g *Guard) recordResolutionFailure(userID string, err error) {
	kind := "source_error"
	if errors.Is(err, ErrResolutionTimeout) {
		kind = "timeout"
	}
	RecordResolverFailure(kind)
	logging.Err(err).
		Str("user_id", userID).
		Str("kind", kind).
		Msg("Role resolution failed, denying fail-closed")
}

// Require wraps an http.HandlerFunc with a minimum role. Requests
// without an identity in context are denied with the same uniform
// response as any other deny.
func (g *Guard) Require(required models.Role, operation string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserIDFromContext(r.Context())
		if !ok {
			g.denyAnonymous(required, operation)
			WriteDenial(w)
			return
		}

		decision := g.Check(r.Context(), userID, required, operation)
		if !decision.Allowed {
			WriteDenial(w)
			return
		}

		ctx := context.WithValue(r.Context(), resolvedRoleKey, decision.Role)
		next(w, r.WithContext(ctx))
	}
}

// denyAnonymous audits a deny for a request that carried no identity.
func (g *Guard) denyAnonymous(required models.Role, operation string) {
	event := &AuditEvent{
		Event:        EventDeny,
		UserID:       "anonymous",
		Operation:    operation,
		RequiredRole: required,
		ResolvedRole: models.RoleNone,
		Reason:       ReasonInsufficientRole,
	}
	RecordDecision(event)
	g.audit.Record(event)
}

// WriteDenial writes the single uniform denial response. Every deny
// path, whatever its reason, terminates through here so the caller
// always reaches the same well-defined terminal state.
func WriteDenial(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	if err := json.NewEncoder(w).Encode(denialBody); err != nil {
		logging.Err(err).Msg("Failed to encode denial response")
	}
}

// Guarded produces a guarded version of op with an identical external
// contract. On deny the zero value and ErrAccessDenied are returned;
// the wrapped operation is never invoked.
func Guarded[T any](g *Guard, required models.Role, operation string, op func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		userID, ok := UserIDFromContext(ctx)
		if !ok {
			g.denyAnonymous(required, operation)
			var zero T
			return zero, ErrAccessDenied
		}

		decision := g.Check(ctx, userID, required, operation)
		if !decision.Allowed {
			var zero T
			return zero, ErrAccessDenied
		}

		return op(ctx)
	}
}

// WarmStart populates the cache from the source's active set. It is
// an optimization only: any failure is reported but the guard remains
// correct with an empty cache.
func (g *Guard) WarmStart(ctx context.Context) (int, error) {
	records, err := g.resolver.source.ListActive(ctx)
	if err != nil {
		return 0, classifyFailure(err)
	}

	loaded := 0
	for i := range records {
		record := &records[i]
		if !record.IsActive() {
			continue
		}
		role, err := models.ParseRole(record.Role)
		if err != nil {
			continue
		}
		g.cache.Put(record.UserID, role, g.ttl)
		loaded++
	}

	logging.Info().Int("entries", loaded).Msg("Role cache warm start complete")
	return loaded, nil
}
