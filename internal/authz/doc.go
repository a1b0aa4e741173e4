// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

// Package authz is the authorization resolution and enforcement core.
//
// It mirrors role/status records from the external access-control
// source of truth into a process-wide TTL cache, applies one uniform
// guard to every protected operation, and exposes an admin-only
// refresh that invalidates the cache without a restart.
//
// Components:
//
//   - RoleCache: user id -> time-bounded resolved role. In-memory,
//     never persisted, mutated only through Get/Put/Invalidate/
//     InvalidateAll. InvalidateAll swaps the whole map atomically so
//     no concurrent reader can observe a half-cleared state.
//
//   - Resolver: pure mapping from an access record (or its absence)
//     to a role. Missing record and revoked status both normalize to
//     none; a source failure is a distinguished error, never a
//     defaulted role.
//
//   - Guard: wraps protected operations with a required minimum role.
//     Cache first, source on miss, fail-closed on failure. Available
//     as HTTP middleware (Require) and as a higher-order function
//     (Guarded) so the pattern applies to any call site.
//
//   - RefreshController: the admin operation that drops the whole
//     cache; itself guarded at admin.
//
//   - AuditLogger: async, best-effort record of every decision. It
//     never influences or blocks a decision.
//
// The request state machine is RESOLVE -> DECIDE -> {ALLOW, DENY};
// there is no pending or retry state, and a single resolution failure
// is an immediate deny for that request.
package authz
