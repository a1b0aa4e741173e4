// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

package api

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tfedor/rolegate/internal/audit"
	"github.com/tfedor/rolegate/internal/authz"
	"github.com/tfedor/rolegate/internal/logging"
)

// BreakerStater reports the record source circuit breaker state for
// health output. Satisfied by *source.HTTPSource.
type BreakerStater interface {
	BreakerState() string
}

// Handlers bundles the HTTP handlers and their collaborators.
type Handlers struct {
	cache   *authz.RoleCache
	store   *audit.BadgerStore
	breaker BreakerStater
}

// NewHandlers creates the handler set. store and breaker may be nil
// when audit persistence or the HTTP source are not configured.
func NewHandlers(cache *authz.RoleCache, store *audit.BadgerStore, breaker BreakerStater) *Handlers {
	return &Handlers{
		cache:   cache,
		store:   store,
		breaker: breaker,
	}
}

// Health reports liveness plus cache and source health.
// GET /healthz
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":        "ok",
		"cache_entries": h.cache.Len(),
	}
	if h.breaker != nil {
		payload["source_breaker"] = h.breaker.BreakerState()
	}
	writeJSON(w, http.StatusOK, payload)
}

// Me returns the caller's resolved role. Reaching this handler means
// the guard already granted viewer and stashed the resolved role in
// context; the decision is never re-made here.
// GET /api/v1/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := authz.UserIDFromContext(r.Context())
	role, ok := authz.ResolvedRoleFromContext(r.Context())
	if !ok {
		// Only reachable when the handler is mounted without Require.
		authz.WriteDenial(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"role":    role.String(),
	})
}

// AuditRecent returns the most recent persisted audit events.
// GET /api/v1/audit/recent?limit=N
func (h *Handlers) AuditRecent(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1-1000"})
			return
		}
		limit = parsed
	}

	events, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		logging.Err(err).Msg("Failed to read audit events")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// AuditSummary returns event counts per audit reason.
// GET /api/v1/audit/summary
func (h *Handlers) AuditSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountByReason(r.Context())
	if err != nil {
		logging.Err(err).Msg("Failed to summarize audit events")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"reasons": counts})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Err(err).Msg("Failed to encode response")
	}
}
