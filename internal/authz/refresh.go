// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

package authz

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tfedor/rolegate/internal/logging"
)

// RefreshController performs the administrative full cache
// invalidation. The source pushes no change notifications, so
// dropping the whole cache and letting it repopulate lazily is the
// only consistent recovery from an external edit; it bounds staleness
// to one TTL window.
type RefreshController struct {
	cache *RoleCache
}

// NewRefreshController creates a refresh controller over the cache.
func NewRefreshController(cache *RoleCache) *RefreshController {
	return &RefreshController{cache: cache}
}

// RefreshAll atomically invalidates the whole cache. Source
// connectivity is not re-verified here; subsequent misses re-resolve
// lazily.
func (rc *RefreshController) RefreshAll(actorID string) {
	dropped := rc.cache.Len()
	rc.cache.InvalidateAll()
	RecordCacheInvalidation("all")

	logging.Info().
		Str("actor_id", actorID).
		Int("entries_dropped", dropped).
		Msg("Authorization cache refreshed")
}

// refreshResponse acknowledges a completed refresh.
type refreshResponse struct {
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Handler returns the HTTP handler for the admin refresh operation.
// Callers must wrap it with Guard.Require(models.RoleAdmin, ...).
func (rc *RefreshController) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, _ := UserIDFromContext(r.Context())
		rc.RefreshAll(actorID)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(refreshResponse{
			Status:      "ok",
			Message:     "authorization cache refreshed",
			RefreshedAt: time.Now().UTC(),
		}); err != nil {
			// Headers are already out; nothing to send the caller.
			logging.Err(err).Msg("Failed to encode refresh response")
		}
	}
}
