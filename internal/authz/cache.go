// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

package authz

import (
	"sync"
	"time"

	"github.com/tfedor/rolegate/internal/models"
)

// RoleCache is the process-wide map from user id to a time-bounded
// resolved role. It is the only shared mutable state in the
// authorization core and is mutated exclusively through its methods.
type RoleCache struct {
	cleanupInterval time.Duration

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	stopChan chan struct{}
	stopOnce sync.Once
}

// cacheEntry is a time-bounded cached resolution of a user's role.
// The role must equal what the resolver produced at cachedAt; the
// cache never derives roles on its own.
type cacheEntry struct {
	role      models.Role
	cachedAt  time.Time
	expiresAt time.Time
}

// NewRoleCache creates an empty cache and starts its janitor.
// cleanupInterval bounds how long expired entries linger in memory;
// correctness never depends on the janitor because Get checks expiry.
func NewRoleCache(cleanupInterval time.Duration) *RoleCache {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	c := &RoleCache{
		cleanupInterval: cleanupInterval,
		entries:         make(map[string]*cacheEntry),
		stopChan:        make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the cached role for the user if a non-expired entry
// exists. It never errors; a miss and an expired entry both report
// absence.
func (c *RoleCache) Get(userID string) (models.Role, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[userID]
	if !ok {
		return models.RoleNone, false
	}

	if !time.Now().Before(entry.expiresAt) {
		return models.RoleNone, false
	}

	return entry.role, true
}

// GetStale returns the role of an entry that has expired no longer
// than grace ago. Used only for the optional grace window on
// resolution failure; a zero or negative grace never matches.
func (c *RoleCache) GetStale(userID string, grace time.Duration) (models.Role, bool) {
	if grace <= 0 {
		return models.RoleNone, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[userID]
	if !ok {
		return models.RoleNone, false
	}

	now := time.Now()
	if now.Before(entry.expiresAt) {
		// Not stale; callers should have used Get.
		return entry.role, true
	}
	if now.Before(entry.expiresAt.Add(grace)) {
		return entry.role, true
	}
	return models.RoleNone, false
}

// Put inserts or overwrites the entry for the user with
// expiry now+ttl.
func (c *RoleCache) Put(userID string, role models.Role, ttl time.Duration) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[userID] = &cacheEntry{
		role:      role,
		cachedAt:  now,
		expiresAt: now.Add(ttl),
	}
}

// Invalidate removes a single user's entry.
func (c *RoleCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// InvalidateAll discards every entry by swapping in a fresh map under
// the write lock. Readers observe either the old map or the new empty
// one, never a half-cleared state, and once InvalidateAll returns no
// Get can see a pre-swap entry.
func (c *RoleCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Len returns the current entry count, expired entries included until
// the janitor collects them.
func (c *RoleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanup periodically removes expired entries.
func (c *RoleCache) cleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			evicted := 0
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
					evicted++
				}
			}
			size := len(c.entries)
			c.mu.Unlock()

			if evicted > 0 {
				RecordCacheEvictions(evicted)
			}
			RecordCacheSize(size)
		}
	}
}

// Stop stops the janitor goroutine. Safe to call multiple times.
func (c *RoleCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}
