// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

package models

import "time"

// Record status values as stored by the external access-control source.
const (
	// StatusActive marks a record whose stored role is in effect.
	StatusActive = "active"

	// StatusRevoked marks a record whose access has been withdrawn.
	// A revoked record always resolves to RoleNone regardless of the
	// stored role value.
	StatusRevoked = "revoked"
)

// AccessRecord is a role/status record owned by the external
// access-control source. This process only ever reads these.
type AccessRecord struct {
	// UserID is the opaque external identity the record belongs to.
	UserID string `json:"user_id"`

	// Role is the stored role name (viewer, coordinator, admin).
	// The stored value is meaningless while Status is revoked.
	Role string `json:"role"`

	// Status is either StatusActive or StatusRevoked.
	Status string `json:"status"`

	// UpdatedAt is when the source last modified the record.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the record's stored role is in effect.
func (r *AccessRecord) IsActive() bool {
	return r.Status == StatusActive
}
