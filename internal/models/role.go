// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

/*
role.go - Role Tier Model

This file defines the ordered role tiers used by every authorization
decision in the system.

Role Hierarchy (strict total order):
  - none: no access; also the normalized result for unknown or revoked users
  - viewer: read-only access
  - coordinator: can modify protected data (inherits viewer)
  - admin: full access including cache administration (inherits coordinator)

Usage:
  - Role cache in internal/authz/cache.go
  - Guard decisions in internal/authz/guard.go (role.AtLeast(required))
*/

package models

import "fmt"

// Role is an ordered permission tier.
// The zero value is RoleNone, which grants nothing.
type Role int

// Role tiers in ascending privilege order.
const (
	RoleNone Role = iota
	RoleViewer
	RoleCoordinator
	RoleAdmin
)

// Role name constants as they appear in access records and configuration.
const (
	RoleNameNone        = "none"
	RoleNameViewer      = "viewer"
	RoleNameCoordinator = "coordinator"
	RoleNameAdmin       = "admin"
)

// String returns the canonical lowercase role name.
func (r Role) String() string {
	switch r {
	case RoleViewer:
		return RoleNameViewer
	case RoleCoordinator:
		return RoleNameCoordinator
	case RoleAdmin:
		return RoleNameAdmin
	default:
		return RoleNameNone
	}
}

// AtLeast reports whether r grants at least the privilege of required.
// This is the single comparison every guard decision reduces to.
func (r Role) AtLeast(required Role) bool {
	return r >= required
}

// IsValid reports whether r is one of the defined tiers.
func (r Role) IsValid() bool {
	return r >= RoleNone && r <= RoleAdmin
}

// ParseRole converts a role name to a Role.
// Unknown names return RoleNone with an error so callers can decide
// whether to fail or normalize.
func ParseRole(name string) (Role, error) {
	switch name {
	case RoleNameNone, "":
		return RoleNone, nil
	case RoleNameViewer:
		return RoleViewer, nil
	case RoleNameCoordinator:
		return RoleCoordinator, nil
	case RoleNameAdmin:
		return RoleAdmin, nil
	default:
		return RoleNone, fmt.Errorf("unknown role %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler so roles serialize as names.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// Unknown names fail rather than silently mapping to a tier.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
