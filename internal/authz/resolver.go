// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tfedor/rolegate/internal/logging"
	"github.com/tfedor/rolegate/internal/models"
)

// Resolution failures. Both deny fail-closed; they are distinct so
// operators can tell a slow source from a broken one in audit records
// and logs.
var (
	// ErrRecordNotFound is returned by RecordSource implementations
	// when no record exists for the user. The resolver normalizes it
	// to RoleNone; it is not a resolution failure.
	ErrRecordNotFound = errors.New("access record not found")

	// ErrResolutionTimeout is returned when the record source did not
	// answer within the configured deadline.
	ErrResolutionTimeout = errors.New("record source timed out")

	// ErrSourceUnavailable is returned when the record source could
	// not be reached or answered with an error.
	ErrSourceUnavailable = errors.New("record source unavailable")
)

// RecordSource supplies access records from the external
// access-control source of truth. Implementations live in
// internal/source; this core only consumes them.
type RecordSource interface {
	// GetByUserID returns the record for a user, or ErrRecordNotFound.
	GetByUserID(ctx context.Context, userID string) (*models.AccessRecord, error)

	// ListActive returns every active record. Optional warm-start use
	// only; correctness never depends on it.
	ListActive(ctx context.Context) ([]models.AccessRecord, error)
}

// Origin says what kind of source material produced a resolution.
// The guard uses it to pick the audit reason on a deny.
type Origin int

const (
	// OriginRecord means an active record supplied the role.
	OriginRecord Origin = iota

	// OriginRevoked means a revoked record was normalized to none.
	OriginRevoked

	// OriginMissing means no record exists for the user.
	OriginMissing
)

// Resolution is a successfully resolved role plus where it came from.
type Resolution struct {
	Role   models.Role
	Origin Origin
}

// Resolver turns access records into roles. It is a pure mapping over
// the record source: it never reads or writes the role cache, and it
// never substitutes a default role on failure.
type Resolver struct {
	source  RecordSource
	timeout time.Duration
}

// NewResolver creates a resolver that bounds every source call with
// the given timeout.
func NewResolver(source RecordSource, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Resolver{
		source:  source,
		timeout: timeout,
	}
}

// Resolve queries the record source for the user and normalizes the
// result:
//
//   - no record        -> RoleNone (not an error)
//   - status revoked   -> RoleNone regardless of the stored role
//   - status active    -> the stored role
//
// A source error or timeout returns ErrSourceUnavailable or
// ErrResolutionTimeout; callers must treat either as a deny.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	record, err := r.source.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Resolution{Role: models.RoleNone, Origin: OriginMissing}, nil
		}
		return Resolution{}, classifyFailure(err)
	}

	if !record.IsActive() {
		return Resolution{Role: models.RoleNone, Origin: OriginRevoked}, nil
	}

	role, err := models.ParseRole(record.Role)
	if err != nil {
		// An unrecognized stored role is an ambiguous condition and
		// resolves fail-closed to none, not to a guessed tier.
		logging.Warn().
			Str("user_id", userID).
			Str("stored_role", record.Role).
			Msg("Access record carries unknown role, treating as none")
		return Resolution{Role: models.RoleNone, Origin: OriginRecord}, nil
	}

	return Resolution{Role: role, Origin: OriginRecord}, nil
}

// classifyFailure maps a raw source error onto the resolution failure
// taxonomy, preserving the cause for logs.
func classifyFailure(err error) error {
	if errors.Is(err, ErrResolutionTimeout) || errors.Is(err, ErrSourceUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrResolutionTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
}

// IsResolutionFailure reports whether err belongs to the resolution
// failure taxonomy (timeout or source error).
func IsResolutionFailure(err error) bool {
	return errors.Is(err, ErrResolutionTimeout) || errors.Is(err, ErrSourceUnavailable)
}
