// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tfedor/rolegate/internal/models"
)

// fakeSource is a RecordSource for tests. internal/source provides a
// shared one, but importing it here would cycle.
type fakeSource struct {
	mu       sync.Mutex
	records  map[string]models.AccessRecord
	failWith error
	calls    int
}

func newFakeSource(records ...models.AccessRecord) *fakeSource {
	s := &fakeSource{records: make(map[string]models.AccessRecord)}
	for _, r := range records {
		s.records[r.UserID] = r
	}
	return s
}

func (s *fakeSource) GetByUserID(ctx context.Context, userID string) (*models.AccessRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failWith != nil {
		return nil, s.failWith
	}
	record, ok := s.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &record, nil
}

func (s *fakeSource) ListActive(ctx context.Context) ([]models.AccessRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var active []models.AccessRecord
	for _, r := range s.records {
		if r.IsActive() {
			active = append(active, r)
		}
	}
	return active, nil
}

func (s *fakeSource) set(record models.AccessRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.UserID] = record
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestResolver_ActiveRecord(t *testing.T) {
	src := newFakeSource(models.AccessRecord{
		UserID: "u100", Role: models.RoleNameCoordinator, Status: models.StatusActive,
	})
	resolver := NewResolver(src, time.Second)

	res, err := resolver.Resolve(context.Background(), "u100")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Role != models.RoleCoordinator {
		t.Errorf("Role = %v, want coordinator", res.Role)
	}
	if res.Origin != OriginRecord {
		t.Errorf("Origin = %v, want OriginRecord", res.Origin)
	}
}

func TestResolver_MissingRecord(t *testing.T) {
	resolver := NewResolver(newFakeSource(), time.Second)

	res, err := resolver.Resolve(context.Background(), "u200")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Role != models.RoleNone {
		t.Errorf("Role = %v, want none", res.Role)
	}
	if res.Origin != OriginMissing {
		t.Errorf("Origin = %v, want OriginMissing", res.Origin)
	}
}

func TestResolver_RevokedRecord(t *testing.T) {
	// A revoked record resolves to none even though it stores admin.
	src := newFakeSource(models.AccessRecord{
		UserID: "u300", Role: models.RoleNameAdmin, Status: models.StatusRevoked,
	})
	resolver := NewResolver(src, time.Second)

	res, err := resolver.Resolve(context.Background(), "u300")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Role != models.RoleNone {
		t.Errorf("Role = %v, want none", res.Role)
	}
	if res.Origin != OriginRevoked {
		t.Errorf("Origin = %v, want OriginRevoked", res.Origin)
	}
}

func TestResolver_UnknownStoredRole(t *testing.T) {
	src := newFakeSource(models.AccessRecord{
		UserID: "u1", Role: "superuser", Status: models.StatusActive,
	})
	resolver := NewResolver(src, time.Second)

	res, err := resolver.Resolve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Role != models.RoleNone {
		t.Errorf("unknown stored role resolved to %v, want none", res.Role)
	}
}

func TestResolver_SourceError(t *testing.T) {
	src := newFakeSource()
	src.fail(errors.New("connection refused"))
	resolver := NewResolver(src, time.Second)

	_, err := resolver.Resolve(context.Background(), "u1")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("error = %v, want ErrSourceUnavailable", err)
	}
	if !IsResolutionFailure(err) {
		t.Error("IsResolutionFailure = false for source error")
	}
}

func TestResolver_Timeout(t *testing.T) {
	src := newFakeSource()
	src.fail(context.DeadlineExceeded)
	resolver := NewResolver(src, time.Second)

	_, err := resolver.Resolve(context.Background(), "u1")
	if !errors.Is(err, ErrResolutionTimeout) {
		t.Errorf("error = %v, want ErrResolutionTimeout", err)
	}
	if !IsResolutionFailure(err) {
		t.Error("IsResolutionFailure = false for timeout")
	}
}

func TestResolver_PreclassifiedErrorsPassThrough(t *testing.T) {
	src := newFakeSource()
	src.fail(ErrResolutionTimeout)
	resolver := NewResolver(src, time.Second)

	_, err := resolver.Resolve(context.Background(), "u1")
	if !errors.Is(err, ErrResolutionTimeout) {
		t.Errorf("error = %v, want ErrResolutionTimeout", err)
	}
	if errors.Is(err, ErrSourceUnavailable) {
		t.Error("timeout was additionally classified as source error")
	}
}

func TestIsResolutionFailure_NotFound(t *testing.T) {
	if IsResolutionFailure(ErrRecordNotFound) {
		t.Error("not-found is part of normal control flow, not a resolution failure")
	}
}
