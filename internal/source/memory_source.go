// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

package source

import (
	"context"
	"sync"

	"github.com/tfedor/rolegate/internal/authz"
	"github.com/tfedor/rolegate/internal/models"
)

// MemorySource is a mutable in-memory RecordSource for tests and dev
// mode. It is thread-safe and returns copies so callers can never
// mutate its records.
type MemorySource struct {
	mu      sync.RWMutex
	records map[string]models.AccessRecord

	// failWith, when set, makes every call fail with that error.
	// Used to simulate source outages.
	failWith error
}

// NewMemorySource creates a source preloaded with the given records.
func NewMemorySource(records ...models.AccessRecord) *MemorySource {
	s := &MemorySource{
		records: make(map[string]models.AccessRecord, len(records)),
	}
	for _, r := range records {
		s.records[r.UserID] = r
	}
	return s
}

// GetByUserID returns a copy of the user's record, or
// authz.ErrRecordNotFound.
func (s *MemorySource) GetByUserID(ctx context.Context, userID string) (*models.AccessRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return nil, s.failWith
	}

	record, ok := s.records[userID]
	if !ok {
		return nil, authz.ErrRecordNotFound
	}
	return &record, nil
}

// ListActive returns copies of all active records.
func (s *MemorySource) ListActive(ctx context.Context) ([]models.AccessRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return nil, s.failWith
	}

	active := make([]models.AccessRecord, 0, len(s.records))
	for _, record := range s.records {
		if record.IsActive() {
			active = append(active, record)
		}
	}
	return active, nil
}

// Set inserts or replaces a record.
func (s *MemorySource) Set(record models.AccessRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.UserID] = record
}

// Delete removes a record.
func (s *MemorySource) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
}

// Fail makes every subsequent call return err. Pass nil to restore
// normal operation.
func (s *MemorySource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}
