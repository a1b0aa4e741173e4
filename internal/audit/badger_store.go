// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

// Package audit persists authorization audit events. Persistence is
// strictly best-effort from the decision path's point of view: the
// authz package calls Append through a buffered async logger and
// swallows any error this package returns.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tfedor/rolegate/internal/authz"
)

// keyPrefix namespaces audit entries within the badger keyspace.
const keyPrefix = "audit:"

// StoreConfig configures the badger audit store.
type StoreConfig struct {
	// Path is the badger directory. Ignored when InMemory is true.
	Path string

	// InMemory runs badger without disk persistence (tests, dev).
	InMemory bool

	// Retention is how long events are kept. Badger's TTL reclaims
	// expired entries during compaction.
	Retention time.Duration
}

// DefaultStoreConfig returns production defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Path:      "/data/rolegate/audit",
		Retention: 90 * 24 * time.Hour,
	}
}

// BadgerStore is an append-only audit event store on badger.
// Keys embed a zero-padded unix-nano timestamp so iteration order is
// event time order.
type BadgerStore struct {
	db        *badger.DB
	retention time.Duration
}

// NewBadgerStore opens (or creates) the store.
func NewBadgerStore(config *StoreConfig) (*BadgerStore, error) {
	if config == nil {
		config = DefaultStoreConfig()
	}
	if config.Retention <= 0 {
		config.Retention = 90 * 24 * time.Hour
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Path == "" {
			return nil, errors.New("audit store path is required")
		}
		opts = badger.DefaultOptions(config.Path)
	}
	// Badger's own logger is chatty at INFO; audit writes are silent
	// unless they fail.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	return &BadgerStore{
		db:        db,
		retention: config.Retention,
	}, nil
}

// Append persists one audit event. Implements authz.EventSink.
func (s *BadgerStore) Append(ctx context.Context, event *authz.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	key := fmt.Appendf(nil, "%s%020d:%s", keyPrefix, event.Timestamp.UnixNano(), event.ID)

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data).WithTTL(s.retention)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *BadgerStore) Recent(ctx context.Context, limit int) ([]authz.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	events := make([]authz.AuditEvent, 0, limit)
	prefix := []byte(keyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode, seek past the last possible audit key.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(events) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var event authz.AuditEvent
				if err := json.Unmarshal(val, &event); err != nil {
					return fmt.Errorf("decode audit event: %w", err)
				}
				events = append(events, event)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read audit events: %w", err)
	}
	return events, nil
}

// CountByReason tallies stored events per audit reason. Operator
// tooling uses this to distinguish ordinary denials from source
// trouble; the decision path never reads it.
func (s *BadgerStore) CountByReason(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	prefix := []byte(keyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var event authz.AuditEvent
				if err := json.Unmarshal(val, &event); err != nil {
					return fmt.Errorf("decode audit event: %w", err)
				}
				counts[event.Reason]++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit events: %w", err)
	}
	return counts, nil
}

// Close closes the underlying badger database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
