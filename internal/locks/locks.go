// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package locks provides best-effort advisory locks backed by BadgerDB.
//
// Locks guard expensive background work (report sending, log purges) from
// running concurrently in overlapping scheduler ticks. They are advisory:
// the check-then-set is atomic within one BadgerDB transaction, but a lock
// left behind by a crashed process simply expires via its TTL. Callers must
// remain correct if two holders briefly overlap.
package locks

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/lumeo-analytics/lumeo/internal/logging"
)

// Lock errors
var (
	// ErrLockHeld indicates the lock is currently held by another owner.
	ErrLockHeld = errors.New("lock is already held")

	// ErrLockNotHeld indicates a release or refresh by a non-owner.
	ErrLockNotHeld = errors.New("lock is not held by this owner")

	// ErrStoreClosed indicates the lock store has been closed.
	ErrStoreClosed = errors.New("lock store is closed")
)

// lease is the stored lock record.
type lease struct {
	Name       string    `json:"name"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Store manages TTL leases in a BadgerDB keyspace.
type Store struct {
	db     *badger.DB
	prefix []byte
	closed bool
	mu     sync.RWMutex
}

// Open creates a lock store at the given filesystem path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty, we log ourselves

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock store: %w", err)
	}

	return NewStore(db), nil
}

// NewStore wraps an existing BadgerDB instance. The instance may be shared
// with other components.
func NewStore(db *badger.DB) *Store {
	return &Store{
		db:     db,
		prefix: []byte("lock:"),
	}
}

// makeKey creates a BadgerDB key for a lock name.
func (s *Store) makeKey(name string) []byte {
	return append(s.prefix, []byte(name)...)
}

// Acquire takes the named lock for owner with the given TTL. Returns
// ErrLockHeld when another live owner has it. Re-acquiring a lock you
// already hold refreshes its TTL.
func (s *Store) Acquire(name, owner string, ttl time.Duration) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	key := s.makeKey(name)

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			var existing lease
			if valErr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); valErr == nil {
				if time.Now().Before(existing.ExpiresAt) && existing.Owner != owner {
					logging.Debug().
						Str("lock", name).
						Str("holder", existing.Owner).
						Time("expires_at", existing.ExpiresAt).
						Msg("Lock acquisition refused")
					return ErrLockHeld
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		now := time.Now()
		data, err := json.Marshal(lease{
			Name:       name,
			Owner:      owner,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
		})
		if err != nil {
			return err
		}

		e := badger.NewEntry(key, data).WithTTL(ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			return err
		}
		return fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}

	return nil
}

// Release frees the named lock if held by owner.
func (s *Store) Release(name, owner string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	key := s.makeKey(name)

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrLockNotHeld
		}
		if err != nil {
			return err
		}

		var existing lease
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &existing)
		}); err != nil {
			return err
		}
		if existing.Owner != owner {
			return ErrLockNotHeld
		}

		return txn.Delete(key)
	})
	if err != nil {
		if errors.Is(err, ErrLockNotHeld) {
			return err
		}
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}

	return nil
}

// Holder returns the current owner of the named lock, or "" when free.
func (s *Store) Holder(name string) (string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return "", ErrStoreClosed
	}
	s.mu.RUnlock()

	var holder string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var existing lease
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &existing); err != nil {
				return err
			}
			if time.Now().Before(existing.ExpiresAt) {
				holder = existing.Owner
			}
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to inspect lock %s: %w", name, err)
	}
	return holder, nil
}

// RunGC triggers BadgerDB value log garbage collection. Expired leases are
// removed by badger during compaction; this hurries it along.
func (s *Store) RunGC() {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	// ErrNoRewrite just means there was nothing to collect.
	if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		logging.Warn().Err(err).Msg("Lock store GC failed")
	}
}

// Close closes the underlying BadgerDB.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
