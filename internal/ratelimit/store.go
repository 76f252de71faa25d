// Package ratelimit implements a fixed-window request counter keyed by a
// caller fingerprint.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Entry is the state of one fingerprint's current window.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Expired reports whether the window has ended at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ResetAt)
}

// Store owns the fingerprint to Entry mapping. Implementations must apply
// Take atomically per key.
type Store interface {
	// Take counts one request against key. A missing or expired entry is
	// replaced by a fresh window with Count 1. A full window is left
	// unchanged and reported as not allowed.
	Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Entry, bool, error)
	// Get returns the current entry for key, if any.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Sweep removes entries whose window ended at or before now.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Take(_ context.Context, key string, now time.Time, window time.Duration, max int) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.Expired(now) {
		e = Entry{Count: 1, ResetAt: now.Add(window)}
		s.entries[key] = e
		return e, true, nil
	}

	if e.Count < max {
		e.Count++
		s.entries[key] = e
		return e, true, nil
	}

	return e, false, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked fingerprints.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close drops all entries.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	return nil
}
