// Package cache memoizes pipeline results per source with a fixed TTL.
// Expired entries are kept so the orchestrator can serve them as a stale
// fallback when a fresh run fails.
package cache

import (
	"sync"
	"time"

	"github.com/pevans/sitefeed/newsfeed"
)

// DefaultTTL matches the expected polling interval of feed aggregators.
const DefaultTTL = 30 * time.Minute

// Cache is the store the orchestrator reads and writes results through.
type Cache interface {
	// Get returns the entry for key when it is still within its TTL.
	Get(key string) (Entry, bool)
	// GetStale returns the last entry for key regardless of expiry.
	GetStale(key string) (Entry, bool)
	// Set stores result under key, replacing any previous entry.
	Set(key string, result newsfeed.Result)
	// TTL reports the lifetime applied to new entries.
	TTL() time.Duration
}

// Entry is one cached result with its timestamps.
type Entry struct {
	Result    newsfeed.Result
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Memory is a process-local Cache guarded by a RWMutex.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Memory cache.
type Option func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory cache. A non-positive ttl uses
// DefaultTTL.
func NewMemory(ttl time.Duration, opts ...Option) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(key string) (Entry, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || entry.Expired(m.now()) {
		return Entry{}, false
	}
	return copyEntry(entry), true
}

func (m *Memory) GetStale(key string) (Entry, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return Entry{}, false
	}
	return copyEntry(entry), true
}

func (m *Memory) Set(key string, result newsfeed.Result) {
	now := m.now()
	result.Items = newsfeed.Clone(result.Items)

	m.mu.Lock()
	m.entries[key] = Entry{
		Result:    result,
		StoredAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.mu.Unlock()
}

func (m *Memory) TTL() time.Duration {
	return m.ttl
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// copyEntry keeps callers from mutating the stored item slice.
func copyEntry(e Entry) Entry {
	e.Result.Items = newsfeed.Clone(e.Result.Items)
	return e
}
