package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryCounterStore provides a thread-safe in-process CounterStore. It is
// suitable for single-instance deployments and tests; multi-node deployments
// must share an external store (see RedisCounterStore).
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	// now is swapped out by tests to drive TTL expiry deterministically.
	now func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Ensure MemoryCounterStore implements CounterStore.
var _ CounterStore = (*MemoryCounterStore)(nil)

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Increment atomically increments the counter at key, creating it at 1 with
// the given TTL when absent or expired. A malformed stored value is treated
// as absent rather than failing the request path.
func (s *MemoryCounterStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || ent.expired(now) {
		ent = &memoryEntry{value: "1"}
		if ttl > 0 {
			ent.expiresAt = now.Add(ttl)
		}
		s.entries[key] = ent
		return 1, nil
	}

	n, err := strconv.ParseInt(ent.value, 10, 64)
	if err != nil {
		n = 0
	}
	n++
	ent.value = strconv.FormatInt(n, 10)
	return n, nil
}

// Get returns the value at key, expiring it lazily.
func (s *MemoryCounterStore) Get(_ context.Context, key string) (string, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if ent.expired(now) {
		delete(s.entries, key)
		return "", false, nil
	}
	return ent.value, true, nil
}

// Set stores value at key with the given TTL.
func (s *MemoryCounterStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent := &memoryEntry{value: value}
	if ttl > 0 {
		ent.expiresAt = now.Add(ttl)
	}
	s.entries[key] = ent
	return nil
}

// Delete removes key.
func (s *MemoryCounterStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Cleanup removes expired entries and returns how many were dropped. The
// store also expires lazily on read, so this only bounds memory.
func (s *MemoryCounterStore) Cleanup() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, ent := range s.entries {
		if ent.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Count returns the number of live entries.
func (s *MemoryCounterStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartBackgroundCleanup starts a goroutine that periodically removes
// expired entries. Call the returned function to stop it.
func (s *MemoryCounterStore) StartBackgroundCleanup(interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				s.Cleanup()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}
