package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	timestamp time.Time
	ttl       time.Duration
}

type counterEntry struct {
	count   int64
	resetAt time.Time
}

// MemoryStore implements Store with an in-process map. It serves
// single-instance deployments and tests; counters are only shared within
// the process.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*memoryEntry
	counters map[string]*counterEntry
}

// NewMemory creates an empty in-process store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]*memoryEntry),
		counters: make(map[string]*counterEntry),
	}
}

// Get retrieves a value if present and not expired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if time.Since(entry.timestamp) > entry.ttl {
		go s.evict(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores a value with a TTL. The value is copied so callers may reuse
// their buffer.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memoryEntry{
		value:     buf,
		timestamp: time.Now(),
		ttl:       ttl,
	}
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.evict(key)
	return nil
}

// Increment bumps a counter, resetting it when its window has elapsed.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	counter, exists := s.counters[key]
	if !exists || now.After(counter.resetAt) {
		counter = &counterEntry{resetAt: now.Add(window)}
		s.counters[key] = counter
	}
	counter.count++
	return counter.count, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close releases all entries.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*memoryEntry)
	s.counters = make(map[string]*counterEntry)
	return nil
}

// CleanExpired removes expired entries and stale counters, returning how
// many were dropped.
func (s *MemoryStore) CleanExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	now := time.Now()
	for key, entry := range s.entries {
		if now.Sub(entry.timestamp) > entry.ttl {
			delete(s.entries, key)
			cleaned++
		}
	}
	for key, counter := range s.counters {
		if now.After(counter.resetAt) {
			delete(s.counters, key)
			cleaned++
		}
	}
	return cleaned
}

// StartJanitor periodically removes expired entries until ctx is done.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanExpired()
			}
		}
	}()
}

func (s *MemoryStore) evict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}
