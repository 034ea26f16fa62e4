package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const DefaultMemorySize = 1024

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process LRU store for single-node deployments and tests
type MemoryStore struct {
	cache *lru.Cache
	now   func() time.Time
}

// NewMemoryStore creates a store holding at most size entries
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &MemoryStore{cache: cache, now: time.Now}, nil
}

// SetClock overrides the time source used for expiry
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *MemoryStore) entry(key string) (memoryEntry, bool) {
	raw, ok := s.cache.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	e, ok := raw.(memoryEntry)
	if !ok || e.expired(s.now()) {
		s.cache.Remove(key)
		return memoryEntry{}, false
	}
	return e, true
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := s.entry(key)
	if !ok {
		return nil, false, nil
	}
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, true, nil
}

// Set implements Store
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.cache.Add(key, e)
	return nil
}

// Delete implements Store
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Remove(key)
	}
	return nil
}

// Keys implements Store
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for _, raw := range s.cache.Keys() {
		key, ok := raw.(string)
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, live := s.entry(key); live {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// TTL implements Store
func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	e, ok := s.entry(key)
	if !ok {
		return 0, false, nil
	}
	if e.expiresAt.IsZero() {
		return 0, true, nil
	}
	return e.expiresAt.Sub(s.now()), true, nil
}
