// Package testutil provides an in-memory hot-tier fake for engine tests.
package testutil

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/silt-cache/silt/internal/hotstore"
)

type memEntry struct {
	value string
	ttl   time.Duration // 0 = no TTL; entries never auto-expire, tests call Expire
}

// MemStore implements hotstore.Store entirely in memory. TTLs are recorded
// but never fire on their own; tests drive expiry with Expire so timing
// stays deterministic. Per-operation error
// injection simulates transport faults.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	subs    []*memSub

	// Error injection; non-nil values are returned by the matching call.
	GetErr       error
	SetErr       error
	DelErr       error
	ExistsErr    error
	ScanErr      error
	PromoteErr   error
	SubscribeErr error
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]memEntry)}
}

func (s *MemStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.GetErr != nil {
		return "", false, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e.value, ok, nil
}

func (s *MemStore) Set(ctx context.Context, key, value string) error {
	if s.SetErr != nil {
		return s.SetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{value: value}
	return nil
}

func (s *MemStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.SetErr != nil {
		return s.SetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{value: value, ttl: ttl}
	return nil
}

func (s *MemStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if s.DelErr != nil {
		return 0, s.DelErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := s.entries[k]; ok {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Exists(ctx context.Context, key string) (bool, error) {
	if s.ExistsErr != nil {
		return false, s.ExistsErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok, nil
}

func (s *MemStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	if s.ScanErr != nil {
		return nil, s.ScanErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.entries {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemStore) PromoteDirty(ctx context.Context, dirtyKey, cleanKey, value string, ttl time.Duration) error {
	if s.PromoteErr != nil {
		return s.PromoteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, dirtyKey)
	s.entries[cleanKey] = memEntry{value: value, ttl: ttl}
	return nil
}

func (s *MemStore) SubscribeExpired(ctx context.Context) (hotstore.ExpirySubscription, error) {
	if s.SubscribeErr != nil {
		return nil, s.SubscribeErr
	}
	sub := &memSub{ch: make(chan string, 128)}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub, nil
}

// Expire removes a key as if its TTL fired and notifies subscribers.
// Returns false if the key was absent.
func (s *MemStore) Expire(key string) bool {
	s.mu.Lock()
	_, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	subs := append([]*memSub(nil), s.subs...)
	s.mu.Unlock()

	if !ok {
		return false
	}
	for _, sub := range subs {
		sub.publish(key)
	}
	return true
}

// TTLOf returns the TTL recorded for a key (0 = none / absent).
func (s *MemStore) TTLOf(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key].ttl
}

// Keys returns a sorted snapshot of all present keys.
func (s *MemStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type memSub struct {
	mu     sync.Mutex
	ch     chan string
	closed bool
}

func (s *memSub) publish(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- key:
	default:
	}
}

func (s *memSub) Events() <-chan string {
	return s.ch
}

func (s *memSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
