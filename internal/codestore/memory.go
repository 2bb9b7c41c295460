package codestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/psds-microservice/homecam-relay/internal/clock"
)

type entry struct {
	value     []byte
	members   map[string]struct{}
	expiresAt time.Time // zero: never expires
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a single-process Store. Every read checks expiresAt, so expired keys never
// resolve even if Purge has not run yet.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]entry
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryStore{
		clock:   clk,
		entries: map[string]entry{},
	}
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}

// liveLocked returns the entry for key, dropping it if expired.
func (s *MemoryStore) liveLocked(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.clock.Now()) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(key)
	if !ok || e.members != nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: append([]byte(nil), value...), expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveLocked(key); ok {
		return false, nil
	}
	s.entries[key] = entry{value: append([]byte(nil), value...), expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(key)
	if !ok {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(s.clock.Now()), nil
}

func (s *MemoryStore) AddMember(_ context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(key)
	if !ok || e.members == nil {
		e = entry{members: map[string]struct{}{}}
	}
	e.members[member] = struct{}{}
	if ttl > 0 {
		e.expiresAt = s.expiry(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Members(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(key)
	if !ok || e.members == nil {
		return nil, nil
	}
	out := make([]string, 0, len(e.members))
	for m := range e.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(key)
	if !ok || e.members == nil {
		return nil
	}
	delete(e.members, member)
	if len(e.members) == 0 {
		delete(s.entries, key)
	}
	return nil
}

// Purge drops every expired key and returns how many were removed.
func (s *MemoryStore) Purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len is the number of stored keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
