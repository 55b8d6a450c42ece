package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Window is the state of one fixed window after a Take.
type Window struct {
	Key    string
	Start  time.Time
	Length time.Duration
	Count  int
	Limit  int
}

// ResetAt is when the window expires and a fresh one may start.
func (w Window) ResetAt() time.Time {
	return w.Start.Add(w.Length)
}

// Remaining is how many more calls fit in the window.
func (w Window) Remaining() int {
	return max(w.Limit-w.Count, 0)
}

// Store holds fixed-window counters. Take must be atomic per key: concurrent
// callers on the same key never observe or produce a lost update.
//
// The in-memory implementation is process-local. Multi-instance deployments
// need an implementation backed by shared state.
type Store interface {
	// Take counts one call against key. A missing or expired window is
	// replaced by a fresh one with Count 1. Otherwise the count is
	// incremented only while it stays within limit; allowed reports whether
	// the call fit.
	Take(ctx context.Context, key string, length time.Duration, limit int, now time.Time) (w Window, allowed bool, err error)
	// Refund returns one call taken from the window that started at start.
	// It is a no-op once that window has been replaced.
	Refund(ctx context.Context, key string, start time.Time) error
}

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	windows map[string]*Window
}

// MemoryStore is a sharded, mutex-guarded Store.
type MemoryStore struct {
	shards [shardCount]*shard
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[string]*Window)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck
	return s.shards[h.Sum32()&(shardCount-1)]
}

// Take implements Store.
func (s *MemoryStore) Take(_ context.Context, key string, length time.Duration, limit int, now time.Time) (Window, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok || !now.Before(w.Start.Add(w.Length)) {
		w = &Window{Key: key, Start: now, Length: length, Count: 1, Limit: limit}
		sh.windows[key] = w
		return *w, limit > 0, nil
	}
	w.Limit = limit
	if w.Count >= limit {
		return *w, false, nil
	}
	w.Count++
	return *w, true, nil
}

// Refund implements Store.
func (s *MemoryStore) Refund(_ context.Context, key string, start time.Time) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if w, ok := sh.windows[key]; ok && w.Start.Equal(start) && w.Count > 0 {
		w.Count--
	}
	return nil
}

// Sweep drops windows that have expired at now.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, w := range sh.windows {
			if !now.Before(w.ResetAt()) {
				delete(sh.windows, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked windows.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}
