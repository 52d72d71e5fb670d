// Package ratelimit protects the credential-bearing endpoints from brute
// force. The sliding window store is per-process; the redis store shares the
// window across instances.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Store tracks request counts per key.
type Store interface {
	// Allow records one request against key and reports whether it fits the
	// limit within the window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
	// Reset clears the counter for a key.
	Reset(ctx context.Context, key string) error
}

// slidingWindow tracks request timestamps; expired entries are trimmed on
// access. The sliding algorithm avoids the burst at window boundaries a fixed
// counter allows.
type slidingWindow struct {
	timestamps []time.Time
}

func (w *slidingWindow) trim(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*slidingWindow
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: map[string]*slidingWindow{}, now: time.Now}
}

func (s *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	bucket, ok := s.buckets[key]
	if !ok {
		bucket = &slidingWindow{}
		s.buckets[key] = bucket
	}
	bucket.trim(now, window)

	if len(bucket.timestamps)+1 > limit {
		// A non-positive limit leaves the bucket empty; the window then
		// resets from now.
		resetAt := now.Add(window)
		if len(bucket.timestamps) > 0 {
			resetAt = bucket.timestamps[0].Add(window)
		}
		return &Result{
			Allowed:   false,
			Remaining: 0,
			Limit:     limit,
			ResetAt:   resetAt,
		}, nil
	}

	bucket.timestamps = append(bucket.timestamps, now)
	return &Result{
		Allowed:   true,
		Remaining: limit - len(bucket.timestamps),
		Limit:     limit,
		ResetAt:   bucket.timestamps[0].Add(window),
	}, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}
