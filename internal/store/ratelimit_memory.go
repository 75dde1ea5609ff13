package store

import (
	"context"
	"sync"
	"time"
)

// RateLimitMemoryStore is an in-memory implementation of ratelimit.Store.
type RateLimitMemoryStore struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	now      func() time.Time
}

// NewRateLimitMemoryStore creates a new in-memory rate limit store.
func NewRateLimitMemoryStore() *RateLimitMemoryStore {
	return &RateLimitMemoryStore{
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (s *RateLimitMemoryStore) Record(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	timestamps := s.requests[key]
	valid := make([]time.Time, 0, len(timestamps)+1)

	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	valid = append(valid, now)
	s.requests[key] = valid

	return int64(len(valid)), nil
}

// Sweep drops keys whose newest request is older than maxWindow and returns how many were dropped.
func (s *RateLimitMemoryStore) Sweep(maxWindow time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxWindow)
	dropped := 0

	for key, timestamps := range s.requests {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(s.requests, key)

			dropped++
		}
	}

	return dropped
}

// Len returns the number of tracked keys.
func (s *RateLimitMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.requests)
}
