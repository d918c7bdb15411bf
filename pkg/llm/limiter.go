package llm

import (
	"context"
	"sync"
	"time"
)

// RatePolicy defines outbound call limits.
type RatePolicy struct {
	RPM   int
	Burst int
}

// LimiterStore abstracts the storage for rate limiting buckets.
type LimiterStore interface {
	// Allow checks if the keyed bucket permits an action costing 'cost'.
	// Returns true if allowed, false if rate limited.
	Allow(ctx context.Context, key string, policy RatePolicy, cost int) (bool, error)
}

// tokenBucket is a thread-safe token bucket.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(ratePerSec float64, capacity int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: ratePerSec,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow(cost int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens = tb.tokens + elapsed*tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= float64(cost) {
		tb.tokens -= float64(cost)
		return true
	}
	return false
}

// MemoryLimiterStore is a per-process limiter for single-instance deployments.
type MemoryLimiterStore struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func NewMemoryLimiterStore() *MemoryLimiterStore {
	return &MemoryLimiterStore{buckets: make(map[string]*tokenBucket)}
}

func (s *MemoryLimiterStore) Allow(ctx context.Context, key string, policy RatePolicy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tb, exists := s.buckets[key]
	if !exists {
		rate := float64(policy.RPM) / 60.0
		if rate <= 0 {
			rate = 1
		}
		tb = newTokenBucket(rate, policy.Burst)
		s.buckets[key] = tb
	}

	return tb.allow(cost), nil
}
