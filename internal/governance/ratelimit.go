package governance

import (
	"sync"
	"time"
)

// Limit defines the token bucket for one method.
type Limit struct {
	RequestsPerSecond int
	Burst             int
}

// RateLimiter applies a token bucket per method name. Methods without a
// configured limit are never throttled.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter with the provided per-method limits.
func NewRateLimiter(limits map[string]Limit) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
	rl.Configure(limits)
	return rl
}

// Configure replaces the per-method limits. Buckets for methods that stay
// limited keep their remaining tokens.
func (rl *RateLimiter) Configure(limits map[string]Limit) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	buckets := make(map[string]*tokenBucket, len(limits))
	for method, limit := range limits {
		if bucket, ok := rl.buckets[method]; ok {
			bucket.configure(limit, now)
			buckets[method] = bucket
			continue
		}
		buckets[method] = newTokenBucket(limit, now)
	}
	rl.buckets = buckets
}

// Allow reports whether a call to method may proceed and consumes a token
// when it does. A nil limiter allows everything.
func (rl *RateLimiter) Allow(method string) bool {
	if rl == nil {
		return true
	}

	rl.mu.RLock()
	bucket, ok := rl.buckets[method]
	now := rl.now()
	rl.mu.RUnlock()

	if !ok {
		return true
	}
	return bucket.take(now)
}

// Stats returns the current bucket state per limited method.
func (rl *RateLimiter) Stats() map[string]Stats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	now := rl.now()
	stats := make(map[string]Stats, len(rl.buckets))
	for method, bucket := range rl.buckets {
		stats[method] = bucket.stats(now)
	}
	return stats
}

// Stats exposes the state of one bucket.
type Stats struct {
	Limit     int     `json:"limit"`
	Burst     int     `json:"burst"`
	Available float64 `json:"available"`
}

type tokenBucket struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(limit Limit, now time.Time) *tokenBucket {
	limit = normalize(limit)
	return &tokenBucket{
		rate:       float64(limit.RequestsPerSecond),
		capacity:   float64(limit.Burst),
		tokens:     float64(limit.Burst),
		lastRefill: now,
	}
}

func normalize(limit Limit) Limit {
	if limit.RequestsPerSecond <= 0 {
		limit.RequestsPerSecond = 100
	}
	if limit.Burst <= 0 {
		limit.Burst = limit.RequestsPerSecond
	}
	return limit
}

func (tb *tokenBucket) configure(limit Limit, now time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)

	limit = normalize(limit)
	oldCapacity := tb.capacity
	tb.rate = float64(limit.RequestsPerSecond)
	tb.capacity = float64(limit.Burst)

	// A raised burst grants the difference immediately.
	if tb.capacity > oldCapacity {
		tb.tokens += tb.capacity - oldCapacity
	}
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

func (tb *tokenBucket) take(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

func (tb *tokenBucket) stats(now time.Time) Stats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	return Stats{
		Limit:     int(tb.rate),
		Burst:     int(tb.capacity),
		Available: tb.tokens,
	}
}
