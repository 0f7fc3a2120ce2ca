package ratelimiter

import (
	"sync"
	"time"
)

// TokenBucket is a token-bucket RateLimiter: requests may burst up to the
// bucket's capacity, then drain at the refill rate.
type TokenBucket struct {
	rate          float64 // tokens added per second
	capacity      float64
	tokens        float64
	lastTokenTime time.Time
	mutex         sync.Mutex
}

var _ RateLimiter = (*TokenBucket)(nil)

// NewTokenBucket creates a TokenBucket refilling at rate tokens per second
// with the given burst capacity. The bucket starts full.
func NewTokenBucket(rate float64, capacity int) *TokenBucket {
	return &TokenBucket{
		rate:          rate,
		capacity:      float64(capacity),
		tokens:        float64(capacity),
		lastTokenTime: time.Now(),
	}
}

// Allow refills the bucket for the elapsed time and consumes one token
// when available.
func (tb *TokenBucket) Allow() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastTokenTime)
	if elapsed > 0 {
		tb.tokens += elapsed.Seconds() * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTokenTime = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// idle buckets older than this are dropped when the tracked-key cap is hit
const keyIdleTTL = time.Hour

// PerKey hands out one TokenBucket per key, so one noisy client cannot
// exhaust the budget of everyone behind the same endpoint. The key is
// whatever the caller identifies a client by, typically its IP.
type PerKey struct {
	rate     float64
	capacity int
	maxKeys  int

	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// NewPerKey creates a keyed limiter; every key gets its own bucket with
// the given rate and capacity.
func NewPerKey(rate float64, capacity int) *PerKey {
	return &PerKey{
		rate:     rate,
		capacity: capacity,
		maxKeys:  4096,
		buckets:  make(map[string]*TokenBucket),
	}
}

// Allow runs the key's own bucket, creating it on first sight.
func (p *PerKey) Allow(key string) bool {
	p.mu.Lock()
	bucket, ok := p.buckets[key]
	if !ok {
		if len(p.buckets) >= p.maxKeys {
			p.sweepLocked()
		}
		bucket = NewTokenBucket(p.rate, p.capacity)
		p.buckets[key] = bucket
	}
	p.mu.Unlock()

	return bucket.Allow()
}

// sweepLocked drops buckets that have been idle past the TTL. Caller holds
// p.mu.
func (p *PerKey) sweepLocked() {
	cutoff := time.Now().Add(-keyIdleTTL)
	for key, bucket := range p.buckets {
		bucket.mutex.Lock()
		idle := bucket.lastTokenTime.Before(cutoff)
		bucket.mutex.Unlock()
		if idle {
			delete(p.buckets, key)
		}
	}
}
