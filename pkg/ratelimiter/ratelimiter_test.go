package ratelimiter

import (
	"testing"
	"time"
)

func TestTokenBucketAllowsBurstThenDenies(t *testing.T) {
	tb := NewTokenBucket(0.001, 2) // negligible refill during the test

	if !tb.Allow() || !tb.Allow() {
		t.Fatal("expected the initial burst to be admitted")
	}
	if tb.Allow() {
		t.Fatal("expected the third request to be denied")
	}
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	tb := NewTokenBucket(100, 1)

	if !tb.Allow() {
		t.Fatal("expected the first request to be admitted")
	}
	if tb.Allow() {
		t.Fatal("expected an immediate second request to be denied")
	}

	time.Sleep(30 * time.Millisecond) // ~3 tokens at 100/s, capped at 1
	if !tb.Allow() {
		t.Fatal("expected a request after refill to be admitted")
	}
}

// One exhausted client must not consume another client's budget.
func TestPerKeyIsolatesClients(t *testing.T) {
	limiter := NewPerKey(0.001, 1)

	if !limiter.Allow("10.0.0.1") {
		t.Fatal("expected the first request from client A to be admitted")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("expected client A to be exhausted")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatal("expected client B to still be admitted")
	}
}
