package ratelimiter

// RateLimiter admits or rejects one request against a shared budget.
type RateLimiter interface {
	// Allow reports whether the request may proceed.
	Allow() bool
}
