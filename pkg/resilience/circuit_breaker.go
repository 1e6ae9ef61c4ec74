package resilience

import (
	"errors"
	"sync"
	"time"
)

// RateLimitError is a provider 429 surfaced as a typed error so callers
// can back off instead of retrying immediately.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// CircuitBreaker opens after repeated rate-limit responses and refuses
// requests until the cooldown passes. Other error kinds do not count
// against it.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	strikes   int
	openUntil time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a request may proceed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !time.Now().Before(b.openUntil)
}

func (b *CircuitBreaker) OnSuccess() {
	b.mu.Lock()
	b.strikes = 0
	b.openUntil = time.Time{}
	b.mu.Unlock()
}

func (b *CircuitBreaker) OnError(err error) {
	if !IsRateLimit(err) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strikes++
	if b.strikes >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
	}
}
