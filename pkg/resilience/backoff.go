package resilience

import "time"

// Backoff tracks reconnect attempts with capped exponential delays.
// Reset on a successful connection; once Exhausted reports true the caller
// should fall back to the next provider permanently.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int

	attempts int
}

func NewBackoff(base, cap time.Duration, maxAttempts int) *Backoff {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if cap <= 0 {
		cap = 8 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Backoff{Base: base, Cap: cap, MaxAttempts: maxAttempts}
}

// Next records one failed attempt and returns how long to wait before the
// next one.
func (b *Backoff) Next() time.Duration {
	d := b.Base
	for i := 0; i < b.attempts; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	b.attempts++
	return d
}

func (b *Backoff) Attempts() int { return b.attempts }

func (b *Backoff) Exhausted() bool { return b.attempts >= b.MaxAttempts }

func (b *Backoff) Reset() { b.attempts = 0 }
