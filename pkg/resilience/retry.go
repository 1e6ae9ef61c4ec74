package resilience

import "time"

// RetryPolicy retries a short operation a fixed number of times with a
// flat delay between attempts. For reconnect loops use Backoff instead.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

func NewRetryPolicy(maxRetries int, delay time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Delay: delay}
}

// Do runs fn until it succeeds or the attempts run out, returning the
// last error.
func (p RetryPolicy) Do(fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= p.MaxRetries {
			return err
		}
		time.Sleep(p.Delay)
	}
}
