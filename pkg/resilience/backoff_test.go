package resilience

import (
	"testing"
	"time"
)

func TestBackoffCapsAndExhausts(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 400*time.Millisecond, 4)

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("attempt %d: got %s, want %s", i, got, w)
		}
	}
	if !b.Exhausted() {
		t.Fatalf("expected backoff exhausted after %d attempts", b.MaxAttempts)
	}

	b.Reset()
	if b.Exhausted() {
		t.Fatalf("reset should clear the attempt counter")
	}
	if got := b.Next(); got != 100*time.Millisecond {
		t.Fatalf("after reset: got %s, want base", got)
	}
}
