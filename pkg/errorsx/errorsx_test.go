package errorsx

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesFirstReason(t *testing.T) {
	base := errors.New("dial tcp: refused")
	wrapped := Wrap(base, ReasonSTTConnect)
	again := Wrap(wrapped, ReasonSTTSend)

	if Reason(again) != ReasonSTTConnect {
		t.Fatalf("expected first reason to stick, got %s", Reason(again))
	}
	if !HasReason(again, ReasonSTTConnect) {
		t.Fatalf("HasReason should match the original code")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonTTSSynth) != nil {
		t.Fatalf("wrapping nil should stay nil")
	}
}

func TestIsCancellation(t *testing.T) {
	err := Wrap(fmt.Errorf("stream: %w", context.Canceled), ReasonChatStream)
	if !IsCancellation(err) {
		t.Fatalf("wrapped context.Canceled should be a cancellation")
	}
	if IsCancellation(errors.New("boom")) {
		t.Fatalf("plain error is not a cancellation")
	}
}
