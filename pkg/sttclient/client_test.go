package sttclient

import (
	"context"
	"testing"
	"time"

	"github.com/hearthware/sous/pkg/adapters/stt"
	"github.com/hearthware/sous/pkg/providers/mock"
	"github.com/hearthware/sous/pkg/resilience"
)

func collect(t *testing.T, c *Client, want EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-c.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestFinalTranscriptFlowsThrough(t *testing.T) {
	primary := func(ctx context.Context, sessionID, language string) (stt.StreamingSTT, error) {
		return mock.NewSTT(mock.STTConfig{
			SessionID:        sessionID,
			Transcript:       "what's the next step",
			EmitInterim:      true,
			EmitUtteranceEnd: true,
		}), nil
	}
	c := New(primary, primary, Config{SessionID: "sess"})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	// The mock emits on first audio; wait for the provider to connect.
	for i := 0; i < 100; i++ {
		c.SendAudio(make([]byte, 320))
		select {
		case ev := <-c.Events():
			if ev.Type == EventInterim {
				final := collect(t, c, EventFinal, time.Second)
				if final.Text != "what's the next step" {
					t.Fatalf("unexpected final %q", final.Text)
				}
				collect(t, c, EventUtteranceEnd, time.Second)
				return
			}
		case <-time.After(20 * time.Millisecond):
		}
	}
	t.Fatal("no events from provider")
}

func TestFillerTranscriptsDropped(t *testing.T) {
	c := New(nil, nil, Config{SessionID: "sess"})
	for _, text := range []string{"um", "Uh.", "hmm", "...", "a"} {
		if c.substantive(text) {
			t.Errorf("%q should be dropped", text)
		}
	}
	for _, text := range []string{"ok", "next step", "how long do I boil the pasta?"} {
		if !c.substantive(text) {
			t.Errorf("%q should pass", text)
		}
	}
}

func TestLanguageSwitchesDoNotExhaustReconnects(t *testing.T) {
	primary := func(ctx context.Context, sessionID, language string) (stt.StreamingSTT, error) {
		return mock.NewSTT(mock.STTConfig{SessionID: sessionID}), nil
	}
	c := New(primary, primary, Config{
		SessionID: "sess",
		Backoff:   resilience.NewBackoff(time.Millisecond, 4*time.Millisecond, 1),
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	for _, lang := range []string{"es", "fr", "de"} {
		c.SetLanguage(lang)
		time.Sleep(20 * time.Millisecond)
	}

	if c.OnLocalFallback() {
		t.Fatal("language switches must not trip the local fallback")
	}
	select {
	case ev := <-c.Events():
		if ev.Type == EventFallback {
			t.Fatal("language switch charged the reconnect ceiling")
		}
	default:
	}
}

func TestFallsBackToLocalAfterExhaustion(t *testing.T) {
	failing := mock.NewSTT(mock.STTConfig{SessionID: "sess", FailStarts: 100})
	primary := func(ctx context.Context, sessionID, language string) (stt.StreamingSTT, error) {
		return failing, nil
	}
	local := func(ctx context.Context, sessionID, language string) (stt.StreamingSTT, error) {
		return mock.NewSTT(mock.STTConfig{SessionID: sessionID, Transcript: "local heard you"}), nil
	}

	c := New(primary, local, Config{
		SessionID: "sess",
		Backoff:   resilience.NewBackoff(time.Millisecond, 4*time.Millisecond, 3),
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	collect(t, c, EventFallback, 2*time.Second)
	if !c.OnLocalFallback() {
		t.Fatal("client should report local fallback")
	}
}
