package localstt

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hearthware/sous/pkg/frames"
)

// scriptedRecognizer emits one final result per run, then ends naturally.
type scriptedRecognizer struct {
	runs    atomic.Int32
	scripts []string
}

func (r *scriptedRecognizer) Name() string { return "scripted" }

func (r *scriptedRecognizer) Listen(ctx context.Context, _ string, emit func(Result)) error {
	run := int(r.runs.Add(1)) - 1
	if run < len(r.scripts) {
		emit(Result{Transcript: r.scripts[run], Final: true})
	}
	return nil
}

func TestRestartsAfterNaturalEnd(t *testing.T) {
	rec := &scriptedRecognizer{scripts: []string{"first utterance", "second utterance"}}
	s := New(rec, Config{SessionID: "sess", RestartDebounce: 5 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	var texts []string
	deadline := time.After(2 * time.Second)
	for len(texts) < 2 {
		select {
		case f := <-s.Results():
			if tf, ok := f.(frames.TextFrame); ok {
				texts = append(texts, tf.Text())
			}
		case <-deadline:
			t.Fatalf("timed out, got %v", texts)
		}
	}
	if texts[0] != "first utterance" || texts[1] != "second utterance" {
		t.Fatalf("unexpected transcripts %v", texts)
	}
}

func TestSetListeningPausesRestarts(t *testing.T) {
	rec := &scriptedRecognizer{scripts: []string{"only one"}}
	s := New(rec, Config{SessionID: "sess", RestartDebounce: 5 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	select {
	case <-s.Results():
	case <-time.After(2 * time.Second):
		t.Fatal("no first result")
	}

	s.SetListening(false)
	before := rec.runs.Load()
	time.Sleep(50 * time.Millisecond)
	// One run may already be in flight when the flag flips.
	if after := rec.runs.Load(); after > before+1 {
		t.Fatalf("recognizer kept restarting while paused: %d -> %d", before, after)
	}
}
