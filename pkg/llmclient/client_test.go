package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/hearthware/sous/pkg/convo"
	"github.com/hearthware/sous/pkg/providers/mock"
)

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("stream did not finish, got %d events", len(out))
		}
	}
}

func ofType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestSendEmitsSentencesAndDone(t *testing.T) {
	chat := mock.NewChat(mock.ChatConfig{Tokens: []string{
		"Bring the water ", "to a boil. ", "Then add ", "the pasta and stir. ",
	}})
	c := New(chat, Config{})

	events := drain(t, c.Send(context.Background(), nil, convo.RecipeContext{}))

	sentences := ofType(events, EventSentence)
	if len(sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %v", sentences)
	}
	done := ofType(events, EventDone)
	if len(done) != 1 || done[0].Text != "Bring the water to a boil. Then add the pasta and stir." {
		t.Fatalf("unexpected done event %v", done)
	}
}

func TestDirectiveSplitAcrossTokens(t *testing.T) {
	chat := mock.NewChat(mock.ChatConfig{Tokens: []string{
		"Moving to the next step now. ", "[NE", "XT] ", "Chop the carrots into rounds. ",
	}})
	c := New(chat, Config{})

	events := drain(t, c.Send(context.Background(), nil, convo.RecipeContext{}))

	directives := ofType(events, EventDirective)
	if len(directives) != 1 || directives[0].Directive.Type != DirectiveNext {
		t.Fatalf("expected NEXT directive, got %v", directives)
	}
	for _, s := range ofType(events, EventSentence) {
		if ContainsPartialDirective(s.Text) || s.Text == "[NEXT]" {
			t.Fatalf("tag leaked into sentence %q", s.Text)
		}
	}
}

func TestSendSupersedesPrior(t *testing.T) {
	chat := mock.NewChat(mock.ChatConfig{
		Tokens:     []string{"slow ", "response ", "tokens ", "keep ", "coming. "},
		TokenDelay: 30 * time.Millisecond,
	})
	c := New(chat, Config{})

	first := c.Send(context.Background(), nil, convo.RecipeContext{})
	time.Sleep(10 * time.Millisecond)
	second := c.Send(context.Background(), nil, convo.RecipeContext{})

	firstEvents := drain(t, first)
	if len(ofType(firstEvents, EventDone)) != 0 {
		t.Fatal("superseded request must not complete")
	}
	secondEvents := drain(t, second)
	if len(ofType(secondEvents, EventDone)) != 1 {
		t.Fatal("second request should complete")
	}
	if chat.Calls() != 2 {
		t.Fatalf("expected 2 requests, got %d", chat.Calls())
	}
}

func TestAbortWhenIdleIsSafe(t *testing.T) {
	c := New(mock.NewChat(mock.ChatConfig{}), Config{})
	c.Abort()
	c.Abort()
}

func TestStreamErrorSurfaces(t *testing.T) {
	chat := mock.NewChat(mock.ChatConfig{
		Tokens: []string{"par"},
		Err:    context.DeadlineExceeded,
	})
	c := New(chat, Config{})
	events := drain(t, c.Send(context.Background(), nil, convo.RecipeContext{}))
	if len(ofType(events, EventError)) != 1 {
		t.Fatalf("expected error event, got %v", events)
	}
	if len(ofType(events, EventDone)) != 0 {
		t.Fatal("errored stream must not emit done")
	}
}
