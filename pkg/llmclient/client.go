// Package llmclient streams assistant responses: it opens one chat request
// at a time, segments the token stream into speakable sentences, and lifts
// embedded step-control directives out of the text.
package llmclient

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/hearthware/sous/pkg/convo"
	"github.com/hearthware/sous/pkg/errorsx"
	"github.com/hearthware/sous/pkg/logging"
)

// ChatStreamer is the transport behind the client, normally the gateway.
type ChatStreamer interface {
	StreamChat(ctx context.Context, messages []convo.Message, recipe convo.RecipeContext) (<-chan string, <-chan error, error)
}

type EventType string

const (
	EventToken     EventType = "token"
	EventSentence  EventType = "sentence"
	EventDirective EventType = "directive"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

type Event struct {
	Type      EventType
	Text      string
	Directive Directive
	Err       error
}

type Config struct {
	MinSentenceLen int
	MaxBufferLen   int
}

// Client allows exactly one in-flight request; Send supersedes and cancels
// the previous one.
type Client struct {
	streamer ChatStreamer
	cfg      Config
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(streamer ChatStreamer, cfg Config) *Client {
	return &Client{
		streamer: streamer,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(slog.Default(), "llmclient"),
	}
}

// Send opens a streaming request and delivers events on the returned
// channel. The channel closes after the terminal Done or Error event.
func (c *Client) Send(ctx context.Context, messages []convo.Message, recipe convo.RecipeContext) <-chan Event {
	if ctx == nil {
		ctx = context.Background()
	}
	reqCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.mu.Unlock()

	out := make(chan Event, 64)
	go c.run(reqCtx, cancel, messages, recipe, out)
	return out
}

// Abort cancels the in-flight request. Safe to call when idle.
func (c *Client) Abort() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) run(ctx context.Context, cancel context.CancelFunc, messages []convo.Message, recipe convo.RecipeContext, out chan<- Event) {
	defer close(out)
	defer cancel()

	tokens, errc, err := c.streamer.StreamChat(ctx, messages, recipe)
	if err != nil {
		if !errorsx.IsCancellation(err) {
			c.logger.Warn("chat request failed", "error", err)
			out <- Event{Type: EventError, Err: err}
		}
		return
	}

	seg := NewSegmenter(c.cfg.MinSentenceLen, c.cfg.MaxBufferLen)
	var full strings.Builder
	// pending holds text cut by the segmenter while a directive tag may
	// still be arriving token by token.
	pending := ""

	emitSentence := func(raw string) bool {
		text, directives := ExtractDirectives(raw)
		for _, d := range directives {
			if !send(ctx, out, Event{Type: EventDirective, Directive: d}) {
				return false
			}
		}
		if text != "" {
			if !send(ctx, out, Event{Type: EventSentence, Text: text}) {
				return false
			}
		}
		return true
	}

	for tokens != nil || errc != nil {
		select {
		case <-ctx.Done():
			return
		case tok, ok := <-tokens:
			if !ok {
				tokens = nil
				continue
			}
			full.WriteString(tok)
			if !send(ctx, out, Event{Type: EventToken, Text: tok}) {
				return
			}
			for _, sentence := range seg.Push(tok) {
				sentence = pending + sentence
				pending = ""
				if ContainsPartialDirective(sentence) {
					pending = sentence + " "
					continue
				}
				if !emitSentence(sentence) {
					return
				}
			}
		case streamErr, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			if streamErr != nil && !errorsx.IsCancellation(streamErr) {
				c.logger.Warn("chat stream error", "error", streamErr)
				send(ctx, out, Event{Type: EventError, Err: streamErr})
				return
			}
			errc = nil
		}
	}

	if rest := pending + seg.Flush(); strings.TrimSpace(rest) != "" {
		if !emitSentence(rest) {
			return
		}
	}

	fullText, _ := ExtractDirectives(full.String())
	send(ctx, out, Event{Type: EventDone, Text: fullText})
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}
