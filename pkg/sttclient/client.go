// Package sttclient turns microphone audio into clean transcript events.
// It manages a provider chain: a network streaming provider with capped
// exponential reconnect, then a permanent fallback to local recognition.
package sttclient

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hearthware/sous/pkg/adapters/stt"
	"github.com/hearthware/sous/pkg/frames"
	"github.com/hearthware/sous/pkg/logging"
	"github.com/hearthware/sous/pkg/resilience"
)

// EventType classifies client output.
type EventType string

const (
	EventInterim       EventType = "interim"
	EventFinal         EventType = "final"
	EventSpeechStarted EventType = "speech_started"
	EventUtteranceEnd  EventType = "utterance_end"
	EventFallback      EventType = "fallback"
)

type Event struct {
	Type     EventType
	Text     string
	Provider string
}

// ProviderFactory builds a fresh provider stream for the given language.
// The client calls it again on every reconnect.
type ProviderFactory func(ctx context.Context, sessionID, language string) (stt.StreamingSTT, error)

type Config struct {
	SessionID string
	Language  string
	// MinTranscriptRunes drops transcripts shorter than this.
	MinTranscriptRunes int
	Backoff            *resilience.Backoff
}

var fillerTokens = map[string]struct{}{
	"um": {}, "uh": {}, "hmm": {}, "mm": {}, "mhm": {}, "huh": {}, "ah": {}, "eh": {},
}

// Client owns the active provider stream and republishes its frames as
// events. Audio is fed in through SendAudio.
type Client struct {
	primary  ProviderFactory
	fallback ProviderFactory

	events chan Event
	logger *slog.Logger

	mu      sync.Mutex
	cfg     Config
	active  stt.StreamingSTT
	ctx     context.Context
	cancel  context.CancelFunc
	onLocal bool
	closed  bool
	// restart marks a deliberate stream teardown (reconfiguration); the
	// resulting stream end is not charged against the backoff ceiling.
	restart bool
}

func New(primary, fallback ProviderFactory, cfg Config) *Client {
	if cfg.MinTranscriptRunes <= 0 {
		cfg.MinTranscriptRunes = 2
	}
	if cfg.Backoff == nil {
		cfg.Backoff = resilience.NewBackoff(0, 0, 0)
	}
	return &Client{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		events:   make(chan Event, 64),
		logger:   logging.NewComponentLogger(slog.Default(), "sttclient"),
	}
}

func (c *Client) Events() <-chan Event { return c.events }

// Start connects the primary provider and begins the supervision loop.
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.supervise()
	return nil
}

// supervise runs the provider chain until the client stops. A provider
// stream ending counts against the backoff; once exhausted the client
// switches to the fallback provider and never goes back.
func (c *Client) supervise() {
	for {
		c.mu.Lock()
		ctx := c.ctx
		onLocal := c.onLocal
		lang := c.cfg.Language
		backoff := c.cfg.Backoff
		c.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}

		factory := c.primary
		if onLocal {
			factory = c.fallback
		}

		provider, err := factory(ctx, c.cfg.SessionID, lang)
		if err == nil {
			err = provider.Start(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if onLocal {
				// Local recognition failing is terminal for this loop;
				// retry slowly rather than spinning.
				c.logger.Error("local recognizer start failed", "error", err)
				if !sleepCtx(ctx, 2*time.Second) {
					return
				}
				continue
			}
			c.logger.Warn("stt provider start failed",
				"error", err,
				"attempt", backoff.Attempts()+1)
			if !c.backoffOrFallback(ctx, backoff) {
				if ctx.Err() != nil {
					return
				}
			}
			continue
		}

		c.mu.Lock()
		c.active = provider
		c.mu.Unlock()
		c.logger.Info("stt provider connected", "provider", provider.Name())

		connectedAt := time.Now()
		c.pump(ctx, provider)
		// A stream that stayed up counts as recovered; rapid drops keep
		// accumulating against the attempt ceiling.
		if time.Since(connectedAt) > 10*time.Second {
			backoff.Reset()
		}

		c.mu.Lock()
		c.active = nil
		closed := c.closed
		restarted := c.restart
		c.restart = false
		c.mu.Unlock()
		_ = provider.Close()
		if closed || ctx.Err() != nil {
			return
		}

		if restarted {
			c.logger.Info("stt stream rebuilding after reconfiguration")
			continue
		}
		if !onLocal {
			c.logger.Warn("stt provider stream ended, reconnecting",
				"provider", provider.Name())
			if !c.backoffOrFallback(ctx, backoff) && ctx.Err() != nil {
				return
			}
		}
	}
}

// backoffOrFallback waits out the next backoff step. When attempts are
// exhausted it flips the chain to the local provider. Returns false when
// ctx ended during the wait.
func (c *Client) backoffOrFallback(ctx context.Context, backoff *resilience.Backoff) bool {
	if backoff.Exhausted() {
		c.mu.Lock()
		c.onLocal = true
		c.mu.Unlock()
		c.logger.Warn("stt reconnect attempts exhausted, falling back to local recognition")
		c.emit(Event{Type: EventFallback, Provider: "local"})
		return true
	}
	return sleepCtx(ctx, backoff.Next())
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// pump republishes provider frames as events until the stream closes.
func (c *Client) pump(ctx context.Context, provider stt.StreamingSTT) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-provider.Results():
			if !ok {
				return
			}
			c.handleFrame(f, provider.Name())
		}
	}
}

func (c *Client) handleFrame(f frames.Frame, providerName string) {
	switch fr := f.(type) {
	case frames.TextFrame:
		text := strings.TrimSpace(fr.Text())
		final := fr.Meta()[frames.MetaIsFinal] == "true"
		if final && !c.substantive(text) {
			c.logger.Debug("transcript dropped as filler", "text", text)
			return
		}
		typ := EventInterim
		if final {
			typ = EventFinal
		}
		c.emit(Event{Type: typ, Text: text, Provider: providerName})
	case frames.ControlFrame:
		switch fr.Code() {
		case frames.ControlSpeechStarted:
			c.emit(Event{Type: EventSpeechStarted, Provider: providerName})
		case frames.ControlUtteranceEnd:
			c.emit(Event{Type: EventUtteranceEnd, Provider: providerName})
		}
	}
}

// substantive rejects transcripts that carry no usable content.
func (c *Client) substantive(text string) bool {
	stripped := strings.TrimFunc(text, func(r rune) bool {
		return strings.ContainsRune(".,!?;:'\"- ", r)
	})
	if len([]rune(stripped)) < c.cfg.MinTranscriptRunes {
		return false
	}
	if _, filler := fillerTokens[strings.ToLower(stripped)]; filler {
		return false
	}
	return true
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("stt event channel full", "type", string(ev.Type))
	}
}

// SendAudio forwards captured PCM to the active provider. Dropped silently
// while no provider is connected.
func (c *Client) SendAudio(pcm []byte) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil {
		return
	}
	frame := frames.NewAudioFrame(c.cfg.SessionID, frames.Now(), pcm, 16000, 1, map[string]string{
		frames.MetaSource: "mic",
	})
	if err := active.SendAudio(frame); err != nil {
		c.logger.Debug("audio forward failed", "error", err)
	}
}

// SetLanguage restarts the active provider stream with the new language.
func (c *Client) SetLanguage(language string) {
	c.mu.Lock()
	if c.cfg.Language == language {
		c.mu.Unlock()
		return
	}
	c.cfg.Language = language
	active := c.active
	c.active = nil
	if active != nil {
		c.restart = true
	}
	c.mu.Unlock()

	if active != nil {
		// Closing makes the supervise loop rebuild the provider with the
		// updated language.
		_ = active.Close()
	}
}

// OnLocalFallback reports whether the client has permanently switched to
// local recognition.
func (c *Client) OnLocalFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onLocal
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	active := c.active
	c.active = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if active != nil {
		_ = active.Close()
	}
	return nil
}
