package wakeword

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hearthware/sous/pkg/logging"
)

const DefaultCooldown = 1500 * time.Millisecond

// defaultVariants cover how recognizers actually hear the wake phrase.
var defaultVariants = []string{
	"hey chef", "hey, chef", "a chef", "hey shef", "hey chef.",
}

type Config struct {
	Spotter  SpotterConfig
	Cooldown time.Duration
	Variants []string
}

// TranscriptSource is the fallback input: a stream of recognized phrases
// from continuous local recognition.
type TranscriptSource interface {
	Transcripts() <-chan string
}

// FrameSource supplies PCM for the spotter, usually audioio.Capture.
type FrameSource interface {
	Start() (<-chan []byte, error)
	Stop()
}

// Listener waits for the wake phrase and notifies once per detection,
// then keeps listening. Pause suspends detection (and drops anything heard
// while paused); Resume re-arms it.
type Listener struct {
	cfg     Config
	spotter *Spotter
	frames  FrameSource
	fallbck TranscriptSource
	logger  *slog.Logger

	// OnWake fires from the listener goroutine. Set before Start.
	OnWake func()

	mu       sync.Mutex
	paused   bool
	lastFire time.Time
	cancel   context.CancelFunc
}

func New(cfg Config, frames FrameSource, fallback TranscriptSource) *Listener {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if len(cfg.Variants) == 0 {
		cfg.Variants = defaultVariants
	}
	return &Listener{
		cfg:     cfg,
		spotter: NewSpotter(cfg.Spotter),
		frames:  frames,
		fallbck: fallback,
		logger:  logging.NewComponentLogger(slog.Default(), "wakeword"),
	}
}

// Start runs the spotter; when the ONNX pipeline cannot initialize it
// falls back to phrase matching. Non-blocking.
func (l *Listener) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	go func() {
		if l.frames != nil {
			frameCh, err := l.frames.Start()
			if err == nil {
				defer l.frames.Stop()
				err = l.spotter.Run(ctx, frameCh, func(score float32) {
					l.logger.Debug("keyword score over threshold", "score", score)
					l.fire()
				})
			}
			if err != nil && ctx.Err() == nil {
				l.logger.Warn("keyword spotter unavailable, using phrase matching",
					"error", err)
			} else {
				return
			}
		}
		l.runPhraseFallback(ctx)
	}()
}

func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Pause stops detections, e.g. while the assistant itself is speaking.
func (l *Listener) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
}

// Resume re-arms detection and resets spotter state so speech heard before
// the pause cannot trigger now.
func (l *Listener) Resume() {
	l.mu.Lock()
	l.paused = false
	l.mu.Unlock()
	l.spotter.RequestReset()
}

func (l *Listener) runPhraseFallback(ctx context.Context) {
	if l.fallbck == nil {
		l.logger.Error("no fallback transcript source, wake listening disabled")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case phrase, ok := <-l.fallbck.Transcripts():
			if !ok {
				return
			}
			if l.MatchesPhrase(phrase) {
				l.fire()
			}
		}
	}
}

// MatchesPhrase reports whether heard contains an accepted wake-phrase
// variant.
func (l *Listener) MatchesPhrase(heard string) bool {
	normalized := strings.ToLower(strings.TrimSpace(heard))
	for _, v := range l.cfg.Variants {
		if strings.Contains(normalized, v) {
			return true
		}
	}
	return false
}

// fire notifies once, respecting pause state and the cooldown.
func (l *Listener) fire() {
	l.mu.Lock()
	if l.paused || time.Since(l.lastFire) < l.cfg.Cooldown {
		l.mu.Unlock()
		return
	}
	l.lastFire = time.Now()
	hook := l.OnWake
	l.mu.Unlock()

	l.logger.Info("wake phrase detected")
	if hook != nil {
		hook()
	}
}
