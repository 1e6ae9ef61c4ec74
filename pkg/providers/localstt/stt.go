// Package localstt wraps an on-device recognizer as a streaming STT
// provider. Platform recognizers end recognition after each utterance, so
// the wrapper restarts them while the session still wants to listen.
package localstt

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hearthware/sous/pkg/adapters/stt"
	"github.com/hearthware/sous/pkg/errorsx"
	"github.com/hearthware/sous/pkg/frames"
	"github.com/hearthware/sous/pkg/logging"
)

// Result is one recognizer callback.
type Result struct {
	Transcript string
	Final      bool
}

// Recognizer is a single-shot on-device recognition run. Listen blocks
// until the run ends naturally or ctx is cancelled, delivering results
// through emit as they arrive.
type Recognizer interface {
	Name() string
	Listen(ctx context.Context, language string, emit func(Result)) error
}

const DefaultRestartDebounce = 300 * time.Millisecond

type Config struct {
	SessionID       string
	Language        string
	RestartDebounce time.Duration
}

// StreamingSTT adapts a Recognizer to the streaming provider contract.
// Audio frames are ignored; the recognizer owns the microphone directly.
type StreamingSTT struct {
	cfg    Config
	rec    Recognizer
	out    chan frames.Frame
	logger *slog.Logger

	listening atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(rec Recognizer, cfg Config) *StreamingSTT {
	if cfg.RestartDebounce <= 0 {
		cfg.RestartDebounce = DefaultRestartDebounce
	}
	return &StreamingSTT{
		cfg:    cfg,
		rec:    rec,
		out:    make(chan frames.Frame, 64),
		logger: logging.NewComponentLogger(slog.Default(), "local_stt"),
	}
}

func (s *StreamingSTT) Name() string { return "local_" + s.rec.Name() }

// SetListening controls the restart loop. While false, a finished run is
// not restarted.
func (s *StreamingSTT) SetListening(v bool) {
	s.listening.Store(v)
}

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.listening.Store(true)
	go s.runLoop(ctx)
	return nil
}

func (s *StreamingSTT) runLoop(ctx context.Context) {
	defer close(s.out)
	for ctx.Err() == nil {
		if !s.listening.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RestartDebounce):
			}
			continue
		}

		err := s.rec.Listen(ctx, s.cfg.Language, s.handleResult)
		if err != nil && ctx.Err() == nil && !errorsx.IsCancellation(err) {
			// Transient recognizer errors (no speech, aborted) are part of
			// normal operation.
			s.logger.Debug("recognizer run ended with error",
				slog.String("session_id", s.cfg.SessionID),
				slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RestartDebounce):
		}
	}
}

func (s *StreamingSTT) handleResult(r Result) {
	if r.Transcript == "" {
		return
	}
	meta := map[string]string{
		frames.MetaSource:   "stt",
		frames.MetaProvider: s.Name(),
	}
	if r.Final {
		meta[frames.MetaIsFinal] = "true"
	} else {
		meta[frames.MetaIsFinal] = "false"
	}
	now := time.Now().UnixNano()
	select {
	case s.out <- frames.NewTextFrame(s.cfg.SessionID, now, r.Transcript, meta):
	default:
		s.logger.Warn("local stt out channel full",
			slog.String("session_id", s.cfg.SessionID))
	}
	if r.Final {
		select {
		case s.out <- frames.NewControlFrame(s.cfg.SessionID, now, frames.ControlUtteranceEnd, map[string]string{
			frames.MetaSource: "stt",
			frames.MetaReason: "recognizer_final",
		}):
		default:
		}
	}
}

// SendAudio is a no-op; the recognizer captures directly from the device.
func (s *StreamingSTT) SendAudio(frames.AudioFrame) error { return nil }

func (s *StreamingSTT) Close() error {
	s.listening.Store(false)
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *StreamingSTT) Results() <-chan frames.Frame { return s.out }

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
