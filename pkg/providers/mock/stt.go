// Package mock provides deterministic providers for tests.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hearthware/sous/pkg/adapters/stt"
	"github.com/hearthware/sous/pkg/frames"
)

type STTConfig struct {
	SessionID         string
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	EmitVAD           bool
	EmitUtteranceEnd  bool
	// FailStarts makes the first N Start calls return an error.
	FailStarts int
}

// StreamingSTT emits a scripted transcript sequence on the first audio
// frame it receives.
type StreamingSTT struct {
	cfg     STTConfig
	out     chan frames.Frame
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	emitted bool
	starts  int
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &StreamingSTT{cfg: cfg, out: make(chan frames.Frame, 16)}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.starts++
	if s.starts <= s.cfg.FailStarts {
		s.mu.Unlock()
		return errors.New("mock connect refused")
	}
	s.started = true
	s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	return nil
}

func (s *StreamingSTT) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	s.started = false
	return nil
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("not started")
	}
	if s.emitted {
		s.mu.Unlock()
		return nil
	}
	s.emitted = true
	s.mu.Unlock()

	now := time.Now().UnixNano()
	if s.cfg.EmitVAD {
		s.out <- frames.NewControlFrame(s.cfg.SessionID, now, frames.ControlSpeechStarted, map[string]string{
			frames.MetaSource: "stt",
		})
	}

	if s.cfg.EmitInterim {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		s.out <- frames.NewTextFrame(s.cfg.SessionID, now, interim, map[string]string{
			frames.MetaSource:  "stt",
			frames.MetaIsFinal: "false",
		})
	}

	s.out <- frames.NewTextFrame(s.cfg.SessionID, now, s.cfg.Transcript, map[string]string{
		frames.MetaSource:  "stt",
		frames.MetaIsFinal: "true",
	})

	if s.cfg.EmitUtteranceEnd {
		s.out <- frames.NewControlFrame(s.cfg.SessionID, now, frames.ControlUtteranceEnd, map[string]string{
			frames.MetaSource: "stt",
			frames.MetaReason: "utterance_end",
		})
	}
	return nil
}

func (s *StreamingSTT) Results() <-chan frames.Frame { return s.out }

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
