package mock

import (
	"context"
	"sync"
	"time"

	"github.com/hearthware/sous/pkg/adapters/tts"
)

type TTSConfig struct {
	// BytesPerRune sizes the fake clip so longer text yields longer audio.
	BytesPerRune int
	// Latency delays every synthesis call.
	Latency time.Duration
	// Err, when set, is returned by every call.
	Err error
	// ChunkSize splits streamed output; defaults to 512.
	ChunkSize int
}

// Synthesizer produces deterministic fake audio and records every request.
type Synthesizer struct {
	cfg TTSConfig

	mu    sync.Mutex
	calls []string
}

func NewSynthesizer(cfg TTSConfig) *Synthesizer {
	if cfg.BytesPerRune == 0 {
		cfg.BytesPerRune = 64
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 512
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Synthesizer) record(text string) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()
}

func (s *Synthesizer) clip(text string) []byte {
	n := len([]rune(text)) * s.cfg.BytesPerRune
	if n == 0 {
		n = s.cfg.BytesPerRune
	}
	return make([]byte, n)
}

func (s *Synthesizer) wait(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.Latency):
		return nil
	}
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string, _ tts.Config) ([]byte, error) {
	s.record(text)
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.cfg.Err != nil {
		return nil, s.cfg.Err
	}
	return s.clip(text), nil
}

func (s *Synthesizer) SynthesizeStream(ctx context.Context, text string, _ tts.Config, emit func(chunk []byte) error) error {
	s.record(text)
	if err := s.wait(ctx); err != nil {
		return err
	}
	if s.cfg.Err != nil {
		return s.cfg.Err
	}
	clip := s.clip(text)
	for len(clip) > 0 {
		n := s.cfg.ChunkSize
		if n > len(clip) {
			n = len(clip)
		}
		if err := emit(clip[:n]); err != nil {
			return err
		}
		clip = clip[n:]
	}
	return nil
}

var _ tts.StreamSynthesizer = (*Synthesizer)(nil)
