package audioio

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/hearthware/sous/pkg/errorsx"
)

// OtoSink plays PCM through the system speaker. Buffers are appended to a
// shared stream so consecutive writes play without gaps.
type OtoSink struct {
	ctx *oto.Context
	log *slog.Logger

	mu     sync.Mutex
	stream *pcmStream
	player *oto.Player
}

type SinkConfig struct {
	SampleRate   int
	ChannelCount int
}

func NewOtoSink(cfg SinkConfig, log *slog.Logger) (*OtoSink, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.ChannelCount == 0 {
		cfg.ChannelCount = 1
	}
	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.ChannelCount,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonAudioDevice)
	}
	<-ready

	return &OtoSink{ctx: ctx, log: log}, nil
}

func (s *OtoSink) Write(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		s.stream = newPCMStream()
		s.player = s.ctx.NewPlayer(s.stream)
		s.player.Play()
	}
	s.stream.append(pcm)
	return nil
}

func (s *OtoSink) Reset() {
	s.mu.Lock()
	player, stream := s.player, s.stream
	s.player, s.stream = nil, nil
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		stream.close()
		_ = player.Close()
	}
}

func (s *OtoSink) Done() error {
	s.mu.Lock()
	player, stream := s.player, s.stream
	s.mu.Unlock()
	if player == nil {
		return nil
	}

	stream.closeWhenDrained()
	for player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}

	s.mu.Lock()
	if s.player == player {
		s.player, s.stream = nil, nil
	}
	s.mu.Unlock()
	return player.Close()
}

// pcmStream is an appendable reader feeding an oto player. Read blocks while
// the stream is open and empty so the player keeps the device warm between
// sentences.
type pcmStream struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	closed   bool
	drainEOF bool
}

func newPCMStream() *pcmStream {
	s := &pcmStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *pcmStream) append(pcm []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, pcm...)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *pcmStream) close() {
	s.mu.Lock()
	s.closed = true
	s.buf = nil
	s.mu.Unlock()
	s.cond.Broadcast()
}

// closeWhenDrained marks the stream finished: once the buffer empties, Read
// returns io.EOF instead of blocking.
func (s *pcmStream) closeWhenDrained() {
	s.mu.Lock()
	s.drainEOF = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *pcmStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 {
		if s.closed || s.drainEOF {
			return 0, io.EOF
		}
		s.cond.Wait()
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}
