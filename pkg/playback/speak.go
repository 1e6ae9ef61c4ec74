package playback

import (
	"context"
	"errors"
	"time"

	"github.com/hearthware/sous/pkg/adapters/tts"
	"github.com/hearthware/sous/pkg/audioio"
	"github.com/hearthware/sous/pkg/errorsx"
	"github.com/hearthware/sous/pkg/metrics"
)

var errStreamSilent = errors.New("no audio received before silence timeout")

// speak renders one sentence. Muted or unclaimed turns skip audio entirely
// but still satisfy the start latch.
func (p *Pipeline) speak(ctx context.Context, t *turnState, text string) {
	if !p.sameTurn(t) {
		return
	}
	if p.mute.Get() || !t.claimed {
		p.fireStart(t)
		return
	}

	p.mu.Lock()
	voice, speed := p.cfg.Voice, p.cfg.Speed
	strategy := p.cfg.Strategy
	simpleOnly := t.simpleOnly
	p.mu.Unlock()
	cfg := tts.Config{Voice: voice, Speed: speed}

	if clip, ok := p.cache.Get(voice, text); ok {
		if pcm, err := p.decode(clip); err == nil {
			p.writeClip(t, pcm)
			return
		}
	}

	if strategy == StrategyStreamed && !simpleOnly {
		err := p.speakStreamed(ctx, t, text, cfg)
		if err == nil || errorsx.IsCancellation(err) || ctx.Err() != nil {
			return
		}
		p.mu.Lock()
		t.simpleOnly = true
		p.mu.Unlock()
		p.observer.RecordEvent(metrics.MetricsEvent{
			Name: metrics.EventFallback,
			Time: time.Now(),
			Tags: map[string]string{"session_id": p.cfg.SessionID, "turn_id": t.id, "from": "streamed"},
		})
		p.logger.Warn("streamed synthesis failed, using simple synthesis for the rest of the turn",
			"error", err, "turn_id", t.id)
	}

	if err := p.speakSimple(ctx, t, text, cfg); err != nil && ctx.Err() == nil {
		p.logger.Warn("sentence abandoned", "error", err, "turn_id", t.id)
		p.apologize(ctx, t, cfg)
	}
}

// speakStreamed plays a sentence from the gateway's SSE audio stream.
// Fragments accumulate to a decodable size, decoded buffers are held back
// until either MinBuffers are ready or MaxBufferWait passes, then audio is
// written through as it decodes.
func (p *Pipeline) speakStreamed(ctx context.Context, t *turnState, text string, cfg tts.Config) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		pending   []byte
		held      [][]byte
		releasing bool
		firstAt   time.Time
	)

	// The silence watchdog aborts the stream when no fragment arrives in
	// time; progress is reported by resetting the timer.
	silence := time.AfterFunc(p.cfg.NetworkSilenceTimeout, cancel)
	defer silence.Stop()

	release := func() error {
		releasing = true
		for _, buf := range held {
			if err := p.write(t, buf); err != nil {
				return err
			}
		}
		held = nil
		return nil
	}

	flushDecoded := func(final bool) error {
		threshold := p.cfg.MinDecodableBytes
		if final {
			threshold = 1
		}
		if len(pending) < threshold {
			return nil
		}
		pcm, err := p.decode(pending)
		if err != nil {
			if final {
				return nil
			}
			// A partial frame often completes with the next fragment.
			p.logger.Debug("audio fragment not yet decodable", "bytes", len(pending))
			return nil
		}
		pending = nil
		if firstAt.IsZero() {
			firstAt = time.Now()
		}
		if releasing {
			return p.write(t, pcm)
		}
		held = append(held, pcm)
		if len(held) >= p.cfg.MinBuffers || time.Since(firstAt) >= p.cfg.MaxBufferWait {
			return release()
		}
		return nil
	}

	err := p.synth.SynthesizeStream(streamCtx, text, cfg, func(chunk []byte) error {
		silence.Reset(p.cfg.NetworkSilenceTimeout)
		pending = append(pending, chunk...)
		if !releasing && len(held) > 0 && time.Since(firstAt) >= p.cfg.MaxBufferWait {
			if err := release(); err != nil {
				return err
			}
		}
		return flushDecoded(false)
	})
	if err != nil {
		if streamCtx.Err() != nil && ctx.Err() == nil {
			return errorsx.Wrap(errStreamSilent, errorsx.ReasonTTSSilence)
		}
		return err
	}
	if err := flushDecoded(true); err != nil {
		return err
	}
	if !releasing {
		if len(held) == 0 {
			return errorsx.Wrap(errStreamSilent, errorsx.ReasonTTSSilence)
		}
		return release()
	}
	return nil
}

// speakSimple fetches the whole clip in one request.
func (p *Pipeline) speakSimple(ctx context.Context, t *turnState, text string, cfg tts.Config) error {
	audio, err := p.synth.Synthesize(ctx, text, cfg)
	if err != nil {
		return err
	}
	p.cache.Put(cfg.Voice, text, audio)
	pcm, err := p.decode(audio)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonAudioDecode)
	}
	return p.writeClipErr(t, pcm)
}

func (p *Pipeline) apologize(ctx context.Context, t *turnState, cfg tts.Config) {
	p.mu.Lock()
	if t.apologized {
		p.mu.Unlock()
		return
	}
	t.apologized = true
	apology := p.cfg.ApologyText
	p.mu.Unlock()

	if err := p.speakSimple(ctx, t, apology, cfg); err != nil {
		p.logger.Warn("apology synthesis failed", "error", err)
		p.fireStart(t)
	}
}

// decode converts a synthesis payload into raw PCM. Clips arrive either as
// WAV or as bare linear16.
func (p *Pipeline) decode(data []byte) ([]byte, error) {
	if audioio.IsWAV(data) {
		return audioio.ExtractPCM(data)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (p *Pipeline) write(t *turnState, pcm []byte) error {
	if !p.sameTurn(t) {
		return context.Canceled
	}
	p.fireStart(t)
	return p.sink.Write(pcm)
}

func (p *Pipeline) writeClip(t *turnState, pcm []byte) {
	_ = p.writeClipErr(t, pcm)
}

func (p *Pipeline) writeClipErr(t *turnState, pcm []byte) error {
	return p.write(t, pcm)
}

// prefetchAhead warms the cache with upcoming sentences while the current
// one plays, bounded by SynthAhead concurrent fetches.
func (p *Pipeline) prefetchAhead(ctx context.Context, t *turnState) {
	p.mu.Lock()
	ahead := p.cfg.SynthAhead
	if ahead > len(t.queue) {
		ahead = len(t.queue)
	}
	next := make([]string, ahead)
	copy(next, t.queue[:ahead])
	voice, speed := p.cfg.Voice, p.cfg.Speed
	p.mu.Unlock()

	for _, text := range next {
		if _, ok := p.cache.Get(voice, text); ok {
			continue
		}
		go func(text string) {
			if !p.sameTurn(t) {
				return
			}
			audio, err := p.synth.Synthesize(ctx, text, tts.Config{Voice: voice, Speed: speed})
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Debug("prefetch failed", "error", err)
				}
				return
			}
			// Stale prefetches may still land here; the cache is keyed by
			// text, so a hit from a dead turn is harmless.
			p.cache.Put(voice, text, audio)
		}(text)
	}
}
