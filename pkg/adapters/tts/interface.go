package tts

import "context"

// Synthesizer turns one piece of text into a complete audio clip.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize renders text to encoded audio (WAV or raw PCM).
	Synthesize(ctx context.Context, text string, cfg Config) ([]byte, error)
}

// StreamSynthesizer delivers audio fragments as they are produced so
// playback can begin before synthesis completes.
type StreamSynthesizer interface {
	Synthesizer
	// SynthesizeStream invokes emit for each audio fragment in order. It
	// returns after the final fragment or the first error.
	SynthesizeStream(ctx context.Context, text string, cfg Config, emit func(chunk []byte) error) error
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	Voice      string
	Speed      float64
	SampleRate int
}
