package stt

import (
	"context"

	"github.com/hearthware/sous/pkg/frames"
)

// StreamingSTT defines the contract for any speech-to-text implementation.
type StreamingSTT interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the STT connection.
	Start(ctx context.Context) error
	// Close shuts down the STT connection.
	Close() error
	// SendAudio sends captured audio to the STT service.
	SendAudio(frame frames.AudioFrame) error
	// Results returns a channel of transcription/control frames.
	Results() <-chan frames.Frame
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Language   string
}
