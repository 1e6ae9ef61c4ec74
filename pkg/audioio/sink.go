// Package audioio owns the physical audio endpoints: microphone capture via
// miniaudio and speaker output via oto. Everything above this package works
// with PCM byte slices and the Sink interface.
package audioio

// Sink accepts PCM buffers for playback. Buffers written back to back are
// played gaplessly in order.
type Sink interface {
	// Write schedules pcm for playback. It must not block on the audio
	// hardware for longer than the buffer's own duration.
	Write(pcm []byte) error
	// Reset drops everything queued and stops output immediately.
	Reset()
	// Done blocks until all scheduled audio has played out.
	Done() error
}
