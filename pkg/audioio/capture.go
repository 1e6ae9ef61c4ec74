package audioio

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/hearthware/sous/pkg/errorsx"
)

// CaptureConfig controls the microphone stream. FrameSamples is the number
// of samples delivered per channel message.
type CaptureConfig struct {
	SampleRate   uint32
	Channels     uint32
	FrameSamples int
	QueueCap     int
}

func (c *CaptureConfig) defaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.FrameSamples == 0 {
		c.FrameSamples = 1280
	}
	if c.QueueCap == 0 {
		c.QueueCap = 64
	}
}

// deviceOpen guards the physical mic: only one Capture may be started at a
// time process-wide.
var deviceOpen atomic.Bool

// Capture streams signed 16-bit mono PCM from the default input device.
type Capture struct {
	cfg CaptureConfig
	log *slog.Logger

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	frames  chan []byte
	drops   atomic.Int64
	started bool
}

func NewCapture(cfg CaptureConfig, log *slog.Logger) *Capture {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Capture{cfg: cfg, log: log}
}

// Start opens the device and begins delivering PCM frames. The channel is
// closed by Stop.
func (c *Capture) Start() (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return c.frames, nil
	}
	if !deviceOpen.CompareAndSwap(false, true) {
		return nil, errorsx.Wrap(errors.New("microphone already open"), errorsx.ReasonAudioDevice)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(_ string) {})
	if err != nil {
		deviceOpen.Store(false)
		return nil, errorsx.Wrap(err, errorsx.ReasonMicPermission)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.SampleRate = c.cfg.SampleRate
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = c.cfg.Channels
	devCfg.Alsa.NoMMap = 1

	frames := make(chan []byte, c.cfg.QueueCap)
	frameBytes := c.cfg.FrameSamples * 2
	pending := make([]byte, 0, frameBytes*2)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_ []byte, raw []byte, _ uint32) {
			if len(raw) == 0 {
				return
			}
			pending = append(pending, raw...)
			for len(pending) >= frameBytes {
				frame := make([]byte, frameBytes)
				copy(frame, pending[:frameBytes])
				pending = pending[frameBytes:]
				select {
				case frames <- frame:
				default:
					c.drops.Add(1)
				}
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, devCfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		deviceOpen.Store(false)
		return nil, errorsx.Wrap(err, errorsx.ReasonMicPermission)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		deviceOpen.Store(false)
		return nil, errorsx.Wrap(err, errorsx.ReasonAudioDevice)
	}

	c.mctx = mctx
	c.device = device
	c.frames = frames
	c.started = true
	c.log.Debug("microphone capture started",
		"sample_rate", c.cfg.SampleRate,
		"frame_samples", c.cfg.FrameSamples)
	return frames, nil
}

func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	_ = c.device.Stop()
	c.device.Uninit()
	_ = c.mctx.Uninit()
	c.mctx.Free()
	close(c.frames)
	c.device = nil
	c.mctx = nil
	c.started = false
	deviceOpen.Store(false)
	if d := c.drops.Load(); d > 0 {
		c.log.Debug("microphone frames dropped", "count", d)
	}
}
