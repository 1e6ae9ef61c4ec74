// Package playback turns queued sentences into audible speech. It owns the
// speaker for the duration of a turn, signals turn start and end exactly
// once, and tolerates interruption at any point.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthware/sous/pkg/adapters/tts"
	"github.com/hearthware/sous/pkg/audiolock"
	"github.com/hearthware/sous/pkg/logging"
	"github.com/hearthware/sous/pkg/metrics"
	"github.com/hearthware/sous/pkg/mutestore"
)

type Strategy string

const (
	StrategyStreamed Strategy = "streamed"
	StrategyQueued   Strategy = "queued"
)

const (
	DefaultMinDecodableBytes     = 4096
	DefaultMinBuffers            = 2
	DefaultMaxBufferWait         = 350 * time.Millisecond
	DefaultNetworkSilenceTimeout = 3 * time.Second
	DefaultSynthAhead            = 2
	DefaultApology               = "Sorry, I had trouble saying that."
	watchdogInterval             = 2 * time.Second
)

type Config struct {
	SessionID string
	// Owner is the audio lock identity of this pipeline.
	Owner    string
	Voice    string
	Speed    float64
	Strategy Strategy

	MinDecodableBytes     int
	MinBuffers            int
	MaxBufferWait         time.Duration
	NetworkSilenceTimeout time.Duration
	SynthAhead            int
	CacheSize             int
	ApologyText           string
}

func (c *Config) defaults() {
	if c.Owner == "" {
		c.Owner = "playback"
	}
	if c.Strategy == "" {
		c.Strategy = StrategyStreamed
	}
	if c.MinDecodableBytes <= 0 {
		c.MinDecodableBytes = DefaultMinDecodableBytes
	}
	if c.MinBuffers <= 0 {
		c.MinBuffers = DefaultMinBuffers
	}
	if c.MaxBufferWait <= 0 {
		c.MaxBufferWait = DefaultMaxBufferWait
	}
	if c.NetworkSilenceTimeout <= 0 {
		c.NetworkSilenceTimeout = DefaultNetworkSilenceTimeout
	}
	if c.SynthAhead <= 0 {
		c.SynthAhead = DefaultSynthAhead
	}
	if c.ApologyText == "" {
		c.ApologyText = DefaultApology
	}
}

type Hooks struct {
	// TurnID names the next turn so the caller's own trace events join up
	// with playback's. Nil or empty falls back to a random id.
	TurnID func() string
	// OnTurnStart fires once per turn, on the first audible write (or its
	// silent equivalent when muted or unclaimed).
	OnTurnStart func(turnID string)
	// OnTurnEnd fires once per turn, after the final sentence has played
	// out following Flush. It does not fire for interrupted turns.
	OnTurnEnd func(turnID string)
}

// Sink is the audio output endpoint, usually audioio.OtoSink.
type Sink interface {
	Write(pcm []byte) error
	Reset()
	Done() error
}

// resumer is implemented by sinks whose platform can suspend the audio
// clock; the watchdog nudges it periodically.
type resumer interface {
	Resume()
}

// MuteReader exposes the persisted mute flag.
type MuteReader interface {
	Get() bool
}

type Pipeline struct {
	synth    tts.StreamSynthesizer
	sink     Sink
	lock     *audiolock.Lock
	mute     MuteReader
	observer metrics.Observer
	cache    *AudioCache
	logger   *slog.Logger

	mu    sync.Mutex
	cfg   Config
	hooks Hooks
	epoch int64
	turn  *turnState
}

type turnState struct {
	id      string
	epoch   int64
	queue   []string
	flushed bool
	started bool
	ended   bool
	endDone bool
	claimed bool
	// simpleOnly is set after an unrecoverable streamed failure; the rest
	// of the turn uses plain request/response synthesis.
	simpleOnly bool
	apologized bool
	wake       chan struct{}
	cancel     context.CancelFunc
}

func New(synth tts.StreamSynthesizer, sink Sink, lock *audiolock.Lock, mute MuteReader, observer metrics.Observer, cfg Config) *Pipeline {
	cfg.defaults()
	if mute == nil {
		mute = mutestore.Open("")
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Pipeline{
		synth:    synth,
		sink:     sink,
		lock:     lock,
		mute:     mute,
		observer: observer,
		cache:    NewAudioCache(cfg.CacheSize),
		cfg:      cfg,
		logger:   logging.NewComponentLogger(slog.Default(), "playback"),
	}
}

func (p *Pipeline) SetHooks(h Hooks) {
	p.mu.Lock()
	p.hooks = h
	p.mu.Unlock()
}

// Configure updates voice, speed, and strategy for subsequent turns.
func (p *Pipeline) Configure(voice string, speed float64, strategy Strategy) {
	p.mu.Lock()
	if voice != "" {
		p.cfg.Voice = voice
	}
	if speed > 0 {
		p.cfg.Speed = speed
	}
	if strategy != "" {
		p.cfg.Strategy = strategy
	}
	p.mu.Unlock()
}

// Enqueue adds one sentence to the current turn, starting a new turn if
// none is active.
func (p *Pipeline) Enqueue(text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	t := p.turn
	if t == nil {
		t = p.beginTurnLocked()
	}
	// Input after Flush but before the turn finished reopens the turn;
	// the worker has not fired the end hook yet.
	t.flushed = false
	t.queue = append(t.queue, text)
	wake := t.wake
	p.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
}

// Flush marks the current turn's input complete. The turn ends once every
// queued sentence has played.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	t := p.turn
	if t == nil {
		p.mu.Unlock()
		return
	}
	t.flushed = true
	wake := t.wake
	p.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
}

// Interrupt stops audio immediately and abandons the rest of the turn. The
// turn's end hook does not fire.
func (p *Pipeline) Interrupt() {
	p.mu.Lock()
	p.epoch++
	t := p.turn
	p.turn = nil
	p.mu.Unlock()

	if t == nil {
		return
	}
	t.cancel()
	p.sink.Reset()
	if t.claimed {
		p.lock.Release(p.cfg.Owner)
	}
	p.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventInterrupt,
		Time: time.Now(),
		Tags: map[string]string{"session_id": p.cfg.SessionID, "turn_id": t.id},
	})
	p.logger.Info("turn interrupted", "turn_id", t.id)
}

// Speaking reports whether a turn is currently active.
func (p *Pipeline) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turn != nil
}

func (p *Pipeline) beginTurnLocked() *turnState {
	ctx, cancel := context.WithCancel(context.Background())
	id := ""
	if p.hooks.TurnID != nil {
		id = p.hooks.TurnID()
	}
	if id == "" {
		id = uuid.NewString()
	}
	t := &turnState{
		id:     id,
		epoch:  p.epoch,
		wake:   make(chan struct{}, 1),
		cancel: cancel,
	}
	t.claimed = p.lock.Claim(p.cfg.Owner)
	if !t.claimed {
		p.logger.Warn("speaker claim refused, completing turn silently",
			"turn_id", t.id, "holder", p.lock.Holder())
	}
	p.turn = t
	go p.runTurn(ctx, t)
	return t
}

// sameTurn reports whether t is still the live turn.
func (p *Pipeline) sameTurn(t *turnState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turn == t && t.epoch == p.epoch
}

func (p *Pipeline) runTurn(ctx context.Context, t *turnState) {
	watchdog := time.NewTicker(watchdogInterval)
	defer watchdog.Stop()

	for {
		p.mu.Lock()
		if p.turn != t || t.epoch != p.epoch {
			p.mu.Unlock()
			return
		}
		var sentence string
		switch {
		case len(t.queue) > 0:
			sentence = t.queue[0]
			t.queue = t.queue[1:]
		case t.flushed:
			t.ended = true
			p.turn = nil
			p.mu.Unlock()
			p.finishTurn(t)
			return
		default:
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-t.wake:
			case <-watchdog.C:
				p.nudgeSink()
			}
			continue
		}
		p.mu.Unlock()

		p.prefetchAhead(ctx, t)
		p.speak(ctx, t, sentence)
	}
}

func (p *Pipeline) nudgeSink() {
	if r, ok := p.sink.(resumer); ok {
		r.Resume()
	}
}

func (p *Pipeline) finishTurn(t *turnState) {
	if t.claimed {
		if err := p.sink.Done(); err != nil {
			p.logger.Warn("sink drain failed", "error", err)
		}
		p.lock.Release(p.cfg.Owner)
	}
	t.cancel()
	p.fireStart(t) // zero-audio turns still complete the contract
	p.fireEnd(t)
}

func (p *Pipeline) fireStart(t *turnState) {
	p.mu.Lock()
	if t.started {
		p.mu.Unlock()
		return
	}
	t.started = true
	hook := p.hooks.OnTurnStart
	p.mu.Unlock()

	p.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventFirstAudio,
		Time: time.Now(),
		Tags: map[string]string{"session_id": p.cfg.SessionID, "turn_id": t.id},
	})
	if hook != nil {
		hook(t.id)
	}
}

func (p *Pipeline) fireEnd(t *turnState) {
	p.mu.Lock()
	if !t.started || t.endDone {
		p.mu.Unlock()
		return
	}
	t.endDone = true
	hook := p.hooks.OnTurnEnd
	p.mu.Unlock()

	p.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventTurnEnd,
		Time: time.Now(),
		Tags: map[string]string{"session_id": p.cfg.SessionID, "turn_id": t.id},
	})
	if hook != nil {
		hook(t.id)
	}
}
