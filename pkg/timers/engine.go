// Package timers runs cooking countdowns and the proactive check-in logic.
// A tick loop decrements running timers, warns shortly before long ones
// finish, and watches for user inactivity.
package timers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthware/sous/pkg/logging"
)

type TimerStatus string

const (
	TimerRunning TimerStatus = "running"
	TimerPaused  TimerStatus = "paused"
	TimerFired   TimerStatus = "fired"
)

const (
	// warnThreshold is the minimum total duration for the one-minute
	// warning; shorter timers fire without one.
	warnThreshold = 90 * time.Second
	warnLead      = time.Minute

	DefaultIdleThreshold = 90 * time.Second
	DefaultTickInterval  = time.Second
)

type Timer struct {
	ID        string
	StepIndex int
	Label     string
	Total     time.Duration
	Remaining time.Duration
	Status    TimerStatus
	CheckHint bool
	warned    bool
}

// Notifier receives spoken proactive messages. Busy sessions queue them;
// see Engine.SetBusy.
type Notifier func(message string)

type Option func(*Engine)

func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.tickInterval = d }
}

func WithIdleThreshold(d time.Duration) Option {
	return func(e *Engine) { e.idleThreshold = d }
}

// Engine owns every active timer plus the idle monitor.
type Engine struct {
	notify        Notifier
	log           *slog.Logger
	tickInterval  time.Duration
	idleThreshold time.Duration

	mu           sync.Mutex
	timers       []*Timer
	paused       bool
	busy         bool
	queued       []string
	lastActivity time.Time
	idleNotified bool
	running      bool
	cancel       context.CancelFunc
}

func New(notify Notifier, opts ...Option) *Engine {
	e := &Engine{
		notify:        notify,
		log:           logging.NewComponentLogger(slog.Default(), "timers"),
		tickInterval:  DefaultTickInterval,
		idleThreshold: DefaultIdleThreshold,
		lastActivity:  time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins the background tick loop. Non-blocking.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.log.Warn("timer engine already running")
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	go e.loop(childCtx)
	e.log.Info("timer engine started",
		"tick", e.tickInterval.String(),
		"idle_threshold", e.idleThreshold.String())
}

func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.cancel()
	e.running = false
}

// StartFromStep extracts a duration from step text and starts a timer tied
// to that step. Returns the timer and true when the step named one.
func (e *Engine) StartFromStep(stepIndex int, stepText string) (*Timer, bool) {
	ext, ok := ExtractDuration(stepText)
	if !ok {
		return nil, false
	}
	t := &Timer{
		ID:        uuid.NewString(),
		StepIndex: stepIndex,
		Label:     ext.Label,
		Total:     ext.Duration,
		Remaining: ext.Duration,
		Status:    TimerRunning,
		CheckHint: ext.CheckHint,
	}
	e.mu.Lock()
	e.timers = append(e.timers, t)
	e.mu.Unlock()
	e.log.Info("timer started",
		"step", t.StepIndex,
		"label", t.Label,
		"duration", t.Total.String(),
		"check_hint", t.CheckHint)
	return t, true
}

// Active returns copies of the non-fired timers for display.
func (e *Engine) Active() []Timer {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Timer
	for _, t := range e.timers {
		if t.Status != TimerFired {
			out = append(out, *t)
		}
	}
	return out
}

// Pause freezes remaining time on every running timer and suspends the
// idle monitor.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	for _, t := range e.timers {
		if t.Status == TimerRunning {
			t.Status = TimerPaused
		}
	}
}

// Resume unfreezes paused timers.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	e.lastActivity = time.Now()
	e.idleNotified = false
	for _, t := range e.timers {
		if t.Status == TimerPaused {
			t.Status = TimerRunning
		}
	}
}

// Touch records user activity, resetting the idle clock.
func (e *Engine) Touch() {
	e.mu.Lock()
	e.lastActivity = time.Now()
	e.idleNotified = false
	e.mu.Unlock()
}

// SetBusy marks the session as speaking or processing. Proactive messages
// raised while busy are queued and flushed when the session returns to
// listening.
func (e *Engine) SetBusy(busy bool) {
	e.mu.Lock()
	e.busy = busy
	var flush []string
	if !busy {
		flush = e.queued
		e.queued = nil
		e.lastActivity = time.Now()
	}
	e.mu.Unlock()

	for _, msg := range flush {
		e.notify(msg)
	}
}

// Clear drops every timer, fired or not.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.timers = nil
	e.queued = nil
	e.mu.Unlock()
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return
	}
	var messages []string
	kept := e.timers[:0]
	for _, t := range e.timers {
		if t.Status != TimerRunning {
			kept = append(kept, t)
			continue
		}
		t.Remaining -= e.tickInterval
		if t.Total >= warnThreshold && !t.warned && t.Remaining <= warnLead && t.Remaining > 0 {
			t.warned = true
			messages = append(messages, fmt.Sprintf("About a minute left on %s.", t.Label))
		}
		if t.Remaining <= 0 {
			t.Remaining = 0
			t.Status = TimerFired
			if t.CheckHint {
				messages = append(messages, fmt.Sprintf("Time's up for %s. Give it a check.", t.Label))
			} else {
				messages = append(messages, fmt.Sprintf("Time's up for %s.", t.Label))
			}
			continue
		}
		kept = append(kept, t)
	}
	e.timers = kept

	if e.busy {
		e.queued = append(e.queued, messages...)
		e.mu.Unlock()
		return
	}

	// Idle only counts while the session is actually listening.
	if !e.idleNotified && time.Since(e.lastActivity) >= e.idleThreshold {
		e.idleNotified = true
		messages = append(messages, "Still with me? Let me know when you're ready for the next step.")
	}
	e.mu.Unlock()

	for _, msg := range messages {
		e.notify(msg)
	}
}

// FormatRemaining returns a spoken duration, rounding to the nearest
// minute once at least one is left.
func FormatRemaining(d time.Duration) string {
	d = d.Round(time.Second)
	totalSec := int(d.Seconds())
	if totalSec < 60 {
		if totalSec == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", totalSec)
	}
	m := (totalSec + 30) / 60
	if m <= 0 {
		m = 1
	}
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
