// Package session orchestrates one hands-free cooking session: it owns the
// state machine and is the only component that mutates shared session
// state. Collaborators (STT, LLM, playback, timers, wake word) expose
// commands and emit events; the orchestrator wires them together.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hearthware/sous/pkg/audiolock"
	"github.com/hearthware/sous/pkg/convo"
	"github.com/hearthware/sous/pkg/errorsx"
	"github.com/hearthware/sous/pkg/llmclient"
	"github.com/hearthware/sous/pkg/logging"
	"github.com/hearthware/sous/pkg/metrics"
	"github.com/hearthware/sous/pkg/playback"
	"github.com/hearthware/sous/pkg/sttclient"
	"github.com/hearthware/sous/pkg/timers"
	"github.com/hearthware/sous/pkg/wakeword"
)

const (
	DefaultGreeting          = "Hi! I'm your cooking assistant. Say yes when you're ready to start."
	DefaultUtteranceCooldown = time.Second
	DefaultInterruptSettle   = 250 * time.Millisecond
	DefaultErrorRecovery     = 3 * time.Second
	DefaultMicReopenDebounce = 150 * time.Millisecond
	DefaultWakeResumeDelay   = 2 * time.Second
)

// ErrAlreadyStarted is returned by Start on a session that already ran.
var ErrAlreadyStarted = errors.New("session already started")

var affirmationRe = regexp.MustCompile(`(?i)\b(yes|yeah|yep|sure|okay|ok|ready|start|begin|let'?s go|go ahead)\b`)

type Config struct {
	SessionID string
	// Owner is the audio lock identity, shared with the playback pipeline
	// so the session's own turns re-claim rather than collide.
	Owner    string
	Greeting string
	Language string

	UtteranceCooldown time.Duration
	InterruptSettle   time.Duration
	ErrorRecovery     time.Duration
	MicReopenDebounce time.Duration
	WakeResumeDelay   time.Duration
}

func (c *Config) defaults() {
	if c.Owner == "" {
		c.Owner = "session"
	}
	if c.Greeting == "" {
		c.Greeting = DefaultGreeting
	}
	if c.UtteranceCooldown <= 0 {
		c.UtteranceCooldown = DefaultUtteranceCooldown
	}
	if c.InterruptSettle <= 0 {
		c.InterruptSettle = DefaultInterruptSettle
	}
	if c.ErrorRecovery <= 0 {
		c.ErrorRecovery = DefaultErrorRecovery
	}
	if c.MicReopenDebounce <= 0 {
		c.MicReopenDebounce = DefaultMicReopenDebounce
	}
	if c.WakeResumeDelay <= 0 {
		c.WakeResumeDelay = DefaultWakeResumeDelay
	}
}

// Microphone is the capture device contract, satisfied by audioio.Capture.
type Microphone interface {
	Start() (<-chan []byte, error)
	Stop()
}

// Snapshot is a read-only projection of session state for display.
type Snapshot struct {
	State          State
	StepIndex      int
	LiveTranscript string
	AssistantText  string
	Timers         []timers.Timer
	MicActive      bool
	MicDenied      bool
	Language       string
	LocalSTT       bool
	ErrMessage     string
}

// UpdateListener receives a fresh Snapshot whenever projected state
// changes. Called from orchestrator goroutines; implementations must not
// block.
type UpdateListener interface {
	OnSessionUpdate(Snapshot)
}

// Deps carries the orchestrator's collaborators. Wake and Mic are
// optional.
type Deps struct {
	STT      *sttclient.Client
	LLM      *llmclient.Client
	Playback *playback.Pipeline
	Wake     *wakeword.Listener
	Lock     *audiolock.Lock
	Mic      Microphone
	History  *convo.Store
	Observer metrics.Observer
	TimerOpt []timers.Option
}

type Orchestrator struct {
	cfg      Config
	log      *slog.Logger
	fsm      *stateMachine
	history  *convo.Store
	stt      *sttclient.Client
	llm      *llmclient.Client
	play     *playback.Pipeline
	timers   *timers.Engine
	wake     *wakeword.Listener
	lock     *audiolock.Lock
	mic      Microphone
	observer metrics.Observer

	ctx    context.Context
	cancel context.CancelFunc

	// epoch identifies the current turn; every async completion captures
	// it at creation and no-ops when it has moved on.
	epoch   atomic.Int64
	started atomic.Bool
	stopped atomic.Bool

	mu               sync.Mutex
	lastAccepted     time.Time
	liveTranscript   string
	assistantText    string
	errMessage       string
	language         string
	micDenied        bool
	localSTT         bool
	micOpen          bool
	micCancel        context.CancelFunc
	committed        bool
	pendingProactive []string
	update           UpdateListener
}

func New(cfg Config, deps Deps) *Orchestrator {
	cfg.defaults()
	history := deps.History
	if history == nil {
		history = convo.NewStore(0)
	}
	observer := deps.Observer
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	o := &Orchestrator{
		cfg:      cfg,
		log:      logging.NewComponentLogger(nil, "session"),
		fsm:      newStateMachine(),
		history:  history,
		stt:      deps.STT,
		llm:      deps.LLM,
		play:     deps.Playback,
		wake:     deps.Wake,
		lock:     deps.Lock,
		mic:      deps.Mic,
		observer: observer,
		language: cfg.Language,
	}
	o.timers = timers.New(o.onProactive, deps.TimerOpt...)
	if o.play != nil {
		o.play.SetHooks(playback.Hooks{
			TurnID:      o.turnTag,
			OnTurnStart: o.onPlaybackStart,
			OnTurnEnd:   o.onPlaybackEnd,
		})
	}
	return o
}

// Start claims the audio device, resets history and step, and speaks the
// greeting. It runs at most once per Orchestrator.
func (o *Orchestrator) Start(ctx context.Context, recipe convo.RecipeContext) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !o.lock.Claim(o.cfg.Owner) {
		o.started.Store(false)
		return errorsx.Wrap(errors.New("audio device held by "+o.lock.Holder()), errorsx.ReasonAudioDevice)
	}
	o.ctx, o.cancel = context.WithCancel(ctx)

	recipe.CurrentStep = 0
	o.history.Clear()
	o.history.SetRecipe(recipe)

	if o.wake != nil {
		o.wake.Pause()
	}
	o.timers.Start(o.ctx)

	if err := o.stt.Start(o.ctx); err != nil {
		o.Stop()
		return err
	}
	go o.pumpSTT()

	if err := o.fsm.Transition(StateGreeting, "session start"); err != nil {
		o.Stop()
		return err
	}
	o.notify()
	o.speak(o.cfg.Greeting)
	return nil
}

// Stop tears everything down and returns to Idle. Idempotent.
func (o *Orchestrator) Stop() {
	if !o.started.Load() {
		return
	}
	if !o.stopped.CompareAndSwap(false, true) {
		return
	}
	o.epoch.Add(1)

	o.llm.Abort()
	o.play.Interrupt()
	_ = o.stt.Close()
	o.timers.Stop()
	o.closeMic()

	o.lock.Release(o.cfg.Owner)
	_ = o.fsm.Transition(StateIdle, "session stop")
	if o.cancel != nil {
		o.cancel()
	}
	if o.wake != nil {
		wake := o.wake
		time.AfterFunc(o.cfg.WakeResumeDelay, wake.Resume)
	}
	o.notify()
	o.log.Info("session stopped", "session_id", o.cfg.SessionID)
}

// Pause suspends speech, playback and timers without resetting the turn.
func (o *Orchestrator) Pause() {
	if o.stopped.Load() {
		return
	}
	if err := o.fsm.Transition(StatePaused, "pause"); err != nil {
		return
	}
	o.epoch.Add(1)
	o.llm.Abort()
	o.play.Interrupt()
	o.timers.Pause()
	o.closeMic()
	o.notify()
}

// Resume re-enters Listening after a Pause.
func (o *Orchestrator) Resume() {
	if o.fsm.Current() != StatePaused {
		return
	}
	o.timers.Resume()
	if err := o.fsm.Transition(StateListening, "resume"); err != nil {
		return
	}
	o.openMic()
	o.notify()
	o.flushProactive()
}

// Next advances to the following recipe step, aborting in-flight work.
func (o *Orchestrator) Next() { o.navigate(o.StepIndex()+1, "manual next") }

// Prev returns to the previous recipe step.
func (o *Orchestrator) Prev() { o.navigate(o.StepIndex()-1, "manual prev") }

// GotoStep jumps to an arbitrary zero-based step.
func (o *Orchestrator) GotoStep(i int) { o.navigate(i, "manual goto") }

func (o *Orchestrator) navigate(i int, reason string) {
	if o.stopped.Load() || !o.started.Load() {
		return
	}
	recipe := o.history.Recipe()
	if len(recipe.Steps) == 0 {
		return
	}
	if i < 0 {
		i = 0
	}
	if i >= len(recipe.Steps) {
		i = len(recipe.Steps) - 1
	}

	o.epoch.Add(1)
	o.llm.Abort()
	o.play.Interrupt()
	if o.fsm.Current() == StateSpeaking {
		_ = o.fsm.Transition(StateInterrupted, reason)
	}
	o.history.SetCurrentStep(i)
	o.announceStep(i)
}

// announceStep speaks a composed step announcement and re-arms the timer
// engine from the step text.
func (o *Orchestrator) announceStep(i int) {
	recipe := o.history.Recipe()
	if i < 0 || i >= len(recipe.Steps) {
		return
	}
	o.closeMic()
	text := recipe.Steps[i]
	if _, ok := o.timers.StartFromStep(i, text); ok {
		o.log.Debug("timer armed from step", "step", i)
	}
	announcement := fmt.Sprintf("Step %d: %s", i+1, text)
	o.history.Append(convo.RoleAssistant, announcement)
	o.mu.Lock()
	o.committed = true
	o.mu.Unlock()
	o.setAssistantText(announcement)
	o.play.Enqueue(announcement)
	o.play.Flush()
	o.notify()
}

// SetLanguage reconfigures speech recognition on the fly.
func (o *Orchestrator) SetLanguage(language string) {
	o.mu.Lock()
	o.language = language
	o.mu.Unlock()
	o.stt.SetLanguage(language)
	o.notify()
}

// Configure forwards voice settings to the playback pipeline.
func (o *Orchestrator) Configure(voice string, speed float64, strategy playback.Strategy) {
	o.play.Configure(voice, speed, strategy)
}

func (o *Orchestrator) pumpSTT() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case ev, ok := <-o.stt.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case sttclient.EventInterim:
				o.timers.Touch()
				o.setLiveTranscript(ev.Text)
			case sttclient.EventFinal:
				o.handleUtterance(ev.Text)
			case sttclient.EventFallback:
				o.mu.Lock()
				o.localSTT = true
				o.mu.Unlock()
				o.notify()
			}
		}
	}
}

// handleUtterance routes a final transcript according to the current
// state. Finals are acted on only in Listening, WaitingForReady (gated to
// affirmations) and Speaking (barge-in); anything else is discarded so the
// assistant never hears itself.
func (o *Orchestrator) handleUtterance(text string) {
	o.timers.Touch()
	o.setLiveTranscript(text)

	switch o.fsm.Current() {
	case StateWaitingForReady:
		if !affirmationRe.MatchString(text) {
			o.log.Debug("utterance ignored awaiting affirmation", "text", text)
			return
		}
		o.markAccepted()
		if err := o.fsm.Transition(StateListening, "user ready"); err != nil {
			return
		}
		o.announceStep(0)

	case StateListening:
		if !o.cooldownElapsed() {
			o.log.Debug("utterance dropped by cooldown", "text", text)
			return
		}
		o.processUtterance(text)

	case StateSpeaking:
		o.interruptWith(text)

	default:
		o.log.Debug("utterance discarded", "state", o.fsm.Current().String(), "text", text)
	}
}

// interruptWith handles barge-in: stop everything for the current turn,
// record the cut-off response, then reprocess the new utterance after a
// short settle delay.
func (o *Orchestrator) interruptWith(text string) {
	o.markAccepted()
	e := o.epoch.Add(1)

	o.play.Interrupt()
	o.llm.Abort()

	// The full response only lands in history on stream completion, so a
	// mid-stream barge-in has to commit the partial text first.
	o.mu.Lock()
	partial := o.assistantText
	committed := o.committed
	o.mu.Unlock()
	if !committed && partial != "" {
		cleaned, _ := llmclient.ExtractDirectives(partial)
		o.history.Append(convo.RoleAssistant, cleaned)
	}
	o.history.MarkInterrupted()
	if err := o.fsm.Transition(StateInterrupted, "barge-in"); err != nil {
		return
	}
	o.notify()

	time.AfterFunc(o.cfg.InterruptSettle, func() {
		if o.epoch.Load() != e || o.fsm.Current() != StateInterrupted {
			return
		}
		o.processUtterance(text)
	})
}

func (o *Orchestrator) processUtterance(text string) {
	o.markAccepted()
	e := o.epoch.Add(1)

	o.mu.Lock()
	o.assistantText = ""
	o.committed = false
	o.mu.Unlock()

	o.history.Append(convo.RoleUser, text)
	if err := o.fsm.Transition(StateProcessing, "utterance accepted"); err != nil {
		o.log.Warn("cannot enter processing", "error", err)
		return
	}
	o.closeMic()
	o.recordTurnEvent(metrics.EventTurnStart, e)
	o.notify()

	ch := o.llm.Send(o.ctx, o.history.Snapshot(), o.history.Recipe())
	go o.consumeLLM(e, ch)
}

// turnTag is the trace id for the current turn, shared with playback so
// latency events from both sides join up.
func (o *Orchestrator) turnTag() string {
	return fmt.Sprintf("%s-%d", o.cfg.SessionID, o.epoch.Load())
}

func (o *Orchestrator) recordTurnEvent(name string, e int64) {
	o.observer.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			"session_id": o.cfg.SessionID,
			"turn_id":    fmt.Sprintf("%s-%d", o.cfg.SessionID, e),
		},
	})
}

// consumeLLM applies one response stream to playback and history. A stale
// epoch means a newer turn superseded this one; the stream is drained
// without effect.
func (o *Orchestrator) consumeLLM(e int64, ch <-chan llmclient.Event) {
	var firstToken bool
	for ev := range ch {
		if o.epoch.Load() != e {
			for range ch {
			}
			return
		}
		switch ev.Type {
		case llmclient.EventToken:
			if !firstToken {
				firstToken = true
				o.recordTurnEvent(metrics.EventFirstToken, e)
			}
			o.appendAssistantText(ev.Text)
		case llmclient.EventSentence:
			o.play.Enqueue(ev.Text)
		case llmclient.EventDirective:
			o.applyDirective(ev.Directive)
		case llmclient.EventDone:
			o.history.Append(convo.RoleAssistant, ev.Text)
			o.mu.Lock()
			o.committed = true
			o.mu.Unlock()
			o.setAssistantText(ev.Text)
			o.play.Flush()
		case llmclient.EventError:
			if errorsx.IsCancellation(ev.Err) {
				return
			}
			o.log.Error("chat stream failed", "error", ev.Err)
			o.play.Flush()
			o.enterError(ev.Err, true)
		}
	}
}

// applyDirective reacts to a control tag parsed out of generated text. The
// narration around the tag is already queued for speech, so navigation
// directives only move the step index and re-arm timers.
func (o *Orchestrator) applyDirective(d llmclient.Directive) {
	recipe := o.history.Recipe()
	switch d.Type {
	case llmclient.DirectiveNext:
		o.armStep(recipe.CurrentStep + 1)
	case llmclient.DirectivePrev:
		o.armStep(recipe.CurrentStep - 1)
	case llmclient.DirectiveGoto:
		o.armStep(d.Step)
	case llmclient.DirectiveRepeat:
		// Narration already repeats the step; nothing to move.
	case llmclient.DirectivePause:
		o.Pause()
	case llmclient.DirectiveStop:
		o.Stop()
	case llmclient.DirectiveIngredients:
		// Ingredient listing is narration-only.
	}
}

func (o *Orchestrator) armStep(i int) {
	recipe := o.history.Recipe()
	if len(recipe.Steps) == 0 {
		return
	}
	if i < 0 {
		i = 0
	}
	if i >= len(recipe.Steps) {
		i = len(recipe.Steps) - 1
	}
	o.history.SetCurrentStep(i)
	if _, ok := o.timers.StartFromStep(i, recipe.Steps[i]); ok {
		o.log.Debug("timer armed from step", "step", i)
	}
	o.notify()
}

// onProactive speaks timer and idle check-in messages. Messages landing
// while the session is anywhere but Listening (mid-turn, greeting, between
// send and first audio) are held and delivered on the next return to
// Listening.
func (o *Orchestrator) onProactive(message string) {
	if o.stopped.Load() {
		return
	}
	if o.fsm.Current() != StateListening || o.play.Speaking() {
		o.mu.Lock()
		o.pendingProactive = append(o.pendingProactive, message)
		o.mu.Unlock()
		return
	}
	o.history.Append(convo.RoleAssistant, message)
	o.speak(message)
}

// flushProactive delivers messages held while the session was busy, as one
// spoken turn.
func (o *Orchestrator) flushProactive() {
	if o.stopped.Load() || o.fsm.Current() != StateListening {
		return
	}
	o.mu.Lock()
	pending := o.pendingProactive
	o.pendingProactive = nil
	o.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	o.closeMic()
	for _, msg := range pending {
		o.history.Append(convo.RoleAssistant, msg)
		o.play.Enqueue(msg)
	}
	o.play.Flush()
	o.notify()
}

// speak runs one standalone playback turn. The mic closes before any
// synthesis begins so the turn-start hook never races capture.
func (o *Orchestrator) speak(text string) {
	o.closeMic()
	o.play.Enqueue(text)
	o.play.Flush()
}

func (o *Orchestrator) onPlaybackStart(turnID string) {
	o.closeMic()
	o.timers.SetBusy(true)
	switch o.fsm.Current() {
	case StateProcessing, StateListening, StateInterrupted:
		_ = o.fsm.Transition(StateSpeaking, "playback started")
		o.notify()
	}
}

func (o *Orchestrator) onPlaybackEnd(turnID string) {
	o.timers.SetBusy(false)
	time.AfterFunc(o.cfg.MicReopenDebounce, o.afterPlayback)
}

// afterPlayback runs one debounce interval after a turn ends, so the mic
// never captures the tail of the assistant's own voice.
func (o *Orchestrator) afterPlayback() {
	if o.stopped.Load() || o.play.Speaking() {
		return
	}
	switch o.fsm.Current() {
	case StateGreeting:
		if err := o.fsm.Transition(StateWaitingForReady, "greeting complete"); err != nil {
			return
		}
		o.openMic()
		o.notify()
	case StateSpeaking:
		if err := o.fsm.Transition(StateListening, "playback complete"); err != nil {
			return
		}
		o.openMic()
		o.notify()
		o.flushProactive()
	case StateListening, StateWaitingForReady:
		o.openMic()
		o.flushProactive()
	}
}

// enterError surfaces a degraded state; recoverable errors transition back
// to Listening after a fixed delay.
func (o *Orchestrator) enterError(err error, recover bool) {
	o.mu.Lock()
	o.errMessage = err.Error()
	o.mu.Unlock()
	if terr := o.fsm.Transition(StateError, err.Error()); terr != nil {
		return
	}
	o.closeMic()
	o.notify()
	if !recover {
		return
	}
	time.AfterFunc(o.cfg.ErrorRecovery, func() {
		if o.stopped.Load() || o.fsm.Current() != StateError {
			return
		}
		o.mu.Lock()
		o.errMessage = ""
		o.mu.Unlock()
		if terr := o.fsm.Transition(StateListening, "auto recover"); terr != nil {
			return
		}
		o.openMic()
		o.notify()
		o.flushProactive()
	})
}

// openMic starts capture and pumps frames into the STT client. It refuses
// while playback is active or outside the listening states.
func (o *Orchestrator) openMic() {
	if o.mic == nil {
		return
	}
	if !o.micWanted() {
		return
	}
	o.mu.Lock()
	if o.micOpen || o.micDenied {
		o.mu.Unlock()
		return
	}
	frames, err := o.mic.Start()
	if err != nil {
		denied := errorsx.HasReason(err, errorsx.ReasonMicPermission)
		o.micDenied = denied
		o.mu.Unlock()
		o.log.Error("microphone open failed", "error", err)
		o.enterError(err, !denied)
		return
	}
	pumpCtx, cancel := context.WithCancel(o.ctx)
	o.micOpen = true
	o.micCancel = cancel
	o.mu.Unlock()

	go func() {
		for {
			select {
			case <-pumpCtx.Done():
				return
			case pcm, ok := <-frames:
				if !ok {
					return
				}
				o.stt.SendAudio(pcm)
			}
		}
	}()
	o.notify()
}

func (o *Orchestrator) closeMic() {
	o.mu.Lock()
	if !o.micOpen {
		o.mu.Unlock()
		return
	}
	o.micOpen = false
	cancel := o.micCancel
	o.micCancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if o.mic != nil {
		o.mic.Stop()
	}
	o.notify()
}

func (o *Orchestrator) micWanted() bool {
	switch o.fsm.Current() {
	case StateListening, StateWaitingForReady:
		return !o.play.Speaking()
	default:
		return false
	}
}

func (o *Orchestrator) markAccepted() {
	o.mu.Lock()
	o.lastAccepted = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) cooldownElapsed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return time.Since(o.lastAccepted) >= o.cfg.UtteranceCooldown
}

func (o *Orchestrator) setLiveTranscript(text string) {
	o.mu.Lock()
	o.liveTranscript = text
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) setAssistantText(text string) {
	o.mu.Lock()
	o.assistantText = text
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) appendAssistantText(token string) {
	o.mu.Lock()
	o.assistantText += token
	o.mu.Unlock()
	o.notify()
}

// State returns the current orchestrator state.
func (o *Orchestrator) State() State { return o.fsm.Current() }

// StepIndex returns the zero-based current recipe step.
func (o *Orchestrator) StepIndex() int {
	return o.history.Recipe().CurrentStep
}

// MicActive reports whether the microphone is currently open.
func (o *Orchestrator) MicActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.micOpen
}

// ActiveTimers returns a copy of the timer engine's live timers.
func (o *Orchestrator) ActiveTimers() []timers.Timer { return o.timers.Active() }

// Snapshot returns the full read-only projection for display.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	snap := Snapshot{
		State:          o.fsm.Current(),
		LiveTranscript: o.liveTranscript,
		AssistantText:  o.assistantText,
		MicActive:      o.micOpen,
		MicDenied:      o.micDenied,
		Language:       o.language,
		LocalSTT:       o.localSTT,
		ErrMessage:     o.errMessage,
	}
	o.mu.Unlock()
	snap.StepIndex = o.StepIndex()
	snap.Timers = o.timers.Active()
	return snap
}

// SetUpdateListener registers the display-facing projection listener.
func (o *Orchestrator) SetUpdateListener(l UpdateListener) {
	o.mu.Lock()
	o.update = l
	o.mu.Unlock()
}

// AddStateListener registers for raw state transition events.
func (o *Orchestrator) AddStateListener(l StateListener) { o.fsm.AddListener(l) }

func (o *Orchestrator) notify() {
	o.mu.Lock()
	l := o.update
	o.mu.Unlock()
	if l != nil {
		l.OnSessionUpdate(o.Snapshot())
	}
}

// MatchesAffirmation reports whether an utterance counts as "ready".
func MatchesAffirmation(text string) bool {
	return affirmationRe.MatchString(strings.TrimSpace(text))
}
