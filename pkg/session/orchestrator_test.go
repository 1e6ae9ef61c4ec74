package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hearthware/sous/pkg/adapters/stt"
	"github.com/hearthware/sous/pkg/audiolock"
	"github.com/hearthware/sous/pkg/audioio"
	"github.com/hearthware/sous/pkg/convo"
	"github.com/hearthware/sous/pkg/llmclient"
	"github.com/hearthware/sous/pkg/metrics"
	"github.com/hearthware/sous/pkg/playback"
	"github.com/hearthware/sous/pkg/providers/mock"
	"github.com/hearthware/sous/pkg/sttclient"
	"github.com/hearthware/sous/pkg/timers"
)

type fakeMic struct {
	mu     sync.Mutex
	active bool
	frames chan []byte
	starts int
}

func (m *fakeMic) Start() (<-chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = true
	m.starts++
	m.frames = make(chan []byte, 4)
	return m.frames, nil
}

func (m *fakeMic) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
}

func (m *fakeMic) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

type muteOff struct{}

func (muteOff) Get() bool { return false }

type harness struct {
	orch     *Orchestrator
	pipe     *playback.Pipeline
	chat     *mock.Chat
	history  *convo.Store
	mic      *fakeMic
	sink     *audioio.MemorySink
	observer *metrics.MemoryObserver
}

func newHarness(t *testing.T, chatCfg mock.ChatConfig, ttsLatency time.Duration) *harness {
	t.Helper()

	lock := audiolock.New()
	sink := audioio.NewMemorySink()
	synth := mock.NewSynthesizer(mock.TTSConfig{Latency: ttsLatency})
	observer := metrics.NewMemoryObserver()
	pipe := playback.New(synth, sink, lock, muteOff{}, observer, playback.Config{
		SessionID: "test-session",
		Owner:     "session",
		Strategy:  playback.StrategyQueued,
	})

	chat := mock.NewChat(chatCfg)
	llm := llmclient.New(chat, llmclient.Config{MinSentenceLen: 4})

	factory := func(_ context.Context, sessionID, _ string) (stt.StreamingSTT, error) {
		return mock.NewSTT(mock.STTConfig{SessionID: sessionID}), nil
	}
	sttc := sttclient.New(factory, factory, sttclient.Config{SessionID: "test-session"})

	history := convo.NewStore(0)
	mic := &fakeMic{}

	orch := New(Config{
		SessionID:         "test-session",
		Owner:             "session",
		Greeting:          "Hello there.",
		UtteranceCooldown: 20 * time.Millisecond,
		InterruptSettle:   10 * time.Millisecond,
		ErrorRecovery:     60 * time.Millisecond,
		MicReopenDebounce: 5 * time.Millisecond,
		WakeResumeDelay:   10 * time.Millisecond,
	}, Deps{
		STT:      sttc,
		LLM:      llm,
		Playback: pipe,
		Lock:     lock,
		Mic:      mic,
		History:  history,
		TimerOpt: []timers.Option{timers.WithTickInterval(10 * time.Millisecond)},
	})
	t.Cleanup(orch.Stop)

	return &harness{orch: orch, pipe: pipe, chat: chat, history: history, mic: mic, sink: sink, observer: observer}
}

func testRecipe() convo.RecipeContext {
	return convo.RecipeContext{
		MealName: "pasta",
		Steps: []string{
			"Boil a large pot of salted water.",
			"Cook the spaghetti until al dente.",
			"Toss with sauce and serve.",
		},
		Ingredients: []string{"spaghetti", "tomato sauce", "salt"},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestTransitionTable(t *testing.T) {
	m := newStateMachine()
	if err := m.Transition(StateSpeaking, "bad"); err == nil {
		t.Fatal("expected idle -> speaking to be rejected")
	}
	if err := m.Transition(StateGreeting, "ok"); err != nil {
		t.Fatalf("idle -> greeting: %v", err)
	}
	if err := m.Transition(StateWaitingForReady, "ok"); err != nil {
		t.Fatalf("greeting -> waiting: %v", err)
	}
	if got := m.Current(); got != StateWaitingForReady {
		t.Fatalf("state = %s", got)
	}
}

func TestAffirmationGate(t *testing.T) {
	h := newHarness(t, mock.ChatConfig{Tokens: []string{"Sounds good."}}, 0)

	if err := h.orch.Start(context.Background(), testRecipe()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateWaitingForReady
	}, "greeting to finish")

	h.orch.handleUtterance("maybe later")
	if got := h.orch.State(); got != StateWaitingForReady {
		t.Fatalf("non-affirmation moved state to %s", got)
	}

	h.orch.handleUtterance("let's go")
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateListening
	}, "step one narration to finish")

	var narrated bool
	for _, m := range h.history.Snapshot() {
		if m.Role == convo.RoleAssistant && strings.HasPrefix(m.Content, "Step 1:") {
			narrated = true
		}
	}
	if !narrated {
		t.Fatal("affirmation did not trigger step-one narration")
	}
	if got := h.orch.StepIndex(); got != 0 {
		t.Fatalf("step index = %d, want 0", got)
	}
}

func TestMatchesAffirmation(t *testing.T) {
	cases := map[string]bool{
		"yes":              true,
		"Yeah, let's go":   true,
		"I'm ready":        true,
		"okay":             true,
		"start":            true,
		"maybe later":      false,
		"no thanks":        false,
		"what do I need":   false,
		"tell me the time": false,
	}
	for text, want := range cases {
		if got := MatchesAffirmation(text); got != want {
			t.Errorf("MatchesAffirmation(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestBargeInAdvancesStep(t *testing.T) {
	h := newHarness(t, mock.ChatConfig{
		Script: [][]string{
			{"[NEXT] ", "Okay, on to step two. ", "Cook the spaghetti until al dente."},
		},
	}, 40*time.Millisecond)
	// Clips take time to play out, so the barge-in lands while the
	// narration turn is still live.
	h.sink.SetPlayTime(60 * time.Millisecond)

	if err := h.orch.Start(context.Background(), testRecipe()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateWaitingForReady
	}, "greeting to finish")

	h.orch.handleUtterance("yes")
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateSpeaking
	}, "step one narration to start")

	h.orch.handleUtterance("next step please")
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateInterrupted || h.orch.State() == StateProcessing
	}, "barge-in to register")

	waitFor(t, 2*time.Second, func() bool {
		return h.orch.State() == StateListening && h.orch.StepIndex() == 1
	}, "response turn to finish on step two")

	var interrupted int
	for _, m := range h.history.Snapshot() {
		if m.Interrupted {
			interrupted++
		}
	}
	if interrupted != 1 {
		t.Fatalf("interruption records = %d, want 1", interrupted)
	}
	if h.chat.Calls() != 1 {
		t.Fatalf("chat calls = %d, want 1", h.chat.Calls())
	}

	var interruptEvents int
	for _, ev := range h.observer.Events() {
		if ev.Name == metrics.EventInterrupt {
			interruptEvents++
		}
	}
	if interruptEvents != 1 {
		t.Fatalf("interrupt events = %d, want 1", interruptEvents)
	}
}

func TestProactiveHeldUntilListening(t *testing.T) {
	h := newHarness(t, mock.ChatConfig{
		Tokens:     []string{"Let me check. ", "Almost done."},
		TokenDelay: 30 * time.Millisecond,
	}, 0)

	if err := h.orch.Start(context.Background(), testRecipe()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateWaitingForReady
	}, "greeting to finish")

	h.orch.handleUtterance("yes")
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateListening
	}, "step one narration to finish")

	time.Sleep(25 * time.Millisecond)
	h.orch.handleUtterance("how much longer")
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateProcessing
	}, "request to go in flight")

	h.orch.onProactive("Your sauce timer is done.")
	for _, m := range h.history.Snapshot() {
		if strings.Contains(m.Content, "sauce timer") {
			t.Fatal("message delivered while the session was busy")
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, m := range h.history.Snapshot() {
			if m.Role == convo.RoleAssistant && strings.Contains(m.Content, "sauce timer") {
				return true
			}
		}
		return false
	}, "held message to be delivered")
}

func TestTurnLatencyEventsShareTraceID(t *testing.T) {
	h := newHarness(t, mock.ChatConfig{
		Tokens: []string{"Give it two ", "more minutes."},
	}, 0)

	if err := h.orch.Start(context.Background(), testRecipe()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateWaitingForReady
	}, "greeting to finish")

	h.orch.handleUtterance("yes")
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateListening
	}, "step one narration to finish")

	time.Sleep(25 * time.Millisecond)
	h.orch.handleUtterance("how long left")
	waitFor(t, 2*time.Second, func() bool {
		return h.orch.State() == StateListening && h.chat.Calls() == 1
	}, "response turn to finish")

	var turnID string
	for _, ev := range h.observer.Events() {
		if ev.Name == metrics.EventTurnStart {
			turnID = ev.Tags["turn_id"]
		}
	}
	if turnID == "" {
		t.Fatal("no turn_start recorded for the response turn")
	}
	seen := map[string]bool{}
	for _, ev := range h.observer.Events() {
		if ev.Tags["turn_id"] == turnID {
			seen[ev.Name] = true
		}
	}
	for _, name := range []string{metrics.EventFirstToken, metrics.EventFirstAudio, metrics.EventTurnEnd} {
		if !seen[name] {
			t.Errorf("turn %s missing %s event", turnID, name)
		}
	}
}

func TestStaleStreamCannotTouchState(t *testing.T) {
	h := newHarness(t, mock.ChatConfig{
		Tokens:     []string{"UNWANTED ", "slow ", "response."},
		TokenDelay: 30 * time.Millisecond,
	}, 0)

	if err := h.orch.Start(context.Background(), testRecipe()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateWaitingForReady
	}, "greeting to finish")

	h.orch.handleUtterance("yes")
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateListening
	}, "step one narration to finish")

	time.Sleep(25 * time.Millisecond)
	h.orch.handleUtterance("how long should it boil")
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateProcessing
	}, "request to go in flight")

	// Supersede the in-flight stream; its late events must be drained
	// without effect.
	h.orch.GotoStep(2)
	waitFor(t, 2*time.Second, func() bool {
		return h.orch.State() == StateListening
	}, "step three narration to finish")

	if got := h.orch.StepIndex(); got != 2 {
		t.Fatalf("step index = %d, want 2", got)
	}
	for _, m := range h.history.Snapshot() {
		if strings.Contains(m.Content, "UNWANTED") {
			t.Fatalf("stale stream leaked into history: %q", m.Content)
		}
	}
	if strings.Contains(h.orch.Snapshot().AssistantText, "UNWANTED") {
		t.Fatal("stale stream leaked into assistant text")
	}
}

func TestNoSelfCapture(t *testing.T) {
	h := newHarness(t, mock.ChatConfig{
		Tokens: []string{"Keep stirring. ", "It needs a few more minutes."},
	}, 20*time.Millisecond)

	var violations atomic.Int32
	sampling := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-sampling:
				return
			case <-ticker.C:
				if h.mic.Active() && h.pipe.Speaking() {
					violations.Add(1)
				}
			}
		}
	}()

	if err := h.orch.Start(context.Background(), testRecipe()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateWaitingForReady
	}, "greeting to finish")

	h.orch.handleUtterance("yes")
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateListening
	}, "step one narration to finish")

	time.Sleep(25 * time.Millisecond)
	h.orch.handleUtterance("is it done yet")
	waitFor(t, 2*time.Second, func() bool {
		return h.orch.State() == StateListening && h.chat.Calls() == 1
	}, "response turn to finish")

	h.orch.Stop()
	close(sampling)
	<-sampled
	if n := violations.Load(); n != 0 {
		t.Fatalf("microphone active during playback %d times", n)
	}
}

func TestChatErrorRecoversToListening(t *testing.T) {
	h := newHarness(t, mock.ChatConfig{Err: errors.New("upstream boom")}, 0)

	if err := h.orch.Start(context.Background(), testRecipe()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateWaitingForReady
	}, "greeting to finish")

	h.orch.handleUtterance("yes")
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateListening
	}, "step one narration to finish")

	time.Sleep(25 * time.Millisecond)
	h.orch.handleUtterance("what's next")
	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateError
	}, "stream failure to surface")

	waitFor(t, time.Second, func() bool {
		return h.orch.State() == StateListening
	}, "auto recovery")
	if msg := h.orch.Snapshot().ErrMessage; msg != "" {
		t.Fatalf("error message not cleared: %q", msg)
	}
}

func TestStartIsGuardedAndStopIdempotent(t *testing.T) {
	h := newHarness(t, mock.ChatConfig{}, 0)

	if err := h.orch.Start(context.Background(), testRecipe()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.orch.Start(context.Background(), testRecipe()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start = %v, want ErrAlreadyStarted", err)
	}

	h.orch.Stop()
	h.orch.Stop()
	if got := h.orch.State(); got != StateIdle {
		t.Fatalf("state after stop = %s", got)
	}
}
