package session

import (
	"sync"
	"time"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	StateIdle            State = "idle"
	StateGreeting        State = "greeting"
	StateWaitingForReady State = "waiting_for_ready"
	StateListening       State = "listening"
	StateProcessing      State = "processing"
	StateSpeaking        State = "speaking"
	StateInterrupted     State = "interrupted"
	StatePaused          State = "paused"
	StateError           State = "error"
)

func (s State) String() string { return string(s) }

// StateChange is emitted to listeners on every accepted transition.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener receives state change notifications.
type StateListener interface {
	OnStateChange(change StateChange)
}

// validTransitions defines the allowed state machine transitions.
// Paused, Error and Idle are reachable from any active state.
var validTransitions = map[State][]State{
	StateIdle:            {StateGreeting},
	StateGreeting:        {StateWaitingForReady, StatePaused, StateError, StateIdle},
	StateWaitingForReady: {StateListening, StatePaused, StateError, StateIdle},
	StateListening:       {StateProcessing, StateSpeaking, StatePaused, StateError, StateIdle},
	StateProcessing:      {StateSpeaking, StateListening, StatePaused, StateError, StateIdle},
	StateSpeaking:        {StateListening, StateInterrupted, StatePaused, StateError, StateIdle},
	StateInterrupted:     {StateProcessing, StateSpeaking, StateListening, StatePaused, StateError, StateIdle},
	StatePaused:          {StateListening, StateIdle},
	StateError:           {StateListening, StateIdle},
}

type stateMachine struct {
	mu        sync.RWMutex
	current   State
	listeners []StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateIdle}
}

func (m *stateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// transitionValid checks the transition table. Must be called with the
// lock held.
func (m *stateMachine) transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (m *stateMachine) Transition(to State, reason string) error {
	m.mu.Lock()
	if m.current == to {
		m.mu.Unlock()
		return nil
	}
	if !m.transitionValid(m.current, to) {
		from := m.current
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}

	change := StateChange{
		FromState: m.current,
		ToState:   to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.current = to

	// Notify outside the lock to avoid deadlocks with re-entrant reads.
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(change)
	}
	return nil
}

func (m *stateMachine) AddListener(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// InvalidTransitionError reports a transition not present in the table.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
