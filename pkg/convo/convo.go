// Package convo holds the conversation transcript and the active recipe
// context for a cooking session. It is pure data; the session orchestrator
// is the only writer.
package convo

import (
	"strings"
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role        Role
	Content     string
	Timestamp   time.Time
	Interrupted bool
}

// RecipeContext is the recipe the session is walking through.
type RecipeContext struct {
	MealName    string
	Steps       []string
	Ingredients []string
	CurrentStep int
}

func (r *RecipeContext) Step() (string, bool) {
	if r == nil || r.CurrentStep < 0 || r.CurrentStep >= len(r.Steps) {
		return "", false
	}
	return r.Steps[r.CurrentStep], true
}

const DefaultMaxMessages = 40

// Store is a bounded, insertion-ordered conversation history. When the
// window is full the oldest message is dropped.
type Store struct {
	mu     sync.Mutex
	max    int
	msgs   []Message
	recipe RecipeContext
}

func NewStore(max int) *Store {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	return &Store{max: max, msgs: make([]Message, 0, max)}
}

func (s *Store) Append(role Role, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) >= s.max {
		copy(s.msgs, s.msgs[1:])
		s.msgs = s.msgs[:len(s.msgs)-1]
	}
	s.msgs = append(s.msgs, Message{Role: role, Content: content, Timestamp: time.Now()})
}

// MarkInterrupted flags the most recent assistant message as cut off, so the
// model knows the user did not hear it through.
func (s *Store) MarkInterrupted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].Role == RoleAssistant {
			s.msgs[i].Interrupted = true
			return
		}
	}
}

// Snapshot returns a copy of the history safe to hand to a request builder.
func (s *Store) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *Store) SetRecipe(r RecipeContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipe = r
}

func (s *Store) Recipe() RecipeContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recipe
	r.Steps = append([]string(nil), s.recipe.Steps...)
	r.Ingredients = append([]string(nil), s.recipe.Ingredients...)
	return r
}

func (s *Store) SetCurrentStep(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 {
		i = 0
	}
	if n := len(s.recipe.Steps); n > 0 && i >= n {
		i = n - 1
	}
	s.recipe.CurrentStep = i
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = s.msgs[:0]
}
