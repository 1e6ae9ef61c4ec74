// Package mutestore persists the speaker mute flag across runs.
package mutestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

const Key = "sous.muted"

type state struct {
	Muted bool `json:"sous.muted"`
}

// Store keeps a single boolean in a JSON file and notifies subscribers on
// change.
type Store struct {
	mu    sync.Mutex
	path  string
	muted bool
	subs  []func(bool)
}

// Open loads the flag from path, defaulting to unmuted when the file is
// missing or unreadable.
func Open(path string) *Store {
	s := &Store{path: path}
	if raw, err := os.ReadFile(path); err == nil {
		var st state
		if json.Unmarshal(raw, &st) == nil {
			s.muted = st.Muted
		}
	}
	return s
}

func (s *Store) Get() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Store) Set(muted bool) error {
	s.mu.Lock()
	if s.muted == muted {
		s.mu.Unlock()
		return nil
	}
	s.muted = muted
	subs := append([]func(bool){}, s.subs...)
	path := s.path
	s.mu.Unlock()

	for _, fn := range subs {
		fn(muted)
	}

	raw, err := json.Marshal(state{Muted: muted})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, raw, 0o644)
}

// Subscribe registers fn for future changes. Callbacks run synchronously on
// the Set caller's goroutine.
func (s *Store) Subscribe(fn func(muted bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}
