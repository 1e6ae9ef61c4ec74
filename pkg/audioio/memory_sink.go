package audioio

import (
	"sync"
	"time"
)

// Interval is a span during which a MemorySink was producing audio.
type Interval struct {
	Start time.Time
	End   time.Time
}

// MemorySink records writes instead of playing them. Tests use it to assert
// what reached the speaker and when.
type MemorySink struct {
	mu        sync.Mutex
	writes    [][]byte
	open      bool
	openedAt  time.Time
	intervals []Interval
	resets    int
	playTime  time.Duration
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// SetPlayTime makes each Write block as if the clip took that long to play,
// so tests can land events mid-playback.
func (s *MemorySink) SetPlayTime(d time.Duration) {
	s.mu.Lock()
	s.playTime = d
	s.mu.Unlock()
}

func (s *MemorySink) Write(pcm []byte) error {
	s.mu.Lock()
	if !s.open {
		s.open = true
		s.openedAt = time.Now()
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.writes = append(s.writes, cp)
	d := s.playTime
	s.mu.Unlock()

	if d > 0 {
		time.Sleep(d)
	}
	return nil
}

func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.closeLocked()
}

func (s *MemorySink) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *MemorySink) closeLocked() {
	if s.open {
		s.intervals = append(s.intervals, Interval{Start: s.openedAt, End: time.Now()})
		s.open = false
	}
}

func (s *MemorySink) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *MemorySink) TotalBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.writes {
		n += len(w)
	}
	return n
}

func (s *MemorySink) Intervals() []Interval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Interval, len(s.intervals))
	copy(out, s.intervals)
	if s.open {
		out = append(out, Interval{Start: s.openedAt, End: time.Now()})
	}
	return out
}

func (s *MemorySink) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}
