// Package audiolock arbitrates which subsystem owns the speaker. Only one
// playback path may produce audio at a time; everything else must complete
// silently.
package audiolock

import "sync"

type Lock struct {
	mu     sync.Mutex
	holder string
	depth  int
}

func New() *Lock {
	return &Lock{}
}

// Claim takes the lock for owner. Re-claiming by the current holder nests:
// the holder keeps the speaker until every claim has been released. Any
// other owner is refused.
func (l *Lock) Claim(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.holder {
	case "":
		l.holder = owner
		l.depth = 1
		return true
	case owner:
		l.depth++
		return true
	}
	return false
}

// Release undoes one claim by owner. The speaker frees up only when the
// outermost claim is released.
func (l *Lock) Release(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != owner {
		return
	}
	l.depth--
	if l.depth <= 0 {
		l.holder = ""
		l.depth = 0
	}
}

func (l *Lock) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

func (l *Lock) Held() bool {
	return l.Holder() != ""
}
