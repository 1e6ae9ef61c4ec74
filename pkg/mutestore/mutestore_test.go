package mutestore

import (
	"path/filepath"
	"testing"
)

func TestPersistAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")

	s := Open(path)
	if s.Get() {
		t.Fatal("fresh store should be unmuted")
	}
	if err := s.Set(true); err != nil {
		t.Fatalf("set: %v", err)
	}

	again := Open(path)
	if !again.Get() {
		t.Fatal("mute flag should survive reopen")
	}
}

func TestAllSubscribersNotified(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "prefs.json"))

	var a, b bool
	s.Subscribe(func(m bool) { a = m })
	s.Subscribe(func(m bool) { b = m })

	s.Set(true)
	if !a || !b {
		t.Fatalf("both subscribers should see the change: a=%v b=%v", a, b)
	}
}

func TestSubscribeFiresOnChangeOnly(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "prefs.json"))

	var got []bool
	s.Subscribe(func(m bool) { got = append(got, m) })

	s.Set(true)
	s.Set(true)
	s.Set(false)

	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Fatalf("unexpected notifications: %v", got)
	}
}
