package timers

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) notify(msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func (r *recorder) waitFor(t *testing.T, substr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, m := range r.all() {
			if strings.Contains(m, substr) {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no message containing %q, got %v", substr, r.all())
}

func TestTimerFiresCompletion(t *testing.T) {
	rec := &recorder{}
	e := New(rec.notify, WithTickInterval(10*time.Millisecond), WithIdleThreshold(time.Hour))
	e.Start(context.Background())
	defer e.Stop()

	// 10ms tick makes a "3 minute" timer fire after 180 ticks; use a real
	// short one instead by driving tick directly.
	e.mu.Lock()
	e.timers = append(e.timers, &Timer{ID: "t1", Label: "the pasta", Total: 30 * time.Millisecond, Remaining: 30 * time.Millisecond, Status: TimerRunning})
	e.mu.Unlock()

	rec.waitFor(t, "Time's up for the pasta", time.Second)
}

func TestStartFromStepTiesTimerToStep(t *testing.T) {
	rec := &recorder{}
	e := New(rec.notify, WithIdleThreshold(time.Hour))

	tm, ok := e.StartFromStep(2, "Simmer the sauce for 10 minutes.")
	if !ok {
		t.Fatal("step with a duration should start a timer")
	}
	if tm.StepIndex != 2 {
		t.Fatalf("timer step = %d, want 2", tm.StepIndex)
	}
	active := e.Active()
	if len(active) != 1 || active[0].StepIndex != 2 {
		t.Fatalf("active timers = %+v", active)
	}

	if _, ok := e.StartFromStep(0, "Whisk the eggs."); ok {
		t.Fatal("step without a duration must not start a timer")
	}
}

func TestOneMinuteWarningOnlyForLongTimers(t *testing.T) {
	rec := &recorder{}
	e := New(rec.notify, WithTickInterval(time.Hour), WithIdleThreshold(time.Hour))

	long := &Timer{ID: "long", Label: "the roast", Total: 10 * time.Minute, Remaining: 61 * time.Second, Status: TimerRunning}
	short := &Timer{ID: "short", Label: "the eggs", Total: 80 * time.Second, Remaining: 61 * time.Second, Status: TimerRunning}
	e.timers = []*Timer{long, short}
	e.tickInterval = time.Second
	e.tick()

	msgs := rec.all()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "About a minute left on the roast") {
		t.Fatalf("unexpected messages %v", msgs)
	}
	if short.warned {
		t.Fatal("short timer must not warn")
	}
}

func TestPauseFreezesRemaining(t *testing.T) {
	rec := &recorder{}
	e := New(rec.notify, WithIdleThreshold(time.Hour))
	e.tickInterval = time.Second

	tm := &Timer{ID: "t", Label: "the rice", Total: 5 * time.Minute, Remaining: 5 * time.Minute, Status: TimerRunning}
	e.timers = []*Timer{tm}

	e.Pause()
	e.tick()
	e.tick()
	if tm.Remaining != 5*time.Minute {
		t.Fatalf("paused timer lost time: %s", tm.Remaining)
	}

	e.Resume()
	e.tick()
	if tm.Remaining != 5*time.Minute-time.Second {
		t.Fatalf("resumed timer should tick: %s", tm.Remaining)
	}
}

func TestIdleCheckIn(t *testing.T) {
	rec := &recorder{}
	e := New(rec.notify, WithIdleThreshold(10*time.Millisecond))
	e.tickInterval = time.Second
	e.mu.Lock()
	e.lastActivity = time.Now().Add(-time.Minute)
	e.mu.Unlock()

	e.tick()
	rec.waitFor(t, "Still with me", time.Second)

	// Second tick must not nag again until activity resets the monitor.
	e.tick()
	if n := len(rec.all()); n != 1 {
		t.Fatalf("idle check-in repeated: %d messages", n)
	}

	e.Touch()
	e.mu.Lock()
	e.lastActivity = time.Now().Add(-time.Minute)
	e.idleNotified = false
	e.mu.Unlock()
	e.tick()
	if n := len(rec.all()); n != 2 {
		t.Fatalf("expected second check-in after activity reset, got %d", n)
	}
}

func TestBusyQueuesProactiveMessages(t *testing.T) {
	rec := &recorder{}
	e := New(rec.notify, WithIdleThreshold(time.Hour))
	e.tickInterval = time.Second

	e.SetBusy(true)
	e.timers = []*Timer{{ID: "t", Label: "the sauce", Total: time.Second, Remaining: time.Second, Status: TimerRunning}}
	e.tick()

	if len(rec.all()) != 0 {
		t.Fatalf("messages delivered while busy: %v", rec.all())
	}

	e.SetBusy(false)
	rec.waitFor(t, "Time's up for the sauce", time.Second)
}
