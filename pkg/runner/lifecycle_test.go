package runner

import (
	"context"
	"testing"
	"time"
)

type slowDrainer struct {
	delay   time.Duration
	drained chan struct{}
}

func (d *slowDrainer) Drain() error {
	time.Sleep(d.delay)
	close(d.drained)
	return nil
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d := &slowDrainer{drained: make(chan struct{})}
	var started, stopped bool
	r := NewLifecycleRunner(d, Hooks{
		OnStart: func() { started = true },
		OnStop:  func() { stopped = true },
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatal("runner never reached running state")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-errc; err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case <-d.drained:
	case <-time.After(time.Second):
		t.Fatal("drainer not called")
	}
	if !started || !stopped {
		t.Fatalf("hooks: started=%v stopped=%v", started, stopped)
	}
	if r.State() != StateStopped {
		t.Fatalf("state = %d", r.State())
	}
}

func TestDrainTimeout(t *testing.T) {
	d := &slowDrainer{delay: 200 * time.Millisecond, drained: make(chan struct{})}
	r := NewLifecycleRunner(d, Hooks{}, 10*time.Millisecond)

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = r.Stop()
	}()
	err := r.Run(context.Background())
	if err == nil || err.Error() != "drain timeout" {
		t.Fatalf("err = %v, want drain timeout", err)
	}
}

func TestRunTwiceRejected(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("second run should be rejected")
	}
}
