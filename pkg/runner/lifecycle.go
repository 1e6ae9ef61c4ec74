package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDrainTimeout is returned when in-flight work does not finish within
// the shutdown window.
var ErrDrainTimeout = errors.New("drain timeout")

// LifecycleRunner blocks in Run until its context ends or Stop is called,
// then gives the drainer a bounded window to finish in-flight work.
type LifecycleRunner struct {
	state   atomic.Int32
	hooks   Hooks
	drainer Drainer
	timeout time.Duration

	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &LifecycleRunner{
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		cancel:  func() {},
	}
	r.state.Store(int32(StateNew))
	return r
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return errors.New("runner already used")
	}
	PrintBanner()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, r.cancel = context.WithCancel(ctx)
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.state.Store(int32(StateRunning))
	<-ctx.Done()
	return r.shutdown()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.shutdown()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) shutdown() error {
	r.stopOnce.Do(func() {
		r.state.Store(int32(StateDraining))
		if r.drainer != nil {
			drained := make(chan struct{})
			go func() {
				_ = r.drainer.Drain()
				close(drained)
			}()
			select {
			case <-drained:
			case <-time.After(r.timeout):
				r.stopErr = ErrDrainTimeout
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
	})
	return r.stopErr
}
