package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hearthware/sous/pkg/metrics"
)

// LatencyObserver correlates per-turn events and logs one latency line when
// the turn finishes speaking.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	turnStart  time.Time
	firstToken time.Time
	firstAudio time.Time
	turnEnd    time.Time
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	turnID := ""
	if ev.Tags != nil {
		turnID = ev.Tags["turn_id"]
	}
	if turnID == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[turnID]
	if t == nil {
		t = &trace{}
		o.traces[turnID] = t
	}
	switch ev.Name {
	case metrics.EventTurnStart:
		if t.turnStart.IsZero() {
			t.turnStart = ev.Time
		}
	case metrics.EventFirstToken:
		if t.firstToken.IsZero() {
			t.firstToken = ev.Time
		}
	case metrics.EventFirstAudio:
		if t.firstAudio.IsZero() {
			t.firstAudio = ev.Time
		}
	case metrics.EventTurnEnd, metrics.EventInterrupt:
		t.turnEnd = ev.Time
	}
	if !t.turnEnd.IsZero() {
		o.logTurnLocked(turnID, ev.Tags["session_id"], t)
		delete(o.traces, turnID)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logTurnLocked(turnID, sessionID string, t *trace) {
	o.log.Info("turn_latency",
		"session_id", sessionID,
		"turn_id", turnID,
		"first_token_ms", durationMs(t.turnStart, t.firstToken),
		"first_audio_ms", durationMs(t.turnStart, t.firstAudio),
		"total_ms", durationMs(t.turnStart, t.turnEnd),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
