package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Well-known event names recorded across the session engines.
const (
	EventTurnStart  = "turn_start"
	EventFirstToken = "llm_first_token"
	EventFirstAudio = "tts_first_audio"
	EventTurnEnd    = "turn_end"
	EventInterrupt  = "turn_interrupt"
	EventFallback   = "provider_fallback"
)

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
