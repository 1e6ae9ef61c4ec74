package observers

import (
	"context"
	"log/slog"

	"github.com/hearthware/sous/pkg/metrics"
)

// LoggerObserver emits every metrics event at debug level.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	attrs := make([]slog.Attr, 0, 3+len(ev.Tags))
	attrs = append(attrs,
		slog.String("event", ev.Name),
		slog.Time("at", ev.Time),
		slog.Float64("value", ev.Value),
	)
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	o.log.LogAttrs(context.Background(), slog.LevelDebug, "metric", attrs...)
}

// MultiObserver fans a single event out to several observers.
type MultiObserver struct {
	observers []metrics.Observer
}

func NewMultiObserver(obs ...metrics.Observer) *MultiObserver {
	return &MultiObserver{observers: obs}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, o := range m.observers {
		if o != nil {
			o.RecordEvent(ev)
		}
	}
}
