package catalog

import (
	"context"
	"log/slog"
)

// EventKind classifies an Event.
type EventKind string

const (
	EventAttempt EventKind = "attempt"
	EventFailure EventKind = "failure"
	EventSuccess EventKind = "success"
	EventSkipped EventKind = "skipped"
)

// Event describes one step of a read or save.
type Event struct {
	Kind       EventKind
	Op         string
	DOI        string
	Strategy   Strategy
	Method     string
	URL        string
	StatusCode int
	Err        error
}

// Observer receives request steps as they happen.
type Observer func(Event)

// LogObserver reports events to logger: failures at warn, the rest at debug.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ev Event) {
		attrs := []any{"op", ev.Op}
		if ev.DOI != "" {
			attrs = append(attrs, "doi", ev.DOI)
		}
		if ev.Strategy != "" {
			attrs = append(attrs, "strategy", string(ev.Strategy))
		}
		if ev.Method != "" {
			attrs = append(attrs, "method", ev.Method)
		}
		if ev.URL != "" {
			attrs = append(attrs, "url_length", len(ev.URL))
		}
		if ev.StatusCode != 0 {
			attrs = append(attrs, "status", ev.StatusCode)
		}
		if ev.Err != nil {
			attrs = append(attrs, "err", ev.Err)
		}

		level := slog.LevelDebug
		if ev.Kind == EventFailure || ev.Kind == EventSkipped {
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, "Catalog request "+string(ev.Kind), attrs...)
	}
}
