package logging

import (
	"context"
	"errors"
	"log/slog"
)

// sinkSet delivers each record to one handler per log destination, which lets
// the terminal and the log file render the same record in different formats.
type sinkSet struct {
	sinks []slog.Handler
}

// fanout combines sinks. Nil entries are dropped; a single sink is returned
// as-is and an empty set discards everything.
func fanout(sinks ...slog.Handler) slog.Handler {
	kept := make([]slog.Handler, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	switch len(kept) {
	case 0:
		return NoopHandler{}
	case 1:
		return kept[0]
	}
	return &sinkSet{sinks: kept}
}

func (s *sinkSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range s.sinks {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes to every enabled sink even when an earlier one fails.
func (s *sinkSet) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, sink := range s.sinks {
		if !sink.Enabled(ctx, record.Level) {
			continue
		}
		if err := sink.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *sinkSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	return s.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *sinkSet) WithGroup(name string) slog.Handler {
	return s.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (s *sinkSet) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	next := make([]slog.Handler, len(s.sinks))
	for i, sink := range s.sinks {
		next[i] = fn(sink)
	}
	return &sinkSet{sinks: next}
}
