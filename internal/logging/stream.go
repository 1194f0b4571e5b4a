package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultStreamCapacity bounds the number of events a StreamHub retains.
const DefaultStreamCapacity = 100

// LogEvent is one structured log line retained by a StreamHub.
type LogEvent struct {
	Sequence    uint64            `json:"seq"`
	Timestamp   time.Time         `json:"ts"`
	Level       string            `json:"level"`
	Message     string            `json:"msg"`
	Component   string            `json:"component,omitempty"`
	RunID       string            `json:"run_id,omitempty"`
	Stage       string            `json:"stage,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// StreamHub keeps the most recent log events in a ring and wakes waiters when
// new events arrive. Older events are discarded once capacity is reached.
type StreamHub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []LogEvent
	nextSeq  uint64
}

// NewStreamHub constructs a bounded in-memory event buffer.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = DefaultStreamCapacity
	}
	h := &StreamHub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Capacity reports the maximum number of retained events.
func (h *StreamHub) Capacity() int {
	if h == nil {
		return 0
	}
	return h.capacity
}

// Publish appends evt, evicting the oldest event when full.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
}

// Tail returns up to limit of the newest events, oldest first, plus the last
// assigned sequence number.
func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.buffer) {
		limit = len(h.buffer)
	}
	if limit == 0 {
		return nil, h.nextSeq
	}
	out := make([]LogEvent, limit)
	copy(out, h.buffer[len(h.buffer)-limit:])
	return out, h.nextSeq
}

// Fetch returns events with a sequence greater than since. When wait is true
// it blocks until at least one such event exists or ctx ends.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	stop := context.AfterFunc(ctx, func() {
		h.mu.Lock()
		h.cond.Broadcast()
		h.mu.Unlock()
	})
	defer stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events := h.sinceLocked(since)
		if len(events) > 0 || !wait {
			return events, h.nextSeq, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, h.nextSeq, err
		}
		h.cond.Wait()
	}
}

func (h *StreamHub) sinceLocked(since uint64) []LogEvent {
	for i, evt := range h.buffer {
		if evt.Sequence > since {
			out := make([]LogEvent, len(h.buffer)-i)
			copy(out, h.buffer[i:])
			return out
		}
	}
	return nil
}

type streamHandler struct {
	next  slog.Handler
	hub   *StreamHub
	attrs []slog.Attr
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	h.hub.Publish(eventFromRecord(record, h.attrs))
	return h.next.Handle(ctx, record.Clone())
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &streamHandler{next: h.next.WithAttrs(attrs), hub: h.hub, attrs: merged}
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	return &streamHandler{next: h.next.WithGroup(name), hub: h.hub, attrs: h.attrs}
}

func eventFromRecord(record slog.Record, preAttrs []slog.Attr) LogEvent {
	event := LogEvent{
		Timestamp: record.Time,
		Level:     strings.ToUpper(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
	}
	apply := func(attr slog.Attr) bool {
		key := strings.TrimSpace(attr.Key)
		if key == "" {
			return true
		}
		value := attrString(attr.Value)
		switch key {
		case FieldComponent:
			event.Component = value
		case FieldRunID:
			event.RunID = value
		case FieldStage:
			event.Stage = value
		case FieldFingerprint:
			event.Fingerprint = value
		default:
			if event.Fields == nil {
				event.Fields = make(map[string]string)
			}
			event.Fields[key] = value
		}
		return true
	}
	// Call-site attrs override accumulated ones.
	for _, attr := range preAttrs {
		apply(attr)
	}
	record.Attrs(apply)
	return event
}
