package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleFieldLimit caps how many detail bullets an INFO line shows.
const consoleFieldLimit = 8

// headerKeys are rendered in the line header rather than as bullets.
var headerKeys = map[string]struct{}{
	FieldComponent:   {},
	FieldRunID:       {},
	FieldStage:       {},
	FieldFingerprint: {},
}

type prettyHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     slog.Leveler
	attrs     []slog.Attr
	groups    []string
	addSource bool
}

func newPrettyHandler(w io.Writer, lvl slog.Leveler, addSource bool) slog.Handler {
	return &prettyHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}
	fields := collectFields(h.groups, h.attrs, record)
	header, details := splitHeader(fields)

	var buf bytes.Buffer
	buf.Grow(256 + len(details)*32)
	h.writeHeadline(&buf, record, header)

	limit := consoleFieldLimit
	if record.Level < slog.LevelInfo {
		limit = len(details)
	}
	writeFields(&buf, details, limit)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

// writeHeadline renders "<time> LEVEL [component] Run x · Book y (stage) – msg".
func (h *prettyHandler) writeHeadline(buf *bytes.Buffer, record slog.Record, header map[string]string) {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	message := strings.TrimSpace(record.Message)
	if message == "" {
		message = "(no message)"
	}

	buf.WriteString(ts.Local().Format("2006-01-02 15:04:05"))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(record.Level))
	if component := header[FieldComponent]; component != "" {
		fmt.Fprintf(buf, " [%s]", component)
	}
	if subject := composeSubject(header[FieldRunID], header[FieldFingerprint], header[FieldStage]); subject != "" {
		buf.WriteByte(' ')
		buf.WriteString(subject)
	}
	buf.WriteString(" – ")
	buf.WriteString(message)
	if h.addSource && record.PC != 0 {
		if src := record.Source(); src != nil && src.File != "" {
			fmt.Fprintf(buf, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	buf.WriteByte('\n')
}

// splitHeader moves the identity keys out of the bullet list.
func splitHeader(fields []kv) (map[string]string, []kv) {
	header := make(map[string]string, len(headerKeys))
	details := make([]kv, 0, len(fields))
	for _, field := range fields {
		if _, ok := headerKeys[field.key]; ok {
			header[field.key] = attrString(field.value)
			continue
		}
		details = append(details, field)
	}
	return header, details
}

// writeFields renders detail bullets. Diagnostic keys (event_type, error_hint,
// impact, error) sort first so warnings read cause, impact, then next step.
func writeFields(buf *bytes.Buffer, fields []kv, limit int) {
	if len(fields) == 0 {
		return
	}
	ordered := make([]kv, len(fields))
	copy(ordered, fields)
	sort.SliceStable(ordered, func(i, j int) bool {
		return fieldPriority(ordered[i].key) < fieldPriority(ordered[j].key)
	})
	shown := ordered
	if limit >= 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, field := range shown {
		buf.WriteString("    - ")
		buf.WriteString(field.key)
		buf.WriteString(": ")
		buf.WriteString(formatValue(field.value))
		buf.WriteByte('\n')
	}
	if hidden := len(ordered) - len(shown); hidden > 0 {
		fmt.Fprintf(buf, "    + %d more field", hidden)
		if hidden != 1 {
			buf.WriteByte('s')
		}
		buf.WriteString(" hidden\n")
	}
}

func fieldPriority(key string) int {
	switch key {
	case FieldEventType:
		return 0
	case "error":
		return 1
	case FieldImpact:
		return 2
	case FieldErrorHint:
		return 3
	case FieldAlert:
		return 4
	default:
		return 10
	}
}

func composeSubject(runID, fingerprint, stage string) string {
	parts := make([]string, 0, 2)
	if runID = strings.TrimSpace(runID); runID != "" {
		parts = append(parts, "Run "+shortID(runID))
	}
	fingerprint = strings.TrimSpace(fingerprint)
	stage = strings.TrimSpace(stage)
	switch {
	case fingerprint != "" && stage != "":
		parts = append(parts, "Book "+shortID(fingerprint)+" ("+stage+")")
	case fingerprint != "":
		parts = append(parts, "Book "+shortID(fingerprint))
	case stage != "":
		parts = append(parts, stage)
	}
	return strings.Join(parts, " · ")
}

func shortID(value string) string {
	if len(value) > 8 {
		return value[:8]
	}
	return value
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *prettyHandler) clone() *prettyHandler {
	return &prettyHandler{
		mu:        h.mu,
		writer:    h.writer,
		level:     h.level,
		addSource: h.addSource,
		attrs:     append([]slog.Attr(nil), h.attrs...),
		groups:    append([]string(nil), h.groups...),
	}
}

type kv struct {
	key   string
	value slog.Value
}

// collectFields flattens handler and record attrs into dotted keys. A key
// set twice keeps its first position and its last value.
func collectFields(groups []string, handlerAttrs []slog.Attr, record slog.Record) []kv {
	fields := make([]kv, 0, len(handlerAttrs)+record.NumAttrs())
	index := make(map[string]int, cap(fields))

	var add func(prefix []string, attr slog.Attr)
	add = func(prefix []string, attr slog.Attr) {
		if attr.Equal(slog.Attr{}) {
			return
		}
		value := attr.Value.Resolve()
		if value.Kind() == slog.KindGroup {
			next := prefix
			if attr.Key != "" {
				next = append(prefix[:len(prefix):len(prefix)], attr.Key)
			}
			for _, member := range value.Group() {
				add(next, member)
			}
			return
		}
		if attr.Key == "" {
			return
		}
		key := strings.Join(append(prefix[:len(prefix):len(prefix)], attr.Key), ".")
		if pos, ok := index[key]; ok {
			fields[pos].value = value
			return
		}
		index[key] = len(fields)
		fields = append(fields, kv{key: key, value: value})
	}

	for _, attr := range handlerAttrs {
		add(groups, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		add(groups, attr)
		return true
	})
	return fields
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// attrString renders a value without quoting.
func attrString(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok && err != nil {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

// formatValue renders a value for console bullets, quoting strings that carry
// whitespace so field boundaries stay obvious.
func formatValue(v slog.Value) string {
	s := attrString(v)
	if v.Kind() == slog.KindDuration {
		return v.Duration().Round(time.Millisecond).String()
	}
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, "\n\t") {
		return strconv.Quote(s)
	}
	return s
}
