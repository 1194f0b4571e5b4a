// Package audit appends one JSON line per delivery attempt so the history of
// what was sent where survives cache clears.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one delivery attempt.
type Entry struct {
	Time        time.Time `json:"time"`
	RunID       string    `json:"run_id,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Title       string    `json:"title,omitempty"`
	Destination string    `json:"destination"`
	File        string    `json:"file,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	OK          bool      `json:"ok"`
	Reason      string    `json:"reason,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Log is an append-only JSON lines journal.
type Log struct {
	path string
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// Open opens (or creates) the journal at path. An empty path disables the
// journal and returns a nil *Log, which accepts appends as no-ops.
func Open(path string) (*Log, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure audit dir: %w", err)
	}
	l := &Log{path: trimmed}
	if err := l.ensureWriter(); err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", trimmed, err)
	}
	return l, nil
}

// Path returns the on-disk location of the journal.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes entry as one line.
func (l *Log) Append(entry Entry) error {
	if l == nil {
		return nil
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureWriter(); err != nil {
		return err
	}
	if err := l.enc.Encode(entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Tail returns the last limit entries in file order. A limit of zero or less
// returns every entry.
func (l *Log) Tail(limit int) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}
	return ReadTail(l.path, limit)
}

// ReadTail reads the journal at path without opening it for writing.
func ReadTail(path string, limit int) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var entries []Entry
	for {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return entries, fmt.Errorf("decode audit log %s: %w", path, err)
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) > limit {
			entries = entries[1:]
		}
	}
	return entries, nil
}

// Close releases the file handle.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if l.file != nil {
		err = l.file.Close()
	}
	l.file = nil
	l.enc = nil
	return err
}

func (l *Log) ensureWriter() error {
	if l.file != nil && l.enc != nil {
		return nil
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = file
	l.enc = json.NewEncoder(file)
	return nil
}
