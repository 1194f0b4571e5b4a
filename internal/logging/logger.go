package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"bookdrop/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string
	OutputPaths []string
	Development bool
	// Stream, when set, receives a copy of every record at or above Level.
	Stream *StreamHub
}

// New constructs a slog logger using the provided options. Each output gets
// its own handler so "auto" can render a terminal as console text while a log
// file next to it receives JSON.
func New(opts Options) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(ParseLevel(opts.Level))
	addSource := opts.Development || levelVar.Level() <= slog.LevelDebug

	paths := opts.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stderr"}
	}
	outputs, err := openOutputs(paths)
	if err != nil {
		return nil, err
	}

	sinks := make([]slog.Handler, 0, len(outputs))
	for _, out := range outputs {
		format, err := resolveFormat(opts.Format, isTerminal(out))
		if err != nil {
			return nil, err
		}
		if format == "json" {
			sinks = append(sinks, newJSONHandler(out, levelVar, addSource))
		} else {
			sinks = append(sinks, newPrettyHandler(out, levelVar, addSource))
		}
	}
	return slog.New(newStreamHandler(fanout(sinks...), opts.Stream)), nil
}

// NewFromConfig creates a logger that writes to stderr and to
// <log_dir>/bookdrop.log, publishing into hub when it is non-nil.
func NewFromConfig(cfg *config.Config, hub *StreamHub) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "auto", Stream: hub})
	}

	outputs := []string{"stderr"}
	if cfg.Paths.LogDir != "" {
		if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "bookdrop.log"))
	}

	return New(Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
		Stream:      hub,
	})
}

// ParseLevel maps a configured level name to a slog level. Unknown values
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveFormat picks the handler format for one output. "auto" means console
// output for a terminal and JSON otherwise (files, pipes, journald).
func resolveFormat(format string, console bool) (string, error) {
	switch value := strings.ToLower(strings.TrimSpace(format)); value {
	case "", "auto":
		if console {
			return "console", nil
		}
		return "json", nil
	case "console", "json":
		return value, nil
	default:
		return "", fmt.Errorf("log format: unsupported value %q", format)
	}
}

// openOutputs opens every distinct output path once. "stdout" and "stderr"
// name the process streams; anything else is a file opened for append.
func openOutputs(paths []string) ([]*os.File, error) {
	seen := map[string]struct{}{}
	var files []*os.File
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}

		switch trimmed {
		case "stdout":
			files = append(files, os.Stdout)
		case "stderr":
			files = append(files, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
				return nil, fmt.Errorf("ensure log dir: %w", err)
			}
			file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", trimmed, err)
			}
			files = append(files, file)
		}
	}
	if len(files) == 0 {
		files = append(files, os.Stderr)
	}
	return files, nil
}

func isTerminal(file *os.File) bool {
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
