package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bookdrop/internal/logging"
)

const (
	sqliteBusyCode          = 5
	sqliteCorruptCode       = 11
	sqliteNotADBCode        = 26
	defaultBusyTimeout      = 5 * time.Second
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// DefaultTTL applies when Put receives a zero ttl.
	DefaultTTL = 24 * time.Hour
	// MinTTL and MaxTTL bound every metadata ttl.
	MinTTL = time.Hour
	MaxTTL = 168 * time.Hour
)

// ErrCorruptOnLoad marks a database that was quarantined and replaced on open.
var ErrCorruptOnLoad = errors.New("cache corrupt on load")

// Store manages cache persistence backed by SQLite.
type Store struct {
	db         *sql.DB
	path       string
	now        func() time.Time
	defaultTTL time.Duration
	busyWait   time.Duration
	logger     *slog.Logger
	recovered  error
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultTTL sets the ttl used when Put receives zero.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.defaultTTL = clampTTL(ttl)
		}
	}
}

// WithBusyTimeout sets how long a connection waits for another process's
// lock before failing with SQLITE_BUSY.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.busyWait = d
		}
	}
}

// WithLogger attaches a logger for recovery warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open connects to the cache database at path, creating it when missing. A
// corrupt database is moved aside and replaced; Recovered reports when that
// happened.
func Open(path string, opts ...Option) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache directory: %w", err)
	}

	store := &Store{
		path:       path,
		now:        time.Now,
		defaultTTL: DefaultTTL,
		busyWait:   defaultBusyTimeout,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}
	store.logger = logging.NewComponentLogger(store.logger, "cache")

	ctx := context.Background()
	db, err := openVerified(ctx, store)
	if err == nil {
		store.db = db
		return store, nil
	}
	if !isCorruption(err) {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}

	quarantined, qerr := quarantine(path, store.now())
	if qerr != nil {
		return nil, fmt.Errorf("open cache %s: %w (quarantine failed: %v)", path, err, qerr)
	}
	store.recovered = fmt.Errorf("%w: %s moved to %s: %v", ErrCorruptOnLoad, path, quarantined, err)
	logging.WarnWithContext(store.logger, "cache database unreadable; starting with an empty cache", "cache_corrupt_on_load",
		logging.String("path", path),
		logging.String("quarantined", quarantined),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "inspect or delete the quarantined file"),
		logging.String(logging.FieldImpact, "previously cached progress is ignored; delivered books may be sent again"),
	)

	db, err = openVerified(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("open fresh cache %s: %w", path, err)
	}
	store.db = db
	return store, nil
}

// openVerified opens the database and checks it is a healthy cache at the
// current schema version. busy_timeout travels in the DSN so every pooled
// connection waits for a lock before anything else runs.
func openVerified(ctx context.Context, store *Store) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)", store.path, store.busyWait.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	store.db = db
	if err := store.quickCheck(ctx); err != nil {
		_ = db.Close()
		store.db = nil
		return nil, err
	}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		store.db = nil
		return nil, err
	}
	return db, nil
}

// isCorruption reports whether err means the file itself is unusable as a
// cache. Locks, permissions and I/O errors do not qualify: the file is left
// in place and the error returned so no delivery fact is discarded.
func isCorruption(err error) bool {
	if errors.Is(err, ErrSchemaMismatch) || errors.Is(err, errIntegrity) {
		return true
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		switch coder.Code() & 0xff {
		case sqliteCorruptCode, sqliteNotADBCode:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "malformed")
}

// quarantine renames path (and drops its WAL side files) so a fresh database
// can take its place.
func quarantine(path string, now time.Time) (string, error) {
	target := fmt.Sprintf("%s.corrupt-%d", path, now.Unix())
	if _, err := os.Stat(target); err == nil {
		target = fmt.Sprintf("%s.corrupt-%d", path, now.UnixNano())
	}
	if err := os.Rename(path, target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return target, nil
}

// Recovered returns an error wrapping ErrCorruptOnLoad when Open replaced a
// corrupt database, and nil otherwise.
func (s *Store) Recovered() error {
	if s == nil {
		return nil
	}
	return s.recovered
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func clampTTL(ttl time.Duration) time.Duration {
	return min(max(ttl, MinTTL), MaxTTL)
}

func (s *Store) resolveTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return s.defaultTTL
	}
	return clampTTL(ttl)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// inTx runs fn inside a transaction, retrying the whole transaction on busy.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func rowsAffected(res sql.Result) int {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
