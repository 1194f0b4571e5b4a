package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrRunInProgress is returned when another run holds the lock.
var ErrRunInProgress = errors.New("a bookdrop run is already in progress")

// runGuard holds the exclusive lock for the duration of a run.
type runGuard struct {
	lock *flock.Flock
}

func acquireRunGuard(path string) (*runGuard, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	return &runGuard{lock: lock}, nil
}

func (g *runGuard) release() error {
	if g == nil || g.lock == nil {
		return nil
	}
	return g.lock.Unlock()
}
