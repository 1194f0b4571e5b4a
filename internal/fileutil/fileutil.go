package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTooLarge is returned when a stream exceeds the byte limit given to
// WriteAtomic.
var ErrTooLarge = errors.New("stream exceeds size limit")

// Result describes a completed atomic write.
type Result struct {
	Path    string
	Written int64
	SHA256  string
}

// WriteAtomic streams r into a temporary file next to path and renames it
// into place once verify accepts the written size. A limit of zero or less
// disables the size guard. On any failure the temporary file is removed and
// path is left untouched.
func WriteAtomic(path string, r io.Reader, limit int64, verify func(written int64) error) (Result, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), src)
	if err != nil {
		return Result{}, err
	}
	if limit > 0 && written > limit {
		return Result{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	if verify != nil {
		if err := verify(written); err != nil {
			return Result{}, err
		}
	}
	if err := tmp.Sync(); err != nil {
		return Result{}, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return Result{}, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return Result{}, fmt.Errorf("rename into place: %w", err)
	}
	committed = true
	return Result{Path: path, Written: written, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// FileSHA256 returns the hex SHA256 digest of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// PartialFiles lists leftover temporary files from interrupted writes in dir.
func PartialFiles(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, ".*.part"))
}
