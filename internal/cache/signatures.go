package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookdrop/internal/services"
)

// GetSignature returns the named signature value when it exists and has not
// expired.
func (s *Store) GetSignature(ctx context.Context, name string) (string, bool, error) {
	ctx = ensureContext(ctx)
	var (
		value     string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM signatures WHERE name = ?`, strings.TrimSpace(name),
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get signature: %w", err)
	}
	if !s.now().Before(time.Unix(expiresAt, 0)) {
		return "", false, nil
	}
	return value, true, nil
}

// PutSignature stores value under name with the same ttl clamping as Put.
func (s *Store) PutSignature(ctx context.Context, name, value string, ttl time.Duration) error {
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if name == "" || value == "" {
		return services.Wrap(services.ErrValidation, "cache", "put signature", "name and value are required", nil)
	}
	expires := s.now().UTC().Add(s.resolveTTL(ttl))
	_, err := s.execWithRetry(ctx, `
		INSERT INTO signatures (name, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		name, value, expires.Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache put signature: %w", err)
	}
	return nil
}

// Signatures lists every stored signature, expired ones included, ordered by
// name.
func (s *Store) Signatures(ctx context.Context) ([]Signature, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT name, value, expires_at FROM signatures ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("cache list signatures: %w", err)
	}
	defer rows.Close()
	var out []Signature
	for rows.Next() {
		var (
			sig     Signature
			expires int64
		)
		if err := rows.Scan(&sig.Name, &sig.Value, &expires); err != nil {
			return nil, fmt.Errorf("cache list signatures: %w", err)
		}
		sig.ExpiresAt = time.Unix(expires, 0).UTC()
		out = append(out, sig)
	}
	return out, rows.Err()
}

// Now returns the store's clock reading, so callers judge freshness the same
// way GetSignature does.
func (s *Store) Now() time.Time {
	return s.now()
}
