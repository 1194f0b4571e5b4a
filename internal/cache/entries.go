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

// Get returns the entry for fingerprint. It reports absent when no entry
// exists or when the entry's TTL elapsed and the book was never delivered. A
// recorded delivery is always returned, even after Clear removed the metadata.
func (s *Store) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	ctx = ensureContext(ctx)
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return nil, false, services.Wrap(services.ErrValidation, "cache", "get", "fingerprint is required", nil)
	}

	var (
		payload     []byte
		status      sql.NullString
		createdAt   sql.NullInt64
		expiresAt   sql.NullInt64
		deliveredAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT e.payload, e.status, e.created_at, e.expires_at, d.delivered_at
		FROM (SELECT ? AS fingerprint) k
		LEFT JOIN entries e ON e.fingerprint = k.fingerprint
		LEFT JOIN deliveries d ON d.fingerprint = k.fingerprint`,
		fingerprint,
	).Scan(&payload, &status, &createdAt, &expiresAt, &deliveredAt)
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	if !status.Valid {
		if !deliveredAt.Valid {
			return nil, false, nil
		}
		delivered := time.Unix(deliveredAt.Int64, 0).UTC()
		return &Entry{
			Fingerprint: fingerprint,
			Status:      StatusDelivered,
			CreatedAt:   delivered,
			ExpiresAt:   delivered.Add(s.defaultTTL),
		}, true, nil
	}

	entry := &Entry{
		Fingerprint: fingerprint,
		Payload:     payload,
		Status:      Status(status.String),
		CreatedAt:   time.Unix(createdAt.Int64, 0).UTC(),
		ExpiresAt:   time.Unix(expiresAt.Int64, 0).UTC(),
	}
	if deliveredAt.Valid {
		entry.Status = StatusDelivered
	}
	if entry.Expired(s.now()) {
		return nil, false, nil
	}
	return entry, true, nil
}

// Put upserts the entry for fingerprint; the last write wins. ttl is clamped
// to MinTTL..MaxTTL and zero selects the store default.
func (s *Store) Put(ctx context.Context, fingerprint string, payload []byte, status Status, ttl time.Duration) error {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return services.Wrap(services.ErrValidation, "cache", "put", "fingerprint is required", nil)
	}
	if !status.Valid() {
		return services.Wrap(services.ErrValidation, "cache", "put", fmt.Sprintf("unknown status %q", status), nil)
	}
	created := s.now().UTC()
	expires := created.Add(s.resolveTTL(ttl))
	_, err := s.execWithRetry(ctx, `
		INSERT INTO entries (fingerprint, payload, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			payload = excluded.payload,
			status = excluded.status,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		fingerprint, payload, string(status), created.Unix(), expires.Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// MarkDelivered records the non-expiring delivery fact and flags any existing
// entry as delivered. Repeated calls keep the first delivery time.
func (s *Store) MarkDelivered(ctx context.Context, fingerprint string) error {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return services.Wrap(services.ErrValidation, "cache", "mark delivered", "fingerprint is required", nil)
	}
	now := s.now().UTC().Unix()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deliveries (fingerprint, delivered_at) VALUES (?, ?) ON CONFLICT(fingerprint) DO NOTHING`,
			fingerprint, now,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE entries SET status = ? WHERE fingerprint = ?`, string(StatusDelivered), fingerprint)
		return err
	})
	if err != nil {
		return fmt.Errorf("cache mark delivered: %w", err)
	}
	return nil
}

// Delivered reports whether a delivery fact exists for fingerprint.
func (s *Store) Delivered(ctx context.Context, fingerprint string) (bool, error) {
	ctx = ensureContext(ctx)
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM deliveries WHERE fingerprint = ?`, strings.TrimSpace(fingerprint)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache delivered lookup: %w", err)
	}
	return true, nil
}

// Clear removes every metadata entry and signature and returns how many rows
// were removed. Delivery facts survive so already-sent books are not resent.
func (s *Store) Clear(ctx context.Context) (int, error) {
	return s.clearTables(ctx, "entries", "signatures")
}

// ClearAll removes entries, signatures, and delivery facts.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	return s.clearTables(ctx, "entries", "signatures", "deliveries")
}

func (s *Store) clearTables(ctx context.Context, tables ...string) (int, error) {
	removed := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		removed = 0
		for _, table := range tables {
			res, err := tx.ExecContext(ctx, "DELETE FROM "+table)
			if err != nil {
				return err
			}
			removed += rowsAffected(res)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return removed, nil
}

// SweepExpired deletes expired metadata for undelivered books and expired
// signatures, returning the number of rows removed.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	now := s.now().UTC().Unix()
	removed := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		removed = 0
		res, err := tx.ExecContext(ctx, `
			DELETE FROM entries
			WHERE expires_at <= ?
			  AND status != ?
			  AND fingerprint NOT IN (SELECT fingerprint FROM deliveries)`,
			now, string(StatusDelivered),
		)
		if err != nil {
			return err
		}
		removed += rowsAffected(res)
		res, err = tx.ExecContext(ctx, `DELETE FROM signatures WHERE expires_at <= ?`, now)
		if err != nil {
			return err
		}
		removed += rowsAffected(res)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	return removed, nil
}
