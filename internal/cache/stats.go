package cache

import (
	"context"
	"fmt"
)

// Stats returns entry counts per status together with expired, delivered, and
// signature totals.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{Path: s.path, Entries: make(map[Status]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM entries GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.Entries[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	now := s.now().UTC().Unix()
	counts := []struct {
		query string
		args  []any
		dest  *int
	}{
		{`SELECT COUNT(1) FROM entries WHERE expires_at <= ? AND status != ?`, []any{now, string(StatusDelivered)}, &stats.Expired},
		{`SELECT COUNT(1) FROM deliveries`, nil, &stats.Delivered},
		{`SELECT COUNT(1) FROM signatures WHERE expires_at > ?`, []any{now}, &stats.Signatures},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return stats, fmt.Errorf("cache stats: %w", err)
		}
	}
	return stats, nil
}
