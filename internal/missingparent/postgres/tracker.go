package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/missingparent"
)

var _ missingparent.Tracker = (*Tracker)(nil)

// Tracker is a PostgreSQL-backed missingparent.Tracker.
type Tracker struct {
	db *DB
}

// New wraps an already-connected DB. Call db.EnsureSchema first.
func New(db *DB) *Tracker {
	return &Tracker{db: db}
}

func encodeKey(k domain.Key) string { return k.String() }

func decodeKey(s string) domain.Key {
	return domain.Key(strings.Split(s, "\x00"))
}

// MarkMissing implements missingparent.Tracker.
func (t *Tracker) MarkMissing(ctx context.Context, key, referencedBy domain.Key) error {
	query := `
		INSERT INTO missing_parents (key, referenced_by, first_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (key, referenced_by) DO NOTHING
	`
	_, err := t.db.Pool.Exec(ctx, query, encodeKey(key), encodeKey(referencedBy), time.Now())
	if err != nil {
		return fmt.Errorf("missingparent: mark missing: %w", err)
	}
	return nil
}

// MarkResolved implements missingparent.Tracker.
func (t *Tracker) MarkResolved(ctx context.Context, key domain.Key) error {
	query := `
		UPDATE missing_parents
		SET resolved = true, resolved_at = $2
		WHERE key = $1 AND resolved = false
	`
	_, err := t.db.Pool.Exec(ctx, query, encodeKey(key), time.Now())
	if err != nil {
		return fmt.Errorf("missingparent: mark resolved: %w", err)
	}
	return nil
}

// ListMissing implements missingparent.Tracker.
func (t *Tracker) ListMissing(ctx context.Context) ([]missingparent.Entry, error) {
	query := `
		SELECT key, referenced_by, first_seen, resolved, resolved_at
		FROM missing_parents
		WHERE resolved = false
		ORDER BY first_seen ASC
	`
	rows, err := t.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("missingparent: list missing: %w", err)
	}
	defer rows.Close()

	var out []missingparent.Entry
	for rows.Next() {
		var (
			keyStr, refStr string
			firstSeen      time.Time
			resolved       bool
			resolvedAt     *time.Time
		)
		if err := rows.Scan(&keyStr, &refStr, &firstSeen, &resolved, &resolvedAt); err != nil {
			return nil, fmt.Errorf("missingparent: scan: %w", err)
		}
		out = append(out, missingparent.Entry{
			Key:          decodeKey(keyStr),
			ReferencedBy: decodeKey(refStr),
			FirstSeen:    firstSeen,
			Resolved:     resolved,
			ResolvedAt:   resolvedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("missingparent: iterate: %w", err)
	}
	return out, nil
}

// GetStats implements missingparent.Tracker.
func (t *Tracker) GetStats(ctx context.Context) (missingparent.Stats, error) {
	query := `
		SELECT
			count(*),
			count(*) FILTER (WHERE resolved = false),
			count(*) FILTER (WHERE resolved = true)
		FROM missing_parents
	`
	var stats missingparent.Stats
	err := t.db.Pool.QueryRow(ctx, query).Scan(&stats.TotalTracked, &stats.Missing, &stats.Resolved)
	if err != nil {
		if err == pgx.ErrNoRows {
			return missingparent.Stats{}, nil
		}
		return missingparent.Stats{}, fmt.Errorf("missingparent: stats: %w", err)
	}
	return stats, nil
}
