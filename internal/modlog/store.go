// Package modlog keeps the append-only log of moderation decisions. Writes
// are best-effort: the Writer queues entries and a background goroutine
// stores them, so a slow or broken database never delays a decision.
package modlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Entry is one logged decision.
type Entry struct {
	ModerationID string    `db:"moderation_id"`
	ContentType  string    `db:"content_type"`
	Text         string    `db:"content_text"`
	IsApproved   bool      `db:"is_approved"`
	Confidence   float64   `db:"confidence"`
	Reasons      []string  `db:"reasons"`
	CreatedAt    time.Time `db:"created_at"`
}

// topReasonsLimit is how many reasons Stats reports.
const topReasonsLimit = 5

// Store persists entries in PostgreSQL.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// SaveLog inserts one entry.
func (s *Store) SaveLog(ctx context.Context, e Entry) error {
	const query = `
		INSERT INTO moderation_logs (moderation_id, content_text, content_type, is_approved, confidence, reasons, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	reasons := e.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	_, err := s.db.ExecContext(ctx, query,
		e.ModerationID,
		e.Text,
		e.ContentType,
		e.IsApproved,
		e.Confidence,
		pq.Array(reasons),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("modlog: insert: %w", err)
	}
	return nil
}

// Stats aggregates decisions made at or after since. Top reasons are
// counted over rejected entries only.
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	const totalsQuery = `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE is_approved) AS approved
		FROM moderation_logs
		WHERE created_at >= $1`

	var totals struct {
		Total    int `db:"total"`
		Approved int `db:"approved"`
	}
	if err := s.db.GetContext(ctx, &totals, totalsQuery, since); err != nil {
		return Stats{}, fmt.Errorf("modlog: stats totals: %w", err)
	}

	const reasonsQuery = `
		SELECT reason, COUNT(*) AS count
		FROM moderation_logs, unnest(reasons) AS reason
		WHERE created_at >= $1 AND NOT is_approved
		GROUP BY reason
		ORDER BY count DESC, reason
		LIMIT $2`

	var top []ReasonCount
	if err := s.db.SelectContext(ctx, &top, reasonsQuery, since, topReasonsLimit); err != nil {
		return Stats{}, fmt.Errorf("modlog: stats reasons: %w", err)
	}
	return BuildStats(totals.Total, totals.Approved, top), nil
}

// DeleteBefore removes entries older than cutoff and returns how many rows
// were deleted.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM moderation_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("modlog: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("modlog: delete rows affected: %w", err)
	}
	return n, nil
}
