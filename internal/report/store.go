package report

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nosurfing/moderation/internal/escalation"
)

// Store archives reports in PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// Stats summarises the archive.
type Stats struct {
	Total    int            `json:"total"`
	Pending  int            `json:"pending"`
	Resolved int            `json:"resolved"`
	ByReason map[string]int `json:"byReason"`
	ByType   map[string]int `json:"byType"`
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Create inserts a report. The reason is validated against the allowed set
// before insertion.
func (s *Store) Create(ctx context.Context, r *Report) error {
	if !validReasons[r.Reason] {
		return fmt.Errorf("report: invalid reason %q", r.Reason)
	}

	const query = `
		INSERT INTO content_reports (id, content_id, content_type, reason, description, reporter_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.ContentID,
		r.ContentType,
		r.Reason,
		r.Description,
		r.ReporterKey,
		r.Status,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

type keyCount struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

// Stats returns totals plus per-reason and per-type breakdowns.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	const totalsQuery = `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'pending') AS pending,
		       COUNT(*) FILTER (WHERE status = 'resolved') AS resolved
		FROM content_reports`

	var totals struct {
		Total    int `db:"total"`
		Pending  int `db:"pending"`
		Resolved int `db:"resolved"`
	}
	if err := s.db.GetContext(ctx, &totals, totalsQuery); err != nil {
		return Stats{}, fmt.Errorf("report: stats totals: %w", err)
	}

	byReason, err := s.groupCount(ctx, "reason")
	if err != nil {
		return Stats{}, err
	}
	byType, err := s.groupCount(ctx, "content_type")
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Total:    totals.Total,
		Pending:  totals.Pending,
		Resolved: totals.Resolved,
		ByReason: byReason,
		ByType:   byType,
	}, nil
}

// groupCount counts rows per distinct value of column. column is always a
// constant chosen by this package.
func (s *Store) groupCount(ctx context.Context, column string) (map[string]int, error) {
	query := fmt.Sprintf(`SELECT %[1]s AS key, COUNT(*) AS count FROM content_reports GROUP BY %[1]s`, column)

	var rows []keyCount
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("report: stats by %s: %w", column, err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Count
	}
	return out, nil
}

// Recent returns the newest reports first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Report, error) {
	const query = `
		SELECT id, content_id, content_type, reason, description, reporter_key, status, created_at
		FROM content_reports
		ORDER BY created_at DESC
		LIMIT $1`

	reports := []Report{}
	if err := s.db.SelectContext(ctx, &reports, query, limit); err != nil {
		return nil, fmt.Errorf("report: recent: %w", err)
	}
	return reports, nil
}

// Resolve marks every pending report for ref as resolved and returns the
// number of rows changed.
func (s *Store) Resolve(ctx context.Context, ref escalation.ContentRef) (int64, error) {
	const query = `
		UPDATE content_reports
		SET status = 'resolved'
		WHERE content_type = $1 AND content_id = $2 AND status = 'pending'`

	res, err := s.db.ExecContext(ctx, query, ref.Type, ref.ID)
	if err != nil {
		return 0, fmt.Errorf("report: resolve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("report: resolve rows affected: %w", err)
	}
	return n, nil
}
