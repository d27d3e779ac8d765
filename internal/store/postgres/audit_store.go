package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// AuditStore appends store events to audit_log, one row per event.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log writes one event; pgx encodes detail as JSONB.
func (s *AuditStore) Log(ctx context.Context, runID, event string, detail map[string]any) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (run_id, event, detail) VALUES ($1, $2, $3)`,
		runID, event, detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s for run %s: %w", event, runID, err)
	}
	return nil
}

// List returns a run's events oldest first.
func (s *AuditStore) List(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	q := newListQuery(`SELECT id, run_id, event, detail, created_at FROM audit_log WHERE run_id = $1`, "created_at", runID)
	q.window(opts)
	q.order("id")
	q.page(opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: audit entries for run %s: %w", runID, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var e domain.AuditEntry
		err := row.Scan(&e.ID, &e.RunID, &e.Event, &e.Detail, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: audit entries for run %s: %w", runID, err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
