package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const uniqueViolation = "23505"

const runSelectCols = `id, name, mode, feed_type, strategies, state,
	total_pnl, trades, started_at, finished_at`

func scanRun(row pgx.Row) (domain.Run, error) {
	var r domain.Run
	var state string
	if err := row.Scan(
		&r.ID, &r.Name, &r.Mode, &r.FeedType, &r.Strategies, &state,
		&r.TotalPnL, &r.Trades, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return domain.Run{}, err
	}
	r.State = domain.RunState(state)
	return r, nil
}

// Create inserts a run header.
func (s *RunStore) Create(ctx context.Context, r domain.Run) error {
	const query = `
		INSERT INTO runs (id, name, mode, feed_type, strategies, state, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	strategies := r.Strategies
	if strategies == nil {
		strategies = []string{}
	}
	if _, err := s.pool.Exec(ctx, query,
		r.ID, r.Name, r.Mode, r.FeedType, strategies, string(r.State), r.StartedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: create run %s: %w", r.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create run %s: %w", r.ID, err)
	}
	return nil
}

// Finish records the terminal state and totals of a run.
func (s *RunStore) Finish(ctx context.Context, id string, state domain.RunState, report domain.AggregateReport) error {
	finishedAt := report.FinalizedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}
	const query = `
		UPDATE runs
		SET state = $2, total_pnl = $3, trades = $4, finished_at = $5
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(state), report.TotalPnL, report.Trades, finishedAt)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finish run %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns a run or domain.ErrNotFound.
func (s *RunStore) GetByID(ctx context.Context, id string) (domain.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runSelectCols+` FROM runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("postgres: get run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return r, nil
}

// ListRecent returns runs newest first.
func (s *RunStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Run, error) {
	q := newListQuery(`SELECT `+runSelectCols+` FROM runs WHERE 1=1`, "started_at")
	q.window(opts)
	q.order("started_at DESC")
	q.page(opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	return runs, nil
}

var _ domain.RunStore = (*RunStore)(nil)
