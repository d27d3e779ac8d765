package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// PositionStore implements domain.PositionStore: the per-run journal of
// positions from a finalized report.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var positionColumns = []string{
	"run_id", "position_id", "symbol", "direction", "entry_price", "target",
	"stop_loss", "size", "strategy", "status", "exit_price", "pnl",
	"opened_at", "closed_at",
}

func positionRow(runID string, p domain.Position) []any {
	return []any{
		runID, int64(p.ID), p.Symbol, string(p.Direction), p.EntryPrice, p.Target,
		p.StopLoss, p.Size, p.Strategy, string(p.Status), p.ExitPrice, p.PnL,
		p.OpenedAt, p.ClosedAt,
	}
}

// InsertBatch copies positions into the journal in one COPY.
func (s *PositionStore) InsertBatch(ctx context.Context, runID string, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}
	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"run_positions"},
		positionColumns,
		pgx.CopyFromSlice(len(positions), func(i int) ([]any, error) {
			return positionRow(runID, positions[i]), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert positions for run %s: %w", runID, err)
	}
	if int(n) != len(positions) {
		return fmt.Errorf("postgres: insert positions for run %s: copied %d of %d", runID, n, len(positions))
	}
	return nil
}

// ListByRun returns a run's positions ordered by position ID.
func (s *PositionStore) ListByRun(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.Position, error) {
	q := newListQuery(`
		SELECT position_id, symbol, direction, entry_price, target, stop_loss,
			size, strategy, status, exit_price, pnl, opened_at, closed_at
		FROM run_positions WHERE run_id = $1`, "opened_at", runID)
	q.window(opts)
	q.order("position_id")
	q.page(opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for run %s: %w", runID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var id int64
		var direction, status string
		if err := rows.Scan(
			&id, &p.Symbol, &direction, &p.EntryPrice, &p.Target, &p.StopLoss,
			&p.Size, &p.Strategy, &status, &p.ExitPrice, &p.PnL, &p.OpenedAt, &p.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.ID = domain.PositionID(id)
		p.Direction = domain.Direction(direction)
		p.Status = domain.PositionStatus(status)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions for run %s: %w", runID, err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
