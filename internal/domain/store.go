package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RunState tracks a simulation run in the journal.
type RunState string

const (
	RunStateRunning  RunState = "running"
	RunStateFinished RunState = "finished"
	RunStateFailed   RunState = "failed"
)

// Run is one simulation over a feed.
type Run struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Mode       string     `json:"mode"`
	FeedType   string     `json:"feed_type"`
	Strategies []string   `json:"strategies"`
	State      RunState   `json:"state"`
	TotalPnL   float64    `json:"total_pnl"`
	Trades     int        `json:"trades"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunStore persists run headers.
type RunStore interface {
	Create(ctx context.Context, run Run) error
	Finish(ctx context.Context, id string, state RunState, report AggregateReport) error
	GetByID(ctx context.Context, id string) (Run, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Run, error)
}

// PositionStore journals the closed positions of finished runs. Nothing is
// read back into a live position store.
type PositionStore interface {
	InsertBatch(ctx context.Context, runID string, positions []Position) error
	ListByRun(ctx context.Context, runID string, opts ListOpts) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	RunID     string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, runID, event string, detail map[string]any) error
	List(ctx context.Context, runID string, opts ListOpts) ([]AuditEntry, error)
}
