package app

import (
	"time"

	"github.com/alanyoungcy/tickbot/internal/domain"
	"github.com/alanyoungcy/tickbot/internal/feed"
	"github.com/alanyoungcy/tickbot/internal/position"
	"github.com/alanyoungcy/tickbot/internal/strategy"
)

// runStatus assembles domain.RunStatus from the live components of a run.
type runStatus struct {
	run    domain.Run
	store  *position.Store
	engine *strategy.Engine
	driver *feed.Driver
}

func (s *runStatus) Status() domain.RunStatus {
	_, finalized := s.store.Report()
	return domain.RunStatus{
		RunID:           s.run.ID,
		RunName:         s.run.Name,
		Mode:            s.run.Mode,
		Strategies:      s.engine.ActiveNames(),
		FeedType:        s.run.FeedType,
		TicksProcessed:  s.driver.Ticks(),
		OpenPositions:   len(s.store.ListOpen()),
		ClosedPositions: len(s.store.ListClosed()),
		RealizedPnL:     s.store.RealizedPnL(),
		Finalized:       finalized,
		StartedAt:       s.run.StartedAt,
		UptimeSeconds:   int64(time.Since(s.run.StartedAt).Seconds()),
	}
}
