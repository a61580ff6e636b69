package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 15 * time.Minute

// Sweeper runs CheckApprovalDeadlines on a fixed interval.
type Sweeper struct {
	Engine   Engine
	Interval time.Duration
	// OnReport, when set, receives every completed sweep report.
	OnReport func(SweepReport)
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := s.Engine.CheckApprovalDeadlines(ctx)
		if err != nil && ctx.Err() == nil {
			s.Engine.log().Error("deadline sweep failed", zap.Error(err))
		} else if err == nil && s.OnReport != nil {
			s.OnReport(report)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
