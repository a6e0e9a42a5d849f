package worker

import (
	"context"
	"time"

	"signal_relay/internal/core"
)

// sweepInterval is how often the sweeper scans, independent of the staleness
// threshold it applies.
const sweepInterval = time.Minute

// Sweeper recovers jobs stranded in processing by a crashed worker. It flips
// them back to ready with a conditional update, so it can never steal a row
// from a live claim; the deterministic client_order_id keeps any overlap from
// double-executing at the broker.
type Sweeper struct {
	store    core.QueueStore
	clock    core.Clock
	after    time.Duration
	batch    int
	interval time.Duration
	logger   core.ILogger
}

// NewSweeper returns nil when afterSec is zero, which disables sweeping.
func NewSweeper(store core.QueueStore, clock core.Clock, afterSec, batch int, logger core.ILogger) *Sweeper {
	if afterSec <= 0 {
		return nil
	}
	if batch <= 0 {
		batch = 50
	}
	return &Sweeper{
		store:    store,
		clock:    clock,
		after:    time.Duration(afterSec) * time.Second,
		batch:    batch,
		interval: sweepInterval,
		logger:   logger.WithField("component", "sweeper"),
	}
}

// Run sweeps on a fixed cadence until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("stale-claim sweeper started", "after", s.after.String(), "batch", s.batch)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stale-claim sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep requeues one batch of stale processing rows and returns the count.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.clock.Now().Add(-s.after)
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	n, err := s.store.RequeueStale(sctx, cutoff, s.batch)
	cancel()
	if err != nil {
		s.logger.Error("stale sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Warn("requeued stale processing jobs", "count", n, "older_than", cutoff)
	}
	return n
}
