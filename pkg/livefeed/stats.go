package livefeed

import (
	"context"
	"time"
)

// statsInterval is the default queue-stats broadcast period.
const statsInterval = 10 * time.Second

// statsTimeout bounds the store reads behind one stats frame.
const statsTimeout = 3 * time.Second

// StatsSource supplies the queue counters behind the periodic stats frame.
type StatsSource interface {
	CountJobs(ctx context.Context, status string) (int, error)
	CountDeadLetters(ctx context.Context) (int, error)
}

// RunStats broadcasts a queue_stats frame every interval until ctx is
// canceled. Zero or negative interval uses the default.
func (f *Feed) RunStats(ctx context.Context, src StatsSource, interval time.Duration) {
	if interval <= 0 {
		interval = statsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.publishStats(ctx, src)
		}
	}
}

func (f *Feed) publishStats(ctx context.Context, src StatsSource) {
	// Stats go only to live subscribers; skip the store reads when nobody
	// is listening.
	if f.ClientCount() == 0 {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	ready, err := src.CountJobs(callCtx, "ready")
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("feed stats read failed", "error", err)
		}
		return
	}
	processing, err := src.CountJobs(callCtx, "processing")
	if err != nil {
		return
	}
	dlq, err := src.CountDeadLetters(callCtx)
	if err != nil {
		return
	}

	f.Publish(TypeQueueStats, map[string]interface{}{
		"ready":      ready,
		"processing": processing,
		"dlq":        dlq,
		"clients":    f.ClientCount(),
		"ts":         time.Now().UTC().Unix(),
	})
}
