package report

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"signal_relay/internal/core"
)

// runTimeout bounds one scheduled report run.
const runTimeout = 2 * time.Minute

// Notifier receives a heads-up when a scheduled run fails.
type Notifier interface {
	Error(ctx context.Context, title, message string, fields map[string]string)
}

// Scheduler fires the reporter on a cron spec inside the worker process.
// Deployments that prefer an external cron run cmd/daily_report instead.
type Scheduler struct {
	cron   *cron.Cron
	logger core.ILogger
}

// NewScheduler wires reporter onto spec (standard five-field cron, evaluated
// in UTC). alerts may be nil.
func NewScheduler(spec string, reporter *Reporter, alerts Notifier, logger core.ILogger) (*Scheduler, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	log := logger.WithField("component", "report_scheduler")

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		if err := reporter.Run(ctx); err != nil {
			log.Error("scheduled daily report failed", "error", err)
			if alerts != nil {
				alerts.Error(ctx, "Daily report failed", err.Error(), nil)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c, logger: log}, nil
}

// Start begins scheduling. Non-blocking.
func (s *Scheduler) Start() {
	s.logger.Info("report scheduler started")
	s.cron.Start()
}

// Stop cancels future runs and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("report scheduler stopped")
}

// Run schedules until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}
