// Package worker runs the periodic loops: the due-step poll and the inbox
// reply scan. Each worker owns one ticker and stops on context cancellation.
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"outreachd/scheduler"
)

type SchedulerWorker struct {
	scheduler *scheduler.Scheduler
	interval  time.Duration
	logger    *logrus.Logger
}

func NewSchedulerWorker(s *scheduler.Scheduler, interval time.Duration, logger *logrus.Logger) *SchedulerWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SchedulerWorker{scheduler: s, interval: interval, logger: logger}
}

// Start runs the poll loop until ctx is cancelled. A pass failure never
// stops the loop; failed steps stay due and are retried on the next tick.
func (w *SchedulerWorker) Start(ctx context.Context) {
	w.logger.WithField("interval", w.interval).Info("starting scheduler worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// One immediate pass so a backlog accrued during downtime drains right
	// away instead of waiting a full interval.
	w.scheduler.ProcessDueSteps(ctx)

	for {
		select {
		case <-ticker.C:
			w.scheduler.ProcessDueSteps(ctx)
		case <-ctx.Done():
			w.logger.Info("stopping scheduler worker")
			return
		}
	}
}
