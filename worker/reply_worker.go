package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"outreachd/replies"
)

// scanTimeout bounds one inbox scan, including the IMAP round trips.
const scanTimeout = 2 * time.Minute

type ReplyWorker struct {
	tracker  *replies.Tracker
	interval time.Duration
	logger   *logrus.Logger
}

func NewReplyWorker(t *replies.Tracker, interval time.Duration, logger *logrus.Logger) *ReplyWorker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &ReplyWorker{tracker: t, interval: interval, logger: logger}
}

// Start runs the inbox scan loop until ctx is cancelled. Scan errors are
// reported by the tracker itself; the loop only keeps ticking.
func (w *ReplyWorker) Start(ctx context.Context) {
	w.logger.WithField("interval", w.interval).Info("starting reply worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.scan(ctx)

	for {
		select {
		case <-ticker.C:
			w.scan(ctx)
		case <-ctx.Done():
			w.logger.Info("stopping reply worker")
			return
		}
	}
}

func (w *ReplyWorker) scan(ctx context.Context) {
	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()
	if err := w.tracker.Scan(scanCtx); err != nil {
		w.logger.WithError(err).Warn("inbox scan failed, will retry next tick")
	}
}
