package replies

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"outreachd/models"
	"outreachd/report"
)

// InboundSource produces a bounded, time-filterable feed of inbox messages.
type InboundSource interface {
	FetchSince(ctx context.Context, since time.Time) ([]models.InboundMessage, error)
}

// TrackerStatus is the monitoring snapshot exposed on the status endpoints.
type TrackerStatus struct {
	LastScanAt        time.Time `json:"last_scan_at"`
	ProcessedMessages int       `json:"processed_messages"`
	RepliesDetected   int64     `json:"replies_detected"`
	SequencesStopped  int64     `json:"sequences_stopped"`
}

// Tracker periodically scans the inbox, classifies new messages through the
// matcher and hands hits to the stopper. It runs decoupled from the send
// loop; the only coupling is the stopper's two-phase cancellation.
type Tracker struct {
	source   InboundSource
	matcher  *Matcher
	stopper  *Stopper
	reporter report.Reporter
	logger   *logrus.Logger
	now      func() time.Time

	mu        sync.Mutex
	processed map[string]time.Time // message id -> first seen
	status    TrackerStatus
}

func NewTracker(source InboundSource, matcher *Matcher, stopper *Stopper,
	reporter report.Reporter, logger *logrus.Logger) *Tracker {
	t := &Tracker{
		source:    source,
		matcher:   matcher,
		stopper:   stopper,
		reporter:  reporter,
		logger:    logger,
		now:       time.Now,
		processed: make(map[string]time.Time),
	}
	// Start one hour back so replies that landed during a restart are not
	// missed; already-stopped recipients make re-detection a no-op.
	t.status.LastScanAt = t.now().Add(-time.Hour)
	return t
}

// Scan fetches messages received since the previous scan and processes each
// one at most once. A failed fetch leaves the watermark untouched so the
// same span is retried on the next tick.
func (t *Tracker) Scan(ctx context.Context) error {
	t.mu.Lock()
	since := t.status.LastScanAt
	t.mu.Unlock()

	scanStart := t.now()
	messages, err := t.source.FetchSince(ctx, since)
	if err != nil {
		t.reporter.Error(err, "replies", map[string]interface{}{"op": "fetch_inbox"})
		return err
	}
	if len(messages) > 0 {
		t.logger.WithField("count", len(messages)).Info("scanning messages for replies")
	}

	var found int64
	for _, msg := range messages {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if t.alreadyProcessed(msg.ID) {
			continue
		}
		if t.processMessage(msg) {
			found++
		}
	}

	t.mu.Lock()
	t.status.LastScanAt = scanStart
	t.status.RepliesDetected += found
	t.pruneProcessedLocked(scanStart)
	t.mu.Unlock()

	if found > 0 {
		t.logger.WithField("replies", found).Info("inbox scan complete")
	}
	return nil
}

// processMessage classifies one message and stops the matched sequence.
// Returns true when the message was a reply that stopped something.
func (t *Tracker) processMessage(msg models.InboundMessage) bool {
	match, err := t.matcher.Match(msg)
	if err != nil {
		t.reporter.Error(err, "replies", map[string]interface{}{
			"op":      "match",
			"message": msg.ID,
		})
		return false
	}
	if match == nil {
		return false
	}

	result, err := t.stopper.StopSequence(match)
	if err != nil {
		t.reporter.Error(err, "replies", map[string]interface{}{
			"op":        "stop_sequence",
			"recipient": match.RecipientID,
		})
		return false
	}
	if result.StatusUpdated {
		t.mu.Lock()
		t.status.SequencesStopped++
		t.mu.Unlock()
	}
	return true
}

// alreadyProcessed records the id and reports whether it was seen before.
func (t *Tracker) alreadyProcessed(id string) bool {
	if id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.processed[id]; ok {
		return true
	}
	t.processed[id] = t.now()
	t.status.ProcessedMessages = len(t.processed)
	return false
}

// pruneProcessedLocked drops dedupe entries first seen longer ago than the
// matcher's lookback. The watermark keeps such messages out of later fetches,
// so the set only has to cover the IMAP SINCE day granularity and restarts.
// Caller holds t.mu.
func (t *Tracker) pruneProcessedLocked(now time.Time) {
	cutoff := now.Add(-t.matcher.lookback)
	for id, seen := range t.processed {
		if seen.Before(cutoff) {
			delete(t.processed, id)
		}
	}
	t.status.ProcessedMessages = len(t.processed)
}

// Status returns the monitoring snapshot.
func (t *Tracker) Status() TrackerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}
