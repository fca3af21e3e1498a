package replies

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"outreachd/models"
)

type recordingScheduler struct {
	mu        sync.Mutex
	cancelled []uint
}

func (r *recordingScheduler) CancelRecipient(id uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, id)
}

type stopperFixture struct {
	recipients *memRecipients
	steps      *memSteps
	events     *memEvents
	sched      *recordingScheduler
	stopper    *Stopper
	now        time.Time
}

func newStopperFixture(t *testing.T) *stopperFixture {
	t.Helper()
	f := &stopperFixture{
		recipients: newMemRecipients(),
		steps:      newMemSteps(),
		events:     &memEvents{},
		sched:      &recordingScheduler{},
		now:        time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.stopper = NewStopper(f.recipients, f.steps, f.events, f.sched, quietLogger())

	f.recipients.add(models.Recipient{
		Model:  gormModel(1),
		Email:  "a@x.com",
		Status: models.RecipientStatusActive,
	})
	sent := f.now.Add(-48 * time.Hour)
	f.steps.add(models.SequenceStep{
		Model: gormModel(10), RecipientID: 1, StepNumber: 1,
		ScheduledAt: sent, SentAt: &sent, MessageID: "<step1@outreach>",
	})
	f.steps.add(models.SequenceStep{
		Model: gormModel(11), RecipientID: 1, StepNumber: 2,
		ScheduledAt: f.now.Add(12 * 24 * time.Hour),
	})
	f.steps.add(models.SequenceStep{
		Model: gormModel(12), RecipientID: 1, StepNumber: 3,
		ScheduledAt: f.now.Add(22 * 24 * time.Hour),
	})
	return f
}

func (f *stopperFixture) match() *models.ReplyMatch {
	return &models.ReplyMatch{
		RecipientID:    1,
		MessageID:      "<reply-1@remote>",
		Confidence:     models.ConfidenceHigh,
		MatchingMethod: models.MatchByMessageID,
		Subject:        "Re: Quick question",
		ReceivedAt:     f.now,
		Sentiment:      SentimentPositive,
	}
}

func TestStopSequenceCancelsUnsentAndTerminates(t *testing.T) {
	f := newStopperFixture(t)

	result, err := f.stopper.StopSequence(f.match())
	if err != nil {
		t.Fatalf("StopSequence: %v", err)
	}
	if result.CancelledSteps != 2 {
		t.Errorf("cancelled = %d, want 2", result.CancelledSteps)
	}
	if !result.StatusUpdated {
		t.Error("status not updated")
	}

	r, _ := f.recipients.GetByID(1)
	if r.Status != models.RecipientStatusReplied {
		t.Errorf("status = %q, want replied", r.Status)
	}

	// The sent step survives; the unsent ones are gone from the due-set.
	steps, _ := f.steps.ListByRecipient(1)
	if len(steps) != 1 || steps[0].StepNumber != 1 {
		t.Errorf("surviving steps = %v, want only step 1", steps)
	}
	due, _ := f.steps.DueSteps(f.now.Add(30 * 24 * time.Hour))
	if len(due) != 0 {
		t.Errorf("%d steps still due after stop", len(due))
	}

	if len(f.sched.cancelled) != 1 || f.sched.cancelled[0] != 1 {
		t.Errorf("scheduler cancellations = %v, want [1]", f.sched.cancelled)
	}

	events, _ := f.events.List()
	if len(events) != 1 {
		t.Fatalf("reply events = %d, want 1", len(events))
	}
	if e := events[0]; e.RecipientID != 1 || e.Confidence != models.ConfidenceHigh || e.CancelledSteps != 2 {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestStopSequenceIsIdempotent(t *testing.T) {
	f := newStopperFixture(t)

	if _, err := f.stopper.StopSequence(f.match()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	result, err := f.stopper.StopSequence(f.match())
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if result.CancelledSteps != 0 {
		t.Errorf("re-stop cancelled %d steps, want 0", result.CancelledSteps)
	}
	events, _ := f.events.List()
	if len(events) != 1 {
		t.Errorf("re-stop wrote another event: %d events", len(events))
	}
}

func TestStopSequenceMissingRecipient(t *testing.T) {
	f := newStopperFixture(t)
	m := f.match()
	m.RecipientID = 99

	if _, err := f.stopper.StopSequence(m); err == nil {
		t.Fatal("expected error for missing recipient")
	}
}

type fakeSource struct {
	mu       sync.Mutex
	messages []models.InboundMessage
	err      error
	fetches  []time.Time
}

func (f *fakeSource) FetchSince(ctx context.Context, since time.Time) ([]models.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, since)
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

type nullReporter struct{}

func (nullReporter) Error(err error, scope string, fields map[string]interface{}) {}
func (nullReporter) Breadcrumb(category, message string)                          {}

func TestTrackerStopsSequenceOnce(t *testing.T) {
	f := newStopperFixture(t)
	matcher := NewMatcher(f.recipients, f.steps, MatcherOptions{}, quietLogger())
	matcher.now = func() time.Time { return f.now }

	source := &fakeSource{messages: []models.InboundMessage{
		{
			ID:         "<reply-1@remote>",
			Subject:    "Re: Quick question",
			From:       "a@x.com",
			ReceivedAt: f.now.Add(-time.Minute),
			InReplyTo:  "<step1@outreach>",
		},
		{
			ID:      "<spam@remote>",
			Subject: "Buy now",
			From:    "spam@nowhere.test",
		},
	}}
	tracker := NewTracker(source, matcher, f.stopper, nullReporter{}, quietLogger())

	if err := tracker.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	r, _ := f.recipients.GetByID(1)
	if r.Status != models.RecipientStatusReplied {
		t.Fatalf("status = %q, want replied", r.Status)
	}
	if st := tracker.Status(); st.RepliesDetected != 1 || st.SequencesStopped != 1 {
		t.Errorf("status = %+v, want 1 reply / 1 stop", st)
	}

	// The source re-delivers the same messages: the dedupe set keeps counts
	// flat and no second event is written.
	if err := tracker.Scan(context.Background()); err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if st := tracker.Status(); st.RepliesDetected != 1 {
		t.Errorf("replies after rescan = %d, want 1", st.RepliesDetected)
	}
	events, _ := f.events.List()
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}

func TestTrackerPrunesStaleDedupeEntries(t *testing.T) {
	f := newStopperFixture(t)
	matcher := NewMatcher(f.recipients, f.steps, MatcherOptions{}, quietLogger())
	source := &fakeSource{messages: []models.InboundMessage{
		{ID: "<noise@remote>", Subject: "Buy now", From: "spam@nowhere.test"},
	}}
	tracker := NewTracker(source, matcher, f.stopper, nullReporter{}, quietLogger())
	clock := f.now
	tracker.now = func() time.Time { return clock }

	if err := tracker.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if st := tracker.Status(); st.ProcessedMessages != 1 {
		t.Fatalf("processed = %d, want 1", st.ProcessedMessages)
	}

	// Once the entry is older than the reply lookback it can never match
	// again, so the next scan drops it from the dedupe set.
	clock = clock.Add(31 * 24 * time.Hour)
	source.messages = nil
	if err := tracker.Scan(context.Background()); err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if st := tracker.Status(); st.ProcessedMessages != 0 {
		t.Errorf("processed after prune = %d, want 0", st.ProcessedMessages)
	}
}

func TestTrackerKeepsWatermarkOnFetchError(t *testing.T) {
	f := newStopperFixture(t)
	matcher := NewMatcher(f.recipients, f.steps, MatcherOptions{}, quietLogger())
	source := &fakeSource{err: errors.New("imap down")}
	tracker := NewTracker(source, matcher, f.stopper, nullReporter{}, quietLogger())

	before := tracker.Status().LastScanAt
	if err := tracker.Scan(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if got := tracker.Status().LastScanAt; !got.Equal(before) {
		t.Errorf("watermark moved on failure: %v -> %v", before, got)
	}

	// Recovery rescans the same span.
	source.err = nil
	if err := tracker.Scan(context.Background()); err != nil {
		t.Fatalf("Scan after recovery: %v", err)
	}
	if len(source.fetches) != 2 || !source.fetches[1].Equal(before) {
		t.Errorf("fetch sinces = %v, want second fetch from %v", source.fetches, before)
	}
}
