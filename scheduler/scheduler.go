// Package scheduler drives sequence timing: it creates steps, polls for due
// ones, gates every send on the rate limiter and advances or terminates
// sequences from observed outcomes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"outreachd/mailer"
	"outreachd/models"
	"outreachd/ratelimit"
	"outreachd/report"
	"outreachd/store"
)

// initialGraceDelay keeps step 1 out of the very next poll tick so the
// creating request's transaction settles first.
const initialGraceDelay = 30 * time.Second

// ErrSequenceExists is returned when a sequence is created twice for the
// same recipient.
var ErrSequenceExists = errors.New("scheduler: sequence already exists for recipient")

// SendLimiter is the slice of the rate limiter the scheduler needs per send.
// *ratelimit.AdaptiveLimiter satisfies it.
type SendLimiter interface {
	TryAcquire() bool
	WaitBeforeSend(ctx context.Context) error
	RecordSendResult(success bool, throttled bool)
}

// Config carries the timing knobs the scheduler needs.
type Config struct {
	FollowUp1Delay   time.Duration
	FollowUp2Delay   time.Duration
	FollowUp2Enabled bool

	// MaxConcurrency bounds how many due steps one poll pass processes in
	// parallel. Zero means sequential.
	MaxConcurrency int
	// SendTimeout bounds each transport call.
	SendTimeout time.Duration
}

// Status is the scheduler snapshot exposed on the status endpoints.
type Status struct {
	LastPollAt   time.Time `json:"last_poll_at"`
	LastDueCount int       `json:"last_due_count"`
	TotalSent    int64     `json:"total_sent"`
	TotalSkipped int64     `json:"total_skipped"`
	TotalFailed  int64     `json:"total_failed"`
}

// Scheduler is the per-recipient sequence state machine driver.
type Scheduler struct {
	cfg        Config
	recipients store.RecipientStore
	steps      store.StepStore
	sender     mailer.Sender
	limiter    SendLimiter
	reporter   report.Reporter
	logger     *logrus.Logger
	now        func() time.Time

	mu sync.Mutex
	// cancelled is the in-memory half of two-phase reply cancellation: the
	// stopper records recipients here so a poll pass already holding their
	// steps will not send them.
	cancelled map[uint]struct{}
	status    Status
}

func New(cfg Config, recipients store.RecipientStore, steps store.StepStore, sender mailer.Sender,
	limiter SendLimiter, reporter report.Reporter, logger *logrus.Logger) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Scheduler{
		cfg:        cfg,
		recipients: recipients,
		steps:      steps,
		sender:     sender,
		limiter:    limiter,
		reporter:   reporter,
		logger:     logger,
		now:        time.Now,
		cancelled:  make(map[uint]struct{}),
	}
}

// CreateSequence builds the complete sequence for a recipient from one base
// time: step 1 after a short grace delay, the follow-ups at their configured
// offsets, step 3 only when enabled. The recipient transitions to active.
func (s *Scheduler) CreateSequence(recipientID uint) error {
	recipient, err := s.recipients.GetByID(recipientID)
	if err != nil {
		return fmt.Errorf("create sequence: %w", err)
	}

	existing, err := s.steps.ListByRecipient(recipientID)
	if err != nil {
		return fmt.Errorf("create sequence: %w", err)
	}
	if len(existing) > 0 {
		return ErrSequenceExists
	}

	base := s.now()
	plan := []struct {
		number      int
		scheduledAt time.Time
		enabled     bool
	}{
		{models.StepInitial, base.Add(initialGraceDelay), true},
		{models.StepFollowUp1, base.Add(s.cfg.FollowUp1Delay), true},
		{models.StepFollowUp2, base.Add(s.cfg.FollowUp2Delay), s.cfg.FollowUp2Enabled},
	}

	for _, p := range plan {
		if !p.enabled {
			continue
		}
		step := &models.SequenceStep{
			RecipientID: recipientID,
			StepNumber:  p.number,
			ScheduledAt: p.scheduledAt,
		}
		if err := s.steps.Create(step); err != nil {
			return fmt.Errorf("create sequence step %d: %w", p.number, err)
		}
	}

	if err := s.recipients.UpdateStatus(recipientID, models.RecipientStatusActive); err != nil {
		return fmt.Errorf("activate recipient: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"recipient": recipientID,
		"email":     recipient.Email,
	}).Info("created email sequence")
	return nil
}

// ProcessDueSteps runs one poll pass: every due step is handled at most
// once, oldest first, with sends bounded by MaxConcurrency.
func (s *Scheduler) ProcessDueSteps(ctx context.Context) {
	now := s.now()
	due, err := s.steps.DueSteps(now)
	if err != nil {
		s.reporter.Error(err, "scheduler", map[string]interface{}{"op": "due_steps"})
		return
	}

	s.mu.Lock()
	s.status.LastPollAt = now
	s.status.LastDueCount = len(due)
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}
	s.logger.WithField("count", len(due)).Info("processing due steps")

	sem := make(chan struct{}, s.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		step := due[i]
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.processStep(ctx, &step)
		}()
	}
	wg.Wait()
}

// processStep handles one due step. Failures leave the step due so it is
// retried next tick; only a committed send mutates it.
func (s *Scheduler) processStep(ctx context.Context, step *models.SequenceStep) {
	log := s.logger.WithFields(logrus.Fields{
		"step_id":   step.ID,
		"step":      step.StepNumber,
		"recipient": step.RecipientID,
	})

	if s.isCancelled(step.RecipientID) {
		log.Info("skipping step, sequence cancelled by reply")
		s.countSkip()
		return
	}

	recipient, err := s.recipients.GetByID(step.RecipientID)
	if err != nil {
		// Step referencing a missing recipient is a data-integrity fault:
		// abort this step only, the pass continues for other recipients.
		s.reporter.Error(err, "scheduler", map[string]interface{}{
			"op":      "load_recipient",
			"step_id": step.ID,
		})
		s.countSkip()
		return
	}

	if recipient.Terminal() {
		log.WithField("status", recipient.Status).Info("skipping step for terminal recipient")
		s.countSkip()
		return
	}

	// Capacity check and commitment happen in one critical section so
	// concurrent sends cannot jointly exceed the minute cap. Denial leaves
	// the step due for the next tick.
	if !s.limiter.TryAcquire() {
		log.Debug("rate limit reached, leaving step due")
		s.countSkip()
		return
	}

	if err := s.limiter.WaitBeforeSend(ctx); err != nil {
		s.countSkip()
		return
	}

	// Last status re-check before the transport call: a reply may have
	// landed between the due-set query and now.
	if s.isCancelled(recipient.ID) {
		log.Info("skipping step, reply arrived during processing")
		s.countSkip()
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	result, err := s.sender.Send(sendCtx, recipient, step.StepNumber)
	if err != nil {
		s.limiter.RecordSendResult(false, ratelimit.IsThrottleError(err))
		s.reporter.Error(err, "scheduler", map[string]interface{}{
			"op":        "send",
			"step_id":   step.ID,
			"recipient": recipient.Email,
		})
		s.countFail()
		return
	}
	s.limiter.RecordSendResult(true, false)

	if err := s.steps.MarkSent(step.ID, result.MessageID, result.SentAt); err != nil {
		if errors.Is(err, store.ErrAlreadySent) {
			// Lost the race against cancellation (or a concurrent pass):
			// the competing transition wins, this send's effect is dropped.
			log.Warn("step transitioned concurrently, discarding send record")
			return
		}
		s.reporter.Error(err, "scheduler", map[string]interface{}{"op": "mark_sent", "step_id": step.ID})
		return
	}

	s.countSent()
	log.WithField("message_id", result.MessageID).Info("sent sequence step")

	if err := s.scheduleNextStep(recipient.ID, step.StepNumber); err != nil {
		s.reporter.Error(err, "scheduler", map[string]interface{}{
			"op":        "schedule_next",
			"recipient": recipient.ID,
		})
	}
}

// scheduleNextStep backfills the follow-up after a completed send when the
// upfront creation did not (or could not) plan it. An existing step for the
// same number is left untouched.
func (s *Scheduler) scheduleNextStep(recipientID uint, currentStep int) error {
	next := currentStep + 1
	var delay time.Duration
	switch next {
	case models.StepFollowUp1:
		delay = s.cfg.FollowUp1Delay
	case models.StepFollowUp2:
		if !s.cfg.FollowUp2Enabled {
			return nil
		}
		delay = s.cfg.FollowUp2Delay
	default:
		// Step 3 completed: the sequence naturally ends, the recipient
		// stays active until a reply or a manual stop.
		return nil
	}

	existing, err := s.steps.ListByRecipient(recipientID)
	if err != nil {
		return err
	}
	for _, st := range existing {
		if st.StepNumber == next {
			return nil
		}
	}

	step := &models.SequenceStep{
		RecipientID: recipientID,
		StepNumber:  next,
		ScheduledAt: s.now().Add(delay),
	}
	if err := s.steps.Create(step); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"recipient":    recipientID,
		"step":         next,
		"scheduled_at": step.ScheduledAt,
	}).Info("scheduled follow-up step")
	return nil
}

// CancelRecipient is the scheduler-side half of reply cancellation: the
// recipient is excluded from any in-flight or future poll pass.
func (s *Scheduler) CancelRecipient(recipientID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[recipientID] = struct{}{}
}

// PauseSequence stops future sends for a recipient. Reversible.
func (s *Scheduler) PauseSequence(recipientID uint) error {
	recipient, err := s.recipients.GetByID(recipientID)
	if err != nil {
		return err
	}
	if recipient.Status != models.RecipientStatusActive {
		return fmt.Errorf("cannot pause recipient in status %q", recipient.Status)
	}
	return s.recipients.UpdateStatus(recipientID, models.RecipientStatusStopped)
}

// ResumeSequence reactivates a paused recipient. Missed steps are not
// rescheduled; anything already due is picked up on the next poll pass.
func (s *Scheduler) ResumeSequence(recipientID uint) error {
	recipient, err := s.recipients.GetByID(recipientID)
	if err != nil {
		return err
	}
	if recipient.Status != models.RecipientStatusStopped {
		return fmt.Errorf("cannot resume recipient in status %q", recipient.Status)
	}
	return s.recipients.UpdateStatus(recipientID, models.RecipientStatusActive)
}

// CancelSequence is the manual cancel: unsent steps are removed and the
// recipient is stopped (not replied).
func (s *Scheduler) CancelSequence(recipientID uint) (int64, error) {
	cancelled, err := s.steps.CancelUnsent(recipientID)
	if err != nil {
		return 0, err
	}
	if err := s.recipients.UpdateStatus(recipientID, models.RecipientStatusStopped); err != nil {
		return cancelled, err
	}
	s.CancelRecipient(recipientID)
	s.logger.WithFields(logrus.Fields{
		"recipient": recipientID,
		"cancelled": cancelled,
	}).Info("manually cancelled sequence")
	return cancelled, nil
}

// Status returns the poll-loop counters.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) isCancelled(recipientID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancelled[recipientID]
	return ok
}

func (s *Scheduler) countSent() { s.mu.Lock(); s.status.TotalSent++; s.mu.Unlock() }
func (s *Scheduler) countSkip() { s.mu.Lock(); s.status.TotalSkipped++; s.mu.Unlock() }
func (s *Scheduler) countFail() { s.mu.Lock(); s.status.TotalFailed++; s.mu.Unlock() }
