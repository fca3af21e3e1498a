package replies

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"outreachd/models"
	"outreachd/store"
)

// SchedulerHandle is the scheduler-side cancellation hook. Cancellation is
// two-phase: the data layer drops unsent steps so no future due-set query
// returns them, and the scheduler drops the recipient from any pass already
// in flight. Both must run; the poll loop's view can drift from the tables.
type SchedulerHandle interface {
	CancelRecipient(recipientID uint)
}

// StopResult reports the outcome of one sequence stop.
type StopResult struct {
	RecipientID    uint   `json:"recipient_id"`
	CancelledSteps int64  `json:"cancelled_steps"`
	StatusUpdated  bool   `json:"status_updated"`
	Confidence     string `json:"confidence"`
	MatchingMethod string `json:"matching_method"`
}

// Stopper terminates sequences for recipients who replied.
type Stopper struct {
	recipients store.RecipientStore
	steps      store.StepStore
	events     store.ReplyEventStore
	scheduler  SchedulerHandle
	logger     *logrus.Logger
}

func NewStopper(recipients store.RecipientStore, steps store.StepStore, events store.ReplyEventStore,
	scheduler SchedulerHandle, logger *logrus.Logger) *Stopper {
	return &Stopper{
		recipients: recipients,
		steps:      steps,
		events:     events,
		scheduler:  scheduler,
		logger:     logger,
	}
}

// StopSequence consumes a reply match: unsent steps are cancelled, the
// recipient becomes replied (terminal) and an analytics event is recorded.
// Idempotent: stopping an already-replied recipient cancels zero steps and
// writes no event.
func (s *Stopper) StopSequence(match *models.ReplyMatch) (*StopResult, error) {
	result := &StopResult{
		RecipientID:    match.RecipientID,
		Confidence:     match.Confidence,
		MatchingMethod: match.MatchingMethod,
	}

	recipient, err := s.recipients.GetByID(match.RecipientID)
	if err != nil {
		return result, fmt.Errorf("stop sequence: %w", err)
	}
	if recipient.Status == models.RecipientStatusReplied {
		s.logger.WithField("recipient", recipient.ID).Debug("sequence already stopped by reply")
		return result, nil
	}

	cancelled, err := s.steps.CancelUnsent(match.RecipientID)
	if err != nil {
		return result, fmt.Errorf("cancel unsent steps: %w", err)
	}
	result.CancelledSteps = cancelled

	if err := s.recipients.UpdateStatus(match.RecipientID, models.RecipientStatusReplied); err != nil {
		return result, fmt.Errorf("mark recipient replied: %w", err)
	}
	result.StatusUpdated = true

	if s.scheduler != nil {
		s.scheduler.CancelRecipient(match.RecipientID)
	}

	s.logger.WithFields(logrus.Fields{
		"recipient":  recipient.Email,
		"confidence": match.Confidence,
		"method":     match.MatchingMethod,
		"cancelled":  cancelled,
	}).Info("stopped sequence after reply")

	event := &models.ReplyEvent{
		RecipientID:    match.RecipientID,
		MessageID:      match.MessageID,
		Confidence:     match.Confidence,
		MatchingMethod: match.MatchingMethod,
		Subject:        match.Subject,
		Sentiment:      match.Sentiment,
		ReceivedAt:     match.ReceivedAt,
		CancelledSteps: int(cancelled),
	}
	if err := s.events.Create(event); err != nil {
		// Analytics only; the stop itself already committed.
		s.logger.WithError(err).Error("failed to record reply event")
	}

	return result, nil
}
