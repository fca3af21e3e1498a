package models

import (
	"time"

	"gorm.io/gorm"
)

// Sequence step numbers. A sequence is at most three steps per recipient.
const (
	StepInitial   = 1
	StepFollowUp1 = 2
	StepFollowUp2 = 3
)

// Display states derived from timestamps, never stored.
const (
	StepStateScheduled = "scheduled"
	StepStateDue       = "due"
	StepStateSent      = "sent"
	StepStateReplied   = "replied"
)

// SequenceStep represents one scheduled (and eventually sent) email in a
// recipient's sequence. At most one step exists per (recipient, step number).
type SequenceStep struct {
	gorm.Model
	RecipientID uint `gorm:"not null;index;uniqueIndex:idx_recipient_step" json:"recipient_id"`
	StepNumber  int  `gorm:"not null;uniqueIndex:idx_recipient_step" json:"step_number"` // 1, 2 or 3

	ScheduledAt time.Time  `gorm:"not null;index" json:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at"`

	// Provider message id assigned on send, used for reply thread-matching.
	// A step with a message id must have SentAt set.
	MessageID string `gorm:"index" json:"message_id"`
	Replied   bool   `gorm:"default:false" json:"replied"`

	// Relations
	Recipient Recipient `json:"-"`
}

// DisplayState computes the step's presentation state at the given time.
func (s *SequenceStep) DisplayState(now time.Time) string {
	switch {
	case s.Replied:
		return StepStateReplied
	case s.SentAt != nil:
		return StepStateSent
	case !s.ScheduledAt.After(now):
		return StepStateDue
	default:
		return StepStateScheduled
	}
}

// ValidStepNumber reports whether n is a known sequence step.
func ValidStepNumber(n int) bool {
	return n >= StepInitial && n <= StepFollowUp2
}
