// Package store holds the persistence boundary for recipients and sequence
// steps. The scheduler and reply subsystems depend on these interfaces only,
// so tests can substitute in-memory fakes.
package store

import (
	"errors"
	"time"

	"outreachd/models"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicateEmail is returned when creating a recipient whose email
	// address already exists. Email addresses are globally unique.
	ErrDuplicateEmail = errors.New("store: recipient email already exists")
	// ErrAlreadySent is returned by MarkStepSent when the step was sent
	// (or cancelled) by a concurrent writer first.
	ErrAlreadySent = errors.New("store: step already sent or cancelled")
)

// RecipientStore is the durable store of recipients.
type RecipientStore interface {
	Create(r *models.Recipient) error
	GetByID(id uint) (*models.Recipient, error)
	GetByEmail(email string) (*models.Recipient, error)
	ListByStatus(status string) ([]models.Recipient, error)
	List() ([]models.Recipient, error)
	UpdateStatus(id uint, status string) error
}

// StepStore is the durable store of per-recipient schedule entries.
type StepStore interface {
	Create(s *models.SequenceStep) error
	GetByID(id uint) (*models.SequenceStep, error)
	GetByMessageID(messageID string) (*models.SequenceStep, error)
	ListByRecipient(recipientID uint) ([]models.SequenceStep, error)

	// DueSteps returns unsent, uncancelled steps with scheduled_at <= now,
	// oldest first.
	DueSteps(now time.Time) ([]models.SequenceStep, error)

	// MarkSent transitions a step from scheduled to sent. The transition is
	// guarded so that a step concurrently cancelled or already sent is left
	// untouched and ErrAlreadySent is returned.
	MarkSent(id uint, messageID string, sentAt time.Time) error

	// Reschedule moves an unsent step to a new time.
	Reschedule(id uint, scheduledAt time.Time) error

	// CancelUnsent removes all unsent steps for a recipient and returns how
	// many were cancelled. Sent steps are never touched.
	CancelUnsent(recipientID uint) (int64, error)
}

// ReplyEventStore persists reply analytics rows.
type ReplyEventStore interface {
	Create(e *models.ReplyEvent) error
	List() ([]models.ReplyEvent, error)
}
