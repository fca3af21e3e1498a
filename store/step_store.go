package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"outreachd/models"
)

// GormStepStore is the postgres-backed StepStore.
type GormStepStore struct {
	db *gorm.DB
}

func NewStepStore(db *gorm.DB) *GormStepStore {
	return &GormStepStore{db: db}
}

func (s *GormStepStore) Create(step *models.SequenceStep) error {
	if !models.ValidStepNumber(step.StepNumber) {
		return fmt.Errorf("invalid step number %d", step.StepNumber)
	}
	if step.ScheduledAt.IsZero() {
		return fmt.Errorf("step requires a scheduled time")
	}
	return s.db.Create(step).Error
}

func (s *GormStepStore) GetByID(id uint) (*models.SequenceStep, error) {
	var step models.SequenceStep
	if err := s.db.First(&step, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &step, nil
}

func (s *GormStepStore) GetByMessageID(messageID string) (*models.SequenceStep, error) {
	var step models.SequenceStep
	err := s.db.Where("message_id = ?", messageID).First(&step).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &step, nil
}

func (s *GormStepStore) ListByRecipient(recipientID uint) ([]models.SequenceStep, error) {
	var steps []models.SequenceStep
	err := s.db.Where("recipient_id = ?", recipientID).Order("step_number").Find(&steps).Error
	return steps, err
}

func (s *GormStepStore) DueSteps(now time.Time) ([]models.SequenceStep, error) {
	var steps []models.SequenceStep
	err := s.db.
		Where("scheduled_at <= ? AND sent_at IS NULL AND replied = ?", now, false).
		Order("scheduled_at").
		Find(&steps).Error
	return steps, err
}

// MarkSent commits the scheduled->sent transition. The sent_at IS NULL guard
// makes it mutually exclusive with cancellation: whichever side commits first
// wins and the loser observes zero affected rows.
func (s *GormStepStore) MarkSent(id uint, messageID string, sentAt time.Time) error {
	res := s.db.Model(&models.SequenceStep{}).
		Where("id = ? AND sent_at IS NULL", id).
		Updates(map[string]interface{}{
			"sent_at":    sentAt,
			"message_id": messageID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadySent
	}
	return nil
}

func (s *GormStepStore) Reschedule(id uint, scheduledAt time.Time) error {
	res := s.db.Model(&models.SequenceStep{}).
		Where("id = ? AND sent_at IS NULL", id).
		Update("scheduled_at", scheduledAt)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadySent
	}
	return nil
}

func (s *GormStepStore) CancelUnsent(recipientID uint) (int64, error) {
	res := s.db.
		Where("recipient_id = ? AND sent_at IS NULL", recipientID).
		Delete(&models.SequenceStep{})
	return res.RowsAffected, res.Error
}

// GormReplyEventStore is the postgres-backed ReplyEventStore.
type GormReplyEventStore struct {
	db *gorm.DB
}

func NewReplyEventStore(db *gorm.DB) *GormReplyEventStore {
	return &GormReplyEventStore{db: db}
}

func (s *GormReplyEventStore) Create(e *models.ReplyEvent) error {
	return s.db.Create(e).Error
}

func (s *GormReplyEventStore) List() ([]models.ReplyEvent, error) {
	var events []models.ReplyEvent
	err := s.db.Order("created_at desc").Find(&events).Error
	return events, err
}
