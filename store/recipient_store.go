package store

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"outreachd/models"
)

// GormRecipientStore is the postgres-backed RecipientStore.
type GormRecipientStore struct {
	db *gorm.DB
}

func NewRecipientStore(db *gorm.DB) *GormRecipientStore {
	return &GormRecipientStore{db: db}
}

func (s *GormRecipientStore) Create(r *models.Recipient) error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if err := s.db.Create(r).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create recipient: %w", err)
	}
	return nil
}

func (s *GormRecipientStore) GetByID(id uint) (*models.Recipient, error) {
	var r models.Recipient
	if err := s.db.First(&r, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *GormRecipientStore) GetByEmail(email string) (*models.Recipient, error) {
	var r models.Recipient
	err := s.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *GormRecipientStore) ListByStatus(status string) ([]models.Recipient, error) {
	var recipients []models.Recipient
	err := s.db.Where("status = ?", status).Order("created_at").Find(&recipients).Error
	return recipients, err
}

func (s *GormRecipientStore) List() ([]models.Recipient, error) {
	var recipients []models.Recipient
	err := s.db.Order("created_at").Find(&recipients).Error
	return recipients, err
}

func (s *GormRecipientStore) UpdateStatus(id uint, status string) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("invalid recipient status %q", status)
	}
	res := s.db.Model(&models.Recipient{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
