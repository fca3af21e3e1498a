package models

import "gorm.io/gorm"

// Recipient status values. Transitions are monotonic toward replied,
// except active<->stopped which is the reversible pause/resume pair.
const (
	RecipientStatusPending = "pending"
	RecipientStatusActive  = "active"
	RecipientStatusReplied = "replied"
	RecipientStatusStopped = "stopped"
)

// Recipient represents a single outreach contact and their sequence state
type Recipient struct {
	gorm.Model
	FirstName string `gorm:"not null" json:"first_name"`
	Company   string `gorm:"not null" json:"company"`
	Role      string `gorm:"not null" json:"role"`
	Email     string `gorm:"not null;uniqueIndex" json:"email"`

	Status string `gorm:"default:'pending';index" json:"status"` // pending, active, replied, stopped

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:RecipientID" json:"steps,omitempty"`
}

// ValidStatus reports whether s is one of the known recipient statuses.
func ValidStatus(s string) bool {
	switch s {
	case RecipientStatusPending, RecipientStatusActive, RecipientStatusReplied, RecipientStatusStopped:
		return true
	}
	return false
}

// Terminal reports whether the recipient can still receive sequence emails.
// Replied and stopped recipients are skipped by the send loop.
func (r *Recipient) Terminal() bool {
	return r.Status == RecipientStatusReplied || r.Status == RecipientStatusStopped
}
