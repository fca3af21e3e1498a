package models

import (
	"time"

	"gorm.io/gorm"
)

// Reply match confidence tiers, highest first.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Matching methods, one per matcher strategy.
const (
	MatchByMessageID = "message_id"
	MatchBySubject   = "subject_pattern"
	MatchBySender    = "sender_analysis"
)

// ReplyMatch is the ephemeral result of classifying one inbound message
// against in-flight sequences. It is consumed immediately by the stopper
// and never persisted as-is.
type ReplyMatch struct {
	RecipientID    uint
	MessageID      string
	Confidence     string
	MatchingMethod string
	OriginalStepID uint // step whose message id was replied to, if known
	Subject        string
	ReceivedAt     time.Time
	Sentiment      string
}

// ReplyEvent is the persisted analytics record written when a sequence is
// stopped by a detected reply.
type ReplyEvent struct {
	gorm.Model
	RecipientID    uint      `gorm:"not null;index" json:"recipient_id"`
	MessageID      string    `json:"message_id"`
	Confidence     string    `json:"confidence"`
	MatchingMethod string    `json:"matching_method"`
	Subject        string    `json:"subject"`
	Sentiment      string    `json:"sentiment"`
	ReceivedAt     time.Time `json:"received_at"`
	CancelledSteps int       `json:"cancelled_steps"`
}

// InboundMessage is the transport-neutral descriptor of one message pulled
// from the monitored inbox.
type InboundMessage struct {
	ID          string
	Subject     string
	From        string
	ReceivedAt  time.Time
	InReplyTo   string
	BodyPreview string
}
