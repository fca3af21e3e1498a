// Package mailer holds the outbound transport boundary: the Sender contract
// the scheduler depends on, the SMTP and Microsoft Graph implementations,
// and the per-step template engine.
package mailer

import (
	"context"
	"time"

	"outreachd/models"
)

// SendResult reports one successful delivery hand-off to the provider.
type SendResult struct {
	MessageID string
	SentAt    time.Time
	Subject   string
}

// Sender delivers one sequence step to a recipient. Implementations must
// bound their network waits via ctx and classify failures with a
// *SendError so the limiter can distinguish throttling from transient
// trouble.
type Sender interface {
	Send(ctx context.Context, recipient *models.Recipient, step int) (*SendResult, error)
}

// requestTimeout bounds every provider call; a timeout surfaces as a
// transient failure, never an indefinite block.
const requestTimeout = 30 * time.Second
