package controller

import (
	"errors"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"outreachd/models"
	"outreachd/scheduler"
	"outreachd/store"
	"outreachd/utils"
)

type RecipientController struct {
	Recipients store.RecipientStore
	Steps      store.StepStore
	Scheduler  *scheduler.Scheduler
	Logger     *logrus.Logger
}

func NewRecipientController(recipients store.RecipientStore, steps store.StepStore,
	sched *scheduler.Scheduler, logger *logrus.Logger) *RecipientController {
	return &RecipientController{
		Recipients: recipients,
		Steps:      steps,
		Scheduler:  sched,
		Logger:     logger,
	}
}

type createRecipientInput struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	Company   string `json:"company" validate:"required,max=200"`
	Role      string `json:"role" validate:"required,max=200"`
	Email     string `json:"email" validate:"required,email"`
}

// CreateRecipient registers a contact and builds their sequence.
func (rc *RecipientController) CreateRecipient(c *fiber.Ctx) error {
	var input createRecipientInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := checkmail.ValidateFormat(input.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}

	recipient := &models.Recipient{
		FirstName: strings.TrimSpace(input.FirstName),
		Company:   strings.TrimSpace(input.Company),
		Role:      strings.TrimSpace(input.Role),
		Email:     strings.ToLower(strings.TrimSpace(input.Email)),
	}

	if err := rc.Recipients.Create(recipient); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "A recipient with this email already exists",
			})
		}
		rc.Logger.WithError(err).Error("failed to create recipient")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create recipient",
		})
	}

	if err := rc.Scheduler.CreateSequence(recipient.ID); err != nil {
		rc.Logger.WithError(err).WithField("recipient", recipient.ID).Error("failed to create sequence")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Recipient created but sequence creation failed",
		})
	}

	recipient.Status = models.RecipientStatusActive
	return c.Status(fiber.StatusCreated).JSON(recipient)
}

// ListRecipients returns all recipients, optionally filtered by ?status=.
func (rc *RecipientController) ListRecipients(c *fiber.Ctx) error {
	status := c.Query("status")

	var (
		recipients []models.Recipient
		err        error
	)
	if status != "" {
		if !models.ValidStatus(status) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown status filter",
			})
		}
		recipients, err = rc.Recipients.ListByStatus(status)
	} else {
		recipients, err = rc.Recipients.List()
	}
	if err != nil {
		rc.Logger.WithError(err).Error("failed to list recipients")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list recipients",
		})
	}

	return c.JSON(fiber.Map{
		"count":      len(recipients),
		"recipients": recipients,
	})
}

type stepView struct {
	ID          uint       `json:"id"`
	StepNumber  int        `json:"step_number"`
	State       string     `json:"state"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	MessageID   string     `json:"message_id,omitempty"`
}

// GetSequence returns the recipient with derived per-step display states.
func (rc *RecipientController) GetSequence(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid recipient id",
		})
	}

	recipient, err := rc.Recipients.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Recipient not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load recipient",
		})
	}

	steps, err := rc.Steps.ListByRecipient(recipient.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load sequence steps",
		})
	}

	now := time.Now()
	views := make([]stepView, 0, len(steps))
	for _, s := range steps {
		views = append(views, stepView{
			ID:          s.ID,
			StepNumber:  s.StepNumber,
			State:       s.DisplayState(now),
			ScheduledAt: s.ScheduledAt,
			SentAt:      s.SentAt,
			MessageID:   s.MessageID,
		})
	}

	return c.JSON(fiber.Map{
		"recipient": recipient,
		"steps":     views,
	})
}

// PauseSequence handles POST /recipients/:id/pause.
func (rc *RecipientController) PauseSequence(c *fiber.Ctx) error {
	return rc.transition(c, rc.Scheduler.PauseSequence, "paused")
}

// ResumeSequence handles POST /recipients/:id/resume.
func (rc *RecipientController) ResumeSequence(c *fiber.Ctx) error {
	return rc.transition(c, rc.Scheduler.ResumeSequence, "resumed")
}

func (rc *RecipientController) transition(c *fiber.Ctx, op func(uint) error, verb string) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid recipient id",
		})
	}

	if err := op(uint(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Recipient not found",
			})
		}
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"recipient_id": id,
		"result":       verb,
	})
}

// CancelSequence handles POST /recipients/:id/cancel (manual stop, not a
// reply: the recipient ends up stopped, not replied).
func (rc *RecipientController) CancelSequence(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid recipient id",
		})
	}

	cancelled, err := rc.Scheduler.CancelSequence(uint(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Recipient not found",
			})
		}
		rc.Logger.WithError(err).Error("failed to cancel sequence")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to cancel sequence",
		})
	}

	return c.JSON(fiber.Map{
		"recipient_id":    id,
		"cancelled_steps": cancelled,
	})
}

type rescheduleInput struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// RescheduleStep handles PUT /steps/:id/schedule. Only unsent steps move.
func (rc *RecipientController) RescheduleStep(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid step id",
		})
	}

	var input rescheduleInput
	if err := c.BodyParser(&input); err != nil || input.ScheduledAt.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "scheduled_at is required (RFC 3339)",
		})
	}

	if err := rc.Steps.Reschedule(uint(id), input.ScheduledAt); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Step not found",
			})
		case errors.Is(err, store.ErrAlreadySent):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Step was already sent",
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to reschedule step",
			})
		}
	}

	return c.JSON(fiber.Map{
		"step_id":      id,
		"scheduled_at": input.ScheduledAt,
	})
}
