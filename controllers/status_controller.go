package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreachd/mailer"
	"outreachd/models"
	"outreachd/ratelimit"
	"outreachd/replies"
	"outreachd/scheduler"
	"outreachd/store"
)

type StatusController struct {
	DB         *gorm.DB
	Recipients store.RecipientStore
	Steps      store.StepStore
	Events     store.ReplyEventStore
	Scheduler  *scheduler.Scheduler
	Limiter    *ratelimit.AdaptiveLimiter
	Tracker    *replies.Tracker
	Sender     mailer.Sender
	Logger     *logrus.Logger
}

// statusSnapshot is the combined snapshot served on /status and streamed
// over the websocket.
type statusSnapshot struct {
	Time      time.Time                `json:"time"`
	Scheduler scheduler.Status         `json:"scheduler"`
	Rate      ratelimit.AdaptiveStatus `json:"rate"`
	Replies   replies.TrackerStatus    `json:"replies"`
}

func (sc *StatusController) snapshot() statusSnapshot {
	return statusSnapshot{
		Time:      time.Now(),
		Scheduler: sc.Scheduler.Status(),
		Rate:      sc.Limiter.Status(),
		Replies:   sc.Tracker.Status(),
	}
}

// Root handles GET /.
func (sc *StatusController) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "outreachd",
		"status":  "ok",
	})
}

// Health handles GET /health with per-component detail. A failing database
// turns the overall status unhealthy with 503.
func (sc *StatusController) Health(c *fiber.Ctx) error {
	healthy := true
	dbStatus := "ok"

	sqlDB, err := sc.DB.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		healthy = false
		dbStatus = err.Error()
	}

	snap := sc.snapshot()
	body := fiber.Map{
		"status":   "healthy",
		"database": dbStatus,
		"scheduler": fiber.Map{
			"last_poll_at": snap.Scheduler.LastPollAt,
			"total_sent":   snap.Scheduler.TotalSent,
		},
		"rate_limiter": fiber.Map{
			"can_send_now": snap.Rate.CanSendNow,
			"minute_count": snap.Rate.MinuteCount,
			"daily_count":  snap.Rate.DailyCount,
		},
		"reply_tracker": fiber.Map{
			"last_scan_at": snap.Replies.LastScanAt,
		},
	}
	if !healthy {
		body["status"] = "unhealthy"
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	}
	return c.JSON(body)
}

// Status handles GET /status.
func (sc *StatusController) Status(c *fiber.Ctx) error {
	return c.JSON(sc.snapshot())
}

// Rate handles GET /status/rate.
func (sc *StatusController) Rate(c *fiber.Ctx) error {
	return c.JSON(sc.Limiter.Status())
}

// Analytics handles GET /analytics: status breakdown, per-step progress and
// the reply rate over everyone contacted.
func (sc *StatusController) Analytics(c *fiber.Ctx) error {
	recipients, err := sc.Recipients.List()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list recipients",
		})
	}

	byStatus := map[string]int{}
	stepSent := map[int]int{}
	stepPending := map[int]int{}

	var contacted, replied int
	for _, r := range recipients {
		byStatus[r.Status]++
		if r.Status != models.RecipientStatusPending {
			contacted++
		}
		if r.Status == models.RecipientStatusReplied {
			replied++
		}

		steps, err := sc.Steps.ListByRecipient(r.ID)
		if err != nil {
			continue
		}
		for _, s := range steps {
			if s.SentAt != nil {
				stepSent[s.StepNumber]++
			} else {
				stepPending[s.StepNumber]++
			}
		}
	}

	var replyRate float64
	if contacted > 0 {
		replyRate = float64(replied) / float64(contacted) * 100
	}

	sentiment := map[string]int{}
	if events, err := sc.Events.List(); err == nil {
		for _, e := range events {
			if e.Sentiment != "" {
				sentiment[e.Sentiment]++
			}
		}
	}

	return c.JSON(fiber.Map{
		"total_recipients": len(recipients),
		"by_status":        byStatus,
		"steps_sent":       stepSent,
		"steps_pending":    stepPending,
		"reply_rate_pct":   replyRate,
		"reply_sentiment":  sentiment,
	})
}

type testEmailInput struct {
	To string `json:"to" validate:"required,email"`
}

// TestEmail handles POST /test-email: a one-off step-1 send to verify the
// configured transport. It goes through the limiter's books like any send.
func (sc *StatusController) TestEmail(c *fiber.Ctx) error {
	var input testEmailInput
	if err := c.BodyParser(&input); err != nil || input.To == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Field 'to' is required",
		})
	}

	if !sc.Limiter.TryAcquire() {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "Rate limit reached, try again later",
		})
	}

	recipient := &models.Recipient{
		FirstName: "Test",
		Company:   "Test Company",
		Role:      "Tester",
		Email:     input.To,
	}
	result, err := sc.Sender.Send(c.Context(), recipient, models.StepInitial)
	if err != nil {
		sc.Limiter.RecordSendResult(false, ratelimit.IsThrottleError(err))
		sc.Logger.WithError(err).Warn("test email failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	sc.Limiter.RecordSendResult(true, false)

	return c.JSON(fiber.Map{
		"message_id": result.MessageID,
		"sent_at":    result.SentAt,
	})
}

// StatusWS streams the status snapshot over a websocket until the client
// goes away.
func (sc *StatusController) StatusWS(conn *websocket.Conn) {
	defer conn.Close()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	// First frame immediately, then on every tick.
	if err := conn.WriteJSON(sc.snapshot()); err != nil {
		return
	}
	for range ticker.C {
		if err := conn.WriteJSON(sc.snapshot()); err != nil {
			return
		}
	}
}
