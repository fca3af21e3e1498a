package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	controller "outreachd/controllers"
	"outreachd/middleware"
)

// SetupRoutes wires the HTTP surface onto the fiber app.
func SetupRoutes(app *fiber.App, rc *controller.RecipientController,
	ic *controller.ImportController, sc *controller.StatusController) {

	app.Use(middleware.CORS())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Get("/", sc.Root)
	app.Get("/health", sc.Health)
	app.Get("/status", sc.Status)
	app.Get("/status/rate", sc.Rate)
	app.Get("/analytics", sc.Analytics)
	app.Post("/test-email", sc.TestEmail)

	recipients := app.Group("/recipients")
	recipients.Post("/", rc.CreateRecipient)
	recipients.Get("/", rc.ListRecipients)
	recipients.Post("/import", ic.ImportCSV)
	recipients.Get("/export", ic.ExportCSV)
	recipients.Get("/:id/sequence", rc.GetSequence)
	recipients.Post("/:id/pause", rc.PauseSequence)
	recipients.Post("/:id/resume", rc.ResumeSequence)
	recipients.Post("/:id/cancel", rc.CancelSequence)

	app.Put("/steps/:id/schedule", rc.RescheduleStep)

	// Websocket upgrade gate, then the live status stream.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(sc.StatusWS))
}
