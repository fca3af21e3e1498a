package controller

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"outreachd/models"
	"outreachd/scheduler"
	"outreachd/store"
)

type ImportController struct {
	Recipients store.RecipientStore
	Scheduler  *scheduler.Scheduler
	Logger     *logrus.Logger
}

func NewImportController(recipients store.RecipientStore, sched *scheduler.Scheduler,
	logger *logrus.Logger) *ImportController {
	return &ImportController{Recipients: recipients, Scheduler: sched, Logger: logger}
}

type importRowError struct {
	Line  int    `json:"line"`
	Email string `json:"email,omitempty"`
	Error string `json:"error"`
}

// ImportCSV handles POST /recipients/import: a multipart "file" holding CSV
// rows of first_name,company,role,email (header optional). Bad rows are
// reported per line, never abort the import.
func (ic *ImportController) ImportCSV(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Multipart field 'file' with a CSV is required",
		})
	}

	f, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to open uploaded file",
		})
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 4
	reader.TrimLeadingSpace = true

	var (
		created int
		rowErrs []importRowError
		line    int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			rowErrs = append(rowErrs, importRowError{Line: line, Error: err.Error()})
			continue
		}
		// Skip a header row.
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[3]), "email") {
			continue
		}

		email := strings.ToLower(strings.TrimSpace(record[3]))
		if rerr := ic.importRow(record, email); rerr != "" {
			rowErrs = append(rowErrs, importRowError{Line: line, Email: email, Error: rerr})
			continue
		}
		created++
	}

	ic.Logger.WithFields(logrus.Fields{
		"created": created,
		"errors":  len(rowErrs),
	}).Info("CSV import finished")

	return c.JSON(fiber.Map{
		"created": created,
		"errors":  rowErrs,
	})
}

func (ic *ImportController) importRow(record []string, email string) string {
	if err := checkmail.ValidateFormat(email); err != nil {
		return "invalid email address"
	}

	recipient := &models.Recipient{
		FirstName: strings.TrimSpace(record[0]),
		Company:   strings.TrimSpace(record[1]),
		Role:      strings.TrimSpace(record[2]),
		Email:     email,
	}
	if recipient.FirstName == "" || recipient.Company == "" || recipient.Role == "" {
		return "first_name, company and role are required"
	}

	if err := ic.Recipients.Create(recipient); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return "duplicate email"
		}
		return fmt.Sprintf("create failed: %v", err)
	}
	if err := ic.Scheduler.CreateSequence(recipient.ID); err != nil {
		return fmt.Sprintf("sequence creation failed: %v", err)
	}
	return ""
}

// ExportCSV handles GET /recipients/export, streaming all recipients with
// their status as CSV.
func (ic *ImportController) ExportCSV(c *fiber.Ctx) error {
	recipients, err := ic.Recipients.List()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list recipients",
		})
	}

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write([]string{"first_name", "company", "role", "email", "status", "created_at"})
	for _, r := range recipients {
		_ = w.Write([]string{
			r.FirstName,
			r.Company,
			r.Role,
			r.Email,
			r.Status,
			r.CreatedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to write CSV",
		})
	}

	c.Set("Content-Type", "text/csv")
	c.Set("Content-Disposition", `attachment; filename="recipients.csv"`)
	return c.SendString(sb.String())
}
