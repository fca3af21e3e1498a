package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	textTemplate "text/template"

	"outreachd/models"
)

// Embedded per-step templates, keyed by step number. Follow-up subjects keep
// the thread by referencing the same opportunity wording.
var subjectTemplates = map[int]string{
	models.StepInitial:   "Quick question about {{.Company}}",
	models.StepFollowUp1: "Following up - {{.Company}} opportunity",
	models.StepFollowUp2: "Final follow-up - {{.Company}}",
}

var bodyTemplates = map[int]string{
	models.StepInitial: `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <p>Hi {{.FirstName}},</p>
    <p>I came across {{.Company}} and noticed your work as {{.Role}}. I had a quick question
    about how your team handles outbound outreach today.</p>
    <p>Would you be open to a short call this week?</p>
    <p>Best regards,<br>{{.SenderName}}</p>
</body>
</html>`,

	models.StepFollowUp1: `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <p>Hi {{.FirstName}},</p>
    <p>Following up on my earlier note about {{.Company}} - I know things get busy.</p>
    <p>If the timing is better now, I'd still love to compare notes on what we're seeing
    work for teams like yours.</p>
    <p>Best regards,<br>{{.SenderName}}</p>
</body>
</html>`,

	models.StepFollowUp2: `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <p>Hi {{.FirstName}},</p>
    <p>Last note from me - if this isn't a priority for {{.Company}} right now, no problem
    at all.</p>
    <p>If anything changes, you know where to find me.</p>
    <p>Best regards,<br>{{.SenderName}}</p>
</body>
</html>`,
}

// TemplateContext is the data available to subject and body templates.
type TemplateContext struct {
	FirstName  string
	Company    string
	Role       string
	Email      string
	SenderName string
}

// RenderedEmail is the output of rendering one step for one recipient.
type RenderedEmail struct {
	Subject string
	HTML    string
}

// TemplateEngine renders per-step subjects and HTML bodies.
type TemplateEngine struct {
	senderName string
	bodies     map[int]*template.Template
	subjects   map[int]*textTemplate.Template
}

// NewTemplateEngine parses all embedded templates up front so a broken
// template fails at startup, not mid-campaign.
func NewTemplateEngine(senderName string) (*TemplateEngine, error) {
	e := &TemplateEngine{
		senderName: senderName,
		bodies:     make(map[int]*template.Template),
		subjects:   make(map[int]*textTemplate.Template),
	}

	for step, src := range bodyTemplates {
		tmpl, err := template.New(fmt.Sprintf("body_%d", step)).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse body template for step %d: %w", step, err)
		}
		e.bodies[step] = tmpl
	}
	for step, src := range subjectTemplates {
		tmpl, err := textTemplate.New(fmt.Sprintf("subject_%d", step)).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse subject template for step %d: %w", step, err)
		}
		e.subjects[step] = tmpl
	}
	return e, nil
}

// Render produces the subject and HTML body for one step and recipient.
func (e *TemplateEngine) Render(step int, recipient *models.Recipient) (*RenderedEmail, error) {
	if !models.ValidStepNumber(step) {
		return nil, fmt.Errorf("invalid email step %d, must be 1, 2 or 3", step)
	}

	ctx := TemplateContext{
		FirstName:  recipient.FirstName,
		Company:    recipient.Company,
		Role:       recipient.Role,
		Email:      recipient.Email,
		SenderName: e.senderName,
	}

	var subject bytes.Buffer
	if err := e.subjects[step].Execute(&subject, ctx); err != nil {
		return nil, fmt.Errorf("render subject for step %d: %w", step, err)
	}

	var body bytes.Buffer
	if err := e.bodies[step].Execute(&body, ctx); err != nil {
		return nil, fmt.Errorf("render body for step %d: %w", step, err)
	}

	return &RenderedEmail{
		Subject: subject.String(),
		HTML:    body.String(),
	}, nil
}
