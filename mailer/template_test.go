package mailer

import (
	"strings"
	"testing"

	"outreachd/models"
)

func testRecipient() *models.Recipient {
	return &models.Recipient{
		FirstName: "Ada",
		Company:   "Initech",
		Role:      "CTO",
		Email:     "ada@initech.com",
	}
}

func TestRenderSubjectsPerStep(t *testing.T) {
	engine, err := NewTemplateEngine("Sam Seller")
	if err != nil {
		t.Fatalf("NewTemplateEngine() error = %v", err)
	}

	tests := []struct {
		step        int
		wantSubject string
	}{
		{models.StepInitial, "Quick question about Initech"},
		{models.StepFollowUp1, "Following up - Initech opportunity"},
		{models.StepFollowUp2, "Final follow-up - Initech"},
	}

	for _, tt := range tests {
		rendered, err := engine.Render(tt.step, testRecipient())
		if err != nil {
			t.Fatalf("Render(step=%d) error = %v", tt.step, err)
		}
		if rendered.Subject != tt.wantSubject {
			t.Errorf("step %d subject = %q, want %q", tt.step, rendered.Subject, tt.wantSubject)
		}
	}
}

func TestRenderBodySubstitutesContext(t *testing.T) {
	engine, err := NewTemplateEngine("Sam Seller")
	if err != nil {
		t.Fatalf("NewTemplateEngine() error = %v", err)
	}

	rendered, err := engine.Render(models.StepInitial, testRecipient())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for _, want := range []string{"Ada", "Initech", "CTO", "Sam Seller"} {
		if !strings.Contains(rendered.HTML, want) {
			t.Errorf("body missing %q:\n%s", want, rendered.HTML)
		}
	}
}

func TestRenderEscapesRecipientHTML(t *testing.T) {
	engine, err := NewTemplateEngine("Sam Seller")
	if err != nil {
		t.Fatalf("NewTemplateEngine() error = %v", err)
	}

	r := testRecipient()
	r.Company = `<script>alert("x")</script>`

	rendered, err := engine.Render(models.StepInitial, r)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(rendered.HTML, "<script>") {
		t.Fatal("recipient-controlled HTML not escaped in body")
	}
}

func TestRenderRejectsUnknownStep(t *testing.T) {
	engine, err := NewTemplateEngine("Sam Seller")
	if err != nil {
		t.Fatalf("NewTemplateEngine() error = %v", err)
	}

	if _, err := engine.Render(4, testRecipient()); err == nil {
		t.Fatal("Render(4) = nil error, want invalid step error")
	}
}
