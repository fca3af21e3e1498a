package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2/clientcredentials"

	"outreachd/config"
	"outreachd/models"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphSender delivers sequence steps through the Microsoft Graph sendMail
// endpoint using the client-credentials flow.
type GraphSender struct {
	senderEmail string
	senderName  string
	templates   *TemplateEngine
	client      *http.Client
	baseURL     string
}

func NewGraphSender(cfg config.GraphConfig, senderEmail, senderName string, templates *TemplateEngine) *GraphSender {
	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}

	client := creds.Client(context.Background())
	client.Timeout = requestTimeout

	return &GraphSender{
		senderEmail: senderEmail,
		senderName:  senderName,
		templates:   templates,
		client:      client,
		baseURL:     graphBaseURL,
	}
}

type graphAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type graphRecipient struct {
	EmailAddress graphAddress `json:"emailAddress"`
}

type graphMessage struct {
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ToRecipients      []graphRecipient `json:"toRecipients"`
	From              *graphRecipient  `json:"from,omitempty"`
	InternetMessageID string           `json:"internetMessageId,omitempty"`
}

type sendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

func (g *GraphSender) Send(ctx context.Context, recipient *models.Recipient, step int) (*SendResult, error) {
	rendered, err := g.templates.Render(step, recipient)
	if err != nil {
		return nil, newSendError(KindConfig, "graph render", err)
	}

	// sendMail returns 202 with no body, so the internet message id is
	// assigned client-side and submitted with the message for later
	// reply thread-matching.
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(g.senderEmail))

	msg := graphMessage{
		Subject:           rendered.Subject,
		ToRecipients:      []graphRecipient{{EmailAddress: graphAddress{Address: recipient.Email, Name: recipient.FirstName}}},
		From:              &graphRecipient{EmailAddress: graphAddress{Address: g.senderEmail, Name: g.senderName}},
		InternetMessageID: messageID,
	}
	msg.Body.ContentType = "HTML"
	msg.Body.Content = rendered.HTML

	payload, err := json.Marshal(sendMailRequest{Message: msg, SaveToSentItems: true})
	if err != nil {
		return nil, newSendError(KindPermanent, "graph send", err)
	}

	url := fmt.Sprintf("%s/users/%s/sendMail", g.baseURL, g.senderEmail)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, newSendError(KindPermanent, "graph send", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, newSendError(KindTransient, "graph send", err)
	}
	defer resp.Body.Close()

	if err := classifyGraphStatus(resp); err != nil {
		return nil, err
	}

	return &SendResult{
		MessageID: messageID,
		SentAt:    time.Now(),
		Subject:   rendered.Subject,
	}, nil
}

// classifyGraphStatus maps Graph HTTP statuses onto error kinds: 429 is the
// provider's throttling signal, 5xx are transient, remaining 4xx permanent.
func classifyGraphStatus(resp *http.Response) *SendError {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := fmt.Errorf("graph API returned %d: %s", resp.StatusCode, string(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return newSendError(KindThrottled, "graph send", err)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newSendError(KindConfig, "graph send", err)
	case resp.StatusCode >= 500:
		return newSendError(KindTransient, "graph send", err)
	default:
		return newSendError(KindPermanent, "graph send", err)
	}
}
