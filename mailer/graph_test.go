package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"outreachd/models"
)

func newTestGraphSender(t *testing.T, handler http.HandlerFunc) (*GraphSender, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	engine, err := NewTemplateEngine("Sam Seller")
	if err != nil {
		t.Fatalf("NewTemplateEngine() error = %v", err)
	}

	return &GraphSender{
		senderEmail: "sender@example.com",
		senderName:  "Sam Seller",
		templates:   engine,
		client:      srv.Client(),
		baseURL:     srv.URL,
	}, srv
}

func TestGraphSendSubmitsMessage(t *testing.T) {
	var got sendMailRequest
	sender, _ := newTestGraphSender(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/sender@example.com/sendMail" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	})

	res, err := sender.Send(context.Background(), testRecipient(), models.StepInitial)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if res.MessageID == "" {
		t.Fatal("Send() returned empty message id")
	}
	if got.Message.Subject != "Quick question about Initech" {
		t.Errorf("submitted subject = %q", got.Message.Subject)
	}
	if len(got.Message.ToRecipients) != 1 || got.Message.ToRecipients[0].EmailAddress.Address != "ada@initech.com" {
		t.Errorf("submitted recipients = %+v", got.Message.ToRecipients)
	}
	if got.Message.InternetMessageID != res.MessageID {
		t.Errorf("submitted message id %q != returned %q", got.Message.InternetMessageID, res.MessageID)
	}
}

func TestGraphSendClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind ErrorKind
	}{
		{"throttled", http.StatusTooManyRequests, KindThrottled},
		{"server error", http.StatusBadGateway, KindTransient},
		{"bad request", http.StatusBadRequest, KindPermanent},
		{"unauthorized", http.StatusUnauthorized, KindConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, _ := newTestGraphSender(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := sender.Send(context.Background(), testRecipient(), models.StepInitial)
			var sendErr *SendError
			if !errors.As(err, &sendErr) {
				t.Fatalf("Send() error = %v, want *SendError", err)
			}
			if sendErr.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", sendErr.Kind, tt.wantKind)
			}
			if (tt.wantKind == KindThrottled) != sendErr.Throttled() {
				t.Errorf("Throttled() = %t for kind %s", sendErr.Throttled(), sendErr.Kind)
			}
		})
	}
}
