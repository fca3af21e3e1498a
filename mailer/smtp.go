package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"outreachd/config"
	"outreachd/models"
)

// SMTPSender delivers sequence steps over plain SMTP.
type SMTPSender struct {
	cfg         config.SMTPConfig
	senderEmail string
	senderName  string
	templates   *TemplateEngine

	// dial is swappable for tests.
	dial func() (gomail.SendCloser, error)
}

func NewSMTPSender(cfg config.SMTPConfig, senderEmail, senderName string, templates *TemplateEngine) *SMTPSender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPSender{
		cfg:         cfg,
		senderEmail: senderEmail,
		senderName:  senderName,
		templates:   templates,
		dial:        func() (gomail.SendCloser, error) { return dialer.Dial() },
	}
}

func (s *SMTPSender) Send(ctx context.Context, recipient *models.Recipient, step int) (*SendResult, error) {
	rendered, err := s.templates.Render(step, recipient)
	if err != nil {
		return nil, newSendError(KindConfig, "smtp render", err)
	}

	// SMTP assigns no provider id on submission; a locally generated
	// Message-ID header is set so replies can thread back to this step.
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(s.senderEmail))

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.senderEmail, s.senderName)
	m.SetAddressHeader("To", recipient.Email, recipient.FirstName)
	m.SetHeader("Subject", rendered.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", rendered.HTML)

	type dialResult struct {
		closer gomail.SendCloser
		err    error
	}

	// gomail has no context support; bound the dial+send ourselves.
	done := make(chan dialResult, 1)
	go func() {
		closer, err := s.dial()
		if err != nil {
			done <- dialResult{err: err}
			return
		}
		defer closer.Close()
		done <- dialResult{err: gomail.Send(closer, m)}
	}()

	timeout := time.NewTimer(requestTimeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return nil, newSendError(KindTransient, "smtp send", ctx.Err())
	case <-timeout.C:
		return nil, newSendError(KindTransient, "smtp send", fmt.Errorf("timed out after %s", requestTimeout))
	case res := <-done:
		if res.err != nil {
			return nil, classifySMTPError(res.err)
		}
	}

	return &SendResult{
		MessageID: messageID,
		SentAt:    time.Now(),
		Subject:   rendered.Subject,
	}, nil
}

// classifySMTPError maps SMTP failures onto error kinds at the protocol
// boundary. 421 and 450 are the server's slow-down responses; other 4xx are
// temporary, 5xx are permanent rejections.
func classifySMTPError(err error) *SendError {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch {
		case protoErr.Code == 421 || protoErr.Code == 450:
			return newSendError(KindThrottled, "smtp send", err)
		case protoErr.Code >= 400 && protoErr.Code < 500:
			return newSendError(KindTransient, "smtp send", err)
		case protoErr.Code >= 500:
			return newSendError(KindPermanent, "smtp send", err)
		}
	}
	// Dial/TLS/network-level failures carry no status code.
	return newSendError(KindTransient, "smtp send", err)
}

func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return "localhost"
}
