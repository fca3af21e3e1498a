package replies

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"outreachd/config"
	"outreachd/models"
)

// previewLimit caps how much body text is carried per message; the matcher
// only needs enough to spot auto-reply phrases and sentiment indicators.
const previewLimit = 500

// IMAPSource reads the monitored inbox over IMAP. Each fetch dials a fresh
// connection; reply scans are minutes apart, so holding an idle session is
// not worth the reconnect handling.
type IMAPSource struct {
	cfg    config.IMAPConfig
	logger *logrus.Logger
}

func NewIMAPSource(cfg config.IMAPConfig, logger *logrus.Logger) *IMAPSource {
	return &IMAPSource{cfg: cfg, logger: logger}
}

// FetchSince returns inbox messages received at or after since.
func (s *IMAPSource) FetchSince(ctx context.Context, since time.Time) ([]models.InboundMessage, error) {
	c, err := s.dial()
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	defer c.Logout()

	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}

	mailbox := s.cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", mailbox, err)
	}

	// IMAP SINCE has day granularity; the tracker's dedupe set absorbs the
	// re-delivered messages from earlier the same day.
	criteria := imap.NewSearchCriteria()
	criteria.Since = since.Truncate(24 * time.Hour)
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	var out []models.InboundMessage
	for msg := range messages {
		inbound, err := s.convert(msg)
		if err != nil {
			s.logger.WithError(err).WithField("seq", msg.SeqNum).Warn("failed to parse message, skipping")
			continue
		}
		if inbound.ReceivedAt.Before(since) {
			continue
		}
		out = append(out, inbound)
	}
	if err := <-done; err != nil {
		return out, fmt.Errorf("imap fetch: %w", err)
	}
	return out, nil
}

func (s *IMAPSource) dial() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	switch strings.ToUpper(s.cfg.Encryption) {
	case "SSL", "TLS":
		return client.DialTLS(addr, tlsConfig)
	case "STARTTLS":
		c, err := client.Dial(addr)
		if err != nil {
			return nil, err
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Logout()
			return nil, err
		}
		return c, nil
	default:
		return client.Dial(addr)
	}
}

// convert maps a raw IMAP message onto the transport-neutral descriptor the
// matcher consumes.
func (s *IMAPSource) convert(msg *imap.Message) (models.InboundMessage, error) {
	if msg.Envelope == nil {
		return models.InboundMessage{}, fmt.Errorf("message %d has no envelope", msg.SeqNum)
	}

	inbound := models.InboundMessage{
		ID:         msg.Envelope.MessageId,
		Subject:    msg.Envelope.Subject,
		From:       envelopeAddress(msg.Envelope.From),
		ReceivedAt: msg.Envelope.Date,
		InReplyTo:  msg.Envelope.InReplyTo,
	}

	// The Body map is keyed by the pointers go-imap parsed from the server
	// response, so it must be read through GetBody, never indexed directly.
	section := imap.BodySectionName{}
	if literal := msg.GetBody(&section); literal != nil {
		inbound.BodyPreview = extractPreview(literal)
	}
	return inbound, nil
}

// extractPreview pulls the first text part of the message, preferring plain
// text, bounded to previewLimit runes. Parse trouble yields an empty preview
// rather than an error; the matcher degrades to header-only signals.
func extractPreview(literal io.Reader) string {
	mr, err := mail.CreateReader(literal)
	if err != nil {
		return ""
	}

	var htmlFallback string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return htmlFallback
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		b, err := io.ReadAll(io.LimitReader(p.Body, 4*previewLimit))
		if err != nil {
			continue
		}
		text := strings.TrimSpace(string(b))
		if strings.Contains(contentType, "text/plain") && text != "" {
			return truncate(text, previewLimit)
		}
		if strings.Contains(contentType, "text/html") && htmlFallback == "" {
			htmlFallback = truncate(text, previewLimit)
		}
	}
	return htmlFallback
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func envelopeAddress(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	a := addrs[0]
	return strings.ToLower(a.MailboxName + "@" + a.HostName)
}
