package replies

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"

	"outreachd/config"
)

func rawMessage(subject, body string) *bytes.Buffer {
	var buf bytes.Buffer
	buf.WriteString("From: A Example <a@x.com>\r\n")
	buf.WriteString("To: me@outreach.test\r\n")
	buf.WriteString("Subject: " + subject + "\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body + "\r\n")
	return &buf
}

// fetchedMessage builds an imap.Message the way the client library does when
// parsing a FETCH response, so the body literal sits under the library's own
// section key.
func fetchedMessage(t *testing.T, subject, body string, received time.Time) *imap.Message {
	t.Helper()
	msg := &imap.Message{SeqNum: 1}
	if err := msg.Parse([]interface{}{"BODY[]", rawMessage(subject, body)}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	msg.Envelope = &imap.Envelope{
		MessageId: "<inbound-1@remote>",
		Subject:   subject,
		Date:      received,
		From:      []*imap.Address{{MailboxName: "a", HostName: "x.com"}},
	}
	return msg
}

func TestConvertReadsFetchedBody(t *testing.T) {
	src := NewIMAPSource(config.IMAPConfig{}, quietLogger())
	received := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	msg := fetchedMessage(t, "Checking in", "Thanks, sounds good - happy to talk next week.", received)

	inbound, err := src.convert(msg)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if inbound.From != "a@x.com" {
		t.Errorf("From = %q, want a@x.com", inbound.From)
	}
	if inbound.ID != "<inbound-1@remote>" || !inbound.ReceivedAt.Equal(received) {
		t.Errorf("envelope fields not carried: %+v", inbound)
	}
	if !strings.Contains(inbound.BodyPreview, "sounds good") {
		t.Fatalf("BodyPreview = %q, want the fetched body text", inbound.BodyPreview)
	}
}

// A vacation responder whose subject carries no indicator must still be
// suppressed: the auto-reply phrase lives only in the body, so the preview
// has to survive the IMAP conversion for the sender strategy to reject it.
func TestBodyOnlyAutoReplyYieldsNoMatch(t *testing.T) {
	f := newMatcherFixture(t)
	src := NewIMAPSource(config.IMAPConfig{}, quietLogger())
	msg := fetchedMessage(t, "Hello", "Thank you for your email. I am out of office until Monday.", f.now.Add(-time.Hour))

	inbound, err := src.convert(msg)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if inbound.BodyPreview == "" {
		t.Fatal("BodyPreview is empty although the message body was fetched")
	}

	match, err := f.matcher.Match(inbound)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match != nil {
		t.Fatalf("auto-reply matched an active recipient: %+v", match)
	}
}
