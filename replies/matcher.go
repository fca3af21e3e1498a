// Package replies classifies inbound messages against in-flight sequences
// and stops a recipient's remaining steps when a reply is detected.
package replies

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"outreachd/models"
	"outreachd/store"
)

const defaultLookback = 30 * 24 * time.Hour

// MatcherOptions overrides the built-in heuristic lists. Zero values mean
// package defaults.
type MatcherOptions struct {
	SubjectPrefixes  []string
	AutoReplyPhrases []string
	Lookback         time.Duration
}

// Matcher resolves which recipient an inbound message answers, using three
// cascading strategies in strict precedence order: thread id (high
// confidence), reply-prefix subject (medium), bare sender identity (low).
// The first hit wins.
type Matcher struct {
	recipients store.RecipientStore
	steps      store.StepStore

	subjectPrefixes  []*regexp.Regexp
	autoReplyPhrases []string
	lookback         time.Duration

	logger *logrus.Logger
	now    func() time.Time
}

func NewMatcher(recipients store.RecipientStore, steps store.StepStore, opts MatcherOptions, logger *logrus.Logger) *Matcher {
	prefixes := opts.SubjectPrefixes
	if len(prefixes) == 0 {
		prefixes = defaultSubjectPrefixes
	}
	phrases := opts.AutoReplyPhrases
	if len(phrases) == 0 {
		phrases = defaultAutoReplyPhrases
	}
	lookback := opts.Lookback
	if lookback <= 0 {
		lookback = defaultLookback
	}

	m := &Matcher{
		recipients:       recipients,
		steps:            steps,
		subjectPrefixes:  compilePrefixes(prefixes),
		autoReplyPhrases: phrases,
		lookback:         lookback,
		logger:           logger,
		now:              time.Now,
	}
	logger.WithFields(logrus.Fields{
		"subject_patterns": len(m.subjectPrefixes),
		"auto_phrases":     len(m.autoReplyPhrases),
		"lookback":         lookback,
	}).Info("reply matcher initialized")
	return m
}

// Match classifies one inbound message. A nil match with a nil error means
// the message is not recognizable as a reply to any in-flight sequence.
func (m *Matcher) Match(msg models.InboundMessage) (*models.ReplyMatch, error) {
	from := strings.ToLower(strings.TrimSpace(msg.From))
	if from == "" {
		return nil, nil
	}

	match, err := m.matchByMessageID(msg, from)
	if err != nil {
		return nil, fmt.Errorf("thread-id matching: %w", err)
	}
	if match != nil {
		return match, nil
	}

	match, err = m.matchBySubject(msg, from)
	if err != nil {
		return nil, fmt.Errorf("subject matching: %w", err)
	}
	if match != nil {
		return match, nil
	}

	match, err = m.matchBySender(msg, from)
	if err != nil {
		return nil, fmt.Errorf("sender matching: %w", err)
	}
	return match, nil
}

// matchByMessageID resolves the thread via in-reply-to against recorded
// provider message ids. A sender mismatch voids the match (misdirected or
// spoofed thread) and lets the weaker strategies have a look.
func (m *Matcher) matchByMessageID(msg models.InboundMessage, from string) (*models.ReplyMatch, error) {
	if msg.InReplyTo == "" {
		return nil, nil
	}

	step, err := m.steps.GetByMessageID(msg.InReplyTo)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	recipient, err := m.recipients.GetByID(step.RecipientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if strings.ToLower(recipient.Email) != from {
		m.logger.WithFields(logrus.Fields{
			"in_reply_to": msg.InReplyTo,
			"from":        from,
			"expected":    recipient.Email,
		}).Warn("thread id matched but sender differs, discarding thread match")
		return nil, nil
	}

	return &models.ReplyMatch{
		RecipientID:    recipient.ID,
		MessageID:      msg.ID,
		Confidence:     models.ConfidenceHigh,
		MatchingMethod: models.MatchByMessageID,
		OriginalStepID: step.ID,
		Subject:        msg.Subject,
		ReceivedAt:     msg.ReceivedAt,
		Sentiment:      analyzeSentiment(msg.Subject, msg.BodyPreview),
	}, nil
}

// matchBySubject accepts a message whose subject carries a known reply
// prefix, provided the sender is a recipient with a live sequence.
func (m *Matcher) matchBySubject(msg models.InboundMessage, from string) (*models.ReplyMatch, error) {
	var isReplySubject bool
	for _, re := range m.subjectPrefixes {
		if re.MatchString(msg.Subject) {
			isReplySubject = true
			break
		}
	}
	if !isReplySubject {
		return nil, nil
	}

	recipient, err := m.liveRecipient(from)
	if err != nil || recipient == nil {
		return nil, err
	}

	return &models.ReplyMatch{
		RecipientID:    recipient.ID,
		MessageID:      msg.ID,
		Confidence:     models.ConfidenceMedium,
		MatchingMethod: models.MatchBySubject,
		Subject:        msg.Subject,
		ReceivedAt:     msg.ReceivedAt,
		Sentiment:      analyzeSentiment(msg.Subject, msg.BodyPreview),
	}, nil
}

// matchBySender accepts any message from a recipient with a live sequence,
// unless it looks automated. Auto-reply detection takes precedence over the
// sender identity: a vacation responder must never stop a sequence.
func (m *Matcher) matchBySender(msg models.InboundMessage, from string) (*models.ReplyMatch, error) {
	recipient, err := m.liveRecipient(from)
	if err != nil || recipient == nil {
		return nil, err
	}

	if isAutoReply(m.autoReplyPhrases, msg.Subject, msg.BodyPreview) {
		m.logger.WithFields(logrus.Fields{
			"from":    from,
			"subject": msg.Subject,
		}).Debug("ignoring auto-reply")
		return nil, nil
	}

	if !msg.ReceivedAt.IsZero() && msg.ReceivedAt.Before(m.now().Add(-m.lookback)) {
		return nil, nil
	}

	return &models.ReplyMatch{
		RecipientID:    recipient.ID,
		MessageID:      msg.ID,
		Confidence:     models.ConfidenceLow,
		MatchingMethod: models.MatchBySender,
		Subject:        msg.Subject,
		ReceivedAt:     msg.ReceivedAt,
		Sentiment:      analyzeSentiment(msg.Subject, msg.BodyPreview),
	}, nil
}

// liveRecipient returns the recipient owning the address if their sequence
// can still be stopped (active or pending). Terminal recipients yield nil.
func (m *Matcher) liveRecipient(from string) (*models.Recipient, error) {
	recipient, err := m.recipients.GetByEmail(from)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	switch recipient.Status {
	case models.RecipientStatusActive, models.RecipientStatusPending:
		return recipient, nil
	}
	return nil, nil
}
