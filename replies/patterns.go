package replies

import (
	"regexp"
	"strings"
)

// Default heuristic data for reply classification. These are locale-specific
// lists with no completeness guarantee, which is why both are overridable
// through configuration.
var defaultSubjectPrefixes = []string{
	`^RE:\s*`,
	`^AW:\s*`, // German
	`^SV:\s*`, // Swedish/Norwegian
	`^VS:\s*`, // Danish
	`^回复:\s*`, // Chinese
	`^答复:\s*`,
	`^Répondre:\s*`, // French
	`^R:\s*`,        // Portuguese
	`^RES:\s*`,
	`^Odp:\s*`, // Polish
	`^Отв:\s*`, // Russian
}

var defaultAutoReplyPhrases = []string{
	"out of office",
	"automatic reply",
	"auto-reply",
	"vacation",
	"away message",
	"currently unavailable",
	"will be back",
	"maternity leave",
	"sick leave",
	"do not reply",
	"no-reply",
	"noreply",
	"automated response",
	"delivery failure",
	"undeliverable",
	"mail delivery subsystem",
}

var positiveIndicators = []string{
	"thank you",
	"thanks",
	"interested",
	"tell me more",
	"sounds good",
	"let's talk",
	"schedule",
	"meeting",
	"call me",
	"phone",
	"discuss",
	"more information",
	"details",
}

var negativeIndicators = []string{
	"not interested",
	"no thank you",
	"remove me",
	"unsubscribe",
	"stop emailing",
	"don't contact",
	"not the right time",
	"already have",
	"not looking",
	"not a fit",
}

// compilePrefixes builds case-insensitive matchers from prefix patterns.
// Patterns that do not compile are dropped rather than failing startup;
// the lists are heuristics, not correctness-critical data.
func compilePrefixes(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			continue
		}
		out = append(out, re)
	}
	return out
}

// isAutoReply reports whether the subject or body preview carries one of
// the auto-reply indicator phrases.
func isAutoReply(phrases []string, subject, bodyPreview string) bool {
	combined := strings.ToLower(subject + " " + bodyPreview)
	for _, phrase := range phrases {
		if strings.Contains(combined, phrase) {
			return true
		}
	}
	return false
}

// Sentiment labels attached to low-confidence matches for analytics.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// analyzeSentiment scores the message text against the indicator lists.
// It informs reporting only, never the match decision.
func analyzeSentiment(subject, bodyPreview string) string {
	combined := strings.ToLower(subject + " " + bodyPreview)

	var positive, negative int
	for _, ind := range positiveIndicators {
		if strings.Contains(combined, ind) {
			positive++
		}
	}
	for _, ind := range negativeIndicators {
		if strings.Contains(combined, ind) {
			negative++
		}
	}

	switch {
	case positive > negative:
		return SentimentPositive
	case negative > positive:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
