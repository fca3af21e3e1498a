// Package report provides the process-scoped error reporter handed to each
// component, instead of components logging into ambient global state.
package report

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Reporter receives operational errors from components. Implementations
// must be safe for concurrent use.
type Reporter interface {
	// Error reports a recoverable error with structured context.
	Error(err error, scope string, fields map[string]interface{})
	// Breadcrumb records a non-error event useful for later diagnosis.
	Breadcrumb(category, message string)
}

// LogReporter reports to logrus only. Used when no Sentry DSN is configured
// and as the base of SentryReporter.
type LogReporter struct {
	Logger *logrus.Logger
}

func NewLogReporter(logger *logrus.Logger) *LogReporter {
	return &LogReporter{Logger: logger}
}

func (r *LogReporter) Error(err error, scope string, fields map[string]interface{}) {
	entry := r.Logger.WithField("scope", scope)
	if fields != nil {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	entry.WithError(err).Error("operation failed")
}

func (r *LogReporter) Breadcrumb(category, message string) {
	r.Logger.WithField("category", category).Debug(message)
}

// SentryReporter forwards errors to Sentry in addition to logging them.
type SentryReporter struct {
	log *LogReporter
}

// NewSentryReporter initializes the Sentry client. The returned reporter
// falls back to log-only behavior if initialization fails.
func NewSentryReporter(dsn, environment string, logger *logrus.Logger) Reporter {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		logger.WithError(err).Warn("sentry init failed, falling back to log-only reporting")
		return NewLogReporter(logger)
	}
	return &SentryReporter{log: NewLogReporter(logger)}
}

func (r *SentryReporter) Error(err error, scope string, fields map[string]interface{}) {
	r.log.Error(err, scope, fields)

	sentry.WithScope(func(s *sentry.Scope) {
		s.SetTag("scope", scope)
		for k, v := range fields {
			s.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

func (r *SentryReporter) Breadcrumb(category, message string) {
	r.log.Breadcrumb(category, message)
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	})
}

// Flush drains buffered Sentry events on shutdown.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}
