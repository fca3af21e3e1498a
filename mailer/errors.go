package mailer

import "fmt"

// ErrorKind classifies a send failure. The kind is set by the transport
// that raised the error, never inferred downstream from message text.
type ErrorKind string

const (
	// KindThrottled means the provider explicitly signalled rate abuse.
	// The adaptive limiter backs off aggressively on this kind.
	KindThrottled ErrorKind = "throttled"
	// KindTransient covers network errors, timeouts and provider 5xx.
	// Retried with adaptive backoff, never fatal to the sequence.
	KindTransient ErrorKind = "transient"
	// KindPermanent covers provider 4xx other than throttling: the request
	// itself is rejected and retrying the same payload will not help.
	KindPermanent ErrorKind = "permanent"
	// KindConfig marks transport misconfiguration (bad credentials, bad
	// sender address).
	KindConfig ErrorKind = "config"
)

// SendError is a send failure with its transport-assigned kind.
type SendError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Throttled satisfies ratelimit.ThrottleError.
func (e *SendError) Throttled() bool { return e.Kind == KindThrottled }

func newSendError(kind ErrorKind, op string, err error) *SendError {
	return &SendError{Kind: kind, Op: op, Err: err}
}
