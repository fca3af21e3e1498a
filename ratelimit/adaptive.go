package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Adaptive pacing bounds and factors. Throttling signals back off hard and
// immediately; other failures back off gently after a streak.
const (
	DefaultMinDelay = 500 * time.Millisecond
	DefaultMaxDelay = 30 * time.Second

	throttleBackoffFactor = 2.0
	failureBackoffFactor  = 1.5
	successDecayFactor    = 0.9
	successesBeforeDecay  = 5
	failuresBeforeBackoff = 3
	defaultBackoffRetries = 3
)

// AdaptiveStatus extends the limiter snapshot with pacing state.
type AdaptiveStatus struct {
	Rate
	CurrentDelay         time.Duration `json:"current_delay"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	MinDelay             time.Duration `json:"min_delay"`
	MaxDelay             time.Duration `json:"max_delay"`
}

// AdaptiveLimiter layers outcome-driven pacing on top of the hard limiter:
// a bounded delay inserted before each send that decays on sustained success
// and grows on failure, aggressively so on provider throttling.
type AdaptiveLimiter struct {
	*Limiter

	mu sync.Mutex

	currentDelay time.Duration
	minDelay     time.Duration
	maxDelay     time.Duration

	consecutiveSuccesses int
	consecutiveFailures  int

	logger *logrus.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewAdaptiveLimiter(base *Limiter, logger *logrus.Logger) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		Limiter:      base,
		currentDelay: time.Second,
		minDelay:     DefaultMinDelay,
		maxDelay:     DefaultMaxDelay,
		logger:       logger,
		sleep:        sleepCtx,
	}
}

// RecordSendResult feeds one send outcome into the pacing state. throttled
// marks an explicit provider rate-abuse signal, which is respected
// immediately regardless of streak length.
func (a *AdaptiveLimiter) RecordSendResult(success bool, throttled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if success {
		a.consecutiveSuccesses++
		a.consecutiveFailures = 0

		if a.consecutiveSuccesses >= successesBeforeDecay {
			a.currentDelay = maxDuration(a.minDelay, scale(a.currentDelay, successDecayFactor))
			a.consecutiveSuccesses = 0
		}
		return
	}

	a.consecutiveFailures++
	a.consecutiveSuccesses = 0

	switch {
	case throttled:
		a.currentDelay = minDuration(a.maxDelay, scale(a.currentDelay, throttleBackoffFactor))
		a.logger.WithField("delay", a.currentDelay).Warn("throttling detected, increased send delay")
	case a.consecutiveFailures >= failuresBeforeBackoff:
		a.currentDelay = minDuration(a.maxDelay, scale(a.currentDelay, failureBackoffFactor))
		a.logger.WithField("delay", a.currentDelay).Warn("repeated failures, increased send delay")
	}
}

// CurrentDelay returns the pacing delay applied before the next send.
func (a *AdaptiveLimiter) CurrentDelay() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentDelay
}

// WaitBeforeSend applies the adaptive delay, honoring ctx cancellation.
func (a *AdaptiveLimiter) WaitBeforeSend(ctx context.Context) error {
	a.mu.Lock()
	delay := a.currentDelay
	min := a.minDelay
	a.mu.Unlock()

	if delay <= min {
		return nil
	}
	return a.sleep(ctx, delay)
}

// WaitForCapacity blocks until the hard limiter admits a send or ctx ends.
// Waits are capped at a minute per cycle so a far-off daily reset does not
// hold a goroutine for hours without re-checking.
func (a *AdaptiveLimiter) WaitForCapacity(ctx context.Context) error {
	for {
		wait := a.NextAvailable()
		if wait <= 0 {
			return nil
		}
		if wait > time.Minute {
			wait = time.Minute
		}
		if err := a.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// SendWithRetry runs sendFn under the full policy: block for capacity, apply
// the adaptive delay, commit the send into the windows, and retry failures
// with exponential backoff. After maxRetries additional attempts the last
// failure is propagated. maxRetries <= 0 uses the default of 3.
func (a *AdaptiveLimiter) SendWithRetry(ctx context.Context, sendFn func() error, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = defaultBackoffRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := a.WaitForCapacity(ctx); err != nil {
			return err
		}
		if err := a.WaitBeforeSend(ctx); err != nil {
			return err
		}

		a.RecordSent()
		err := sendFn()
		if err == nil {
			a.RecordSendResult(true, false)
			return nil
		}

		lastErr = err
		a.RecordSendResult(false, IsThrottleError(err))

		if attempt < maxRetries {
			backoff := minDuration(a.maxDelay,
				scale(a.CurrentDelay(), math.Pow(throttleBackoffFactor, float64(attempt))))
			a.logger.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"backoff": backoff,
			}).Warn("send attempt failed, retrying")
			if serr := a.sleep(ctx, backoff); serr != nil {
				return serr
			}
		}
	}

	a.logger.WithError(lastErr).Errorf("all %d send attempts failed", maxRetries+1)
	return lastErr
}

// Status returns the combined hard-limit and pacing snapshot.
func (a *AdaptiveLimiter) Status() AdaptiveStatus {
	rate := a.CurrentRate()

	a.mu.Lock()
	defer a.mu.Unlock()
	return AdaptiveStatus{
		Rate:                 rate,
		CurrentDelay:         a.currentDelay,
		ConsecutiveSuccesses: a.consecutiveSuccesses,
		ConsecutiveFailures:  a.consecutiveFailures,
		MinDelay:             a.minDelay,
		MaxDelay:             a.maxDelay,
	}
}

// ThrottleError is implemented by errors that carry an explicit provider
// throttling signal.
type ThrottleError interface {
	Throttled() bool
}

// IsThrottleError reports whether err explicitly signals provider throttling.
func IsThrottleError(err error) bool {
	var te ThrottleError
	return errors.As(err, &te) && te.Throttled()
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
