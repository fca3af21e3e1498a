package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type throttleErr struct{ msg string }

func (e *throttleErr) Error() string   { return e.msg }
func (e *throttleErr) Throttled() bool { return true }

func newTestAdaptive() *AdaptiveLimiter {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	base := newTestLimiter(1000, 100000, clock)
	a := NewAdaptiveLimiter(base, testLogger())
	a.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return a
}

func TestFiveSuccessesDecayDelayByTenPercent(t *testing.T) {
	a := newTestAdaptive()
	a.currentDelay = 10 * time.Second

	for i := 0; i < 4; i++ {
		a.RecordSendResult(true, false)
		if got := a.CurrentDelay(); got != 10*time.Second {
			t.Fatalf("delay changed after %d successes: %v", i+1, got)
		}
	}

	a.RecordSendResult(true, false)
	if got := a.CurrentDelay(); got != 9*time.Second {
		t.Fatalf("delay after 5 successes = %v, want 9s", got)
	}

	// The streak resets; five more successes are needed for the next decay.
	a.RecordSendResult(true, false)
	if got := a.CurrentDelay(); got != 9*time.Second {
		t.Fatalf("delay after 6th success = %v, want 9s", got)
	}
}

func TestDecayFloorsAtMinDelay(t *testing.T) {
	a := newTestAdaptive()
	a.currentDelay = a.minDelay

	for i := 0; i < 25; i++ {
		a.RecordSendResult(true, false)
	}
	if got := a.CurrentDelay(); got != a.minDelay {
		t.Fatalf("delay decayed below floor: %v < %v", got, a.minDelay)
	}
}

func TestThrottleBacksOffImmediately(t *testing.T) {
	a := newTestAdaptive()
	a.currentDelay = 2 * time.Second

	// A long success streak must not soften the throttling response.
	for i := 0; i < 4; i++ {
		a.RecordSendResult(true, false)
	}
	a.RecordSendResult(false, true)

	if got := a.CurrentDelay(); got != 4*time.Second {
		t.Fatalf("delay after throttle = %v, want 4s", got)
	}
	if a.Status().ConsecutiveSuccesses != 0 {
		t.Fatal("success streak not reset by failure")
	}
}

func TestTransientFailuresBackOffAfterThree(t *testing.T) {
	a := newTestAdaptive()
	a.currentDelay = 2 * time.Second

	a.RecordSendResult(false, false)
	a.RecordSendResult(false, false)
	if got := a.CurrentDelay(); got != 2*time.Second {
		t.Fatalf("delay grew before third failure: %v", got)
	}

	a.RecordSendResult(false, false)
	if got := a.CurrentDelay(); got != 3*time.Second {
		t.Fatalf("delay after 3 failures = %v, want 3s", got)
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	a := newTestAdaptive()
	a.currentDelay = 20 * time.Second

	a.RecordSendResult(false, true)
	if got := a.CurrentDelay(); got != a.maxDelay {
		t.Fatalf("delay after throttle = %v, want cap %v", got, a.maxDelay)
	}
}

func TestSendWithRetryPropagatesLastFailure(t *testing.T) {
	a := newTestAdaptive()

	attempts := 0
	wantErr := errors.New("smtp 451: temporary failure")
	err := a.SendWithRetry(context.Background(), func() error {
		attempts++
		return wantErr
	}, 2)

	if !errors.Is(err, wantErr) {
		t.Fatalf("SendWithRetry() = %v, want last failure %v", err, wantErr)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (initial + 2 retries)", attempts)
	}
}

func TestSendWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	a := newTestAdaptive()

	attempts := 0
	err := a.SendWithRetry(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return &throttleErr{msg: "429 too many requests"}
		}
		return nil
	}, 3)

	if err != nil {
		t.Fatalf("SendWithRetry() = %v, want nil", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	// The throttled first attempt must have grown the delay.
	if got := a.CurrentDelay(); got != 2*time.Second {
		t.Fatalf("delay after one throttle = %v, want 2s", got)
	}
}

func TestSendWithRetryHonorsContextCancellation(t *testing.T) {
	a := newTestAdaptive()
	a.sleep = sleepCtx // real sleeps so cancellation is observable
	a.currentDelay = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.SendWithRetry(ctx, func() error { return errors.New("boom") }, 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("SendWithRetry() = %v, want context.Canceled", err)
	}
}

func TestIsThrottleError(t *testing.T) {
	if !IsThrottleError(&throttleErr{msg: "x"}) {
		t.Fatal("IsThrottleError(throttleErr) = false, want true")
	}
	if IsThrottleError(errors.New("plain")) {
		t.Fatal("IsThrottleError(plain error) = true, want false")
	}
}
