package ratelimit

import (
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeClock drives the limiter's time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(minuteMax, dailyMax int, clock *fakeClock) *Limiter {
	l := NewLimiter(minuteMax, dailyMax, nil, testLogger())
	l.now = clock.Now
	l.dailyResetAt = nextMidnight(clock.Now())
	return l
}

func TestMinuteWindowBlocksAtCap(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	l := newTestLimiter(3, 100, clock)

	for i := 0; i < 3; i++ {
		if !l.CanSend() {
			t.Fatalf("CanSend() = false after %d sends, want true", i)
		}
		l.RecordSent()
		clock.Advance(time.Second)
	}

	if l.CanSend() {
		t.Fatal("CanSend() = true at minute cap, want false")
	}
}

func TestMinuteWindowFreesWhenOldestExpires(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	l := newTestLimiter(2, 100, clock)

	l.RecordSent()
	clock.Advance(10 * time.Second)
	l.RecordSent()

	if l.CanSend() {
		t.Fatal("CanSend() = true at cap, want false")
	}

	// 61s after the oldest send the first slot must free again.
	clock.Advance(51 * time.Second)
	if !l.CanSend() {
		t.Fatal("CanSend() = false after oldest entry expired, want true")
	}

	rate := l.CurrentRate()
	if rate.MinuteCount != 1 {
		t.Fatalf("MinuteCount = %d, want 1", rate.MinuteCount)
	}
}

func TestDailyCapBlocksUntilReset(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 23, 50, 0, 0, time.UTC))
	l := newTestLimiter(100, 2, clock)

	l.RecordSent()
	clock.Advance(2 * time.Minute)
	l.RecordSent()

	if l.CanSend() {
		t.Fatal("CanSend() = true at daily cap, want false")
	}

	rate := l.CurrentRate()
	if rate.NextDaySlot == nil {
		t.Fatal("NextDaySlot is nil at daily cap")
	}

	// Crossing midnight resets the daily counter exactly once.
	clock.Advance(15 * time.Minute)
	if !l.CanSend() {
		t.Fatal("CanSend() = false after daily reset, want true")
	}
	if got := l.CurrentRate().DailyCount; got != 0 {
		t.Fatalf("DailyCount after reset = %d, want 0", got)
	}
}

func TestDailyResetIsIdempotentNearBoundary(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 23, 59, 0, 0, time.UTC))
	l := newTestLimiter(100, 100, clock)

	l.RecordSent()
	clock.Advance(2 * time.Minute)

	// Many accesses around the boundary must trigger only one reset.
	for i := 0; i < 10; i++ {
		l.CanSend()
	}
	l.RecordSent()

	if got := l.CurrentRate().DailyCount; got != 1 {
		t.Fatalf("DailyCount = %d, want 1 (single reset then one send)", got)
	}

	wantReset := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)
	if got := l.CurrentRate().DailyResetAt; !got.Equal(wantReset) {
		t.Fatalf("DailyResetAt = %v, want %v", got, wantReset)
	}
}

func TestTryAcquireNeverExceedsCapUnderConcurrency(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	l := newTestLimiter(5, 1000, clock)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 5 {
		t.Fatalf("admitted %d sends, want exactly 5", admitted)
	}
}

func TestStateSurvivesRestartViaFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rate_state.json")

	// Real wall clock here: the restoring limiter evicts stale entries
	// against time.Now before a test clock could be injected.
	store := NewFileStore(path)
	l := NewLimiter(10, 100, store, testLogger())

	for i := 0; i < 4; i++ {
		l.RecordSent()
	}

	// Simulate a restart: a fresh limiter restores the persisted windows.
	restored := NewLimiter(10, 100, NewFileStore(path), testLogger())

	rate := restored.CurrentRate()
	if rate.DailyCount != 4 {
		t.Fatalf("restored DailyCount = %d, want 4", rate.DailyCount)
	}
	if rate.MinuteCount != 4 {
		t.Fatalf("restored MinuteCount = %d, want 4", rate.MinuteCount)
	}
}

func TestFileStoreMissingFileIsClean(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	_, ok, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if ok {
		t.Fatal("Load() ok = true for missing file, want false")
	}
}

func TestNextAvailableReportsMinuteSlot(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	l := newTestLimiter(1, 100, clock)

	l.RecordSent()
	clock.Advance(20 * time.Second)

	got := l.NextAvailable()
	if got != 40*time.Second {
		t.Fatalf("NextAvailable() = %v, want 40s", got)
	}
}
