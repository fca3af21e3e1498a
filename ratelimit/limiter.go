// Package ratelimit gates every outbound send against a sliding per-minute
// window and a calendar-day quota, with an adaptive pacing layer driven by
// provider feedback.
package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Rate is the limiter status snapshot exposed on the status endpoints.
type Rate struct {
	MinuteCount    int        `json:"current_minute_count"`
	MinuteMax      int        `json:"max_per_minute"`
	DailyCount     int        `json:"current_daily_count"`
	DailyMax       int        `json:"max_per_day"`
	CanSendNow     bool       `json:"can_send_now"`
	NextMinuteSlot *time.Time `json:"next_minute_slot,omitempty"`
	NextDaySlot    *time.Time `json:"next_day_slot,omitempty"`
	DailyResetAt   time.Time  `json:"daily_reset_time"`
}

// Limiter enforces the hard per-minute and per-day caps. All methods are
// safe for concurrent use; TryAcquire checks and commits under one lock so
// two concurrent senders cannot both observe the last free slot.
type Limiter struct {
	mu sync.Mutex

	minuteMax int
	dailyMax  int

	minuteWindow []time.Time // FIFO of send timestamps in the trailing minute
	dailyCount   int
	dailyResetAt time.Time

	store  StateStore
	logger *logrus.Logger
	now    func() time.Time
}

// NewLimiter restores persisted state from the store, if any, so limits
// survive restarts.
func NewLimiter(minuteMax, dailyMax int, store StateStore, logger *logrus.Logger) *Limiter {
	l := &Limiter{
		minuteMax: minuteMax,
		dailyMax:  dailyMax,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}

	l.dailyResetAt = nextMidnight(l.now())

	if store != nil {
		state, ok, err := store.Load()
		if err != nil {
			logger.WithError(err).Error("failed to load rate limiter state")
		} else if ok {
			l.dailyCount = state.DailyCount
			if !state.DailyResetAt.IsZero() {
				l.dailyResetAt = state.DailyResetAt
			}
			l.minuteWindow = state.MinuteWindow
			l.cleanup(l.now())
			logger.WithFields(logrus.Fields{
				"daily_count": l.dailyCount,
				"in_window":   len(l.minuteWindow),
			}).Info("rate limiter state restored")
		}
	}

	logger.WithFields(logrus.Fields{
		"per_minute": minuteMax,
		"per_day":    dailyMax,
	}).Info("rate limiter initialized")
	return l
}

// CanSend reports whether sending now would violate either window. It has
// no side effect beyond lazy eviction and a pending daily reset.
func (l *Limiter) CanSend() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanup(l.now())
	return l.canSendLocked()
}

// RecordSent commits one send into both windows and persists the state.
func (l *Limiter) RecordSent() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.recordLocked(l.now())
}

// TryAcquire checks capacity and, when available, commits the send in one
// critical section. Callers that get false must retry later; denial is
// expected flow, not an error.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)
	if !l.canSendLocked() {
		return false
	}
	l.recordLocked(now)
	return true
}

// CurrentRate returns the limiter snapshot, including when the next slot
// frees up if a cap is currently reached.
func (l *Limiter) CurrentRate() Rate {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanup(l.now())

	r := Rate{
		MinuteCount:  len(l.minuteWindow),
		MinuteMax:    l.minuteMax,
		DailyCount:   l.dailyCount,
		DailyMax:     l.dailyMax,
		CanSendNow:   l.canSendLocked(),
		DailyResetAt: l.dailyResetAt,
	}
	if len(l.minuteWindow) >= l.minuteMax && len(l.minuteWindow) > 0 {
		slot := l.minuteWindow[0].Add(time.Minute)
		r.NextMinuteSlot = &slot
	}
	if l.dailyCount >= l.dailyMax {
		slot := l.dailyResetAt
		r.NextDaySlot = &slot
	}
	return r
}

// NextAvailable returns how long from now until a send could be admitted.
// Zero means a slot is free already.
func (l *Limiter) NextAvailable() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)
	if l.canSendLocked() {
		return 0
	}
	if l.dailyCount >= l.dailyMax {
		return l.dailyResetAt.Sub(now)
	}
	return l.minuteWindow[0].Add(time.Minute).Sub(now)
}

// Reset clears all counters. Admin/testing use only.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.minuteWindow = nil
	l.dailyCount = 0
	l.dailyResetAt = nextMidnight(l.now())
	l.persistLocked()
	l.logger.Info("rate limiting counters reset")
}

func (l *Limiter) canSendLocked() bool {
	if len(l.minuteWindow) >= l.minuteMax {
		l.logger.WithFields(logrus.Fields{
			"in_window": len(l.minuteWindow),
			"max":       l.minuteMax,
		}).Warn("minute rate limit reached")
		return false
	}
	if l.dailyCount >= l.dailyMax {
		l.logger.WithFields(logrus.Fields{
			"daily_count": l.dailyCount,
			"max":         l.dailyMax,
		}).Warn("daily rate limit reached")
		return false
	}
	return true
}

func (l *Limiter) recordLocked(now time.Time) {
	l.minuteWindow = append(l.minuteWindow, now)
	l.dailyCount++
	l.persistLocked()
}

// cleanup evicts minute-window entries older than 60 seconds and applies a
// pending daily reset. The reset is a forward-only comparison detected
// lazily on access; crossing the boundary resets exactly once.
func (l *Limiter) cleanup(now time.Time) {
	cutoff := now.Add(-time.Minute)
	evicted := 0
	for len(l.minuteWindow) > 0 && l.minuteWindow[0].Before(cutoff) {
		l.minuteWindow = l.minuteWindow[1:]
		evicted++
	}

	if !now.Before(l.dailyResetAt) {
		l.dailyCount = 0
		l.dailyResetAt = nextMidnight(now)
		l.logger.Info("daily rate limit counter reset")
		l.persistLocked()
	} else if evicted > 0 {
		l.persistLocked()
	}
}

func (l *Limiter) persistLocked() {
	if l.store == nil {
		return
	}
	state := persistedState{
		DailyCount:   l.dailyCount,
		DailyResetAt: l.dailyResetAt,
		MinuteWindow: append([]time.Time(nil), l.minuteWindow...),
	}
	if err := l.store.Save(state); err != nil {
		// Persist failures under-count at worst; sending continues.
		l.logger.WithError(err).Error("failed to save rate limiter state")
	}
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
