package domain

import (
	"errors"
	"time"
)

var (
	ErrEndBeforeStart = errors.New("end date before start date")
	ErrWindowFinished = errors.New("window already finished")
)

// Plan is one chat's gift window and its progress through it.
// All date fields are date-only values (midnight UTC, see DateOnly).
type Plan struct {
	ChatID       int64
	StartDate    time.Time
	EndDate      time.Time  // inclusive; EndDate >= StartDate
	NextDate     time.Time  // first not-yet-delivered day; past EndDate means the window is exhausted
	LastGiftDate *time.Time // most recently delivered day, nil before the first delivery
	CreatedAt    time.Time
}

// DateOnly truncates t to its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextDay returns the day after d.
func NextDay(d time.Time) time.Time { return d.AddDate(0, 0, 1) }

// MaxDate returns the later of two dates.
func MaxDate(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// Exhausted reports whether every day of the window has been handed out.
func (p *Plan) Exhausted() bool { return p.NextDate.After(p.EndDate) }

// Due reports whether the plan's next day should be delivered: the day is
// still inside the window and its fire time has already passed.
func (p *Plan) Due(now time.Time, clock DeliveryClock) bool {
	return !p.Exhausted() && !clock.FireAt(p.NextDate).After(now)
}

// AdvanceAfterDelivery records a delivered day. NextDate only ever moves
// forward: an on-demand delivery may hand out a date the schedule has not
// reached yet, or one it already passed, and neither may rewind the plan.
func (p *Plan) AdvanceAfterDelivery(delivered time.Time) {
	d := DateOnly(delivered)
	p.LastGiftDate = &d
	p.NextDate = MaxDate(p.NextDate, NextDay(d))
}

// IsOnDemandRepeat reports whether today's content already went out, in
// which case an on-demand request replays it without touching the plan.
func (p *Plan) IsOnDemandRepeat(today time.Time) bool {
	return p.LastGiftDate != nil && p.LastGiftDate.Equal(DateOnly(today))
}

// FirstDueDate returns the first day to deliver for a window starting at
// start when the plan is created on today: a window that already started
// begins with today's gift, not the missed ones.
func FirstDueDate(start, today time.Time) time.Time { return MaxDate(start, today) }

// ValidateWindow rejects a selection before anything is stored:
// the end may not precede the start, and the whole window may not
// lie in the past.
func ValidateWindow(start, end, today time.Time) error {
	if end.Before(start) {
		return ErrEndBeforeStart
	}
	if end.Before(today) {
		return ErrWindowFinished
	}
	return nil
}
