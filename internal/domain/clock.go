package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DeliveryClock is the fixed daily send time: a time-of-day in a fixed
// timezone. It is explicit configuration handed to whoever schedules or
// checks deliveries, never an ambient global.
type DeliveryClock struct {
	Hour   int
	Minute int
	Loc    *time.Location
}

// NewDeliveryClock parses an "HH:MM" time and an IANA timezone name.
func NewDeliveryClock(hhmm, tz string) (DeliveryClock, error) {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return DeliveryClock{}, fmt.Errorf("delivery time: %w", err)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return DeliveryClock{}, fmt.Errorf("delivery timezone: %w", err)
	}
	return DeliveryClock{Hour: h, Minute: m, Loc: loc}, nil
}

// FireAt combines a calendar date with the delivery time-of-day.
func (c DeliveryClock) FireAt(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour, c.Minute, 0, 0, c.Loc)
}

// Today returns the current calendar date in the delivery timezone.
func (c DeliveryClock) Today(now time.Time) time.Time {
	return DateOnly(now.In(c.Loc))
}

// String formats the send time as HH:MM for user-facing messages.
func (c DeliveryClock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, errors.New("expected HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, errors.New("invalid hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, errors.New("invalid minute")
	}
	return h, m, nil
}
