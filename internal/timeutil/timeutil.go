package timeutil

import (
	"errors"
	"time"
)

var ErrInvalidWindow = errors.New("invalid window")

// Window represents a half-open [start, end) interval anchored to a location.
type Window struct {
	label string
	start time.Time
	end   time.Time
	loc   *time.Location
}

// EnsureLocation returns UTC when loc is nil.
func EnsureLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// DayWindow returns the calendar-day-so-far window [local midnight, now).
func DayWindow(now time.Time, loc *time.Location) Window {
	loc = EnsureLocation(loc)
	now = now.In(loc)
	return Window{
		label: "day",
		start: TruncateToDay(now, loc),
		end:   now,
		loc:   loc,
	}
}

// MonthWindow returns the calendar-month-so-far window [1st 00:00 local, now).
func MonthWindow(now time.Time, loc *time.Location) Window {
	loc = EnsureLocation(loc)
	now = now.In(loc)
	return Window{
		label: "month",
		start: TruncateToMonth(now, loc),
		end:   now,
		loc:   loc,
	}
}

// NewWindowFromRange constructs a window covering the provided [start, end) bounds.
func NewWindowFromRange(start, end time.Time, loc *time.Location, label string) (Window, error) {
	loc = EnsureLocation(loc)
	start = start.In(loc)
	end = end.In(loc)
	if !end.After(start) {
		return Window{}, ErrInvalidWindow
	}
	if label == "" {
		label = "custom"
	}
	return Window{
		label: label,
		start: start,
		end:   end,
		loc:   loc,
	}, nil
}

// Label returns the window label ("day", "month", ...).
func (w Window) Label() string { return w.label }

// Start returns the inclusive start of the window.
func (w Window) Start() time.Time { return w.start }

// End returns the exclusive end of the window.
func (w Window) End() time.Time { return w.end }

// Bounds returns the start/end timestamps.
func (w Window) Bounds() (time.Time, time.Time) { return w.start, w.end }

// Location returns the reporting timezone for the window.
func (w Window) Location() *time.Location { return EnsureLocation(w.loc) }

// Timezone returns the location name for JSON responses.
func (w Window) Timezone() string { return w.Location().String() }

// StartString returns the start timestamp formatted as RFC3339 in the window's zone.
func (w Window) StartString() string { return w.start.In(w.Location()).Format(time.RFC3339) }

// EndString returns the end timestamp formatted as RFC3339 in the window's zone.
func (w Window) EndString() string { return w.end.In(w.Location()).Format(time.RFC3339) }

// Duration returns the window length.
func (w Window) Duration() time.Duration { return w.end.Sub(w.start) }

// Contains reports whether the timestamp falls within [start, end).
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.start) && ts.Before(w.end)
}

// TruncateToDay normalizes the timestamp to midnight in the provided zone.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// TruncateToMonth normalizes the timestamp to the first of its month in the provided zone.
func TruncateToMonth(t time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// NextMidnight returns the first instant of the following calendar day.
// AddDate handles DST shifts, so the result may be 23 or 25 hours away.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	return TruncateToDay(t, loc).AddDate(0, 0, 1)
}

// NextMonthStart returns the first instant of the following calendar month.
func NextMonthStart(t time.Time, loc *time.Location) time.Time {
	return TruncateToMonth(t, loc).AddDate(0, 1, 0)
}
