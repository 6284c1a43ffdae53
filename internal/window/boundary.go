// Package window computes the local-time reset boundaries that scope
// time-windowed allowances.
//
// A daily window does not start at midnight. It starts at DailyHour in
// Location, so an instant whose local hour is before DailyHour belongs to
// the previous day's window. Weekly windows start at WeeklyHour on
// WeeklyDay, also in local time.
package window

import "time"

// Boundary describes when daily and weekly windows roll over.
type Boundary struct {
	DailyHour  int
	WeeklyDay  time.Weekday
	WeeklyHour int
	Location   *time.Location
}

// Default is 04:00 daily and Monday 04:00 weekly in the local zone.
func Default() Boundary {
	return Boundary{DailyHour: 4, WeeklyDay: time.Monday, WeeklyHour: 4, Location: time.Local}
}

func (b Boundary) loc() *time.Location {
	if b.Location == nil {
		return time.Local
	}
	return b.Location
}

// DayStart returns the start of the daily window containing t.
func (b Boundary) DayStart(t time.Time) time.Time {
	local := t.In(b.loc())
	start := time.Date(local.Year(), local.Month(), local.Day(), b.DailyHour, 0, 0, 0, b.loc())
	if local.Before(start) {
		start = time.Date(local.Year(), local.Month(), local.Day()-1, b.DailyHour, 0, 0, 0, b.loc())
	}
	return start
}

// NextDailyReset returns the first daily boundary strictly after t.
func (b Boundary) NextDailyReset(t time.Time) time.Time {
	start := b.DayStart(t)
	return time.Date(start.Year(), start.Month(), start.Day()+1, b.DailyHour, 0, 0, 0, b.loc())
}

// WeekStart returns the start of the weekly window containing t.
func (b Boundary) WeekStart(t time.Time) time.Time {
	local := t.In(b.loc())
	back := (int(local.Weekday()) - int(b.WeeklyDay) + 7) % 7
	start := time.Date(local.Year(), local.Month(), local.Day()-back, b.WeeklyHour, 0, 0, 0, b.loc())
	if local.Before(start) {
		start = time.Date(start.Year(), start.Month(), start.Day()-7, b.WeeklyHour, 0, 0, 0, b.loc())
	}
	return start
}

// NextWeeklyReset returns the first weekly boundary strictly after t.
func (b Boundary) NextWeeklyReset(t time.Time) time.Time {
	start := b.WeekStart(t)
	return time.Date(start.Year(), start.Month(), start.Day()+7, b.WeeklyHour, 0, 0, 0, b.loc())
}

// SameDay reports whether a and b fall in the same daily window.
func (b Boundary) SameDay(x, y time.Time) bool {
	return b.DayStart(x).Equal(b.DayStart(y))
}
