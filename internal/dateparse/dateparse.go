// Package dateparse turns relative and absolute date strings into the
// instant a time filter should start from.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/sprout/internal/window"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseSince returns the start of the range named by input, relative to now.
// Day-sized inputs snap to the daily boundary of b, so "today" begins at
// the morning reset rather than at midnight.
//
// Supported formats:
//   - Exact dates: "2026-03-01" (that day's window start)
//   - Relative offsets: "-6h", "-2d", "-1w"
//   - Keywords: "today", "yesterday", "this-week", "last-week"
//   - Day names: "monday", "tuesday", etc. (most recent past occurrence)
func ParseSince(input string, now time.Time, b window.Boundary) (time.Time, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return time.Time{}, fmt.Errorf("empty date input")
	}
	loc := b.Location
	if loc == nil {
		loc = time.Local
	}

	if d, err := time.ParseInLocation("2006-01-02", input, loc); err == nil {
		return time.Date(d.Year(), d.Month(), d.Day(), b.DailyHour, 0, 0, 0, loc), nil
	}

	switch input {
	case "today":
		return b.DayStart(now), nil
	case "yesterday":
		return b.DayStart(b.DayStart(now).Add(-time.Second)), nil
	case "this-week":
		return b.WeekStart(now), nil
	case "last-week":
		return b.WeekStart(b.WeekStart(now).Add(-time.Second)), nil
	}

	if strings.HasPrefix(input, "-") && len(input) >= 3 {
		unit := input[len(input)-1]
		n, err := strconv.Atoi(input[1 : len(input)-1])
		if err == nil && n >= 0 {
			switch unit {
			case 'h':
				return now.Add(-time.Duration(n) * time.Hour), nil
			case 'd':
				return now.AddDate(0, 0, -n), nil
			case 'w':
				return now.AddDate(0, 0, -7*n), nil
			default:
				return time.Time{}, fmt.Errorf("unknown relative unit %q in %q (use h, d, or w)", string(unit), input)
			}
		}
	}

	if target, ok := weekdays[input]; ok {
		today := b.DayStart(now)
		back := (int(today.Weekday()) - int(target) + 7) % 7
		if back == 0 {
			back = 7
		}
		return today.AddDate(0, 0, -back), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date format: %q", input)
}
