package engine

import (
	"errors"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var (
	ErrInvalidDate = errors.New("invalid date")
	ErrPastDate    = errors.New("date is in the past")
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// startOfDay returns midnight UTC of the calendar day t falls on in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// parseTravelDate resolves a free-text date against today, which must be a
// UTC midnight. The result is also a UTC midnight and never before today.
func parseTravelDate(input string, today time.Time) (time.Time, error) {
	s := strings.ToLower(strings.Join(strings.Fields(input), " "))

	var date time.Time
	switch {
	case s == "today":
		date = today
	case s == "tomorrow":
		date = today.AddDate(0, 0, 1)
	case strings.HasPrefix(s, "next "):
		wd, ok := weekdays[strings.TrimPrefix(s, "next ")]
		if !ok {
			return time.Time{}, ErrInvalidDate
		}
		ahead := (int(wd) - int(today.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		date = today.AddDate(0, 0, ahead)
	default:
		t, err := time.Parse(dateLayout, s)
		if err != nil || t.Format(dateLayout) != s {
			return time.Time{}, ErrInvalidDate
		}
		date = t
	}

	if date.Before(today) {
		return time.Time{}, ErrPastDate
	}
	return date, nil
}
