package generic

import (
	"fmt"
	"math"
	"time"
)

// =============================================================================
// DATES - Stays are booked with calendar dates or timestamps
// =============================================================================

// DateLayout is the calendar date format accepted from clients.
const DateLayout = "2006-01-02"

// ParseDate accepts either a calendar date (2006-01-02) or an RFC3339
// timestamp. Dates are interpreted in UTC.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(DateLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NightsBetween returns ceil((to - from) / 24h). A partial day counts as a
// full night. Returns 0 when to is not after from.
func NightsBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

func StartOfYear(year int) time.Time { return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC) }
