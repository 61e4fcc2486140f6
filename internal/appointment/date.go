package appointment

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

var weekdayNames = [...]string{
	time.Sunday:    "sunday",
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
}

// DayRange is the inclusive [00:00:00, 23:59:59] window of one civil day.
type DayRange struct {
	Start time.Time
	End   time.Time
}

// Day drops the clock and zone, keeping the calendar date as read in t's own
// location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StoredDay reads the civil day of a value loaded from the database. The
// driver may hand back the UTC midnight instant in time.Local, so the date is
// taken in UTC.
func StoredDay(t time.Time) time.Time {
	return Day(t.UTC())
}

func DayRangeFor(t time.Time) DayRange {
	start := Day(t)
	return DayRange{Start: start, End: start.Add(24*time.Hour - time.Second)}
}

// WeekdayName returns the fixed lowercase English name of the day's weekday.
func WeekdayName(t time.Time) string {
	return weekdayNames[Day(t).Weekday()]
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns the civil day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Day(t), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
}

func FormatDate(t time.Time) string {
	return Day(t).Format(DateLayout)
}

// StartIn returns the first instant of the civil day in loc.
func StartIn(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
