// Package liturgy computes date-derived liturgical facts: the date of Easter
// and the moveable feasts that depend on it, and the sub-season windows that
// overlay the season supplied by the calendar.
//
// Every function here is pure. Dates are reduced to their calendar day in UTC
// before any comparison, so the time of day and location of the input never
// change the result.
package liturgy

import (
	"fmt"
	"strings"
	"time"

	"cantor/internal/domain"
)

const (
	pentecostOffset = 49
	ascensionOffset = 39

	lateLentDays        = 14
	pentecostNovenaDays = 9
)

// InvalidDateError reports a date string that is not a calendar date.
type InvalidDateError struct {
	Value string
	Err   error
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid date %q: expected YYYY-MM-DD", e.Value)
}

func (e *InvalidDateError) Unwrap() error { return e.Err }

// ParseDate parses a YYYY-MM-DD string into a UTC calendar day.
func ParseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	t, err := time.Parse(domain.DateLayout, v)
	if err != nil {
		return time.Time{}, &InvalidDateError{Value: v, Err: err}
	}
	return t, nil
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Easter returns Easter Sunday of the given year in the Gregorian calendar
// (anonymous Gregorian algorithm).
func Easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// Pentecost is the fiftieth day of Easter.
func Pentecost(year int) time.Time {
	return Easter(year).AddDate(0, 0, pentecostOffset)
}

// Ascension is the fortieth day of Easter.
func Ascension(year int) time.Time {
	return Easter(year).AddDate(0, 0, ascensionOffset)
}

type window struct {
	sub      domain.SubSeason
	contains func(day time.Time) bool
}

var windows = []window{
	{domain.SubSeasonLateAdvent, monthDayRange(time.December, 17, time.December, 24)},
	{domain.SubSeasonChristmasOctave, monthDayRange(time.December, 25, time.December, 31)},
	{domain.SubSeasonUnityWeek, monthDayRange(time.January, 18, time.January, 25)},
	{domain.SubSeasonLateLent, daysBefore(Easter, lateLentDays)},
	{domain.SubSeasonPentecostNovena, daysBefore(Pentecost, pentecostNovenaDays)},
}

// Classify returns the sub-seasons active on date, in declaration order.
// The result is never nil.
func Classify(date time.Time) []domain.SubSeason {
	day := Day(date)
	out := []domain.SubSeason{}
	for _, w := range windows {
		if w.contains(day) {
			out = append(out, w.sub)
		}
	}
	return out
}

// IsMay reports whether date falls in May, the month of Marian devotion.
func IsMay(date time.Time) bool {
	return date.Month() == time.May
}

// monthDayRange matches inclusive (month, day) bounds regardless of year.
func monthDayRange(fromMonth time.Month, fromDay int, toMonth time.Month, toDay int) func(time.Time) bool {
	from := int(fromMonth)*100 + fromDay
	to := int(toMonth)*100 + toDay
	return func(day time.Time) bool {
		md := int(day.Month())*100 + day.Day()
		return md >= from && md <= to
	}
}

// daysBefore matches the n days strictly before the feast of the same year.
func daysBefore(feast func(year int) time.Time, n int) func(time.Time) bool {
	return func(day time.Time) bool {
		until := int(feast(day.Year()).Sub(day).Hours() / 24)
		return until >= 1 && until <= n
	}
}
