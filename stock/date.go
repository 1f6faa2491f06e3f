/*
PURPOSE:
  Calendar-day handling for snapshots and resolution. All day boundaries in
  the engine are UTC: a Date is midnight UTC of its day, and EndOfDay is the
  last representable instant before the next midnight. Keeping the boundary
  math in one place means the materializer, the resolver and the stores can
  never disagree about which transactions belong to which day.

SEE ALSO:
  - resolver.go: uses EndOfDay as the inclusive upper bound of a day's ledger
  - materializer.go: refuses to materialize a day that has not fully elapsed
*/
package stock

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format for calendar days.
const DateLayout = "2006-01-02"

// Date is a calendar day, normalized to midnight UTC.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a strict YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{t: t.UTC()}, nil
}

// DateOf truncates an instant to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// Today is the current UTC calendar day.
func Today() Date {
	return DateOf(time.Now())
}

func (d Date) AddDays(n int) Date   { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) Before(o Date) bool   { return d.t.Before(o.t) }
func (d Date) After(o Date) bool    { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool    { return d.t.Equal(o.t) }
func (d Date) IsZero() bool         { return d.t.IsZero() }
func (d Date) Midnight() time.Time  { return d.t }
func (d Date) String() string       { return d.t.Format(DateLayout) }

// EndOfDay is the inclusive upper bound of the day: the last nanosecond
// before the next midnight.
func (d Date) EndOfDay() time.Time {
	return d.t.Add(24*time.Hour - time.Nanosecond)
}
