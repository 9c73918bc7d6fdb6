package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day without a time-of-day or location component.
// It is stored as a YYYY-MM-DD string so equality and uniqueness do not depend
// on how a database driver maps DATE columns to time zones.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// NewDate normalises out-of-range values the same way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC), time.UTC)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t, time.UTC), nil
}

func (d Date) midnightUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// StartIn returns the first instant of the day in loc.
func (d Date) StartIn(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.midnightUTC().AddDate(0, 0, n), time.UTC)
}

func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

func (d Date) Equal(o Date) bool { return d == o }

func (d Date) Before(o Date) bool { return d.midnightUTC().Before(o.midnightUTC()) }

func (d Date) After(o Date) bool { return d.midnightUTC().After(o.midnightUTC()) }

// FirstOfMonth returns day 1 of d's month.
func (d Date) FirstOfMonth() Date {
	return Date{Year: d.Year, Month: d.Month, Day: 1}
}

// LastOfMonth returns the final calendar day of d's month (28, 29, 30 or 31).
func (d Date) LastOfMonth() Date {
	return NewDate(d.Year, d.Month+1, 0)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case string:
		return d.parseInto(v)
	case []byte:
		return d.parseInto(string(v))
	case time.Time:
		*d = DateOf(v, time.UTC)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d *Date) parseInto(s string) error {
	if s == "" {
		*d = Date{}
		return nil
	}
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// GormDataType keeps the column portable across MySQL, PostgreSQL and SQLite.
func (Date) GormDataType() string {
	return "char(10)"
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parseInto(s)
}
