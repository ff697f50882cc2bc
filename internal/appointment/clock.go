package appointment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout    = "2006-01-02"
	minutesPerDay = 24 * 60
)

// Date is a calendar day with no time-of-day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Message: fmt.Sprintf("%q is not a YYYY-MM-DD date", s)}
	}
	return DateOf(t), nil
}

// DateOf returns the wall-clock day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.time().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool { return d.time().Before(o.time()) }

func (d Date) After(o Date) bool { return d.time().After(o.time()) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Clock is a minute-level wall-clock time of day, stored as minutes since midnight.
type Clock int

// EndOfDay is midnight at the end of a day. It may close a window but never
// starts a slot.
const EndOfDay Clock = minutesPerDay

// ParseClock accepts HH:MM and HH:MM:SS with zero seconds, plus 24:00.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" || s == "24:00:00" {
		return EndOfDay, nil
	}
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err := time.Parse(layout, s)
		if err != nil || t.Second() != 0 {
			continue
		}
		return Clock(t.Hour()*60 + t.Minute()), nil
	}
	return 0, &ValidationError{Field: "time", Message: fmt.Sprintf("%q is not a HH:MM time", s)}
}

func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) Add(minutes int) Clock { return c + Clock(minutes) }

// Valid reports whether c is a time of day a slot can start at.
func (c Clock) Valid() bool { return c >= 0 && c < minutesPerDay }

// ValidEnd reports whether c can close a window.
func (c Clock) ValidEnd() bool { return c > 0 && c <= EndOfDay }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Instant is a booked wall-clock moment: a day plus a time of day.
type Instant struct {
	Date Date
	Time Clock
}

// ParseInstant accepts "YYYY-MM-DD HH:MM" or "YYYY-MM-DDTHH:MM".
func ParseInstant(s string) (Instant, error) {
	s = strings.Replace(strings.TrimSpace(s), "T", " ", 1)
	datePart, timePart, ok := strings.Cut(s, " ")
	if !ok {
		return Instant{}, &ValidationError{Field: "scheduled_at", Message: fmt.Sprintf("%q is not a date and time", s)}
	}
	d, err := ParseDate(datePart)
	if err != nil {
		return Instant{}, err
	}
	c, err := ParseClock(timePart)
	if err != nil {
		return Instant{}, err
	}
	return Instant{Date: d, Time: c}, nil
}

func (i Instant) String() string {
	return i.Date.String() + " " + i.Time.String()
}

func (i Instant) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Date.String() + "T" + i.Time.String())
}

func (i *Instant) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseInstant(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
