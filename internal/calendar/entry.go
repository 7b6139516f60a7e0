package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dailytrader/internal/tradeerr"
)

// ClosedMarker is the time-spec value of a day the exchange does not trade.
const ClosedMarker = "CLOSED"

// Date is a civil calendar day with no time-of-day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d%02d", c.Hour, c.Minute)
}

func (c Clock) before(o Clock) bool {
	return c.Hour*60+c.Minute < o.Hour*60+o.Minute
}

// Range is one contiguous trading window in exchange local time.
type Range struct {
	StartDate Date
	Start     Clock
	EndDate   Date
	End       Clock
}

// Entry is one parsed schedule record: either Closed, or open with at least one Range.
type Entry struct {
	Date   Date
	Closed bool
	Ranges []Range
}

// ParseEntry parses "YYYYMMDD:CLOSED" or "YYYYMMDD:HHMM-YYYYMMDD:HHMM[,...]". Ranges
// after the first may repeat their start date: "...,YYYYMMDD:HHMM-YYYYMMDD:HHMM".
func ParseEntry(raw string) (Entry, error) {
	dateTok, spec, ok := strings.Cut(raw, ":")
	if !ok {
		return Entry{}, tradeerr.New(tradeerr.Data, "parse schedule entry", "%q: missing ':' separator", raw)
	}
	date, err := parseDate(dateTok)
	if err != nil {
		return Entry{}, tradeerr.Wrap(tradeerr.Data, "parse schedule entry", fmt.Errorf("%q: %w", raw, err))
	}
	if spec == ClosedMarker {
		return Entry{Date: date, Closed: true}, nil
	}
	if spec == "" {
		return Entry{}, tradeerr.New(tradeerr.Data, "parse schedule entry", "%q: empty time spec", raw)
	}

	entry := Entry{Date: date}
	for _, part := range strings.Split(spec, ",") {
		r, err := parseRange(date, part)
		if err != nil {
			return Entry{}, tradeerr.Wrap(tradeerr.Data, "parse schedule entry", fmt.Errorf("%q: %w", raw, err))
		}
		entry.Ranges = append(entry.Ranges, r)
	}
	return entry, nil
}

// FormatOpen renders a single-range open day in the feed grammar.
func FormatOpen(d Date, open, close Clock) string {
	return fmt.Sprintf("%s:%s-%s:%s", d, open, d, close)
}

func FormatClosed(d Date) string {
	return d.String() + ":" + ClosedMarker
}

func parseRange(start Date, s string) (Range, error) {
	startTok, endTok, ok := strings.Cut(s, "-")
	if !ok {
		return Range{}, fmt.Errorf("range %q: missing '-'", s)
	}
	if dateTok, clockTok, ok := strings.Cut(startTok, ":"); ok {
		d, err := parseDate(dateTok)
		if err != nil {
			return Range{}, err
		}
		start, startTok = d, clockTok
	}
	startClock, err := parseClock(startTok)
	if err != nil {
		return Range{}, err
	}
	endDateTok, endClockTok, ok := strings.Cut(endTok, ":")
	if !ok {
		return Range{}, fmt.Errorf("range %q: missing end date", s)
	}
	endDate, err := parseDate(endDateTok)
	if err != nil {
		return Range{}, err
	}
	endClock, err := parseClock(endClockTok)
	if err != nil {
		return Range{}, err
	}
	return Range{StartDate: start, Start: startClock, EndDate: endDate, End: endClock}, nil
}

func parseDate(s string) (Date, error) {
	if len(s) != 8 || !allDigits(s) {
		return Date{}, fmt.Errorf("date %q: want 8 digits YYYYMMDD", s)
	}
	y, _ := strconv.Atoi(s[0:4])
	m, _ := strconv.Atoi(s[4:6])
	d, _ := strconv.Atoi(s[6:8])
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return Date{}, fmt.Errorf("date %q: not a calendar day", s)
	}
	return Date{Year: y, Month: time.Month(m), Day: d}, nil
}

func parseClock(s string) (Clock, error) {
	if len(s) != 4 || !allDigits(s) {
		return Clock{}, fmt.Errorf("time %q: want 4 digits HHMM", s)
	}
	h, _ := strconv.Atoi(s[0:2])
	m, _ := strconv.Atoi(s[2:4])
	if h > 23 || m > 59 {
		return Clock{}, fmt.Errorf("time %q: out of range", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
