package calendar

import (
	"fmt"
	"strings"
	"time"

	"dailytrader/internal/tradeerr"
)

// Preset describes the exchange a calendar belongs to.
type Preset struct {
	Name     string
	Timezone string
	Open     Clock
	Close    Clock
	// FeedHours uses the hours carried by each entry instead of Open/Close.
	FeedHours bool
}

var (
	ASX  = Preset{Name: "ASX", Timezone: "Australia/Sydney", Open: Clock{Hour: 10}, Close: Clock{Hour: 16}}
	NYSE = Preset{Name: "NYSE", Timezone: "America/New_York", Open: Clock{Hour: 9, Minute: 30}, Close: Clock{Hour: 16}}
)

func LookupPreset(name string) (Preset, error) {
	switch strings.ToUpper(name) {
	case ASX.Name:
		return ASX, nil
	case NYSE.Name:
		return NYSE, nil
	default:
		return Preset{}, fmt.Errorf("unknown exchange: %s", name)
	}
}

// Session is one trading day resolved to absolute instants.
type Session struct {
	Open  time.Time
	Close time.Time
}

type Calendar struct {
	preset   Preset
	loc      *time.Location
	closed   []Date
	sessions []Session
}

// Parse builds a calendar from raw schedule entries. Any malformed entry, a timezone
// that is not the preset's, or an unresolvable local time fails the whole parse.
func Parse(preset Preset, loc *time.Location, raw []string) (*Calendar, error) {
	if loc == nil || loc.String() != preset.Timezone {
		name := "<nil>"
		if loc != nil {
			name = loc.String()
		}
		return nil, tradeerr.New(tradeerr.Data, "parse calendar", "%s timezone mismatch: got %s, want %s", preset.Name, name, preset.Timezone)
	}

	cal := &Calendar{preset: preset, loc: loc}
	for _, line := range raw {
		entry, err := ParseEntry(line)
		if err != nil {
			return nil, err
		}
		if entry.Closed {
			cal.closed = append(cal.closed, entry.Date)
			continue
		}
		session, err := cal.resolve(entry)
		if err != nil {
			return nil, err
		}
		cal.sessions = append(cal.sessions, session)
	}
	return cal, nil
}

// NextSession returns the session with the earliest open strictly after now.
func (c *Calendar) NextSession(now time.Time) (Session, bool) {
	var (
		best  Session
		found bool
	)
	for _, s := range c.sessions {
		if !s.Open.After(now) {
			continue
		}
		if !found || s.Open.Before(best.Open) {
			best = s
			found = true
		}
	}
	return best, found
}

func (c *Calendar) Sessions() []Session {
	out := make([]Session, len(c.sessions))
	copy(out, c.sessions)
	return out
}

func (c *Calendar) ClosedDays() []Date {
	out := make([]Date, len(c.closed))
	copy(out, c.closed)
	return out
}

func (c *Calendar) resolve(entry Entry) (Session, error) {
	openDate, openClock := entry.Date, c.preset.Open
	closeDate, closeClock := entry.Date, c.preset.Close
	if c.preset.FeedHours {
		first, last := entry.Ranges[0], entry.Ranges[len(entry.Ranges)-1]
		openDate, openClock = first.StartDate, first.Start
		closeDate, closeClock = last.EndDate, last.End
	}

	open, err := ResolveLocal(c.loc, openDate, openClock)
	if err != nil {
		return Session{}, err
	}
	closeAt, err := ResolveLocal(c.loc, closeDate, closeClock)
	if err != nil {
		return Session{}, err
	}
	if !closeAt.After(open) {
		return Session{}, tradeerr.New(tradeerr.Data, "parse calendar", "%s: close %s not after open %s", entry.Date, closeClock, openClock)
	}
	return Session{Open: open, Close: closeAt}, nil
}

// ResolveLocal maps a local wall-clock time to the single instant it names in loc.
// Wall times skipped or repeated by an offset change are errors.
func ResolveLocal(loc *time.Location, d Date, c Clock) (time.Time, error) {
	wall := time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, time.UTC)

	seen := map[int]bool{}
	var matches []time.Time
	for _, near := range []time.Time{wall.Add(-24 * time.Hour), wall, wall.Add(24 * time.Hour)} {
		_, offset := near.In(loc).Zone()
		if seen[offset] {
			continue
		}
		seen[offset] = true

		candidate := wall.Add(-time.Duration(offset) * time.Second).In(loc)
		if DateOf(candidate) == d && candidate.Hour() == c.Hour && candidate.Minute() == c.Minute {
			matches = append(matches, candidate)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return time.Time{}, tradeerr.New(tradeerr.Data, "resolve local time", "%s %s does not exist in %s", d, c, loc)
	default:
		return time.Time{}, tradeerr.New(tradeerr.Data, "resolve local time", "%s %s is ambiguous in %s", d, c, loc)
	}
}
