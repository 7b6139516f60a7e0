package calendar

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailytrader/internal/tradeerr"
)

func sydney(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Australia/Sydney")
	require.NoError(t, err)
	return loc
}

func TestParseResolvesFixedHours(t *testing.T) {
	loc := sydney(t)
	cal, err := Parse(ASX, loc, []string{"20240311:0959-20240311:1610"})
	require.NoError(t, err)

	sessions := cal.Sessions()
	require.Len(t, sessions, 1)
	// AEDT is UTC+11 in March.
	assert.Equal(t, time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC), sessions[0].Open.UTC())
	assert.Equal(t, time.Date(2024, 3, 11, 5, 0, 0, 0, time.UTC), sessions[0].Close.UTC())
}

func TestParseFeedHours(t *testing.T) {
	preset := ASX
	preset.FeedHours = true
	cal, err := Parse(preset, sydney(t), []string{"20240722:0700-20240722:1200,20240722:1300-20240722:1830"})
	require.NoError(t, err)

	s := cal.Sessions()[0]
	// AEST is UTC+10 in July.
	assert.Equal(t, time.Date(2024, 7, 21, 21, 0, 0, 0, time.UTC), s.Open.UTC())
	assert.Equal(t, time.Date(2024, 7, 22, 8, 30, 0, 0, time.UTC), s.Close.UTC())
}

func TestClosedEntryNeverProducesSession(t *testing.T) {
	for _, raw := range []string{"20240101:CLOSED", "20240704:CLOSED", "19991231:CLOSED", "20241225:CLOSED"} {
		cal, err := Parse(ASX, sydney(t), []string{raw})
		require.NoError(t, err, raw)
		assert.Empty(t, cal.Sessions(), raw)
		assert.Len(t, cal.ClosedDays(), 1, raw)
		_, ok := cal.NextSession(time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))
		assert.False(t, ok, raw)
	}
}

func TestParseRejectsTimezoneMismatch(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	inputs := [][]string{
		nil,
		{},
		{"20240102:CLOSED"},
		{"20240102:1000-20240102:1600"},
		{"garbage"},
	}
	for _, in := range inputs {
		_, err := Parse(ASX, ny, in)
		require.Error(t, err)
		assert.True(t, tradeerr.Is(err, tradeerr.Data))

		_, err = Parse(ASX, time.UTC, in)
		require.Error(t, err)

		_, err = Parse(ASX, nil, in)
		require.Error(t, err)
	}
}

func TestParseRejectsMalformedEntries(t *testing.T) {
	bad := []string{
		"",
		"20240102",
		"2024012:CLOSED",
		"2024O102:CLOSED",
		"20240230:CLOSED",
		"20240102:",
		"20240102:closed",
		"20240102:1000",
		"20240102:1000-20240102",
		"20240102:2500-20240102:1600",
		"20240102:1000-2024010:1600",
	}
	for _, raw := range bad {
		_, err := Parse(ASX, sydney(t), []string{"20240103:CLOSED", raw})
		require.Error(t, err, raw)
		assert.True(t, tradeerr.Is(err, tradeerr.Data), raw)
	}
}

func TestParseRejectsAmbiguousLocalTime(t *testing.T) {
	// Daylight saving ends 2024-04-07 03:00 in Sydney; 02:30 happens twice.
	preset := Preset{Name: "TEST", Timezone: "Australia/Sydney", Open: Clock{Hour: 2, Minute: 30}, Close: Clock{Hour: 16}}
	_, err := Parse(preset, sydney(t), []string{"20240407:0230-20240407:1600"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestParseRejectsNonExistentLocalTime(t *testing.T) {
	// Daylight saving starts 2024-10-06 02:00 in Sydney; 02:30 never happens.
	preset := Preset{Name: "TEST", Timezone: "Australia/Sydney", Open: Clock{Hour: 2, Minute: 30}, Close: Clock{Hour: 16}}
	_, err := Parse(preset, sydney(t), []string{"20241006:0230-20241006:1600"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestNextSessionPicksEarliestFutureOpen(t *testing.T) {
	// Order in the feed is irrelevant.
	raw := []string{
		"20240314:1000-20240314:1600",
		"20240311:1000-20240311:1600",
		"20240316:CLOSED",
		"20240313:1000-20240313:1600",
		"20240312:1000-20240312:1600",
	}
	cal, err := Parse(ASX, sydney(t), raw)
	require.NoError(t, err)

	loc := sydney(t)
	cases := []struct {
		name string
		now  time.Time
		want time.Time
		ok   bool
	}{
		{"before all", time.Date(2024, 3, 1, 0, 0, 0, 0, loc), time.Date(2024, 3, 11, 10, 0, 0, 0, loc), true},
		{"exactly at open is not after", time.Date(2024, 3, 11, 10, 0, 0, 0, loc), time.Date(2024, 3, 12, 10, 0, 0, 0, loc), true},
		{"mid session", time.Date(2024, 3, 12, 12, 0, 0, 0, loc), time.Date(2024, 3, 13, 10, 0, 0, 0, loc), true},
		{"one second before open", time.Date(2024, 3, 14, 9, 59, 59, 0, loc), time.Date(2024, 3, 14, 10, 0, 0, 0, loc), true},
		{"all elapsed", time.Date(2024, 3, 14, 10, 0, 1, 0, loc), time.Time{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := cal.NextSession(tc.now)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.True(t, got.Open.Equal(tc.want), "got %s want %s", got.Open, tc.want)
			}
		})
	}
}

func TestNextSessionMatchesBruteForceMinimum(t *testing.T) {
	loc := sydney(t)
	var raw []string
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	for i := 0; i < 60; i++ {
		d := DateOf(start.AddDate(0, 0, (i*17)%60))
		if i%7 == 3 {
			raw = append(raw, FormatClosed(d))
			continue
		}
		raw = append(raw, FormatOpen(d, ASX.Open, ASX.Close))
	}
	cal, err := Parse(ASX, loc, raw)
	require.NoError(t, err)

	for h := 0; h < 24*62; h += 5 {
		now := start.Add(time.Duration(h) * time.Hour)
		var want *Session
		for _, s := range cal.Sessions() {
			s := s
			if s.Open.After(now) && (want == nil || s.Open.Before(want.Open)) {
				want = &s
			}
		}
		got, ok := cal.NextSession(now)
		if want == nil {
			assert.False(t, ok, now.String())
			continue
		}
		require.True(t, ok, now.String())
		assert.True(t, got.Open.Equal(want.Open), now.String())
	}
}

func TestEmptyFeedHasNoNextSession(t *testing.T) {
	cal, err := Parse(ASX, sydney(t), nil)
	require.NoError(t, err)
	_, ok := cal.NextSession(time.Now())
	assert.False(t, ok)
}

func TestLookupPreset(t *testing.T) {
	p, err := LookupPreset("asx")
	require.NoError(t, err)
	assert.Equal(t, ASX, p)

	_, err = LookupPreset("LSE")
	assert.Error(t, err)
}
