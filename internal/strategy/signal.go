package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"dailytrader/internal/calendar"
	"dailytrader/internal/md"
	"dailytrader/internal/tradeerr"
)

// SignalBarCount is how many completed daily bars the signal compares.
const SignalBarCount = 2

type SignalInput struct {
	Bars        []md.Bar
	SessionDate calendar.Date
	SessionOpen time.Time
	// MaxBarAge bounds how stale the latest bar may be relative to SessionOpen. Zero disables.
	MaxBarAge time.Duration
}

// SignalDelta validates the reported bars and returns last close minus previous close
// over the two most recent bars dated before the session.
func SignalDelta(in SignalInput) (decimal.Decimal, []md.Bar, error) {
	if err := md.RequireChronological(in.Bars); err != nil {
		return decimal.Zero, nil, err
	}

	completed := make([]md.Bar, 0, len(in.Bars))
	for _, b := range in.Bars {
		if calendar.DateOf(b.Time.UTC()).Before(in.SessionDate) {
			completed = append(completed, b)
		}
	}

	bars, err := md.LastN(completed, SignalBarCount)
	if err != nil {
		return decimal.Zero, nil, err
	}

	if in.MaxBarAge > 0 {
		latest := bars[len(bars)-1].Time
		if age := in.SessionOpen.Sub(latest); age > in.MaxBarAge {
			return decimal.Zero, nil, tradeerr.New(tradeerr.Data, "signal", "latest bar %s is %s old, limit %s",
				latest.Format(time.DateOnly), age.Round(time.Minute), in.MaxBarAge)
		}
	}

	return md.Delta(bars), bars, nil
}
