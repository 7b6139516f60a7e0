package md

import (
	"time"

	"github.com/shopspring/decimal"

	"dailytrader/internal/tradeerr"
)

// Bar is one daily price bar as reported by the provider.
type Bar struct {
	Symbol string
	Time   time.Time
	Close  decimal.Decimal
}

// RequireChronological fails unless bars are strictly oldest-first.
func RequireChronological(bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return tradeerr.New(tradeerr.Data, "validate bars",
				"bars not oldest-first: bar %d (%s) is not after bar %d (%s)",
				i, bars[i].Time.Format(time.DateOnly), i-1, bars[i-1].Time.Format(time.DateOnly))
		}
	}
	return nil
}

// LastN validates ordering and returns the n most recent bars, oldest first.
func LastN(bars []Bar, n int) ([]Bar, error) {
	if err := RequireChronological(bars); err != nil {
		return nil, err
	}
	if len(bars) < n {
		return nil, tradeerr.New(tradeerr.Data, "validate bars", "want %d bars, got %d", n, len(bars))
	}
	return bars[len(bars)-n:], nil
}

// Delta is last close minus first close.
func Delta(bars []Bar) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.Zero
	}
	return bars[len(bars)-1].Close.Sub(bars[0].Close)
}
