package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailytrader/internal/calendar"
	"dailytrader/internal/tradeerr"
)

func TestMapStatus(t *testing.T) {
	cases := map[string]OrderStatus{
		"pending_new":      StatusPreSubmitted,
		"accepted":         StatusPreSubmitted,
		"new":              StatusSubmitted,
		"partially_filled": StatusSubmitted,
		"filled":           StatusFilled,
		"canceled":         StatusCancelled,
		"expired":          StatusCancelled,
		"rejected":         StatusCancelled,
		"suspended":        StatusInactive,
		"something_new":    OrderStatus("something_new"),
	}
	for raw, want := range cases {
		assert.Equal(t, want, MapStatus(raw), raw)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusFilled.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusApiCancelled.Terminal())
	assert.False(t, StatusSubmitted.Terminal())
	assert.False(t, StatusInactive.Terminal())
	assert.False(t, OrderStatus("something_new").Terminal())
}

func TestScheduleEntriesFillsClosedWeekdays(t *testing.T) {
	// Wed 2024-07-03 .. Mon 2024-07-08, with the 4th missing.
	start := time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC)
	days := []alpaca.CalendarDay{
		{Date: "2024-07-03", Open: "09:30", Close: "13:00"},
		{Date: "2024-07-05", Open: "09:30", Close: "16:00"},
		{Date: "2024-07-08", Open: "09:30", Close: "16:00"},
	}

	entries, err := scheduleEntries(days, start, end)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"20240703:0930-20240703:1300",
		"20240704:CLOSED",
		"20240705:0930-20240705:1600",
		"20240708:0930-20240708:1600",
	}, entries)

	for _, line := range entries {
		_, err := calendar.ParseEntry(line)
		require.NoError(t, err, line)
	}
}

func TestScheduleEntriesRejectsMalformedDay(t *testing.T) {
	start := time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)
	_, err := scheduleEntries([]alpaca.CalendarDay{{Date: "07/03/2024", Open: "09:30", Close: "16:00"}}, start, start)
	require.Error(t, err)
	assert.True(t, tradeerr.Is(err, tradeerr.Data))

	_, err = scheduleEntries([]alpaca.CalendarDay{{Date: "2024-07-03", Open: "9.30", Close: "16:00"}}, start, start)
	require.Error(t, err)
}

func TestCallHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	defer close(block)

	_, err := call(ctx, "slow", func() (int, error) {
		<-block
		return 1, nil
	})
	require.Error(t, err)
	assert.True(t, tradeerr.Is(err, tradeerr.Transport))
}

func TestClosedClientRefusesCalls(t *testing.T) {
	c := &Client{}
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.CashBalance(context.Background(), "USD")
	require.Error(t, err)
	assert.True(t, tradeerr.Is(err, tradeerr.Transport))
}
