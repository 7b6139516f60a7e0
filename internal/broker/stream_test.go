package broker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailytrader/internal/tradeerr"
)

func scriptedPoller(statuses ...string) (*statusPoller, *int) {
	fetches := 0
	return &statusPoller{
		orderID:  "ord-1",
		interval: time.Millisecond,
		fetch: func() (*alpaca.Order, error) {
			i := fetches
			if i >= len(statuses) {
				i = len(statuses) - 1
			}
			fetches++
			return &alpaca.Order{ID: "ord-1", Status: statuses[i]}, nil
		},
	}, &fetches
}

func TestStatusPollerEmitsOnlyChanges(t *testing.T) {
	p, fetches := scriptedPoller("pending_new", "pending_new", "new", "new", "new", "filled")
	ctx := context.Background()

	var got []OrderStatus
	for {
		ev, err := p.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, "ord-1", ev.OrderID)
		got = append(got, ev.Status)
	}

	assert.Equal(t, []OrderStatus{StatusPreSubmitted, StatusSubmitted, StatusFilled}, got)
	assert.Equal(t, 6, *fetches)

	_, err := p.Next(ctx)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 6, *fetches, "no lookups after a terminal status")
}

func TestStatusPollerEndsOnCancel(t *testing.T) {
	p, _ := scriptedPoller("new", "canceled")
	ev, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, ev.Status)

	ev, err = p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, ev.Status)
	assert.Equal(t, "canceled", ev.Raw)

	_, err = p.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestStatusPollerLookupFailureIsTransport(t *testing.T) {
	p := &statusPoller{
		orderID:  "ord-1",
		interval: time.Millisecond,
		fetch: func() (*alpaca.Order, error) {
			return nil, errors.New("502 bad gateway")
		},
	}
	_, err := p.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, tradeerr.Transport, tradeerr.KindOf(err))
}

func TestStatusPollerStopsWaitingOnContext(t *testing.T) {
	p, _ := scriptedPoller("new")
	p.interval = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Next(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
