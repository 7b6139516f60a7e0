package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailytrader/internal/tradeerr"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestGateRejectsNonPositiveBuyAmount(t *testing.T) {
	gate := Gate{}
	for _, amount := range []string{"0", "-1", "-0.01"} {
		err := gate.CheckBuyAmount(d(amount))
		require.Error(t, err, amount)
		assert.True(t, tradeerr.Is(err, tradeerr.Validation))
	}
	assert.NoError(t, gate.CheckBuyAmount(d("0.01")))
}

func TestGateRejectsInsufficientFunds(t *testing.T) {
	gate := Gate{}
	err := gate.CheckFunds(d("1000.01"), d("1000"))
	require.Error(t, err)
	assert.True(t, tradeerr.Is(err, tradeerr.Validation))
	assert.NoError(t, gate.CheckFunds(d("1000"), d("1000")))
}

func TestGateRejectsInvalidSell(t *testing.T) {
	gate := Gate{}
	assert.Error(t, gate.CheckSellQty(d("0")))
	assert.Error(t, gate.CheckShares(d("101"), d("100")))
	assert.NoError(t, gate.CheckShares(d("100"), d("100")))
}

func TestGateKillSwitch(t *testing.T) {
	err := Gate{KillSwitch: true}.CheckOrdersAllowed("buy")
	require.Error(t, err)
	assert.True(t, tradeerr.Is(err, tradeerr.Validation))
	assert.NoError(t, Gate{}.CheckOrdersAllowed("buy"))
}

func TestGateBudgetCapsAtMaxNotional(t *testing.T) {
	assert.Equal(t, "500", Gate{MaxNotional: d("500")}.Budget(d("1000")).String())
	assert.Equal(t, "400", Gate{MaxNotional: d("500")}.Budget(d("400")).String())
	assert.Equal(t, "1000", Gate{}.Budget(d("1000")).String())
}
