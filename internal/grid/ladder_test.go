package grid

import (
	"testing"

	"perp_trader/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params(mode string) LadderParams {
	return LadderParams{
		Symbol:     "ETH_USDC_PERP",
		Lower:      decimal.NewFromInt(3000),
		Upper:      decimal.NewFromInt(3500),
		Count:      10,
		Investment: decimal.NewFromInt(10),
		Leverage:   10,
		Mode:       mode,
	}
}

func TestBuildLadder_RungGeometry(t *testing.T) {
	ladder, err := BuildLadder(params(ModeLongShort), decimal.NewFromInt(3275), nil)
	require.NoError(t, err)

	require.Len(t, ladder.Rungs, 11)
	assert.True(t, ladder.Spacing.Equal(decimal.NewFromInt(50)))

	for i, rung := range ladder.Rungs {
		want := decimal.NewFromInt(int64(3000 + 50*i))
		assert.True(t, rung.Price.Equal(want), "rung %d price %s want %s", i, rung.Price, want)
		assert.Equal(t, RungIdle, rung.Status)

		// quantity = investment * leverage / price
		wantQty := decimal.NewFromInt(100).Div(want)
		assert.True(t, rung.Quantity.Equal(wantQty), "rung %d qty", i)
	}

	// 3200 rung carries exactly 100/3200
	assert.True(t, ladder.Rungs[4].Quantity.Equal(decimal.RequireFromString("0.03125")))
}

func TestBuildLadder_SidesFollowMode(t *testing.T) {
	last := decimal.NewFromInt(3275)

	ls, err := BuildLadder(params(ModeLongShort), last, nil)
	require.NoError(t, err)
	for _, rung := range ls.Rungs {
		if rung.Price.GreaterThan(last) {
			assert.Equal(t, core.OrderSideSell, rung.Side, "rung above last must offer")
		} else {
			assert.Equal(t, core.OrderSideBuy, rung.Side, "rung at/below last must bid")
		}
	}

	lo, err := BuildLadder(params(ModeLongOnly), last, nil)
	require.NoError(t, err)
	for _, rung := range lo.Rungs {
		assert.Equal(t, core.OrderSideBuy, rung.Side)
	}

	so, err := BuildLadder(params(ModeShortOnly), last, nil)
	require.NoError(t, err)
	for _, rung := range so.Rungs {
		assert.Equal(t, core.OrderSideSell, rung.Side)
	}
}

func TestBuildLadder_RoundsToMarketRules(t *testing.T) {
	market := &core.MarketInfo{
		PriceTick:         decimal.RequireFromString("0.5"),
		LotSize:           decimal.RequireFromString("0.001"),
		PricePrecision:    1,
		QuantityPrecision: 3,
	}
	p := params(ModeLongShort)
	p.Lower = decimal.RequireFromString("3000.3")
	p.Upper = decimal.RequireFromString("3500.3")

	ladder, err := BuildLadder(p, decimal.NewFromInt(3275), market)
	require.NoError(t, err)

	for _, rung := range ladder.Rungs {
		assert.True(t, rung.Price.Mod(market.PriceTick).IsZero(), "price %s off tick", rung.Price)
		assert.True(t, rung.Quantity.Mod(market.LotSize).IsZero(), "qty %s off lot", rung.Quantity)
	}
}

func TestBuildLadder_RejectsBadParameters(t *testing.T) {
	p := params(ModeLongShort)
	p.Count = 1
	_, err := BuildLadder(p, decimal.NewFromInt(3275), nil)
	assert.Error(t, err)

	p = params(ModeLongShort)
	p.Upper = p.Lower
	_, err = BuildLadder(p, decimal.NewFromInt(3275), nil)
	assert.Error(t, err)

	p = params(ModeLongShort)
	p.Leverage = 0
	_, err = BuildLadder(p, decimal.NewFromInt(3275), nil)
	assert.Error(t, err)
}

func TestCloseRungAdjacency(t *testing.T) {
	ladder, err := BuildLadder(params(ModeLongShort), decimal.NewFromInt(3275), nil)
	require.NoError(t, err)

	// BUY fill at 3200 (index 4) pairs with the 3250 rung above
	up := ladder.CloseRungFor(4, core.OrderSideBuy)
	require.NotNil(t, up)
	assert.True(t, up.Price.Equal(decimal.NewFromInt(3250)))

	// SELL fill at 3300 (index 6) pairs with the 3250 rung below
	down := ladder.CloseRungFor(6, core.OrderSideSell)
	require.NotNil(t, down)
	assert.True(t, down.Price.Equal(decimal.NewFromInt(3250)))

	// Ladder edges have no pair
	assert.Nil(t, ladder.CloseRungFor(10, core.OrderSideBuy))
	assert.Nil(t, ladder.CloseRungFor(0, core.OrderSideSell))
}

func TestWithinHalfSpacing(t *testing.T) {
	ladder, err := BuildLadder(params(ModeLongShort), decimal.NewFromInt(3275), nil)
	require.NoError(t, err)
	rung := ladder.Rungs[4] // 3200

	assert.True(t, ladder.WithinHalfSpacing(rung, decimal.NewFromInt(3220)))
	assert.True(t, ladder.WithinHalfSpacing(rung, decimal.NewFromInt(3175)))
	assert.False(t, ladder.WithinHalfSpacing(rung, decimal.NewFromInt(3226)))
}
