package live

import (
	"context"
	"testing"

	"perp_trader/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openLong puts a LONG on both the engine and the mock venue via a market buy
func openLong(t *testing.T, eng *Engine, qty string) {
	t.Helper()
	_, err := eng.placeOrder(context.Background(), "ETH_USDC_PERP", core.OrderSideBuy,
		decimal.RequireFromString(qty), decimal.Zero, nil, false)
	require.NoError(t, err)
	require.NotNil(t, eng.Position("ETH_USDC_PERP"))
}

// 0.1 ETH long from 2000, mark 1960, leverage 50: leveraged PnL is exactly
// -1.0, well past the -0.50 stop, so the monitor must flatten the position.
func TestMonitor_ForcedCloseOnLeveragedStop(t *testing.T) {
	eng, ex, _, _ := newTestEngine(t)
	ctx := context.Background()

	openLong(t, eng, "0.1")
	ex.SeedTicker("ETH", decimal.NewFromInt(1960))

	require.NoError(t, eng.monitorPositions(ctx))

	assert.Nil(t, eng.Position("ETH_USDC_PERP"))
	venuePositions, err := ex.GetPositions(ctx, "ETH")
	require.NoError(t, err)
	assert.Empty(t, venuePositions, "venue side flattened by the reduce-only close")

	// The close is journaled with its realized loss: (1960-2000) * 0.1
	events := eng.journal.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, core.RiskEventForcedClose, last.Kind)
	assert.Equal(t, "-4", last.Payload["realized_pnl"])
}

func TestMonitor_ForcedCloseOnTakeProfit(t *testing.T) {
	eng, ex, _, _ := newTestEngine(t)
	ctx := context.Background()

	openLong(t, eng, "0.1")
	// +2% on the mark is +1.0 leveraged at 50x, hitting the take threshold
	ex.SeedTicker("ETH", decimal.NewFromInt(2040))

	require.NoError(t, eng.monitorPositions(ctx))
	assert.Nil(t, eng.Position("ETH_USDC_PERP"))
}

func TestMonitor_WithinBracketsUpdatesMark(t *testing.T) {
	eng, ex, store, _ := newTestEngine(t)
	ctx := context.Background()

	openLong(t, eng, "0.1")
	ex.SeedTicker("ETH", decimal.NewFromInt(2004))

	require.NoError(t, eng.monitorPositions(ctx))

	p := eng.Position("ETH_USDC_PERP")
	require.NotNil(t, p, "0.1 leveraged PnL is inside the brackets")
	assert.True(t, p.MarkPrice.Equal(decimal.NewFromInt(2004)))
	assert.True(t, p.UnrealizedPnL.Equal(decimal.RequireFromString("0.4")))

	positions, err := store.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].MarkPrice.Equal(decimal.NewFromInt(2004)))
}

// A breached position the venue no longer knows about is stale local state,
// not something to close again.
func TestMonitor_VenueFlatDropsLocalRecord(t *testing.T) {
	eng, ex, _, _ := newTestEngine(t)
	ctx := context.Background()

	eng.positionsMu.Lock()
	eng.positions["ETH_USDC_PERP"] = &core.Position{
		Symbol:     "ETH_USDC_PERP",
		Side:       core.PositionSideLong,
		Quantity:   decimal.RequireFromString("0.1"),
		EntryPrice: decimal.NewFromInt(2000),
	}
	eng.positionsMu.Unlock()
	ex.SeedTicker("ETH", decimal.NewFromInt(1900))

	require.NoError(t, eng.monitorPositions(ctx))

	assert.Nil(t, eng.Position("ETH_USDC_PERP"))
	assert.Empty(t, ex.Orders(), "no close order against a flat venue")
}

// Dropping a stale record must clear the risk-side mirror with it, or every
// later pre-trade check keeps charging margin for a position that no longer
// exists.
func TestMonitor_VenueFlatClearsRiskMirror(t *testing.T) {
	eng, ex, _, _ := newTestEngine(t)
	ctx := context.Background()

	openLong(t, eng, "0.1")
	require.NotNil(t, eng.risk.Position("ETH_USDC_PERP"), "fill seeds the risk mirror")

	// The venue loses the position out of band, then the mark breaches the stop
	ex.SeedPosition(&core.Position{
		Symbol:   "ETH_USDC_PERP",
		Side:     core.PositionSideLong,
		Quantity: decimal.Zero,
	})
	ex.SeedTicker("ETH", decimal.NewFromInt(1900))

	require.NoError(t, eng.monitorPositions(ctx))

	assert.Nil(t, eng.Position("ETH_USDC_PERP"))
	assert.Nil(t, eng.risk.Position("ETH_USDC_PERP"), "mirror dropped with the book entry")
}

func TestMonitor_VenueErrorDefersSweep(t *testing.T) {
	eng, ex, _, _ := newTestEngine(t)
	ctx := context.Background()

	openLong(t, eng, "0.1")
	ex.SeedTicker("ETH", decimal.NewFromInt(1960))
	// The venue errors out mid-sweep; nothing is closed on guesswork
	ex.FailNext(assert.AnError)

	require.NoError(t, eng.monitorPositions(ctx))
	require.NotNil(t, eng.Position("ETH_USDC_PERP"), "position survives until the venue confirms")

	// Next sweep sees the venue healthy again and closes
	require.NoError(t, eng.monitorPositions(ctx))
	assert.Nil(t, eng.Position("ETH_USDC_PERP"))
}

func TestResyncPositionAdoptsVenueBook(t *testing.T) {
	eng, ex, _, _ := newTestEngine(t)
	ctx := context.Background()

	eng.positionsMu.Lock()
	eng.positions["ETH_USDC_PERP"] = &core.Position{
		Symbol:     "ETH_USDC_PERP",
		Side:       core.PositionSideLong,
		Quantity:   decimal.NewFromInt(2),
		EntryPrice: decimal.NewFromInt(2000),
	}
	eng.positionsMu.Unlock()

	ex.SeedPosition(&core.Position{
		Symbol:     "ETH",
		Side:       core.PositionSideLong,
		Quantity:   decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromInt(1995),
	})

	eng.resyncPosition(ctx, "ETH_USDC_PERP")

	p := eng.Position("ETH_USDC_PERP")
	require.NotNil(t, p)
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(1)), "venue quantity wins")
	assert.True(t, p.EntryPrice.Equal(decimal.NewFromInt(1995)))
}

func TestWriteSnapshotValuesCashPlusPositions(t *testing.T) {
	eng, ex, store, _ := newTestEngine(t)
	ctx := context.Background()

	openLong(t, eng, "0.5")
	ex.SeedTicker("ETH", decimal.NewFromInt(2010))
	require.NoError(t, eng.monitorPositions(ctx))

	require.NoError(t, eng.writeSnapshot(ctx))

	snaps := store.Snapshots()
	require.Len(t, snaps, 1)
	// 10k cash plus 0.5 ETH marked at 2010
	assert.True(t, snaps[0].Cash.Equal(decimal.NewFromInt(10_000)))
	assert.True(t, snaps[0].PositionsValue.Equal(decimal.NewFromInt(1005)))
	assert.True(t, snaps[0].TotalValue.Equal(decimal.NewFromInt(11_005)))
}

func TestHeartbeatSkipsWhenFlat(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.heartbeat(ctx), "flat book heartbeats are a no-op")

	openLong(t, eng, "0.1")
	require.NoError(t, eng.heartbeat(ctx))
}
