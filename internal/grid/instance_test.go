package grid

import (
	"context"
	"testing"
	"time"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
	"perp_trader/internal/logging"
	"perp_trader/internal/mock"
	"perp_trader/internal/persistence"
	"perp_trader/internal/risk"
	"perp_trader/internal/trading/order"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridConfig() config.GridConfig {
	return config.GridConfig{
		Symbol:            "ETH_USDC_PERP",
		LowerPrice:        3000,
		UpperPrice:        3500,
		GridCount:         10,
		InvestmentPerGrid: 10,
		Leverage:          10,
		Mode:              "long_short",
		DailyLossLimitPct: 0.30,
		StopLossPct:       0.50,
		FeeRate:           0.0004,
		MinOrderValue:     5,
	}
}

func newTestInstance(t *testing.T, cfg config.GridConfig) (*Instance, *mock.Exchange, *persistence.MemoryStore) {
	t.Helper()

	logger, err := logging.NewZapLogger("error")
	require.NoError(t, err)

	ex := mock.NewExchange()
	ex.SeedTicker("ETH", decimal.NewFromInt(3275))
	// Five decimals keep 100/3200 = 0.03125 exact through lot flooring
	ex.SeedMarket(&core.MarketInfo{
		Symbol:            "ETH",
		PriceTick:         decimal.RequireFromString("0.01"),
		LotSize:           decimal.RequireFromString("0.00001"),
		MinNotional:       decimal.NewFromInt(5),
		PricePrecision:    2,
		QuantityPrecision: 5,
	})

	store := persistence.NewMemoryStore()
	journal := risk.NewJournal(store, logger)
	executor := order.NewExecutor(ex, logger)

	inst := NewInstance("grid-eth", cfg, ex, executor, journal, logger)
	return inst, ex, store
}

func startInstance(t *testing.T, inst *Instance) {
	t.Helper()
	require.NoError(t, inst.Start(context.Background(), time.Hour))
	t.Cleanup(func() { _ = inst.Stop(context.Background()) })
}

// findOrder returns the venue order resting at the given price and side
func findOrder(ex *mock.Exchange, side core.OrderSide, price string) *core.Order {
	want := decimal.RequireFromString(price)
	for _, o := range ex.Orders() {
		if o.Side == side && o.Price.Equal(want) && !o.Status.IsTerminal() {
			return o
		}
	}
	return nil
}

func TestSweepPlacesFullLadder(t *testing.T) {
	inst, ex, _ := newTestInstance(t, gridConfig())
	startInstance(t, inst)

	inst.sweep(context.Background())

	orders := ex.Orders()
	require.Len(t, orders, 11)
	last := decimal.NewFromInt(3275)
	for _, o := range orders {
		assert.Equal(t, core.OrderTypeLimit, o.Type)
		assert.False(t, o.ReduceOnly)
		if o.Side == core.OrderSideBuy {
			assert.True(t, o.Price.LessThan(last), "no bid at/above the tape")
		} else {
			assert.True(t, o.Price.GreaterThan(last), "no offer at/below the tape")
		}
	}
}

// A 3000/3500 N=10 long_short grid: a buy fill at 3200 pairs with a
// reduce-only sell at 3250 for the same 0.03125 quantity, and the settled
// round trip nets (3250-3200)*0.03125 minus both maker fees.
func TestFillPairedCloseAndRealizedPnL(t *testing.T) {
	inst, ex, _ := newTestInstance(t, gridConfig())
	startInstance(t, inst)
	ctx := context.Background()

	inst.sweep(ctx)
	entry := findOrder(ex, core.OrderSideBuy, "3200")
	require.NotNil(t, entry)

	require.NoError(t, ex.FillOrder(entry.VenueOrderID, decimal.NewFromInt(3200)))
	inst.sweep(ctx)

	stats := inst.Stats()
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.BuyFills)
	assert.True(t, stats.CurrentPositionValue.Equal(decimal.NewFromInt(100)))

	closeOrder := findOrder(ex, core.OrderSideSell, "3250")
	require.NotNil(t, closeOrder, "paired close must rest one rung above")
	assert.True(t, closeOrder.ReduceOnly)
	assert.True(t, closeOrder.Quantity.Equal(decimal.RequireFromString("0.03125")))

	require.NoError(t, ex.FillOrder(closeOrder.VenueOrderID, decimal.NewFromInt(3250)))
	inst.sweep(ctx)

	// gross 1.5625, fees 0.03125*(3200+3250)*0.0004 = 0.080625
	stats = inst.Stats()
	assert.True(t, stats.TotalProfit.Equal(decimal.RequireFromString("1.481875")),
		"got %s", stats.TotalProfit)
	assert.True(t, stats.TotalFees.Equal(decimal.RequireFromString("0.080625")))
	assert.True(t, stats.DailyRealizedPnL.Equal(decimal.RequireFromString("1.481875")))

	// Parent rung re-armed for the next cycle
	rung := inst.Ladder().Rungs[4]
	assert.Equal(t, RungIdle, rung.Status)
	assert.Empty(t, rung.VenueOrderID)
}

func TestCancelledEntryRearmsAfterCooldown(t *testing.T) {
	inst, ex, _ := newTestInstance(t, gridConfig())
	startInstance(t, inst)
	ctx := context.Background()

	inst.sweep(ctx)
	entry := findOrder(ex, core.OrderSideBuy, "3200")
	require.NotNil(t, entry)
	require.NoError(t, ex.CancelOrder(ctx, "ETH", entry.VenueOrderID))

	inst.sweep(ctx)
	rung := inst.Ladder().Rungs[4]
	assert.Equal(t, RungIdle, rung.Status)

	// Within the cooldown the rung stays idle
	inst.sweep(ctx)
	assert.Equal(t, RungIdle, inst.Ladder().Rungs[4].Status)

	// Past the cooldown it is placed again
	inst.now = func() time.Time { return time.Now().Add(5 * time.Second) }
	inst.sweep(ctx)
	assert.Equal(t, RungPending, inst.Ladder().Rungs[4].Status)
	assert.NotNil(t, findOrder(ex, core.OrderSideBuy, "3200"))
}

func TestCancelledCloseIsResubmitted(t *testing.T) {
	inst, ex, _ := newTestInstance(t, gridConfig())
	startInstance(t, inst)
	ctx := context.Background()

	inst.sweep(ctx)
	entry := findOrder(ex, core.OrderSideBuy, "3200")
	require.NotNil(t, entry)
	require.NoError(t, ex.FillOrder(entry.VenueOrderID, decimal.NewFromInt(3200)))
	inst.sweep(ctx)

	closeOrder := findOrder(ex, core.OrderSideSell, "3250")
	require.NotNil(t, closeOrder)
	require.NoError(t, ex.CancelOrder(ctx, "ETH", closeOrder.VenueOrderID))

	inst.sweep(ctx)

	replacement := findOrder(ex, core.OrderSideSell, "3250")
	require.NotNil(t, replacement, "cancelled close must be replaced")
	assert.NotEqual(t, closeOrder.VenueOrderID, replacement.VenueOrderID)
	assert.True(t, replacement.ReduceOnly)
	assert.True(t, replacement.Quantity.Equal(closeOrder.Quantity))
}

func TestAdoptsSurvivingOrdersOnStart(t *testing.T) {
	inst, ex, _ := newTestInstance(t, gridConfig())

	// An order from a previous run rests 1 tick off the 3200 rung
	prior, err := ex.PlaceOrder(context.Background(), &core.OrderRequest{
		Symbol:   "ETH",
		Side:     core.OrderSideBuy,
		Type:     core.OrderTypeLimit,
		Quantity: decimal.RequireFromString("0.03125"),
		Price:    decimal.NewFromInt(3199),
	})
	require.NoError(t, err)

	startInstance(t, inst)

	rung := inst.Ladder().Rungs[4]
	assert.Equal(t, RungPending, rung.Status)
	assert.Equal(t, prior.VenueOrderID, rung.VenueOrderID)

	// The adopted rung is not re-placed
	inst.sweep(context.Background())
	count := 0
	for _, o := range ex.Orders() {
		if o.Side == core.OrderSideBuy && o.Price.Equal(decimal.NewFromInt(3199)) ||
			o.Side == core.OrderSideBuy && o.Price.Equal(decimal.NewFromInt(3200)) {
			count++
		}
	}
	assert.Equal(t, 1, count, "one order serves the rung")
}

func TestSelfStopOnDailyLossCeiling(t *testing.T) {
	inst, _, store := newTestInstance(t, gridConfig())
	startInstance(t, inst)
	ctx := context.Background()

	// Total invested 110, daily ceiling 33
	inst.guard.RecordPnL(decimal.NewFromInt(-34))
	inst.sweep(ctx)

	require.Eventually(t, func() bool { return !inst.Running() },
		3*time.Second, 20*time.Millisecond, "instance must stop itself")

	events := store.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, core.RiskEventGridStop, events[len(events)-1].Kind)
}

func TestStopLiquidatesResidualPosition(t *testing.T) {
	inst, ex, _ := newTestInstance(t, gridConfig())
	startInstance(t, inst)
	ctx := context.Background()

	ex.SeedPosition(&core.Position{
		Symbol:     "ETH",
		Side:       core.PositionSideLong,
		Quantity:   decimal.RequireFromString("0.03125"),
		EntryPrice: decimal.NewFromInt(3200),
	})

	require.NoError(t, inst.Stop(ctx))

	positions, err := ex.GetPositions(ctx, "ETH")
	require.NoError(t, err)
	assert.Empty(t, positions, "residual long flattened reduce-only")
}

func TestMinNotionalRungsAreSkipped(t *testing.T) {
	cfg := gridConfig()
	cfg.InvestmentPerGrid = 0.04
	cfg.Leverage = 1

	inst, ex, _ := newTestInstance(t, cfg)
	startInstance(t, inst)

	inst.sweep(context.Background())
	assert.Empty(t, ex.Orders(), "sub-notional rungs must not reach the venue")
}

func TestManagerRegistry(t *testing.T) {
	logger, err := logging.NewZapLogger("error")
	require.NoError(t, err)
	m := NewManager(logger)

	inst, _, _ := newTestInstance(t, gridConfig())
	require.NoError(t, m.Add(inst))
	assert.Error(t, m.Add(inst), "duplicate id rejected")

	got, ok := m.Get("grid-eth")
	require.True(t, ok)
	assert.Same(t, inst, got)
	assert.Equal(t, []string{"grid-eth"}, m.IDs())

	m.StopAll(context.Background())
	assert.Empty(t, m.IDs())
}
