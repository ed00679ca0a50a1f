package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
	"perp_trader/internal/logging"
	"perp_trader/internal/marketdata"
	"perp_trader/internal/mock"
	"perp_trader/internal/persistence"
	"perp_trader/internal/risk"
	"perp_trader/internal/trading/order"
	apperrors "perp_trader/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStrategy hands out pre-queued signals, one batch per evaluation
type scriptedStrategy struct {
	mu      sync.Mutex
	capital decimal.Decimal
	queue   []core.Signal
	synced  map[string]*core.Position
}

func newScripted() *scriptedStrategy {
	return &scriptedStrategy{synced: make(map[string]*core.Position)}
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) CalculateSignal(map[string]*marketdata.Frame) []core.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

func (s *scriptedStrategy) ShouldExitPosition(*core.Position, core.Kline) bool { return false }

func (s *scriptedStrategy) SetCapital(c decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capital = c
}

func (s *scriptedStrategy) SyncPosition(symbol string, p *core.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		delete(s.synced, symbol)
		return
	}
	s.synced[symbol] = p
}

func (s *scriptedStrategy) enqueue(sig core.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, sig)
}

func (s *scriptedStrategy) pendingSignals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func newTestEngine(t *testing.T) (*Engine, *mock.Exchange, *persistence.MemoryStore, *scriptedStrategy) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Trading.Symbols = []string{"ETH_USDC_PERP"}

	logger, err := logging.NewZapLogger("error")
	require.NoError(t, err)

	ex := mock.NewExchange()
	ex.SeedTicker("ETH", decimal.NewFromInt(2000))

	store := persistence.NewMemoryStore()
	journal := risk.NewJournal(store, logger)
	manager := risk.NewManager(cfg, journal, logger)
	executor := order.NewExecutor(ex, logger)

	eng := NewEngine(cfg, ex, executor, manager, journal, store, nil, logger)
	strat := newScripted()
	eng.RegisterStrategy(strat)
	return eng, ex, store, strat
}

func TestPlaceOrder_MarketBuyFillsAndOpensPosition(t *testing.T) {
	eng, _, store, _ := newTestEngine(t)
	ctx := context.Background()

	placed, err := eng.placeOrder(ctx, "ETH_USDC_PERP", core.OrderSideBuy,
		decimal.RequireFromString("0.5"), decimal.Zero, nil, false)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, placed.Status)

	// Immediate fill: order left the live map, position book has the long
	assert.Empty(t, eng.OpenOrders(""))
	p := eng.Position("ETH_USDC_PERP")
	require.NotNil(t, p)
	assert.Equal(t, core.PositionSideLong, p.Side)
	assert.True(t, p.Quantity.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, p.EntryPrice.Equal(decimal.NewFromInt(2000)))

	require.Len(t, store.Trades(), 1)
	trade := store.Trades()[0]
	assert.Equal(t, placed.ID, trade.OrderID)
	assert.False(t, trade.IsMaker)
}

func TestPlaceOrder_RejectsOnRiskViolation(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	// 20 ETH at 2000 needs 800 margin against a 500 ceiling (5% of 10k)
	_, err := eng.placeOrder(context.Background(), "ETH_USDC_PERP", core.OrderSideBuy,
		decimal.NewFromInt(20), decimal.Zero, nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrRiskViolation))
	assert.Empty(t, eng.OpenOrders(""))
	assert.Nil(t, eng.Position("ETH_USDC_PERP"))
}

func TestPlaceOrder_QuantityTruncatedToPrecision(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	placed, err := eng.placeOrder(context.Background(), "ETH_USDC_PERP", core.OrderSideBuy,
		decimal.RequireFromString("0.55556"), decimal.Zero, nil, false)
	require.NoError(t, err)
	assert.True(t, placed.Quantity.Equal(decimal.RequireFromString("0.5555")))

	_, err = eng.placeOrder(context.Background(), "ETH_USDC_PERP", core.OrderSideSell,
		decimal.RequireFromString("0.00001"), decimal.Zero, nil, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidOrderParameter))
}

func TestOrderIDsAreMonotonic(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.placeOrder(ctx, "ETH_USDC_PERP", core.OrderSideBuy,
		decimal.RequireFromString("0.1"), decimal.Zero, nil, false)
	require.NoError(t, err)
	second, err := eng.placeOrder(ctx, "ETH_USDC_PERP", core.OrderSideBuy,
		decimal.RequireFromString("0.1"), decimal.Zero, nil, false)
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
}

func TestRestoreStateRehydratesOrdersAndPositions(t *testing.T) {
	eng, _, store, strat := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.SaveOrder(ctx, &core.Order{
		ID:           42,
		VenueOrderID: "v-42",
		Symbol:       "ETH_USDC_PERP",
		VenueSymbol:  "ETH",
		Side:         core.OrderSideBuy,
		Quantity:     decimal.NewFromInt(1),
		Status:       core.OrderStatusOpen,
	}))
	require.NoError(t, store.SavePosition(ctx, &core.Position{
		Symbol:     "ETH_USDC_PERP",
		Side:       core.PositionSideLong,
		Quantity:   decimal.NewFromInt(2),
		EntryPrice: decimal.NewFromInt(1900),
	}))

	require.NoError(t, eng.restoreState(ctx))

	require.Len(t, eng.OpenOrders(""), 1)
	p := eng.Position("ETH_USDC_PERP")
	require.NotNil(t, p)
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(2)))

	// Strategy mirror and id watermark follow the restored state
	assert.NotNil(t, strat.synced["ETH_USDC_PERP"])
	assert.GreaterOrEqual(t, eng.lastID.Load(), int64(42))
}

func TestStartStopLifecycle(t *testing.T) {
	eng, ex, _, _ := newTestEngine(t)

	bars := make([]core.Kline, 60)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = core.Kline{
			OpenTime: base.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Open:     2000, High: 2001, Low: 1999, Close: 2000, Closed: true,
		}
	}
	ex.SeedKlines("ETH", bars)

	require.NoError(t, eng.Start(context.Background()))
	assert.True(t, eng.running.Load())
	assert.Equal(t, 60, eng.frames.Get("ETH_USDC_PERP").Len(), "history preloaded")

	require.NoError(t, eng.Stop())
	assert.False(t, eng.running.Load())
	// Stop is idempotent
	require.NoError(t, eng.Stop())
}

func TestKlineDispatchExecutesQueuedSignal(t *testing.T) {
	eng, _, _, strat := newTestEngine(t)
	eng.running.Store(true)

	strat.enqueue(core.Signal{
		Symbol:   "ETH_USDC_PERP",
		Action:   core.SignalActionBuy,
		Quantity: decimal.RequireFromString("0.5"),
	})

	eng.onKline("ETH", core.Kline{
		OpenTime: time.Now().UnixMilli(),
		Close:    2000, Closed: true,
	})

	p := eng.Position("ETH_USDC_PERP")
	require.NotNil(t, p)
	assert.True(t, p.Quantity.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, strat.capital.Equal(decimal.NewFromInt(10_000)), "capital synced before evaluation")
}

func TestDispatchSkipsWhileOrderInFlight(t *testing.T) {
	eng, _, _, strat := newTestEngine(t)
	eng.running.Store(true)

	// A resting limit order blocks further evaluation for the symbol
	_, err := eng.placeOrder(context.Background(), "ETH_USDC_PERP", core.OrderSideBuy,
		decimal.RequireFromString("0.1"), decimal.Zero,
		&core.Signal{Price: decimal.NewFromInt(1990)}, false)
	require.NoError(t, err)
	require.Len(t, eng.OpenOrders("ETH_USDC_PERP"), 1)

	strat.enqueue(core.Signal{
		Symbol:   "ETH_USDC_PERP",
		Action:   core.SignalActionBuy,
		Quantity: decimal.RequireFromString("0.5"),
	})
	eng.onKline("ETH", core.Kline{OpenTime: time.Now().UnixMilli(), Close: 2000, Closed: true})

	assert.Equal(t, 1, strat.pendingSignals(), "strategy must not be consulted while an order is in flight")
}

func TestUnclosedBarOnlyUpdatesFrame(t *testing.T) {
	eng, _, _, strat := newTestEngine(t)
	eng.running.Store(true)

	strat.enqueue(core.Signal{Symbol: "ETH_USDC_PERP", Action: core.SignalActionBuy, Quantity: decimal.NewFromInt(1)})
	eng.onKline("ETH", core.Kline{OpenTime: time.Now().UnixMilli(), Close: 2000, Closed: false})

	assert.Equal(t, 1, eng.frames.Get("ETH_USDC_PERP").Len())
	assert.Equal(t, 1, strat.pendingSignals(), "open bars must not trigger evaluation")
}

func TestSellSignalAgainstLongIsReduceOnly(t *testing.T) {
	eng, ex, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.placeOrder(ctx, "ETH_USDC_PERP", core.OrderSideBuy,
		decimal.NewFromInt(1), decimal.Zero, nil, false)
	require.NoError(t, err)

	// Exit signal asks for more than held: clamp to the position
	eng.submitSignal(ctx, &core.Signal{
		Symbol:   "ETH_USDC_PERP",
		Action:   core.SignalActionSell,
		Quantity: decimal.NewFromInt(5),
	})

	assert.Nil(t, eng.Position("ETH_USDC_PERP"), "long fully closed")
	var sell *core.Order
	for _, o := range ex.Orders() {
		if o.Side == core.OrderSideSell {
			sell = o
		}
	}
	require.NotNil(t, sell)
	assert.True(t, sell.ReduceOnly)
	assert.True(t, sell.Quantity.Equal(decimal.NewFromInt(1)))
}
