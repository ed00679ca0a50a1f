package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"perp_trader/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleOrder(id int64, status core.OrderStatus) *core.Order {
	now := time.Now().Truncate(time.Millisecond)
	return &core.Order{
		ID:             id,
		VenueOrderID:   "v-1",
		ClientOrderID:  "c-1",
		Symbol:         "ETH_USDC_PERP",
		VenueSymbol:    "ETH_USDC_PERP",
		Side:           core.OrderSideBuy,
		Type:           core.OrderTypeLimit,
		Quantity:       decimal.RequireFromString("0.5"),
		Price:          decimal.NewFromInt(3000),
		Status:         status,
		FilledQuantity: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestSQLiteOrderRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveOrder(ctx, sampleOrder(1, core.OrderStatusOpen)))
	require.NoError(t, store.SaveOrder(ctx, sampleOrder(2, core.OrderStatusFilled)))
	require.NoError(t, store.SaveOrder(ctx, sampleOrder(3, core.OrderStatusPending)))

	open, err := store.LoadOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2, "filled order is not reloaded")
	assert.Equal(t, int64(1), open[0].ID)
	assert.Equal(t, int64(3), open[1].ID)
	assert.True(t, open[0].Quantity.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, core.OrderSideBuy, open[0].Side)
}

func TestSQLiteOrderUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	order := sampleOrder(1, core.OrderStatusOpen)
	require.NoError(t, store.SaveOrder(ctx, order))

	order.Status = core.OrderStatusFilled
	order.FilledQuantity = order.Quantity
	require.NoError(t, store.SaveOrder(ctx, order))

	open, err := store.LoadOpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open, "status update replaces the row")
}

func TestSQLitePositionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	p := &core.Position{
		Symbol:     "ETH_USDC_PERP",
		Side:       core.PositionSideLong,
		Quantity:   decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromInt(3000),
		MarkPrice:  decimal.NewFromInt(3050),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, store.SavePosition(ctx, p))

	loaded, err := store.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.True(t, loaded[0].EntryPrice.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, core.PositionSideLong, loaded[0].Side)

	// Zero quantity removes the row
	p.Quantity = decimal.Zero
	require.NoError(t, store.SavePosition(ctx, p))
	loaded, err = store.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestSQLiteTradeAndSnapshotAndRiskEvent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTrade(ctx, &core.Trade{
		TradeID:   "t-1",
		OrderID:   1,
		Symbol:    "ETH_USDC_PERP",
		Side:      core.OrderSideSell,
		Quantity:  decimal.NewFromInt(1),
		Price:     decimal.NewFromInt(3100),
		Timestamp: time.Now(),
	}))

	require.NoError(t, store.SavePortfolioSnapshot(ctx, &core.PortfolioSnapshot{
		Timestamp:  time.Now(),
		TotalValue: decimal.NewFromInt(10_500),
		Cash:       decimal.NewFromInt(7_500),
	}))

	require.NoError(t, store.SaveRiskEvent(ctx, &core.RiskEvent{
		ID:        "e-1",
		Timestamp: time.Now(),
		Kind:      core.RiskEventOrderRejected,
		Symbol:    "ETH_USDC_PERP",
		Payload:   map[string]interface{}{"violations": []string{"margin ceiling exceeded"}},
	}))
}

func TestMemoryStoreMirrorsSinkSemantics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveOrder(ctx, sampleOrder(1, core.OrderStatusOpen)))
	require.NoError(t, store.SaveOrder(ctx, sampleOrder(2, core.OrderStatusCancelled)))

	open, err := store.LoadOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(1), open[0].ID)

	p := &core.Position{
		Symbol:   "ETH",
		Side:     core.PositionSideShort,
		Quantity: decimal.NewFromInt(2),
	}
	require.NoError(t, store.SavePosition(ctx, p))
	positions, err := store.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p.Quantity = decimal.Zero
	require.NoError(t, store.SavePosition(ctx, p))
	positions, err = store.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	require.NoError(t, store.SaveTrade(ctx, &core.Trade{TradeID: "t-1"}))
	assert.Len(t, store.Trades(), 1)
}

func TestSinkFactory(t *testing.T) {
	mem, err := New("memory", "")
	require.NoError(t, err)
	_, ok := mem.(*MemoryStore)
	assert.True(t, ok)

	db, err := New("sqlite", filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	_, ok = db.(*SQLiteStore)
	assert.True(t, ok)
	_ = db.Close()
}
