package live

import (
	"context"

	"perp_trader/internal/core"
	"perp_trader/internal/strategy"
	"perp_trader/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// takeAndHandleFill removes the order from the live map and processes the
// fill. Removal and handling are tied together so a fill is applied at most
// once even when the poller and a callback race.
func (e *Engine) takeAndHandleFill(ctx context.Context, id int64, fillPrice decimal.Decimal) {
	e.ordersMu.Lock()
	order, ok := e.orders[id]
	if !ok {
		e.ordersMu.Unlock()
		return
	}
	delete(e.orders, id)
	e.ordersMu.Unlock()

	e.handleFill(ctx, order, fillPrice)
}

// handleFill applies one fill to the engine position book, the risk mirrors
// and the sink. The order is already out of the live map; on persist errors
// it stays out, the poller must not see it again.
func (e *Engine) handleFill(ctx context.Context, order *core.Order, fillPrice decimal.Decimal) {
	if !fillPrice.IsPositive() {
		fillPrice = order.AvgFillPrice
	}
	if !fillPrice.IsPositive() {
		fillPrice = order.Price
	}
	quantity := order.FilledQuantity
	if !quantity.IsPositive() {
		quantity = order.Quantity
	}

	order.Status = core.OrderStatusFilled
	order.AvgFillPrice = fillPrice
	order.FilledQuantity = quantity
	order.FilledAt = e.now()
	order.UpdatedAt = order.FilledAt

	// The strategy and risk mirrors move with the book inside one critical
	// section, so a concurrent reader never sees them disagree. Both syncs
	// are in-memory; persistence and callbacks stay outside the lock.
	e.positionsMu.Lock()
	position, closed, realized := e.applyFillLocked(order.Symbol, order.Side, quantity, fillPrice)
	var positionSnapshot *core.Position
	if position != nil {
		positionSnapshot = position.Clone()
	}
	pa, aware := e.strat.(strategy.PositionAware)
	switch {
	case closed:
		if aware {
			pa.SyncPosition(order.Symbol, nil)
		}
		e.risk.ClosePosition(order.Symbol, realized, quantity.Mul(fillPrice))
	case positionSnapshot != nil:
		if aware {
			pa.SyncPosition(order.Symbol, positionSnapshot)
		}
		e.risk.UpdatePosition(order.Symbol, order.Side, quantity, fillPrice)
	}
	e.positionsMu.Unlock()

	switch {
	case closed:
		// Persist the zero-quantity snapshot so restarts see the close
		e.persistPosition(&core.Position{
			Symbol:      order.Symbol,
			Side:        sideToPositionSide(order.Side.Opposite()),
			Quantity:    decimal.Zero,
			EntryPrice:  fillPrice,
			RealizedPnL: realized,
			UpdatedAt:   e.now(),
		})
		e.logger.Info("position closed", "marker", "POSITION",
			"symbol", order.Symbol, "realized_pnl", realized.String())
		e.notifyPosition(&core.Position{Symbol: order.Symbol, Quantity: decimal.Zero, RealizedPnL: realized})

	case positionSnapshot != nil:
		e.persistPosition(positionSnapshot)
		e.logger.Info("position updated", "marker", "POSITION",
			"symbol", order.Symbol, "side", positionSnapshot.Side,
			"quantity", positionSnapshot.Quantity.String(),
			"entry", positionSnapshot.EntryPrice.String())
		e.notifyPosition(positionSnapshot)
	}

	e.persistOrder(order)

	trade := &core.Trade{
		TradeID:         uuid.NewString(),
		OrderID:         order.ID,
		VenueOrderID:    order.VenueOrderID,
		Symbol:          order.Symbol,
		Side:            order.Side,
		Quantity:        quantity,
		Price:           fillPrice,
		Commission:      order.Commission,
		CommissionAsset: order.CommissionAsset,
		IsMaker:         false,
		Timestamp:       e.now(),
	}
	if err := e.sink.SaveTrade(context.Background(), trade); err != nil {
		e.logger.Error("trade persist failed", "trade_id", trade.TradeID, "error", err)
	}

	if m := telemetry.GetGlobalMetrics(); m.TradesTotal != nil {
		m.TradesTotal.Add(ctx, 1)
		if m.OrdersFilledTotal != nil {
			m.OrdersFilledTotal.Add(ctx, 1)
		}
		if m.VolumeTotal != nil {
			volume, _ := quantity.Mul(fillPrice).Float64()
			m.VolumeTotal.Add(ctx, volume)
		}
	}

	e.logger.Info("order filled", "marker", "ORDER",
		"id", order.ID, "symbol", order.Symbol, "side", order.Side,
		"quantity", quantity.String(), "price", fillPrice.String())

	e.notifyTrade(trade)
}

// applyFillLocked nets one fill into the position book. Caller holds
// positionsMu. Returns the surviving position (nil when the book has no
// entry for the symbol afterwards), whether the fill closed a position, and
// the realized PnL booked by a close or reduction.
func (e *Engine) applyFillLocked(symbol string, side core.OrderSide, quantity, price decimal.Decimal) (*core.Position, bool, decimal.Decimal) {
	fillSide := sideToPositionSide(side)
	existing, ok := e.positions[symbol]
	if !ok {
		p := &core.Position{
			Symbol:     symbol,
			Side:       fillSide,
			Quantity:   quantity,
			EntryPrice: price,
			MarkPrice:  price,
			CreatedAt:  e.now(),
			UpdatedAt:  e.now(),
		}
		e.positions[symbol] = p
		return p, false, decimal.Zero
	}

	if existing.Side == fillSide {
		// Same direction: weighted-average the entry
		newQty := existing.Quantity.Add(quantity)
		existing.EntryPrice = existing.Quantity.Mul(existing.EntryPrice).
			Add(quantity.Mul(price)).Div(newQty)
		existing.Quantity = newQty
		existing.MarkPrice = price
		existing.UpdatedAt = e.now()
		return existing, false, decimal.Zero
	}

	// Opposite direction: reduce or close
	perUnit := price.Sub(existing.EntryPrice)
	if existing.Side == core.PositionSideShort {
		perUnit = perUnit.Neg()
	}

	switch {
	case quantity.LessThan(existing.Quantity):
		realized := perUnit.Mul(quantity)
		existing.Quantity = existing.Quantity.Sub(quantity)
		existing.RealizedPnL = existing.RealizedPnL.Add(realized)
		existing.MarkPrice = price
		existing.UpdatedAt = e.now()
		return existing, false, realized

	case quantity.Equal(existing.Quantity):
		realized := perUnit.Mul(quantity)
		delete(e.positions, symbol)
		return nil, true, realized

	default:
		// The dispatcher clamps closing sizes to the held quantity, so an
		// overfill can only come from venue over-reporting. Clamp it to a
		// full close instead of flipping into a position nobody asked for.
		realized := perUnit.Mul(existing.Quantity)
		e.logger.Warn("fill exceeds held quantity, clamping to close",
			"symbol", symbol, "held", existing.Quantity.String(), "fill", quantity.String())
		delete(e.positions, symbol)
		return nil, true, realized
	}
}

func (e *Engine) persistPosition(p *core.Position) {
	if err := e.sink.SavePosition(context.Background(), p.Clone()); err != nil {
		e.logger.Error("position persist failed", "symbol", p.Symbol, "error", err)
	}
}

func sideToPositionSide(side core.OrderSide) core.PositionSide {
	if side == core.OrderSideSell {
		return core.PositionSideShort
	}
	return core.PositionSideLong
}
