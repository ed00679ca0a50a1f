package live

import (
	"context"

	"perp_trader/internal/core"

	"github.com/shopspring/decimal"
)

// notFoundStrikes is how many consecutive NOT_FOUND poll responses it takes
// before an order is treated as filled. Fast venues purge filled market
// orders from their open-order books, so a vanished id usually means a fill.
const notFoundStrikes = 3

// pollOrders reconciles every non-terminal local order against the venue
func (e *Engine) pollOrders(ctx context.Context) error {
	e.ordersMu.Lock()
	pending := make([]*core.Order, 0, len(e.orders))
	for _, o := range e.orders {
		if !o.Status.IsTerminal() {
			pending = append(pending, o.Clone())
		}
	}
	e.ordersMu.Unlock()

	for _, order := range pending {
		venueOrder, err := e.exchange.GetOrder(ctx, order.VenueSymbol, order.VenueOrderID)
		if err != nil {
			e.logger.Warn("order status poll failed",
				"id", order.ID, "venue_order_id", order.VenueOrderID, "error", err)
			continue
		}
		e.applyPolledStatus(ctx, order.ID, venueOrder)
	}
	return nil
}

func (e *Engine) applyPolledStatus(ctx context.Context, id int64, venueOrder *core.Order) {
	e.ordersMu.Lock()
	order, ok := e.orders[id]
	if !ok {
		e.ordersMu.Unlock()
		return
	}

	switch venueOrder.Status {
	case core.OrderStatusNotFound:
		order.NotFoundCount++
		strikes := order.NotFoundCount
		symbol := order.Symbol
		e.ordersMu.Unlock()

		if strikes < notFoundStrikes {
			e.logger.Debug("order not found at venue",
				"id", id, "strikes", strikes)
			return
		}
		// Triple strike: the venue lost the id, assume it filled and
		// impute the price.
		price := e.imputeFillPrice(ctx, symbol)
		e.logger.Warn("order vanished from venue, imputing fill",
			"marker", "ORDER", "id", id, "imputed_price", price.String())
		e.takeAndHandleFill(ctx, id, price)

	case core.OrderStatusFilled:
		order.FilledQuantity = venueOrder.FilledQuantity
		order.AvgFillPrice = venueOrder.AvgFillPrice
		order.Commission = venueOrder.Commission
		order.CommissionAsset = venueOrder.CommissionAsset
		e.ordersMu.Unlock()
		e.takeAndHandleFill(ctx, id, venueOrder.AvgFillPrice)

	case core.OrderStatusCancelled, core.OrderStatusRejected:
		delete(e.orders, id)
		order.Status = venueOrder.Status
		order.UpdatedAt = e.now()
		snapshot := order.Clone()
		e.ordersMu.Unlock()

		e.persistOrder(snapshot)
		e.logger.Info("order closed without fill",
			"id", id, "status", snapshot.Status)

	default:
		order.NotFoundCount = 0
		order.FilledQuantity = venueOrder.FilledQuantity
		order.UpdatedAt = e.now()
		e.ordersMu.Unlock()
	}
}

// imputeFillPrice picks the best available stand-in for a lost order's fill
// price: live ticker, then the venue position's entry, then zero.
func (e *Engine) imputeFillPrice(ctx context.Context, symbol string) decimal.Decimal {
	venueSym := e.venueSymbol(symbol)
	if ticker, err := e.exchange.GetTicker(ctx, venueSym); err == nil && ticker.LastPrice.IsPositive() {
		return ticker.LastPrice
	}
	if positions, err := e.exchange.GetPositions(ctx, venueSym); err == nil {
		for _, p := range positions {
			if p.EntryPrice.IsPositive() {
				return p.EntryPrice
			}
		}
	}
	e.logger.Error("no price source for imputed fill, recording zero", "symbol", symbol)
	return decimal.Zero
}
