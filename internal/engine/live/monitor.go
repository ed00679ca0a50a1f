package live

import (
	"context"
	"time"

	"perp_trader/internal/core"
	"perp_trader/internal/strategy"
	"perp_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// resyncDelay is how long a failed forced close waits before re-reading the
// venue position book.
const resyncDelay = 5 * time.Second

// monitorPositions refreshes marks and enforces the leveraged-PnL brackets
// on every open position.
func (e *Engine) monitorPositions(ctx context.Context) error {
	stopAt := decimal.NewFromFloat(e.cfg.Trading.StopLossPercent).Neg()
	takeAt := decimal.NewFromFloat(e.cfg.Trading.TakeProfitPercent)

	for _, position := range e.Positions() {
		venueSym := e.venueSymbol(position.Symbol)
		ticker, err := e.exchange.GetTicker(ctx, venueSym)
		if err != nil {
			e.logger.Warn("mark refresh failed", "symbol", position.Symbol, "error", err)
			continue
		}
		mark := ticker.LastPrice
		if !mark.IsPositive() {
			continue
		}

		e.positionsMu.Lock()
		live, ok := e.positions[position.Symbol]
		if !ok {
			// Closed between snapshot and refresh
			e.positionsMu.Unlock()
			continue
		}
		live.MarkPrice = mark
		live.UnrealizedPnL = mark.Sub(live.EntryPrice).Mul(live.SignedQuantity())
		live.UpdatedAt = e.now()
		snapshot := live.Clone()
		e.positionsMu.Unlock()

		pnlPct := core.LeveragedPnLPct(snapshot.Side, snapshot.EntryPrice, mark, e.cfg.Trading.Leverage)

		unrealized, _ := snapshot.UnrealizedPnL.Float64()
		size, _ := snapshot.Quantity.Float64()
		telemetry.GetGlobalMetrics().SetUnrealizedPnL(snapshot.Symbol, unrealized)
		telemetry.GetGlobalMetrics().SetPositionSize(snapshot.Symbol, size)

		if pnlPct.LessThanOrEqual(stopAt) || pnlPct.GreaterThanOrEqual(takeAt) {
			e.logger.Warn("leveraged PnL bracket hit, forcing close",
				"marker", "POSITION", "symbol", snapshot.Symbol,
				"pnl_pct", pnlPct.String(), "entry", snapshot.EntryPrice.String(),
				"mark", mark.String())
			e.forceClose(ctx, snapshot, mark)
			continue
		}
		e.persistPosition(snapshot)
	}
	return nil
}

// forceClose liquidates one position with a reduce-only market order,
// bypassing the pre-trade risk check. The venue's own position book is the
// source of truth for the closing quantity.
func (e *Engine) forceClose(ctx context.Context, position *core.Position, mark decimal.Decimal) {
	venueSym := e.venueSymbol(position.Symbol)

	venuePositions, err := e.exchange.GetPositions(ctx, venueSym)
	if err != nil {
		e.logger.Error("venue position read failed before forced close",
			"symbol", position.Symbol, "error", err)
		return
	}
	var venuePos *core.Position
	for _, p := range venuePositions {
		if p.Quantity.IsPositive() {
			venuePos = p
			break
		}
	}
	if venuePos == nil {
		// Venue already flat: drop the stale local record
		e.logger.Warn("venue reports no position, dropping local record",
			"symbol", position.Symbol)
		e.dropPosition(position.Symbol)
		return
	}

	req := &core.OrderRequest{
		Symbol:     venueSym,
		Side:       sideToOrderSide(venuePos.Side).Opposite(),
		Type:       core.OrderTypeMarket,
		Quantity:   venuePos.Quantity,
		ReduceOnly: true,
	}
	if _, err := e.executor.PlaceOrder(ctx, req); err != nil {
		e.logger.Error("forced close submission failed, scheduling re-sync",
			"symbol", position.Symbol, "error", err)
		e.scheduleResync(position.Symbol)
		return
	}

	realized := mark.Sub(position.EntryPrice).Mul(position.SignedQuantity())
	e.positionsMu.Lock()
	delete(e.positions, position.Symbol)
	if pa, ok := e.strat.(strategy.PositionAware); ok {
		pa.SyncPosition(position.Symbol, nil)
	}
	e.risk.ClosePosition(position.Symbol, realized, venuePos.Quantity.Mul(mark))
	e.positionsMu.Unlock()
	e.persistPosition(&core.Position{
		Symbol:      position.Symbol,
		Side:        position.Side,
		Quantity:    decimal.Zero,
		EntryPrice:  position.EntryPrice,
		MarkPrice:   mark,
		RealizedPnL: realized,
		UpdatedAt:   e.now(),
	})
	e.journal.Record(core.RiskEventForcedClose, position.Symbol, map[string]interface{}{
		"entry_price":  position.EntryPrice.String(),
		"mark_price":   mark.String(),
		"quantity":     venuePos.Quantity.String(),
		"realized_pnl": realized.String(),
	})
	e.notifyPosition(&core.Position{Symbol: position.Symbol, Quantity: decimal.Zero, RealizedPnL: realized})
}

// dropPosition deletes the book entry and clears the strategy and risk
// mirrors in the same critical section, without booking PnL. A mirror left
// behind would keep counting toward the pre-trade margin check.
func (e *Engine) dropPosition(symbol string) {
	e.positionsMu.Lock()
	delete(e.positions, symbol)
	if pa, ok := e.strat.(strategy.PositionAware); ok {
		pa.SyncPosition(symbol, nil)
	}
	e.risk.DropPosition(symbol)
	e.positionsMu.Unlock()
}

// scheduleResync re-reads the venue book after a delay and reconciles the
// local record against it.
func (e *Engine) scheduleResync(symbol string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case <-e.stopCh:
			return
		case <-time.After(resyncDelay):
		}
		e.resyncPosition(context.Background(), symbol)
	}()
}

func (e *Engine) resyncPosition(ctx context.Context, symbol string) {
	venueSym := e.venueSymbol(symbol)
	venuePositions, err := e.exchange.GetPositions(ctx, venueSym)
	if err != nil {
		e.logger.Error("position re-sync failed", "symbol", symbol, "error", err)
		return
	}
	var venuePos *core.Position
	for _, p := range venuePositions {
		if p.Quantity.IsPositive() {
			venuePos = p
			break
		}
	}
	if venuePos == nil {
		e.logger.Info("re-sync: venue flat, dropping local position", "symbol", symbol)
		e.dropPosition(symbol)
		return
	}

	e.positionsMu.Lock()
	live, ok := e.positions[symbol]
	if ok {
		live.Side = venuePos.Side
		live.Quantity = venuePos.Quantity
		if venuePos.EntryPrice.IsPositive() {
			live.EntryPrice = venuePos.EntryPrice
		}
		live.UpdatedAt = e.now()
	}
	e.positionsMu.Unlock()
	e.logger.Info("re-sync: local position updated from venue",
		"symbol", symbol, "quantity", venuePos.Quantity.String())
}

// writeSnapshot records cash plus mark-to-market position value
func (e *Engine) writeSnapshot(ctx context.Context) error {
	cash := e.accountCapital(ctx)

	positionsValue := decimal.Zero
	for _, p := range e.Positions() {
		mark := p.MarkPrice
		if !mark.IsPositive() {
			mark = p.EntryPrice
		}
		positionsValue = positionsValue.Add(p.Quantity.Mul(mark))
	}
	total := cash.Add(positionsValue)

	e.risk.UpdatePortfolioValue(total)

	snapshot := &core.PortfolioSnapshot{
		Timestamp:      e.now(),
		TotalValue:     total,
		Cash:           cash,
		PositionsValue: positionsValue,
		DailyPnL:       e.risk.DailyPnL(),
	}
	if total.IsPositive() {
		snapshot.DailyReturn, _ = snapshot.DailyPnL.Div(total).Float64()
	}
	if err := e.sink.SavePortfolioSnapshot(context.Background(), snapshot); err != nil {
		return err
	}

	value, _ := total.Float64()
	telemetry.GetGlobalMetrics().SetPortfolioValue(value)
	return nil
}

// heartbeat pings the venue while positions are open so connectivity loss
// is noticed before the next order.
func (e *Engine) heartbeat(ctx context.Context) error {
	e.positionsMu.Lock()
	open := len(e.positions)
	e.positionsMu.Unlock()
	if open == 0 {
		return nil
	}

	serverTime, err := e.exchange.GetServerTime(ctx)
	if err != nil {
		e.logger.Warn("heartbeat failed", "error", err)
		return err
	}
	drift := e.now().UnixMilli() - serverTime
	e.logger.Debug("heartbeat", "open_positions", open, "clock_drift_ms", drift)
	return nil
}
