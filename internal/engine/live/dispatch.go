package live

import (
	"context"
	"fmt"

	"perp_trader/internal/core"
	"perp_trader/internal/marketdata"
	"perp_trader/internal/strategy"

	"github.com/shopspring/decimal"
)

const (
	preloadLimit = 1000

	// A symbol needs this much history before the strategy sees it
	minBarsForSignal = 50
)

// preload backfills each configured symbol's frame from venue history and,
// when enough rows came back, runs one strategy evaluation so the engine
// does not idle until the first streamed close.
func (e *Engine) preload(ctx context.Context) {
	warm := make([]string, 0, len(e.cfg.Trading.Symbols))
	for _, symbol := range e.cfg.Trading.Symbols {
		venueSym := e.venueSymbol(symbol)
		klines, err := e.exchange.GetKlines(ctx, venueSym, e.cfg.Trading.KlineInterval, 0, 0, preloadLimit)
		if err != nil {
			e.logger.Warn("kline preload failed", "symbol", symbol, "error", err)
			continue
		}
		e.frames.Get(symbol).PushAll(klines)
		e.logger.Info("kline history preloaded", "symbol", symbol, "bars", len(klines))
		if len(klines) >= minBarsForSignal {
			warm = append(warm, symbol)
		}
	}
	for _, symbol := range warm {
		e.evaluate(ctx, symbol)
	}
}

func (e *Engine) startKlineStream(ctx context.Context) error {
	venueSyms := make([]string, 0, len(e.cfg.Trading.Symbols))
	for _, symbol := range e.cfg.Trading.Symbols {
		venueSyms = append(venueSyms, e.venueSymbol(symbol))
	}
	if len(venueSyms) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	return e.exchange.StartKlineStream(ctx, venueSyms, e.cfg.Trading.KlineInterval, e.onKline)
}

// onKline is the stream callback. Every bar updates the frame; only closed
// bars trigger an evaluation.
func (e *Engine) onKline(venueSym string, kline core.Kline) {
	symbol := e.canonicalSymbol(venueSym)
	e.frames.Get(symbol).Push(kline)

	if !kline.Closed || !e.running.Load() {
		return
	}
	e.evaluate(context.Background(), symbol)
	e.beat("kline_dispatch")
}

// evaluate runs one strategy pass for symbol and submits whatever it emits.
// The pass is skipped while an order is in flight for the symbol or while
// margin headroom is exhausted.
func (e *Engine) evaluate(ctx context.Context, symbol string) {
	if e.hasOpenOrder(symbol) {
		e.logger.Debug("evaluation skipped, order in flight", "symbol", symbol)
		return
	}

	capital := e.accountCapital(ctx)
	if capital.IsPositive() {
		used := e.marginInUse()
		ceiling := capital.Mul(decimal.NewFromFloat(e.cfg.Trading.MaxMarginUsage))
		if used.GreaterThanOrEqual(ceiling) {
			e.logger.Warn("evaluation skipped, margin ceiling reached",
				"symbol", symbol, "margin_used", used.String(), "ceiling", ceiling.String())
			return
		}
	}

	if ca, ok := e.strat.(strategy.CapitalAware); ok {
		ca.SetCapital(capital)
	}
	if pa, ok := e.strat.(strategy.PositionAware); ok {
		pa.SyncPosition(symbol, e.Position(symbol))
	}

	signals := e.strat.CalculateSignal(map[string]*marketdata.Frame{symbol: e.frames.Get(symbol)})
	for i := range signals {
		e.submitSignal(ctx, &signals[i])
	}
}

func (e *Engine) submitSignal(ctx context.Context, signal *core.Signal) {
	switch signal.Action {
	case core.SignalActionBuy:
		if _, err := e.placeOrder(ctx, signal.Symbol, core.OrderSideBuy, signal.Quantity, signal.Price, signal, false); err != nil {
			e.logger.Warn("buy signal not executed", "symbol", signal.Symbol, "error", err)
		}
	case core.SignalActionSell:
		// A sell against an open long is a close and bypasses sizing risk
		reduceOnly := false
		if p := e.Position(signal.Symbol); p != nil && p.Side == core.PositionSideLong {
			reduceOnly = true
			if signal.Quantity.GreaterThan(p.Quantity) {
				signal.Quantity = p.Quantity
			}
		}
		if _, err := e.placeOrder(ctx, signal.Symbol, core.OrderSideSell, signal.Quantity, signal.Price, signal, reduceOnly); err != nil {
			e.logger.Warn("sell signal not executed", "symbol", signal.Symbol, "error", err)
		}
	}
}

func (e *Engine) hasOpenOrder(symbol string) bool {
	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()
	for _, o := range e.orders {
		if o.Symbol == symbol && !o.Status.IsTerminal() {
			return true
		}
	}
	return false
}

// marginInUse sums entry-notional margin across engine-local positions
func (e *Engine) marginInUse() decimal.Decimal {
	leverage := decimal.NewFromInt(int64(e.cfg.Trading.Leverage))
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}
	e.positionsMu.Lock()
	defer e.positionsMu.Unlock()
	total := decimal.Zero
	for _, p := range e.positions {
		total = total.Add(p.Quantity.Mul(p.EntryPrice).Div(leverage))
	}
	return total
}
