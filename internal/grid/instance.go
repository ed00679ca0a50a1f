package grid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
	"perp_trader/internal/risk"
	apperrors "perp_trader/pkg/errors"
	"perp_trader/pkg/retry"
	"perp_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

const (
	// rearmCooldown keeps a freshly re-armed rung out of the next sweep
	rearmCooldown = 2 * time.Second

	closeRetryAttempts = 3
	closeRetryDelay    = 120 * time.Millisecond
)

// closingRecord ties an in-flight close order back to the rung it unwinds
type closingRecord struct {
	RungIndex int
	OpenPrice decimal.Decimal
	Side      core.OrderSide // side of the close order itself
	Quantity  decimal.Decimal
}

// Stats is a point-in-time copy of an instance's counters
type Stats struct {
	TotalTrades          int
	BuyFills             int
	SellFills            int
	TotalProfit          decimal.Decimal
	TotalFees            decimal.Decimal
	DailyRealizedPnL     decimal.Decimal
	CurrentPositionValue decimal.Decimal
	PeakProfit           decimal.Decimal
	MaxDrawdown          decimal.Decimal
}

// Instance runs one grid over one symbol. It owns its ladder exclusively;
// all mutable state sits behind one mutex that is never held across venue
// calls.
type Instance struct {
	ID string

	cfg      config.GridConfig
	exchange core.IExchange
	executor core.IOrderExecutor
	guard    *risk.Guard
	journal  *risk.Journal
	logger   core.ILogger

	venueSym   string
	market     *core.MarketInfo
	investment decimal.Decimal // total margin across all rungs
	feeRate    decimal.Decimal
	minValue   decimal.Decimal

	mu        sync.Mutex
	ladder    *Ladder
	closing   map[string]*closingRecord
	stats     Stats
	lastPrice decimal.Decimal
	stopOnce  sync.Once

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

func NewInstance(id string, cfg config.GridConfig, exchange core.IExchange, executor core.IOrderExecutor, journal *risk.Journal, logger core.ILogger) *Instance {
	rungs := decimal.NewFromInt(int64(cfg.GridCount + 1))
	investment := decimal.NewFromFloat(cfg.InvestmentPerGrid).Mul(rungs)

	feeRate := decimal.NewFromFloat(cfg.FeeRate)
	if !feeRate.IsPositive() {
		feeRate = decimal.RequireFromString("0.0004")
	}
	minValue := decimal.NewFromFloat(cfg.MinOrderValue)
	if !minValue.IsPositive() {
		minValue = decimal.NewFromInt(5)
	}

	dailyLimit := investment.Mul(decimal.NewFromFloat(cfg.DailyLossLimitPct))
	if !dailyLimit.IsPositive() {
		dailyLimit = investment.Mul(decimal.RequireFromString("0.30"))
	}
	totalLimit := investment.Mul(decimal.NewFromFloat(cfg.StopLossPct))
	if !totalLimit.IsPositive() {
		totalLimit = investment.Mul(decimal.RequireFromString("0.50"))
	}

	return &Instance{
		ID:         id,
		cfg:        cfg,
		exchange:   exchange,
		executor:   executor,
		guard:      risk.NewGuard(dailyLimit, totalLimit),
		journal:    journal,
		logger:     logger.WithFields(map[string]interface{}{"component": "grid", "instance": id}),
		investment: investment,
		feeRate:    feeRate,
		minValue:   minValue,
		closing:    make(map[string]*closingRecord),
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

// Start builds the ladder from live market data, adopts surviving orders
// from a previous run and begins the monitor loop.
func (g *Instance) Start(ctx context.Context, monitorInterval time.Duration) error {
	if !g.running.CompareAndSwap(false, true) {
		return fmt.Errorf("grid instance %s already running", g.ID)
	}

	g.venueSym = g.exchange.VenueSymbol(g.cfg.Symbol)
	market, err := g.exchange.GetSymbolInfo(ctx, g.venueSym)
	if err != nil {
		g.logger.Warn("market rules unavailable, using raw precision", "error", err)
	}
	g.market = market

	ticker, err := g.exchange.GetTicker(ctx, g.venueSym)
	if err != nil {
		g.running.Store(false)
		return fmt.Errorf("grid needs a last price to lay the ladder: %w", err)
	}

	ladder, err := BuildLadder(LadderParams{
		Symbol:     g.cfg.Symbol,
		Lower:      decimal.NewFromFloat(g.cfg.LowerPrice),
		Upper:      decimal.NewFromFloat(g.cfg.UpperPrice),
		Count:      g.cfg.GridCount,
		Investment: decimal.NewFromFloat(g.cfg.InvestmentPerGrid),
		Leverage:   g.cfg.Leverage,
		Mode:       g.cfg.Mode,
	}, ticker.LastPrice, market)
	if err != nil {
		g.running.Store(false)
		return err
	}

	g.mu.Lock()
	g.ladder = ladder
	g.lastPrice = ticker.LastPrice
	g.mu.Unlock()

	g.adoptOpenOrders(ctx)

	g.logger.Info("grid started",
		"symbol", g.cfg.Symbol, "rungs", len(ladder.Rungs),
		"band", fmt.Sprintf("[%s, %s]", ladder.Lower, ladder.Upper),
		"spacing", ladder.Spacing.String(),
		"investment", g.investment.String())

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		tick := time.NewTicker(monitorInterval)
		defer tick.Stop()
		for {
			select {
			case <-g.stopCh:
				return
			case <-tick.C:
				g.sweep(context.Background())
			}
		}
	}()
	return nil
}

// adoptOpenOrders reuses surviving same-side non-reduce-only orders within
// half a spacing of a rung, so a restart does not double-place.
func (g *Instance) adoptOpenOrders(ctx context.Context) {
	open, err := g.exchange.GetOpenOrders(ctx, g.venueSym)
	if err != nil {
		g.logger.Warn("open-order recovery failed", "error", err)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, o := range open {
		if o.ReduceOnly {
			continue
		}
		for _, rung := range g.ladder.Rungs {
			if rung.Status != RungIdle || rung.Side != o.Side {
				continue
			}
			if !g.ladder.WithinHalfSpacing(rung, o.Price) {
				continue
			}
			rung.VenueOrderID = o.VenueOrderID
			rung.Status = RungPending
			g.logger.Info("adopted surviving order",
				"rung", rung.Index, "venue_order_id", o.VenueOrderID,
				"price", o.Price.String())
			break
		}
	}
}

// sweep is one monitor pass: settle closes, detect fills, place idle rungs,
// enforce the loss ceilings.
func (g *Instance) sweep(ctx context.Context) {
	if !g.running.Load() {
		return
	}

	if ok, reason := g.guard.Allow(); !ok {
		if tripped, _ := g.guard.Tripped(); tripped {
			g.selfStop(ctx, reason)
		}
		return
	}

	openIDs, err := g.openOrderIDs(ctx)
	if err != nil {
		g.logger.Warn("open-order snapshot failed", "error", err)
		return
	}

	g.settleClosing(ctx, openIDs)
	g.detectFills(ctx, openIDs)
	g.placeIdleRungs(ctx)
	g.enforceCeilings(ctx)
}

func (g *Instance) openOrderIDs(ctx context.Context) (map[string]bool, error) {
	open, err := g.exchange.GetOpenOrders(ctx, g.venueSym)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(open))
	for _, o := range open {
		ids[o.VenueOrderID] = true
	}
	return ids, nil
}

// detectFills promotes pending rungs whose orders left the venue's open set
func (g *Instance) detectFills(ctx context.Context, openIDs map[string]bool) {
	g.mu.Lock()
	var candidates []*Rung
	for _, rung := range g.ladder.Rungs {
		if rung.Status == RungPending && rung.VenueOrderID != "" && !openIDs[rung.VenueOrderID] {
			candidates = append(candidates, rung)
		}
	}
	g.mu.Unlock()

	for _, rung := range candidates {
		order, err := g.exchange.GetOrder(ctx, g.venueSym, rung.VenueOrderID)
		if err != nil {
			g.logger.Warn("rung status check failed", "rung", rung.Index, "error", err)
			continue
		}
		switch order.Status {
		case core.OrderStatusFilled, core.OrderStatusNotFound:
			fillPrice := order.AvgFillPrice
			if !fillPrice.IsPositive() {
				fillPrice = rung.Price
			}
			g.onRungFill(ctx, rung, fillPrice)
		case core.OrderStatusCancelled, core.OrderStatusRejected:
			g.mu.Lock()
			rung.Status = RungIdle
			rung.VenueOrderID = ""
			rung.CooldownUntil = g.now().Add(rearmCooldown)
			g.mu.Unlock()
			g.logger.Info("rung order cancelled, will re-place", "rung", rung.Index)
		}
	}
}

// onRungFill books the fill and places the paired close at the adjacent
// opposing rung.
func (g *Instance) onRungFill(ctx context.Context, rung *Rung, fillPrice decimal.Decimal) {
	g.mu.Lock()
	rung.Status = RungHandlingFill
	rung.FillPrice = fillPrice
	g.stats.TotalTrades++
	if rung.Side == core.OrderSideBuy {
		g.stats.BuyFills++
	} else {
		g.stats.SellFills++
	}
	g.stats.CurrentPositionValue = g.stats.CurrentPositionValue.Add(rung.Quantity.Mul(fillPrice))
	closeRung := g.ladder.CloseRungFor(rung.Index, rung.Side)
	g.mu.Unlock()

	if m := telemetry.GetGlobalMetrics(); m.GridFillsTotal != nil {
		m.GridFillsTotal.Add(ctx, 1)
	}
	g.logger.Info("rung filled", "marker", "GRID",
		"rung", rung.Index, "side", rung.Side,
		"price", fillPrice.String(), "quantity", rung.Quantity.String())

	if closeRung == nil {
		// Edge rung: nothing to pair against, re-arm and let the monitor
		// loop keep the exposure visible via position value.
		g.logger.Warn("fill at ladder edge, no paired close", "rung", rung.Index)
		g.rearmRung(rung)
		return
	}

	g.placePairedClose(ctx, rung, closeRung, fillPrice)
}

// placePairedClose submits the reduce-only limit close, retrying briefly,
// and registers the venue id in the closing registry.
func (g *Instance) placePairedClose(ctx context.Context, rung, closeRung *Rung, fillPrice decimal.Decimal) {
	req := &core.OrderRequest{
		Symbol:      g.venueSym,
		Side:        rung.Side.Opposite(),
		Type:        core.OrderTypeLimit,
		Quantity:    rung.Quantity,
		Price:       closeRung.Price,
		ReduceOnly:  true,
		MaxLeverage: g.cfg.Leverage,
	}

	var placed *core.Order
	err := retry.DoLinear(ctx, closeRetryAttempts, closeRetryDelay, func() error {
		var placeErr error
		placed, placeErr = g.executor.PlaceOrder(ctx, req)
		return placeErr
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrRateLimitExceeded) {
			g.guard.FreezeRateLimited()
			g.logger.Warn("rate limited placing close, freezing placements")
		}
		g.logger.Error("paired close failed, rung stays in handling_fill",
			"rung", rung.Index, "error", err)
		return
	}

	g.mu.Lock()
	rung.Status = RungClosing
	g.closing[placed.VenueOrderID] = &closingRecord{
		RungIndex: rung.Index,
		OpenPrice: fillPrice,
		Side:      req.Side,
		Quantity:  rung.Quantity,
	}
	g.mu.Unlock()

	g.logger.Info("paired close placed", "marker", "GRID",
		"rung", rung.Index, "close_price", closeRung.Price.String(),
		"venue_order_id", placed.VenueOrderID)
}

// settleClosing realises PnL for registry orders that left the open set
func (g *Instance) settleClosing(ctx context.Context, openIDs map[string]bool) {
	g.mu.Lock()
	pending := make(map[string]*closingRecord, len(g.closing))
	for id, rec := range g.closing {
		if !openIDs[id] {
			pending[id] = rec
		}
	}
	g.mu.Unlock()

	for id, rec := range pending {
		order, err := g.exchange.GetOrder(ctx, g.venueSym, id)
		if err != nil {
			g.logger.Warn("close status check failed", "venue_order_id", id, "error", err)
			continue
		}
		switch order.Status {
		case core.OrderStatusFilled, core.OrderStatusNotFound:
			closePrice := order.AvgFillPrice
			if !closePrice.IsPositive() {
				closePrice = g.rungPrice(rec.RungIndex, rec.Side)
			}
			g.realizeClose(id, rec, closePrice)
		case core.OrderStatusCancelled:
			g.resubmitClose(ctx, id, rec)
		}
	}
}

// rungPrice looks up the close rung's ladder price as a stand-in fill price
func (g *Instance) rungPrice(parentIndex int, closeSide core.OrderSide) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	target := parentIndex + 1
	if closeSide == core.OrderSideBuy {
		// A BUY close pairs a SELL fill, so it sits one rung below
		target = parentIndex - 1
	}
	if target < 0 || target >= len(g.ladder.Rungs) {
		return decimal.Zero
	}
	return g.ladder.Rungs[target].Price
}

// realizeClose books the round trip and re-arms the parent rung
func (g *Instance) realizeClose(venueOrderID string, rec *closingRecord, closePrice decimal.Decimal) {
	gross := closePrice.Sub(rec.OpenPrice).Mul(rec.Quantity)
	if rec.Side == core.OrderSideBuy {
		// Buy-close unwinds a short: profit when it closes below the open
		gross = rec.OpenPrice.Sub(closePrice).Mul(rec.Quantity)
	}
	fees := rec.Quantity.Mul(rec.OpenPrice.Add(closePrice)).Mul(g.feeRate)
	net := gross.Sub(fees)

	g.mu.Lock()
	delete(g.closing, venueOrderID)
	g.stats.TotalProfit = g.stats.TotalProfit.Add(net)
	g.stats.TotalFees = g.stats.TotalFees.Add(fees)
	g.stats.CurrentPositionValue = g.stats.CurrentPositionValue.Sub(rec.Quantity.Mul(rec.OpenPrice))
	if g.stats.TotalProfit.GreaterThan(g.stats.PeakProfit) {
		g.stats.PeakProfit = g.stats.TotalProfit
	}
	if dd := g.stats.PeakProfit.Sub(g.stats.TotalProfit); dd.GreaterThan(g.stats.MaxDrawdown) {
		g.stats.MaxDrawdown = dd
	}
	profit, _ := g.stats.TotalProfit.Float64()
	parent := g.ladder.Rungs[rec.RungIndex]
	g.mu.Unlock()

	g.guard.RecordPnL(net)
	telemetry.GetGlobalMetrics().SetGridProfit(g.ID, profit)

	g.logger.Info("grid round trip realised", "marker", "GRID",
		"rung", rec.RungIndex, "open", rec.OpenPrice.String(),
		"close", closePrice.String(), "net_pnl", net.String(),
		"fees", fees.String())

	g.rearmRung(parent)
}

// resubmitClose replaces a cancelled close with the same payload
func (g *Instance) resubmitClose(ctx context.Context, oldID string, rec *closingRecord) {
	g.mu.Lock()
	delete(g.closing, oldID)
	price := decimal.Zero
	if rec.RungIndex >= 0 && rec.RungIndex < len(g.ladder.Rungs) {
		if closeRung := g.ladder.CloseRungFor(rec.RungIndex, rec.Side.Opposite()); closeRung != nil {
			price = closeRung.Price
		}
	}
	g.mu.Unlock()
	if !price.IsPositive() {
		return
	}

	placed, err := g.executor.PlaceOrder(ctx, &core.OrderRequest{
		Symbol:      g.venueSym,
		Side:        rec.Side,
		Type:        core.OrderTypeLimit,
		Quantity:    rec.Quantity,
		Price:       price,
		ReduceOnly:  true,
		MaxLeverage: g.cfg.Leverage,
	})
	if err != nil {
		g.logger.Error("close resubmission failed", "rung", rec.RungIndex, "error", err)
		return
	}
	g.mu.Lock()
	g.closing[placed.VenueOrderID] = rec
	g.mu.Unlock()
	g.logger.Info("cancelled close resubmitted",
		"rung", rec.RungIndex, "venue_order_id", placed.VenueOrderID)
}

func (g *Instance) rearmRung(rung *Rung) {
	g.mu.Lock()
	rung.Status = RungIdle
	rung.VenueOrderID = ""
	rung.FillPrice = decimal.Zero
	rung.CooldownUntil = g.now().Add(rearmCooldown)
	g.mu.Unlock()
}

// placeIdleRungs submits entry orders for every eligible idle rung
func (g *Instance) placeIdleRungs(ctx context.Context) {
	ticker, err := g.exchange.GetTicker(ctx, g.venueSym)
	if err != nil {
		g.logger.Warn("ticker unavailable, skipping placement pass", "error", err)
		return
	}
	last := ticker.LastPrice

	g.mu.Lock()
	g.lastPrice = last
	var eligible []*Rung
	for _, rung := range g.ladder.Rungs {
		if rung.Status != RungIdle || g.now().Before(rung.CooldownUntil) {
			continue
		}
		// Never bid at/above the tape nor offer at/below it
		if rung.Side == core.OrderSideBuy && rung.Price.GreaterThanOrEqual(last) {
			continue
		}
		if rung.Side == core.OrderSideSell && rung.Price.LessThanOrEqual(last) {
			continue
		}
		if rung.Price.Mul(rung.Quantity).LessThan(g.minValue) {
			continue
		}
		rung.Status = RungPlacing
		eligible = append(eligible, rung)
	}
	g.mu.Unlock()

	for _, rung := range eligible {
		placed, err := g.executor.PlaceOrder(ctx, &core.OrderRequest{
			Symbol:      g.venueSym,
			Side:        rung.Side,
			Type:        core.OrderTypeLimit,
			Quantity:    rung.Quantity,
			Price:       rung.Price,
			MaxLeverage: g.cfg.Leverage,
		})
		if err != nil {
			if errors.Is(err, apperrors.ErrRateLimitExceeded) {
				g.guard.FreezeRateLimited()
				g.logger.Warn("rate limited, freezing placements for a minute")
			} else {
				g.logger.Warn("rung placement failed", "rung", rung.Index, "error", err)
			}
			g.mu.Lock()
			rung.Status = RungIdle
			rung.CooldownUntil = g.now().Add(rearmCooldown)
			g.mu.Unlock()
			continue
		}
		g.mu.Lock()
		rung.Status = RungPending
		rung.VenueOrderID = placed.VenueOrderID
		g.mu.Unlock()
		g.logger.Debug("rung placed", "rung", rung.Index,
			"side", rung.Side, "price", rung.Price.String())
	}
}

// enforceCeilings self-stops the instance past either loss limit
func (g *Instance) enforceCeilings(ctx context.Context) {
	if tripped, reason := g.guard.Tripped(); tripped {
		g.selfStop(ctx, reason)
	}
}

func (g *Instance) selfStop(ctx context.Context, reason string) {
	g.stopOnce.Do(func() {
		g.logger.Error("grid self-stop", "marker", "GRID", "reason", reason,
			"daily_pnl", g.guard.DailyPnL().String())
		g.journal.Record(core.RiskEventGridStop, g.cfg.Symbol, map[string]interface{}{
			"instance": g.ID,
			"reason":   reason,
		})
		go g.Stop(ctx)
	})
}

// Stop cancels everything the instance owns and flattens residual exposure
func (g *Instance) Stop(ctx context.Context) error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}
	close(g.stopCh)

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		g.logger.Warn("grid monitor did not stop within grace period")
	}

	g.cancelAll(ctx)
	g.liquidateResiduals(ctx)
	g.logger.Info("grid stopped", "total_profit", g.Stats().TotalProfit.String())
	return nil
}

// cancelAll pulls every registry close and pending rung order, ignoring
// already-gone ids.
func (g *Instance) cancelAll(ctx context.Context) {
	g.mu.Lock()
	ids := make([]string, 0, len(g.closing))
	for id := range g.closing {
		ids = append(ids, id)
	}
	for _, rung := range g.ladder.Rungs {
		if rung.Status == RungPending && rung.VenueOrderID != "" {
			ids = append(ids, rung.VenueOrderID)
		}
	}
	g.mu.Unlock()

	for _, id := range ids {
		if err := g.executor.CancelOrder(ctx, g.venueSym, id); err != nil &&
			!errors.Is(err, apperrors.ErrOrderNotFound) {
			g.logger.Warn("cancel on stop failed", "venue_order_id", id, "error", err)
		}
	}
}

// liquidateResiduals flattens whatever position the grid left behind. On
// venues that track their own trade handles the dedicated liquidation path
// is used; otherwise the position book is read back and closed reduce-only.
func (g *Instance) liquidateResiduals(ctx context.Context) {
	if liq, ok := g.exchange.(core.PositionLiquidator); ok {
		if err := liq.LiquidateTracked(ctx, g.venueSym); err != nil {
			g.logger.Error("tracked liquidation failed", "error", err)
		}
		return
	}

	positions, err := g.exchange.GetPositions(ctx, g.venueSym)
	if err != nil {
		g.logger.Error("residual position read failed", "error", err)
		return
	}
	for _, p := range positions {
		if !p.Quantity.IsPositive() {
			continue
		}
		side := core.OrderSideSell
		if p.Side == core.PositionSideShort {
			side = core.OrderSideBuy
		}
		if _, err := g.executor.PlaceOrder(ctx, &core.OrderRequest{
			Symbol:     g.venueSym,
			Side:       side,
			Type:       core.OrderTypeMarket,
			Quantity:   p.Quantity,
			ReduceOnly: true,
		}); err != nil {
			g.logger.Error("residual liquidation failed",
				"symbol", p.Symbol, "error", err)
		}
	}
}

// Stats returns a copy of the instance counters
func (g *Instance) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.DailyRealizedPnL = g.guard.DailyPnL()
	return s
}

// Running reports whether the monitor loop is live
func (g *Instance) Running() bool {
	return g.running.Load()
}

// Ladder returns the rung vector; callers must treat it as read-only
func (g *Instance) Ladder() *Ladder {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ladder
}
