// Package live implements the trading engine: signal dispatch, order
// lifecycle, position protection and portfolio accounting against one venue.
package live

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
	"perp_trader/internal/marketdata"
	"perp_trader/internal/persistence"
	"perp_trader/internal/risk"
	"perp_trader/internal/strategy"
	"perp_trader/pkg/concurrency"
	apperrors "perp_trader/pkg/errors"
	"perp_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Engine runs the live trading loops for one venue. Orders, positions and
// the capital cache are each guarded by a dedicated mutex, never held
// across I/O.
type Engine struct {
	cfg      *config.Config
	exchange core.IExchange
	executor core.IOrderExecutor
	risk     *risk.Manager
	journal  *risk.Journal
	sink     persistence.Sink
	logger   core.ILogger
	pool     *concurrency.WorkerPool

	strat strategy.Strategy

	frames *marketdata.FrameSet

	// canonical symbol -> venue symbol, and the reverse, built at Start
	symbolsMu     sync.RWMutex
	venueSymbols  map[string]string
	canonicalFor  map[string]string

	ordersMu sync.Mutex
	orders   map[int64]*core.Order

	positionsMu sync.Mutex
	positions   map[string]*core.Position

	capitalMu sync.Mutex
	capital   decimal.Decimal
	capitalAt time.Time

	healthMu sync.Mutex
	health   map[string]time.Time

	lastID  atomic.Int64
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	tradeCallbacks    []func(*core.Trade)
	positionCallbacks []func(*core.Position)
	callbackMu        sync.Mutex

	now func() time.Time
}

func NewEngine(
	cfg *config.Config,
	exchange core.IExchange,
	executor core.IOrderExecutor,
	riskManager *risk.Manager,
	journal *risk.Journal,
	sink persistence.Sink,
	pool *concurrency.WorkerPool,
	logger core.ILogger,
) *Engine {
	return &Engine{
		cfg:          cfg,
		exchange:     exchange,
		executor:     executor,
		risk:         riskManager,
		journal:      journal,
		sink:         sink,
		pool:         pool,
		logger:       logger.WithField("component", "live_engine"),
		frames:       marketdata.NewFrameSet(marketdata.DefaultCapacity),
		venueSymbols: make(map[string]string),
		canonicalFor: make(map[string]string),
		orders:       make(map[int64]*core.Order),
		positions:    make(map[string]*core.Position),
		health:       make(map[string]time.Time),
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
}

// RegisterStrategy installs the signal producer; must happen before Start
func (e *Engine) RegisterStrategy(s strategy.Strategy) {
	e.strat = s
}

// OnTrade registers a callback invoked after each persisted fill
func (e *Engine) OnTrade(fn func(*core.Trade)) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.tradeCallbacks = append(e.tradeCallbacks, fn)
}

// OnPositionChange registers a callback invoked after position mutations.
// A zero-quantity position signals removal.
func (e *Engine) OnPositionChange(fn func(*core.Position)) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.positionCallbacks = append(e.positionCallbacks, fn)
}

// Start restores persisted state, preloads kline history and spawns the
// five engine loops.
func (e *Engine) Start(ctx context.Context) error {
	if e.strat == nil {
		return fmt.Errorf("%w: no strategy registered", apperrors.ErrFatal)
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already running")
	}

	e.logger.Info("starting live engine",
		"exchange", e.exchange.GetName(),
		"symbols", e.cfg.Trading.Symbols,
		"strategy", e.strat.Name())

	for _, sym := range e.cfg.Trading.Symbols {
		venueSym := e.exchange.VenueSymbol(sym)
		e.symbolsMu.Lock()
		e.venueSymbols[sym] = venueSym
		e.canonicalFor[venueSym] = sym
		e.symbolsMu.Unlock()
	}

	if err := e.restoreState(ctx); err != nil {
		e.running.Store(false)
		return fmt.Errorf("%w: state restore failed: %v", apperrors.ErrFatal, err)
	}

	e.preload(ctx)

	if err := e.startKlineStream(ctx); err != nil {
		e.logger.Error("kline stream failed to start, dispatch relies on preload", "error", err)
	}

	e.spawn("order_poller", e.pollInterval(), e.pollOrders)
	e.spawn("position_monitor", e.monitorInterval(), e.monitorPositions)
	e.spawn("snapshot", e.snapshotInterval(), e.writeSnapshot)
	e.spawn("heartbeat", e.heartbeatInterval(), e.heartbeat)

	return nil
}

// Stop flips the running flag, stops the stream and joins every loop with
// a two-second grace.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	e.logger.Info("stopping live engine")

	close(e.stopCh)
	if err := e.exchange.StopKlineStream(); err != nil {
		e.logger.Warn("kline stream stop failed", "error", err)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		e.logger.Warn("engine loops did not stop within grace period")
	}
	return nil
}

// Health returns the last-beat timestamp of every engine task
func (e *Engine) Health() map[string]time.Time {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	out := make(map[string]time.Time, len(e.health))
	for k, v := range e.health {
		out[k] = v
	}
	return out
}

func (e *Engine) beat(task string) {
	e.healthMu.Lock()
	e.health[task] = e.now()
	e.healthMu.Unlock()
}

// spawn runs fn on a ticker until stop; errors are caught at the loop
// boundary, logged and followed by a short pause.
func (e *Engine) spawn(name string, interval time.Duration, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		ctx := context.Background()
		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					e.logger.Error("engine task error", "task", name, "error", err)
					select {
					case <-e.stopCh:
						return
					case <-time.After(time.Second):
					}
				}
				e.beat(name)
			}
		}
	}()
}

// restoreState re-discovers open orders and positions from the sink
func (e *Engine) restoreState(ctx context.Context) error {
	orders, err := e.sink.LoadOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	e.ordersMu.Lock()
	for _, o := range orders {
		e.orders[o.ID] = o
		if o.ID > e.lastID.Load() {
			e.lastID.Store(o.ID)
		}
	}
	e.ordersMu.Unlock()

	positions, err := e.sink.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	e.positionsMu.Lock()
	for _, p := range positions {
		e.positions[p.Symbol] = p
	}
	e.positionsMu.Unlock()

	if ps, ok := e.strat.(strategy.PositionAware); ok {
		for _, p := range positions {
			ps.SyncPosition(p.Symbol, p)
		}
	}
	for _, p := range positions {
		e.risk.UpdatePosition(p.Symbol, sideToOrderSide(p.Side), p.Quantity, p.EntryPrice)
	}

	e.logger.Info("state restored", "open_orders", len(orders), "positions", len(positions))
	return nil
}

// nextOrderID is strictly monotonic for the engine lifetime and tagged with
// the submission timestamp.
func (e *Engine) nextOrderID() int64 {
	for {
		last := e.lastID.Load()
		next := e.now().UnixMilli() * 1000
		if next <= last {
			next = last + 1
		}
		if e.lastID.CompareAndSwap(last, next) {
			return next
		}
	}
}

// accountCapital sums USDC and USDT available balances through a short
// cache so dispatch does not hammer the venue.
func (e *Engine) accountCapital(ctx context.Context) decimal.Decimal {
	e.capitalMu.Lock()
	ttl := time.Duration(e.cfg.Timing.CapitalCacheSeconds) * time.Second
	if !e.capitalAt.IsZero() && e.now().Sub(e.capitalAt) < ttl {
		capital := e.capital
		e.capitalMu.Unlock()
		return capital
	}
	e.capitalMu.Unlock()

	balances, err := e.exchange.GetBalances(ctx)
	if err != nil {
		e.logger.Warn("balance fetch failed, capital unknown", "error", err)
		return decimal.Zero
	}
	capital := decimal.Zero
	for _, b := range balances {
		if b.Asset == "USDC" || b.Asset == "USDT" {
			capital = capital.Add(b.Available)
		}
	}

	e.capitalMu.Lock()
	e.capital = capital
	e.capitalAt = e.now()
	e.capitalMu.Unlock()
	return capital
}

// placeOrder runs the §order submission path for one signal-derived request
func (e *Engine) placeOrder(ctx context.Context, symbol string, side core.OrderSide, quantity, price decimal.Decimal, signal *core.Signal, reduceOnly bool) (*core.Order, error) {
	id := e.nextOrderID()
	venueSym := e.venueSymbol(symbol)

	quantity = quantity.Truncate(e.quantityPrecision())
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity rounds to zero", apperrors.ErrInvalidOrderParameter)
	}

	if price.IsZero() {
		ticker, err := e.exchange.GetTicker(ctx, venueSym)
		if err == nil {
			price = ticker.LastPrice
		}
	}

	if !reduceOnly {
		capital := e.accountCapital(ctx)
		check := e.risk.CheckOrder(symbol, side, quantity, price, capital)
		if !check.Approved {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrRiskViolation, check.Violations)
		}
	}

	req := &core.OrderRequest{
		Symbol:        venueSym,
		Side:          side,
		Type:          core.OrderTypeMarket,
		Quantity:      quantity,
		ReduceOnly:    reduceOnly,
		ClientOrderID: strconv.FormatInt(id, 10),
		MaxLeverage:   e.cfg.Trading.Leverage,
	}
	if signal != nil && signal.Price.IsPositive() {
		req.Type = core.OrderTypeLimit
		req.Price = signal.Price
	}

	venueOrder, err := e.executor.PlaceOrder(ctx, req)
	if err != nil {
		e.logger.Error("order submission failed", "marker", "ORDER",
			"symbol", symbol, "side", side, "error", err)
		return nil, err
	}

	order := &core.Order{
		ID:             id,
		VenueOrderID:   venueOrder.VenueOrderID,
		ClientOrderID:  req.ClientOrderID,
		Symbol:         symbol,
		VenueSymbol:    venueSym,
		Side:           side,
		Type:           req.Type,
		Quantity:       quantity,
		Price:          price,
		ReduceOnly:     reduceOnly,
		Status:         core.OrderStatusOpen,
		FilledQuantity: venueOrder.FilledQuantity,
		AvgFillPrice:   venueOrder.AvgFillPrice,
		Signal:         signal,
		CreatedAt:      e.now(),
		UpdatedAt:      e.now(),
	}
	if venueOrder.Status != "" {
		order.Status = venueOrder.Status
	}

	e.ordersMu.Lock()
	e.orders[id] = order
	e.ordersMu.Unlock()

	e.persistOrder(order)
	e.logger.Info("order placed", "marker", "ORDER",
		"id", id, "venue_order_id", order.VenueOrderID,
		"symbol", symbol, "side", side,
		"quantity", quantity.String(), "price", price.String(),
		"reduce_only", reduceOnly)

	if m := telemetry.GetGlobalMetrics(); m.OrdersPlacedTotal != nil {
		m.OrdersPlacedTotal.Add(ctx, 1)
	}

	// Immediate fills (market orders on fast venues) are handled here
	// instead of waiting a poll cycle.
	if order.Status == core.OrderStatusFilled {
		e.takeAndHandleFill(ctx, order.ID, order.AvgFillPrice)
	}
	return order, nil
}

// OpenOrders returns non-terminal local orders, optionally per symbol
func (e *Engine) OpenOrders(symbol string) []*core.Order {
	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()
	var out []*core.Order
	for _, o := range e.orders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o.Clone())
	}
	return out
}

// Position returns a copy of the engine-local position for symbol, or nil
func (e *Engine) Position(symbol string) *core.Position {
	e.positionsMu.Lock()
	defer e.positionsMu.Unlock()
	p, ok := e.positions[symbol]
	if !ok {
		return nil
	}
	return p.Clone()
}

// Positions returns a copy of every engine-local position
func (e *Engine) Positions() []*core.Position {
	e.positionsMu.Lock()
	defer e.positionsMu.Unlock()
	out := make([]*core.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p.Clone())
	}
	return out
}

// persistOrder writes through the worker pool when one is wired, falling
// back to a synchronous save.
func (e *Engine) persistOrder(order *core.Order) {
	save := func() {
		if err := e.sink.SaveOrder(context.Background(), order.Clone()); err != nil {
			e.logger.Error("order persist failed", "id", order.ID, "error", err)
		}
	}
	if e.pool != nil {
		if err := e.pool.Submit(save); err == nil {
			return
		}
	}
	save()
}

func (e *Engine) notifyTrade(trade *core.Trade) {
	e.callbackMu.Lock()
	callbacks := append([]func(*core.Trade){}, e.tradeCallbacks...)
	e.callbackMu.Unlock()
	for _, fn := range callbacks {
		fn(trade)
	}
}

func (e *Engine) notifyPosition(p *core.Position) {
	e.callbackMu.Lock()
	callbacks := append([]func(*core.Position){}, e.positionCallbacks...)
	e.callbackMu.Unlock()
	for _, fn := range callbacks {
		fn(p)
	}
}

func (e *Engine) venueSymbol(symbol string) string {
	e.symbolsMu.RLock()
	venueSym, ok := e.venueSymbols[symbol]
	e.symbolsMu.RUnlock()
	if ok {
		return venueSym
	}
	venueSym = e.exchange.VenueSymbol(symbol)
	e.symbolsMu.Lock()
	e.venueSymbols[symbol] = venueSym
	e.canonicalFor[venueSym] = symbol
	e.symbolsMu.Unlock()
	return venueSym
}

func (e *Engine) canonicalSymbol(venueSym string) string {
	e.symbolsMu.RLock()
	defer e.symbolsMu.RUnlock()
	if canonical, ok := e.canonicalFor[venueSym]; ok {
		return canonical
	}
	return venueSym
}

func (e *Engine) quantityPrecision() int32 {
	if e.cfg.Trading.QuantityPrecision > 0 {
		return e.cfg.Trading.QuantityPrecision
	}
	return 4
}

func (e *Engine) pollInterval() time.Duration {
	return secondsOr(e.cfg.Timing.OrderPollInterval, 2)
}

func (e *Engine) monitorInterval() time.Duration {
	return secondsOr(e.cfg.Timing.PositionMonitorInterval, 30)
}

func (e *Engine) snapshotInterval() time.Duration {
	return secondsOr(e.cfg.Timing.SnapshotInterval, 60)
}

func (e *Engine) heartbeatInterval() time.Duration {
	return secondsOr(e.cfg.Timing.HeartbeatInterval, 60)
}

func secondsOr(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

func sideToOrderSide(side core.PositionSide) core.OrderSide {
	if side == core.PositionSideShort {
		return core.OrderSideSell
	}
	return core.OrderSideBuy
}
