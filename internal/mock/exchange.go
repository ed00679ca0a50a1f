// Package mock provides an in-memory venue double used by tests and paper
// trading. Fills, balances and failures are all scriptable.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"perp_trader/internal/core"
	apperrors "perp_trader/pkg/errors"

	"github.com/shopspring/decimal"
)

// Exchange implements core.IExchange entirely in memory.
type Exchange struct {
	mu sync.RWMutex

	nextID       int64
	orders       map[string]*core.Order
	clientOrders map[string]string // client order id -> venue order id
	tickers      map[string]*core.Ticker
	klines       map[string][]core.Kline

	balances  []core.Balance
	positions map[string]*core.Position
	markets   map[string]*core.MarketInfo

	// failure injection
	failNext      error
	rateLimitNext int
	dropOrderIDs  map[string]bool // GetOrder answers NOT_FOUND for these
	latency       time.Duration
	autoFill      bool

	streamMu     sync.Mutex
	streamOpen   bool
	klineHandler core.KlineHandler
}

// NewExchange creates a mock venue that fills market orders instantly and
// rests limit orders until FillOrder or SetAutoFill(true).
func NewExchange() *Exchange {
	return &Exchange{
		orders:       make(map[string]*core.Order),
		clientOrders: make(map[string]string),
		tickers:      make(map[string]*core.Ticker),
		klines:       make(map[string][]core.Kline),
		positions:    make(map[string]*core.Position),
		markets:      make(map[string]*core.MarketInfo),
		dropOrderIDs: make(map[string]bool),
		balances: []core.Balance{{
			Asset:     "USDC",
			Available: decimal.NewFromInt(10_000),
		}},
	}
}

// SeedTicker sets the current price for a symbol.
func (e *Exchange) SeedTicker(symbol string, price decimal.Decimal) {
	venueSym := e.VenueSymbol(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickers[venueSym] = &core.Ticker{
		Symbol:    venueSym,
		LastPrice: price,
		Timestamp: time.Now(),
	}
}

// SeedKlines preloads the candle history served by GetKlines.
func (e *Exchange) SeedKlines(symbol string, bars []core.Kline) {
	venueSym := e.VenueSymbol(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.klines[venueSym] = bars
}

// SeedBalance replaces the account balances.
func (e *Exchange) SeedBalance(balances ...core.Balance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances = balances
}

// SeedPosition installs an open position.
func (e *Exchange) SeedPosition(p *core.Position) {
	venueSym := e.VenueSymbol(p.Symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := p.Clone()
	cp.Symbol = venueSym
	e.positions[venueSym] = cp
}

// SeedMarket installs trading rules for a symbol.
func (e *Exchange) SeedMarket(info *core.MarketInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markets[info.Symbol] = info
}

// FailNext makes the next API call return err.
func (e *Exchange) FailNext(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = err
}

// RateLimitNext makes the next n calls return ErrRateLimitExceeded.
func (e *Exchange) RateLimitNext(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rateLimitNext = n
}

// DropOrder makes GetOrder answer NOT_FOUND for the given venue id.
func (e *Exchange) DropOrder(venueOrderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropOrderIDs[venueOrderID] = true
}

// UndropOrder makes a previously dropped venue id visible again.
func (e *Exchange) UndropOrder(venueOrderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.dropOrderIDs, venueOrderID)
}

// SetLatency delays every call by d.
func (e *Exchange) SetLatency(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latency = d
}

// SetAutoFill controls whether limit orders rest (false, the default) or
// fill at their limit price immediately.
func (e *Exchange) SetAutoFill(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoFill = v
}

// FillOrder force-fills a resting order at the given price.
func (e *Exchange) FillOrder(venueOrderID string, price decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[venueOrderID]
	if !ok {
		return fmt.Errorf("mock: %w: %s", apperrors.ErrOrderNotFound, venueOrderID)
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("mock: order %s already %s", venueOrderID, order.Status)
	}
	now := time.Now()
	order.Status = core.OrderStatusFilled
	order.FilledQuantity = order.Quantity
	order.AvgFillPrice = price
	order.FilledAt = now
	order.UpdatedAt = now
	e.applyFillLocked(order)
	return nil
}

// gate applies latency and scripted failures. Callers hold no locks.
func (e *Exchange) gate(ctx context.Context) error {
	e.mu.Lock()
	delay := e.latency
	var err error
	if e.rateLimitNext > 0 {
		e.rateLimitNext--
		err = fmt.Errorf("mock: %w", apperrors.ErrRateLimitExceeded)
	} else if e.failNext != nil {
		err = e.failNext
		e.failNext = nil
	}
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (e *Exchange) GetName() string {
	return "mock"
}

// VenueSymbol reduces any spelling to the upper-cased base asset.
func (e *Exchange) VenueSymbol(symbol string) string {
	baseAsset, _ := core.SplitSymbol(symbol)
	return baseAsset
}

func (e *Exchange) GetMarkets(ctx context.Context) (map[string]*core.MarketInfo, error) {
	if err := e.gate(ctx); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*core.MarketInfo, len(e.markets))
	for k, v := range e.markets {
		out[k] = v
	}
	return out, nil
}

// GetSymbolInfo resolves one symbol, synthesising permissive defaults when
// nothing was seeded so strategies can run without per-test market setup.
func (e *Exchange) GetSymbolInfo(ctx context.Context, symbol string) (*core.MarketInfo, error) {
	if err := e.gate(ctx); err != nil {
		return nil, err
	}
	venueSym := e.VenueSymbol(symbol)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if info, ok := e.markets[venueSym]; ok {
		return info, nil
	}
	return &core.MarketInfo{
		Symbol:            venueSym,
		BaseAsset:         venueSym,
		QuoteAsset:        "USDC",
		PriceTick:         decimal.New(1, -2),
		LotSize:           decimal.New(1, -4),
		MinNotional:       decimal.NewFromInt(5),
		PricePrecision:    2,
		QuantityPrecision: 4,
	}, nil
}

func (e *Exchange) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	if err := e.gate(ctx); err != nil {
		return nil, err
	}
	venueSym := e.VenueSymbol(symbol)
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tickers[venueSym]
	if !ok {
		return nil, fmt.Errorf("mock: %w: no ticker for %s", apperrors.ErrInvalidSymbol, venueSym)
	}
	cp := *t
	cp.Timestamp = time.Now()
	return &cp, nil
}

// GetDepth synthesises a one-level book a tenth of a percent around the
// seeded price.
func (e *Exchange) GetDepth(ctx context.Context, symbol string, limit int) (*core.Depth, error) {
	ticker, err := e.GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	spread := ticker.LastPrice.Mul(decimal.New(1, -3))
	qty := decimal.NewFromInt(10)
	return &core.Depth{
		Symbol:    ticker.Symbol,
		Bids:      []core.PriceLevel{{Price: ticker.LastPrice.Sub(spread), Quantity: qty}},
		Asks:      []core.PriceLevel{{Price: ticker.LastPrice.Add(spread), Quantity: qty}},
		Timestamp: time.Now(),
	}, nil
}

func (e *Exchange) GetKlines(ctx context.Context, symbol, interval string, startMS, endMS int64, limit int) ([]core.Kline, error) {
	if err := e.gate(ctx); err != nil {
		return nil, err
	}
	venueSym := e.VenueSymbol(symbol)
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []core.Kline
	for _, k := range e.klines[venueSym] {
		if startMS > 0 && k.OpenTime < startMS {
			continue
		}
		if endMS > 0 && k.OpenTime > endMS {
			continue
		}
		out = append(out, k)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (e *Exchange) GetServerTime(ctx context.Context) (int64, error) {
	if err := e.gate(ctx); err != nil {
		return 0, err
	}
	return time.Now().UnixMilli(), nil
}

func (e *Exchange) GetBalances(ctx context.Context) ([]core.Balance, error) {
	if err := e.gate(ctx); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]core.Balance, len(e.balances))
	copy(out, e.balances)
	return out, nil
}

func (e *Exchange) GetPositions(ctx context.Context, symbol string) ([]*core.Position, error) {
	if err := e.gate(ctx); err != nil {
		return nil, err
	}
	want := ""
	if symbol != "" {
		want = e.VenueSymbol(symbol)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*core.Position
	for sym, p := range e.positions {
		if want != "" && sym != want {
			continue
		}
		if p.Quantity.IsZero() {
			continue
		}
		cp := p.Clone()
		if t, ok := e.tickers[sym]; ok {
			cp.MarkPrice = t.LastPrice
			diff := t.LastPrice.Sub(cp.EntryPrice)
			if cp.Side == core.PositionSideShort {
				diff = diff.Neg()
			}
			cp.UnrealizedPnL = diff.Mul(cp.Quantity)
		}
		out = append(out, cp)
	}
	return out, nil
}

// PlaceOrder records the order. A repeated client order id returns the
// original order instead of creating a duplicate.
func (e *Exchange) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	if err := e.gate(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.ClientOrderID != "" {
		if venueID, ok := e.clientOrders[req.ClientOrderID]; ok {
			return e.orders[venueID].Clone(), nil
		}
	}

	e.nextID++
	venueSym := e.VenueSymbol(req.Symbol)
	now := time.Now()
	order := &core.Order{
		VenueOrderID:  "mock-" + strconv.FormatInt(e.nextID, 10),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		VenueSymbol:   venueSym,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		ReduceOnly:    req.ReduceOnly,
		PostOnly:      req.PostOnly,
		Status:        core.OrderStatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if req.Type == core.OrderTypeMarket || e.autoFill {
		price := req.Price
		if price.IsZero() {
			if t, ok := e.tickers[venueSym]; ok {
				price = t.LastPrice
			}
		}
		order.Status = core.OrderStatusFilled
		order.FilledQuantity = req.Quantity
		order.AvgFillPrice = price
		order.FilledAt = now
		e.applyFillLocked(order)
	}

	e.orders[order.VenueOrderID] = order
	if req.ClientOrderID != "" {
		e.clientOrders[req.ClientOrderID] = order.VenueOrderID
	}
	return order.Clone(), nil
}

// applyFillLocked folds a fill into the venue-side position book.
func (e *Exchange) applyFillLocked(order *core.Order) {
	sym := order.VenueSymbol
	signed := order.FilledQuantity
	if order.Side == core.OrderSideSell {
		signed = signed.Neg()
	}

	p, ok := e.positions[sym]
	if !ok {
		side := core.PositionSideLong
		if signed.IsNegative() {
			side = core.PositionSideShort
		}
		e.positions[sym] = &core.Position{
			Symbol:     sym,
			Side:       side,
			Quantity:   signed.Abs(),
			EntryPrice: order.AvgFillPrice,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		return
	}

	net := p.SignedQuantity().Add(signed)
	switch {
	case net.IsZero():
		delete(e.positions, sym)
	case net.IsPositive():
		p.Side = core.PositionSideLong
		p.Quantity = net
		p.UpdatedAt = time.Now()
	default:
		p.Side = core.PositionSideShort
		p.Quantity = net.Abs()
		p.UpdatedAt = time.Now()
	}
}

// GetOrder never errors for unknown ids, it reports a NOT_FOUND record the
// way the live adapters do.
func (e *Exchange) GetOrder(ctx context.Context, symbol, venueOrderID string) (*core.Order, error) {
	if err := e.gate(ctx); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	order, ok := e.orders[venueOrderID]
	if !ok || e.dropOrderIDs[venueOrderID] {
		return &core.Order{
			VenueOrderID: venueOrderID,
			Symbol:       symbol,
			VenueSymbol:  e.VenueSymbol(symbol),
			Status:       core.OrderStatusNotFound,
		}, nil
	}
	return order.Clone(), nil
}

func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	if err := e.gate(ctx); err != nil {
		return nil, err
	}
	want := ""
	if symbol != "" {
		want = e.VenueSymbol(symbol)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*core.Order
	for _, o := range e.orders {
		if o.Status != core.OrderStatusOpen {
			continue
		}
		if want != "" && o.VenueSymbol != want {
			continue
		}
		out = append(out, o.Clone())
	}
	return out, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	if err := e.gate(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[venueOrderID]
	if !ok {
		return fmt.Errorf("mock: %w: %s", apperrors.ErrOrderNotFound, venueOrderID)
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("mock: %w: %s is %s", apperrors.ErrOrderNotFound, venueOrderID, order.Status)
	}
	order.Status = core.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	return nil
}

func (e *Exchange) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := e.gate(ctx); err != nil {
		return err
	}
	want := ""
	if symbol != "" {
		want = e.VenueSymbol(symbol)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.orders {
		if o.Status != core.OrderStatusOpen {
			continue
		}
		if want != "" && o.VenueSymbol != want {
			continue
		}
		o.Status = core.OrderStatusCancelled
		o.UpdatedAt = time.Now()
	}
	return nil
}

// StartKlineStream records the handler; bars arrive via PushKline.
func (e *Exchange) StartKlineStream(ctx context.Context, symbols []string, interval string, handler core.KlineHandler) error {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	if e.streamOpen {
		return fmt.Errorf("mock: kline stream already running")
	}
	e.streamOpen = true
	e.klineHandler = handler
	return nil
}

// PushKline delivers one bar to the registered stream handler.
func (e *Exchange) PushKline(symbol string, k core.Kline) {
	e.streamMu.Lock()
	handler := e.klineHandler
	e.streamMu.Unlock()
	if handler != nil {
		handler(e.VenueSymbol(symbol), k)
	}
}

func (e *Exchange) StopKlineStream() error {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	e.streamOpen = false
	e.klineHandler = nil
	return nil
}

func (e *Exchange) Close() error {
	return e.StopKlineStream()
}

// Orders returns a snapshot of every recorded order.
func (e *Exchange) Orders() []*core.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*core.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o.Clone())
	}
	return out
}

var _ core.IExchange = (*Exchange)(nil)
