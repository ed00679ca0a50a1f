// Package core defines the domain model and interfaces shared across the engine
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the other side
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType is the execution style of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeIOC    OrderType = "IOC"
	OrderTypeFOK    OrderType = "FOK"
)

// OrderStatus is the local lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	// OrderStatusNotFound is returned by adapters when the venue no longer
	// recognises the order id; callers decide what that means.
	OrderStatusNotFound OrderStatus = "NOT_FOUND"
)

// IsTerminal reports whether the status can no longer change
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// PositionSide is the direction of an open position
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// SignalAction is a strategy's verdict for one symbol
type SignalAction string

const (
	SignalActionBuy  SignalAction = "buy"
	SignalActionSell SignalAction = "sell"
	SignalActionHold SignalAction = "hold"
)

// Signal is the output of a strategy evaluation for a single symbol
type Signal struct {
	Symbol     string
	Action     SignalAction
	Quantity   decimal.Decimal
	Price      decimal.Decimal // zero means "use current market price"
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Confidence float64 // within [0, 1]
	Rationale  string
	Timestamp  time.Time
}

// OrderRequest is the typed submission payload handed to an adapter.
// Symbol is already in venue form and quantity/price already rounded.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	ReduceOnly    bool
	PostOnly      bool
	ClientOrderID string
	MaxLeverage   int
}

// Order is the engine-local order record. ID is generated locally and is
// strictly monotonic for the engine lifetime; VenueOrderID arrives with the
// submission response.
type Order struct {
	ID            int64
	VenueOrderID  string
	ClientOrderID string
	Symbol        string // canonical (registration) form
	VenueSymbol   string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	ReduceOnly    bool
	PostOnly      bool

	Status          OrderStatus
	FilledQuantity  decimal.Decimal
	AvgFillPrice    decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string

	// Signal that produced the order, if any; carries stop/take references.
	Signal *Signal

	// Consecutive not-found responses from the status poller.
	NotFoundCount int

	CreatedAt time.Time
	UpdatedAt time.Time
	FilledAt  time.Time
}

// Clone returns a shallow copy safe to hand to callbacks
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}

// Position is one open position keyed by canonical symbol. Quantity is
// always positive; Side encodes direction.
type Position struct {
	Symbol        string
	Side          PositionSide
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a shallow copy safe to hand to callbacks
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// SignedQuantity returns quantity with LONG positive and SHORT negative
func (p *Position) SignedQuantity() decimal.Decimal {
	if p.Side == PositionSideShort {
		return p.Quantity.Neg()
	}
	return p.Quantity
}

// Balance is one asset's account balance
type Balance struct {
	Asset     string
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// Total returns available + locked
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// Ticker is a venue's last-trade summary for a symbol
type Ticker struct {
	Symbol    string
	LastPrice decimal.Decimal
	HighPrice decimal.Decimal
	LowPrice  decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// PriceLevel is one side-entry of an order book
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Depth is an order-book snapshot
type Depth struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// Kline is one OHLCV bar. OpenTime is UnixMilli; values stay float64 because
// they feed indicator math, not order submission.
type Kline struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Closed   bool
}

// MarketInfo carries the venue's trading rules for one symbol
type MarketInfo struct {
	Symbol            string // venue form
	BaseAsset         string
	QuoteAsset        string
	PriceTick         decimal.Decimal
	LotSize           decimal.Decimal
	MinNotional       decimal.Decimal
	PricePrecision    int32
	QuantityPrecision int32
}

// OrderUpdate is delivered by venue order streams and status polls
type OrderUpdate struct {
	VenueOrderID   string
	ClientOrderID  string
	Symbol         string
	Status         OrderStatus
	FilledQuantity decimal.Decimal
	AvgPrice       decimal.Decimal
	Commission     decimal.Decimal
	Timestamp      time.Time
}

// Trade is the immutable record persisted when an order fills
type Trade struct {
	TradeID         string
	OrderID         int64
	VenueOrderID    string
	Symbol          string
	Side            OrderSide
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	IsMaker         bool
	Timestamp       time.Time
}

// PortfolioSnapshot is the periodic account valuation record
type PortfolioSnapshot struct {
	Timestamp      time.Time
	TotalValue     decimal.Decimal
	Cash           decimal.Decimal
	PositionsValue decimal.Decimal
	DailyPnL       decimal.Decimal
	DailyReturn    float64
}

// RiskEvent is a journaled risk occurrence
type RiskEvent struct {
	ID        string
	Timestamp time.Time
	Kind      string
	Symbol    string
	Payload   map[string]interface{}
}

// Well-known risk event kinds
const (
	RiskEventWarning       = "risk_warning"
	RiskEventOrderRejected = "order_rejected"
	RiskEventForcedClose   = "forced_close"
	RiskEventGridStop      = "grid_stop"
	RiskEventDailyReset    = "daily_reset"
)
