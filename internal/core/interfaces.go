package core

import (
	"context"
)

// KlineHandler receives one bar for one canonical-or-venue symbol as pushed
// by a venue stream. The symbol is in the venue's own form; the engine maps
// it back to the registration form.
type KlineHandler func(venueSymbol string, kline Kline)

// IExchange is the uniform capability contract every venue adapter
// implements. All blocking calls take a context.
type IExchange interface {
	// Identity
	GetName() string

	// Symbol translation. VenueSymbol converts any accepted spelling
	// (BASE, BASE/QUOTE, BASE-QUOTE-SWAP, BASE_QUOTE_PERP or the native
	// form itself) into the venue's native form. It is idempotent and
	// never fails on a non-empty input.
	VenueSymbol(symbol string) string

	// Market metadata. GetMarkets returns the venue's trading rules keyed
	// by venue symbol; adapters cache the result and refresh at most once
	// per hour. GetSymbolInfo resolves one symbol through the same cache.
	GetMarkets(ctx context.Context) (map[string]*MarketInfo, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*MarketInfo, error)

	// Market data
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetDepth(ctx context.Context, symbol string, limit int) (*Depth, error)
	// GetKlines returns bars ordered oldest to newest. startMS/endMS of 0
	// mean "most recent window"; limit caps the row count.
	GetKlines(ctx context.Context, symbol, interval string, startMS, endMS int64, limit int) ([]Kline, error)
	GetServerTime(ctx context.Context) (int64, error)

	// Account
	GetBalances(ctx context.Context) ([]Balance, error)
	GetPositions(ctx context.Context, symbol string) ([]*Position, error)

	// Orders. GetOrder returns a record with Status NOT_FOUND (never an
	// error) when the venue recognisably lost the id.
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, symbol, venueOrderID string) (*Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error)
	CancelOrder(ctx context.Context, symbol, venueOrderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error

	// Kline streaming: one WebSocket per adapter instance carrying every
	// subscribed symbol; subscriptions are replayed after reconnects.
	StartKlineStream(ctx context.Context, symbols []string, interval string, handler KlineHandler) error
	StopKlineStream() error

	// Shutdown releases sockets and the HTTP session
	Close() error
}

// PositionLiquidator is implemented by venues that track their own open
// trade handles (on-chain venues keyed by pair and trade index) and can
// close them without consulting an indexer.
type PositionLiquidator interface {
	LiquidateTracked(ctx context.Context, symbol string) error
}

// IOrderExecutor rate-limits and retries order traffic in front of an
// adapter.
type IOrderExecutor interface {
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol, venueOrderID string) error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
