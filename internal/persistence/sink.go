// Package persistence provides the durable sink behind the trading loops.
// Writes are fire-and-forget from the engine's point of view: failures are
// logged and never abort trading.
package persistence

import (
	"context"

	"perp_trader/internal/core"
)

// Sink is the storage contract shared by the SQLite and memory backings
type Sink interface {
	SaveOrder(ctx context.Context, order *core.Order) error
	SaveTrade(ctx context.Context, trade *core.Trade) error
	SavePosition(ctx context.Context, position *core.Position) error
	SavePortfolioSnapshot(ctx context.Context, snapshot *core.PortfolioSnapshot) error
	SaveRiskEvent(ctx context.Context, event *core.RiskEvent) error

	// LoadOpenOrders returns orders whose status is still non-terminal,
	// for re-discovery after a restart.
	LoadOpenOrders(ctx context.Context) ([]*core.Order, error)
	// LoadPositions returns positions with non-zero quantity.
	LoadPositions(ctx context.Context) ([]*core.Position, error)

	Close() error
}

// New builds the sink selected by the configuration driver
func New(driver, path string) (Sink, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return NewMemoryStore(), nil
	}
}
