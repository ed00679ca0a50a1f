// Package strategy defines the signal-generation contract and the registry
// the engine resolves strategy names through.
package strategy

import (
	"perp_trader/internal/config"
	"perp_trader/internal/core"
	"perp_trader/internal/marketdata"

	"github.com/shopspring/decimal"
)

// Strategy produces signals from per-symbol kline frames. CalculateSignal is
// invoked once per newly-closed kline per symbol.
type Strategy interface {
	Name() string
	CalculateSignal(marketData map[string]*marketdata.Frame) []core.Signal
	// ShouldExitPosition is consulted bar-by-bar for an open position
	ShouldExitPosition(position *core.Position, bar core.Kline) bool
}

// CapitalAware strategies receive the account capital before each
// evaluation so they can size entries.
type CapitalAware interface {
	SetCapital(capital decimal.Decimal)
}

// PositionAware strategies keep a position mirror the engine syncs before
// each evaluation; nil clears the entry.
type PositionAware interface {
	SyncPosition(symbol string, position *core.Position)
}

// Constructor builds a strategy from configuration
type Constructor func(cfg *config.Config, logger core.ILogger) (Strategy, error)
