// Package grid implements the self-contained grid strategy engine: a rung
// ladder over a price band, a per-rung order state machine with paired
// closes, and a thread-safe instance registry.
package grid

import (
	"fmt"
	"time"

	"perp_trader/internal/core"

	"github.com/shopspring/decimal"
)

// RungStatus is the lifecycle state of one ladder rung
type RungStatus string

const (
	RungIdle         RungStatus = "idle"
	RungPlacing      RungStatus = "placing"
	RungPending      RungStatus = "pending"
	RungHandlingFill RungStatus = "handling_fill"
	RungClosing      RungStatus = "closing"
)

// Rung is one price level of the ladder. Price and quantity are rounded to
// venue precision once, at ladder construction.
type Rung struct {
	Index    int
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Side     core.OrderSide
	Status   RungStatus

	VenueOrderID string
	FillPrice    decimal.Decimal

	// CooldownUntil delays re-selection after a re-arm or an error
	CooldownUntil time.Time
}

// Ladder is the full rung vector plus its construction parameters
type Ladder struct {
	Symbol  string
	Lower   decimal.Decimal
	Upper   decimal.Decimal
	Count   int
	Spacing decimal.Decimal
	Rungs   []*Rung
}

// BuildLadder lays N+1 rungs across [lower, upper]. Sides follow the mode:
// long_only all BUY, short_only all SELL, long_short BUY below the last
// traded price and SELL above it. Market rules round each rung once.
func BuildLadder(cfg LadderParams, lastPrice decimal.Decimal, market *core.MarketInfo) (*Ladder, error) {
	if cfg.Count < 2 {
		return nil, fmt.Errorf("grid count must be at least 2, got %d", cfg.Count)
	}
	if !cfg.Lower.IsPositive() || cfg.Upper.LessThanOrEqual(cfg.Lower) {
		return nil, fmt.Errorf("grid band must satisfy 0 < lower < upper, got [%s, %s]", cfg.Lower, cfg.Upper)
	}
	if cfg.Leverage <= 0 {
		return nil, fmt.Errorf("grid leverage must be positive, got %d", cfg.Leverage)
	}

	spacing := cfg.Upper.Sub(cfg.Lower).Div(decimal.NewFromInt(int64(cfg.Count)))
	notionalPerRung := cfg.Investment.Mul(decimal.NewFromInt(int64(cfg.Leverage)))

	ladder := &Ladder{
		Symbol:  cfg.Symbol,
		Lower:   cfg.Lower,
		Upper:   cfg.Upper,
		Count:   cfg.Count,
		Spacing: spacing,
		Rungs:   make([]*Rung, 0, cfg.Count+1),
	}

	for i := 0; i <= cfg.Count; i++ {
		price := cfg.Lower.Add(spacing.Mul(decimal.NewFromInt(int64(i))))
		if market != nil {
			price = core.RoundToTick(price, market.PriceTick, market.PricePrecision)
		}
		quantity := notionalPerRung.Div(price)
		if market != nil {
			quantity = core.FloorToStep(quantity, market.LotSize, market.QuantityPrecision)
		}

		side := core.OrderSideBuy
		switch cfg.Mode {
		case ModeShortOnly:
			side = core.OrderSideSell
		case ModeLongOnly:
			side = core.OrderSideBuy
		default: // long_short
			if price.GreaterThan(lastPrice) {
				side = core.OrderSideSell
			}
		}

		ladder.Rungs = append(ladder.Rungs, &Rung{
			Index:    i,
			Price:    price,
			Quantity: quantity,
			Side:     side,
			Status:   RungIdle,
		})
	}
	return ladder, nil
}

// CloseRungFor returns the adjacent opposing rung for a fill at index: the
// rung above for a BUY fill, the rung below for a SELL fill. Nil at the
// ladder edge.
func (l *Ladder) CloseRungFor(index int, side core.OrderSide) *Rung {
	target := index + 1
	if side == core.OrderSideSell {
		target = index - 1
	}
	if target < 0 || target >= len(l.Rungs) {
		return nil
	}
	return l.Rungs[target]
}

// WithinHalfSpacing reports whether price sits within half a rung spacing
// of the rung's own price, the crash-recovery adoption window.
func (l *Ladder) WithinHalfSpacing(rung *Rung, price decimal.Decimal) bool {
	half := l.Spacing.Div(decimal.NewFromInt(2))
	return price.Sub(rung.Price).Abs().LessThanOrEqual(half)
}

// Mode names accepted by the grid
const (
	ModeLongShort = "long_short"
	ModeLongOnly  = "long_only"
	ModeShortOnly = "short_only"
)

// LadderParams are the construction inputs for one ladder
type LadderParams struct {
	Symbol     string
	Lower      decimal.Decimal
	Upper      decimal.Decimal
	Count      int
	Investment decimal.Decimal // margin committed per rung
	Leverage   int
	Mode       string
}
