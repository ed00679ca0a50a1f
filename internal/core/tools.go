package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RoundToTick rounds a price to the nearest multiple of the venue tick.
// A zero tick falls back to plain rounding at the given precision.
func RoundToTick(price, tick decimal.Decimal, precision int32) decimal.Decimal {
	if tick.IsZero() {
		return price.Round(precision)
	}
	steps := price.Div(tick).Round(0)
	return steps.Mul(tick)
}

// FloorToStep floors a quantity to a multiple of the venue lot size.
// A zero step falls back to truncation at the given precision.
func FloorToStep(qty, step decimal.Decimal, precision int32) decimal.Decimal {
	if step.IsZero() {
		return qty.Truncate(precision)
	}
	steps := qty.Div(step).Floor()
	return steps.Mul(step)
}

// SplitSymbol breaks a loosely-spelled instrument name into base and quote.
// Accepted spellings: "ETH", "ETH/USDC", "ETH-USDT-SWAP", "ETH_USDC_PERP".
// A bare base returns an empty quote so the caller substitutes the venue
// default.
func SplitSymbol(symbol string) (base, quote string) {
	s := strings.TrimSpace(symbol)
	switch {
	case strings.Contains(s, "/"):
		parts := strings.SplitN(s, "/", 2)
		return strings.ToUpper(parts[0]), strings.ToUpper(parts[1])
	case strings.Contains(s, "-"):
		parts := strings.Split(s, "-")
		if len(parts) >= 2 {
			return strings.ToUpper(parts[0]), strings.ToUpper(parts[1])
		}
		return strings.ToUpper(parts[0]), ""
	case strings.Contains(s, "_"):
		parts := strings.Split(s, "_")
		if len(parts) >= 2 {
			return strings.ToUpper(parts[0]), strings.ToUpper(parts[1])
		}
		return strings.ToUpper(parts[0]), ""
	default:
		return strings.ToUpper(s), ""
	}
}

// LeveragedPnLPct computes the margin-relative percentage PnL of a position
// at the given mark price: price excursion from entry scaled by leverage.
func LeveragedPnLPct(side PositionSide, entry, mark decimal.Decimal, leverage int) decimal.Decimal {
	if entry.IsZero() || leverage <= 0 {
		return decimal.Zero
	}
	lev := decimal.NewFromInt(int64(leverage))
	if side == PositionSideLong {
		return mark.Sub(entry).Div(entry).Mul(lev)
	}
	return entry.Sub(mark).Div(entry).Mul(lev)
}
