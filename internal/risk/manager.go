// Package risk implements the pre-trade check, portfolio bookkeeping,
// VaR/stress estimation and the trading guard.
package risk

import (
	"sync"
	"time"

	"perp_trader/internal/config"
	"perp_trader/internal/core"

	"github.com/shopspring/decimal"
)

// CheckResult is the outcome of the pre-trade check
type CheckResult struct {
	Approved          bool
	RiskScore         int
	Violations        []string
	Warnings          []string
	MaxPositionSize   decimal.Decimal // margin ceiling in quote units
	SuggestedQuantity decimal.Decimal
	StopLossPrice     decimal.Decimal
	TakeProfitPrice   decimal.Decimal
}

const (
	scorePerViolation = 40
	scorePerWarning   = 10
)

// Manager owns the risk-side position mirror and the daily counters. All
// methods are safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	leverage        decimal.Decimal
	maxPositionSize decimal.Decimal // fraction of capital usable as margin
	dailyLossLimit  decimal.Decimal
	maxDrawdown     decimal.Decimal
	stopLossOffset  decimal.Decimal
	takeProfitOff   decimal.Decimal

	positions map[string]*core.Position

	cumulativePnL decimal.Decimal
	dailyPnL      decimal.Decimal
	dailyTrades   int
	dailyVolume   decimal.Decimal
	day           string // wall-clock date of the counters

	peakValue decimal.Decimal
	drawdown  decimal.Decimal // fraction of peak

	journal *Journal
	logger  core.ILogger
	now     func() time.Time
}

func NewManager(cfg *config.Config, journal *Journal, logger core.ILogger) *Manager {
	return &Manager{
		leverage:        decimal.NewFromInt(int64(cfg.Trading.Leverage)),
		maxPositionSize: decimal.NewFromFloat(cfg.Trading.MaxPositionSize),
		dailyLossLimit:  decimal.NewFromFloat(cfg.Risk.DailyLossLimit),
		maxDrawdown:     decimal.NewFromFloat(cfg.Risk.MaxDrawdown),
		stopLossOffset:  decimal.NewFromFloat(cfg.Trading.StopLossOffset),
		takeProfitOff:   decimal.NewFromFloat(cfg.Trading.TakeProfitOffset),
		positions:       make(map[string]*core.Position),
		journal:         journal,
		logger:          logger,
		now:             time.Now,
	}
}

// CheckOrder runs the fixed-order pre-trade check. capital is the account's
// available quote balance; a zero capital cannot approve anything.
func (m *Manager) CheckOrder(symbol string, side core.OrderSide, quantity, price, capital decimal.Decimal) *CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked()

	result := &CheckResult{}

	marginNeeded := quantity.Mul(price).Div(m.leverage)

	// Sells reduce exposure here; the engine disambiguates close-vs-open
	// before calling.
	totalAfter := decimal.Zero
	for sym, p := range m.positions {
		if sym == symbol {
			continue
		}
		totalAfter = totalAfter.Add(p.EntryPrice.Mul(p.Quantity).Div(m.leverage))
	}
	if side == core.OrderSideBuy {
		totalAfter = totalAfter.Add(marginNeeded)
	}

	maxMargin := capital.Mul(m.maxPositionSize)
	result.MaxPositionSize = maxMargin

	capitalKnown := capital.IsPositive()
	if !capitalKnown {
		result.Warnings = append(result.Warnings, "account capital unavailable")
	}

	if capitalKnown && totalAfter.GreaterThan(maxMargin) {
		result.Violations = append(result.Violations, "margin ceiling exceeded")
		headroom := maxMargin.Sub(totalAfter.Sub(marginNeeded))
		if headroom.IsPositive() && price.IsPositive() {
			result.SuggestedQuantity = headroom.Mul(m.leverage).Div(price)
		}
	} else {
		result.SuggestedQuantity = quantity
	}

	if m.dailyPnL.IsNegative() && m.dailyPnL.Abs().GreaterThan(m.dailyLossLimit) {
		result.Violations = append(result.Violations, "daily loss limit reached")
	}

	warnLevel := m.maxDrawdown.Mul(decimal.NewFromFloat(0.8))
	if m.drawdown.GreaterThan(warnLevel) {
		result.Warnings = append(result.Warnings, "drawdown approaching limit")
	}

	// Stop and take prices bracket the current price; direction inverts
	// for sells.
	one := decimal.NewFromInt(1)
	if side == core.OrderSideBuy {
		result.StopLossPrice = price.Mul(one.Sub(m.stopLossOffset))
		result.TakeProfitPrice = price.Mul(one.Add(m.takeProfitOff))
	} else {
		result.StopLossPrice = price.Mul(one.Add(m.stopLossOffset))
		result.TakeProfitPrice = price.Mul(one.Sub(m.takeProfitOff))
	}

	result.RiskScore = scorePerViolation*len(result.Violations) + scorePerWarning*len(result.Warnings)
	result.Approved = len(result.Violations) == 0 && capitalKnown

	if m.journal != nil {
		payload := map[string]interface{}{
			"side":       string(side),
			"quantity":   quantity.String(),
			"price":      price.String(),
			"risk_score": result.RiskScore,
		}
		switch {
		case !result.Approved:
			payload["violations"] = result.Violations
			m.journal.Record(core.RiskEventOrderRejected, symbol, payload)
		case len(result.Warnings) > 0:
			payload["warnings"] = result.Warnings
			m.journal.Record(core.RiskEventWarning, symbol, payload)
		}
	}

	return result
}

// UpdatePosition folds one fill into the risk-side mirror: weighted-average
// entry for adds, residual quantity for reductions, removal at zero.
func (m *Manager) UpdatePosition(symbol string, side core.OrderSide, quantity, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	signed := quantity
	if side == core.OrderSideSell {
		signed = signed.Neg()
	}

	p, ok := m.positions[symbol]
	if !ok {
		posSide := core.PositionSideLong
		if signed.IsNegative() {
			posSide = core.PositionSideShort
		}
		m.positions[symbol] = &core.Position{
			Symbol:     symbol,
			Side:       posSide,
			Quantity:   signed.Abs(),
			EntryPrice: price,
			CreatedAt:  m.now(),
			UpdatedAt:  m.now(),
		}
		return
	}

	prev := p.SignedQuantity()
	net := prev.Add(signed)

	switch {
	case net.IsZero():
		delete(m.positions, symbol)
	case prev.Sign() == signed.Sign() || prev.IsZero():
		// Adding in the same direction: weighted-average entry
		notional := p.EntryPrice.Mul(prev.Abs()).Add(price.Mul(signed.Abs()))
		p.EntryPrice = notional.Div(net.Abs())
		p.Quantity = net.Abs()
		p.UpdatedAt = m.now()
	default:
		// Reduction (or flip): entry survives on the residual
		if net.Sign() != prev.Sign() {
			p.EntryPrice = price
		}
		if net.IsPositive() {
			p.Side = core.PositionSideLong
		} else {
			p.Side = core.PositionSideShort
		}
		p.Quantity = net.Abs()
		p.UpdatedAt = m.now()
	}
}

// ClosePosition books realised PnL and the closing volume, then drops the
// mirror entry.
func (m *Manager) ClosePosition(symbol string, realizedPnL, volume decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked()

	m.cumulativePnL = m.cumulativePnL.Add(realizedPnL)
	m.dailyPnL = m.dailyPnL.Add(realizedPnL)
	m.dailyTrades++
	m.dailyVolume = m.dailyVolume.Add(volume.Abs())
	delete(m.positions, symbol)
}

// DropPosition removes the mirror entry without booking PnL. Used when the
// venue reports flat and no fill accounts for the close.
func (m *Manager) DropPosition(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
}

// UpdatePortfolioValue refreshes peak value and current drawdown
func (m *Manager) UpdatePortfolioValue(value decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if value.GreaterThan(m.peakValue) {
		m.peakValue = value
	}
	if m.peakValue.IsPositive() {
		m.drawdown = m.peakValue.Sub(value).Div(m.peakValue)
	}
}

func (m *Manager) rollDayLocked() {
	today := m.now().Format("2006-01-02")
	if m.day == today {
		return
	}
	first := m.day == ""
	m.day = today
	m.dailyPnL = decimal.Zero
	m.dailyTrades = 0
	m.dailyVolume = decimal.Zero
	if !first && m.journal != nil {
		m.journal.Record(core.RiskEventDailyReset, "", nil)
	}
}

// Position returns a copy of the mirror entry for symbol, or nil
func (m *Manager) Position(symbol string) *core.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return nil
	}
	return p.Clone()
}

// Positions returns a copy of the whole mirror
func (m *Manager) Positions() map[string]*core.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*core.Position, len(m.positions))
	for k, v := range m.positions {
		out[k] = v.Clone()
	}
	return out
}

// CumulativePnL returns total realised PnL since start
func (m *Manager) CumulativePnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cumulativePnL
}

// DailyPnL returns realised PnL since the last date roll
func (m *Manager) DailyPnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	return m.dailyPnL
}

// Drawdown returns the current drawdown as a fraction of peak value
func (m *Manager) Drawdown() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawdown
}
