package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// rateLimitFreeze is how long placement stays frozen after a venue 429
const rateLimitFreeze = 60 * time.Second

// Guard is the loss-limit / freeze-window primitive shared by grid
// instances. Once tripped it stays tripped until Reset.
type Guard struct {
	mu sync.Mutex

	dailyLossLimit decimal.Decimal // positive quote-unit ceiling, zero disables
	totalLossLimit decimal.Decimal

	dailyPnL decimal.Decimal
	totalPnL decimal.Decimal
	day      string

	frozenUntil time.Time
	tripped     bool
	tripReason  string

	now func() time.Time
}

func NewGuard(dailyLossLimit, totalLossLimit decimal.Decimal) *Guard {
	return &Guard{
		dailyLossLimit: dailyLossLimit,
		totalLossLimit: totalLossLimit,
		now:            time.Now,
	}
}

// RecordPnL books realised PnL against both ceilings
func (g *Guard) RecordPnL(pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollDayLocked()
	g.dailyPnL = g.dailyPnL.Add(pnl)
	g.totalPnL = g.totalPnL.Add(pnl)

	if g.tripped {
		return
	}
	if !g.dailyLossLimit.IsZero() && g.dailyPnL.IsNegative() && g.dailyPnL.Abs().GreaterThan(g.dailyLossLimit) {
		g.tripped = true
		g.tripReason = "daily loss limit"
		return
	}
	if !g.totalLossLimit.IsZero() && g.totalPnL.IsNegative() && g.totalPnL.Abs().GreaterThan(g.totalLossLimit) {
		g.tripped = true
		g.tripReason = "total loss limit"
	}
}

// FreezeRateLimited blocks new placement for the standard 429 window
func (g *Guard) FreezeRateLimited() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frozenUntil = g.now().Add(rateLimitFreeze)
}

// Allow reports whether new placement may proceed, with a reason when not
func (g *Guard) Allow() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollDayLocked()
	if g.tripped {
		return false, g.tripReason
	}
	if g.now().Before(g.frozenUntil) {
		return false, "rate-limit freeze"
	}
	return true, ""
}

// Tripped reports whether a loss ceiling has fired
func (g *Guard) Tripped() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped, g.tripReason
}

// DailyPnL returns realised PnL since the last date roll
func (g *Guard) DailyPnL() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	return g.dailyPnL
}

// Reset clears trips and freezes but keeps total PnL
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tripped = false
	g.tripReason = ""
	g.frozenUntil = time.Time{}
}

func (g *Guard) rollDayLocked() {
	today := g.now().Format("2006-01-02")
	if g.day == today {
		return
	}
	g.day = today
	g.dailyPnL = decimal.Zero
}
