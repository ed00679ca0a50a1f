// Package meanreversion implements the stock z-score strategy: enter long
// when price stretches below its rolling mean, exit when it reverts above.
package meanreversion

import (
	"fmt"
	"math"
	"sync"
	"time"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
	"perp_trader/internal/marketdata"
	"perp_trader/internal/strategy"

	"github.com/shopspring/decimal"
)

const (
	defaultWindow     = 20
	defaultZThreshold = 1.0

	// Fraction of account capital committed per entry
	capitalFraction = 0.03

	stopLossPct   = 0.02
	takeProfitPct = 0.03
)

func init() {
	strategy.Register("mean_reversion", func(cfg *config.Config, logger core.ILogger) (strategy.Strategy, error) {
		return New(logger), nil
	})
}

// Strategy holds the rolling-window parameters and the engine-synced
// position/capital mirrors.
type Strategy struct {
	window     int
	zThreshold float64
	logger     core.ILogger

	mu        sync.Mutex
	capital   decimal.Decimal
	positions map[string]*core.Position
}

func New(logger core.ILogger) *Strategy {
	return &Strategy{
		window:     defaultWindow,
		zThreshold: defaultZThreshold,
		logger:     logger,
		positions:  make(map[string]*core.Position),
	}
}

func (s *Strategy) Name() string {
	return "mean_reversion"
}

// SetCapital updates the sizing base before an evaluation
func (s *Strategy) SetCapital(capital decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capital = capital
}

// SyncPosition updates the strategy-side mirror; nil removes the entry
func (s *Strategy) SyncPosition(symbol string, position *core.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position == nil {
		delete(s.positions, symbol)
		return
	}
	s.positions[symbol] = position.Clone()
}

// CalculateSignal emits at most one signal per symbol: a sized BUY when the
// close sits more than zThreshold deviations below the rolling mean, or an
// exit SELL when an open long has reverted above it.
func (s *Strategy) CalculateSignal(marketData map[string]*marketdata.Frame) []core.Signal {
	s.mu.Lock()
	capital := s.capital
	positions := make(map[string]*core.Position, len(s.positions))
	for k, v := range s.positions {
		positions[k] = v
	}
	s.mu.Unlock()

	var signals []core.Signal
	for symbol, frame := range marketData {
		if frame.Len() < s.window {
			continue
		}
		z := frame.ZScore(s.window)
		if math.IsNaN(z) {
			continue
		}
		last, ok := frame.Last()
		if !ok || last.Close <= 0 {
			continue
		}
		price := decimal.NewFromFloat(last.Close)
		held, holding := positions[symbol]

		switch {
		case !holding && z <= -s.zThreshold:
			if !capital.IsPositive() {
				continue
			}
			one := decimal.NewFromInt(1)
			quantity := capital.Mul(decimal.NewFromFloat(capitalFraction)).Div(price)
			signals = append(signals, core.Signal{
				Symbol:     symbol,
				Action:     core.SignalActionBuy,
				Quantity:   quantity,
				Price:      price,
				StopLoss:   price.Mul(one.Sub(decimal.NewFromFloat(stopLossPct))),
				TakeProfit: price.Mul(one.Add(decimal.NewFromFloat(takeProfitPct))),
				Confidence: math.Min(math.Abs(z)/3, 1),
				Rationale:  fmt.Sprintf("z-score %.2f below -%.2f over %d bars", z, s.zThreshold, s.window),
				Timestamp:  time.UnixMilli(last.OpenTime),
			})

		case holding && held.Side == core.PositionSideLong && z >= s.zThreshold:
			signals = append(signals, core.Signal{
				Symbol:     symbol,
				Action:     core.SignalActionSell,
				Quantity:   held.Quantity,
				Price:      price,
				Confidence: math.Min(math.Abs(z)/3, 1),
				Rationale:  fmt.Sprintf("reverted to z-score %.2f, closing long", z),
				Timestamp:  time.UnixMilli(last.OpenTime),
			})
		}
	}
	return signals
}

// ShouldExitPosition applies the fixed stop/take brackets to a bar close
func (s *Strategy) ShouldExitPosition(position *core.Position, bar core.Kline) bool {
	if position == nil || !position.EntryPrice.IsPositive() {
		return false
	}
	entry, _ := position.EntryPrice.Float64()
	switch position.Side {
	case core.PositionSideLong:
		return bar.Close <= entry*(1-stopLossPct) || bar.Close >= entry*(1+takeProfitPct)
	case core.PositionSideShort:
		return bar.Close >= entry*(1+stopLossPct) || bar.Close <= entry*(1-takeProfitPct)
	}
	return false
}

var (
	_ strategy.Strategy      = (*Strategy)(nil)
	_ strategy.CapitalAware  = (*Strategy)(nil)
	_ strategy.PositionAware = (*Strategy)(nil)
)
