// Package marketdata holds per-symbol kline series and indicator math
package marketdata

import (
	"math"
	"sync"

	"perp_trader/internal/core"

	"gonum.org/v1/gonum/stat"
)

// DefaultCapacity bounds a frame to roughly ten days of 15-minute bars
const DefaultCapacity = 1000

// Frame is an ordered, bounded series of klines for one symbol. Pushing a
// bar whose open time matches the newest bar replaces it (streaming venues
// re-send the forming candle until it closes); a newer open time appends
// and evicts the oldest past capacity.
type Frame struct {
	mu       sync.RWMutex
	symbol   string
	capacity int
	bars     []core.Kline
}

// NewFrame creates an empty frame for one symbol
func NewFrame(symbol string, capacity int) *Frame {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Frame{
		symbol:   symbol,
		capacity: capacity,
		bars:     make([]core.Kline, 0, 64),
	}
}

// Symbol returns the symbol the frame tracks
func (f *Frame) Symbol() string {
	return f.symbol
}

// Push inserts one bar, replacing the newest when the open time matches.
// Bars older than the newest are dropped (out-of-order frames after a
// reconnect replay).
func (f *Frame) Push(k core.Kline) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.bars)
	if n > 0 {
		last := f.bars[n-1].OpenTime
		switch {
		case k.OpenTime == last:
			f.bars[n-1] = k
			return
		case k.OpenTime < last:
			return
		}
	}

	f.bars = append(f.bars, k)
	if len(f.bars) > f.capacity {
		f.bars = f.bars[len(f.bars)-f.capacity:]
	}
}

// PushAll inserts bars in order; used by the REST preload
func (f *Frame) PushAll(bars []core.Kline) {
	for _, k := range bars {
		f.Push(k)
	}
}

// Len returns the number of bars held
func (f *Frame) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.bars)
}

// Last returns the newest bar, or false when empty
func (f *Frame) Last() (core.Kline, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.bars) == 0 {
		return core.Kline{}, false
	}
	return f.bars[len(f.bars)-1], true
}

// Bars returns a copy of the series, oldest first
func (f *Frame) Bars() []core.Kline {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.Kline, len(f.bars))
	copy(out, f.bars)
	return out
}

// Closes returns the close column, oldest first
func (f *Frame) Closes() []float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]float64, len(f.bars))
	for i, b := range f.bars {
		out[i] = b.Close
	}
	return out
}

// Returns computes simple period-over-period returns of the close column
func (f *Frame) Returns() []float64 {
	closes := f.Closes()
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// SMA returns the simple moving average of the last window closes, or NaN
// when not enough bars are held.
func (f *Frame) SMA(window int) float64 {
	closes := f.Closes()
	if window <= 0 || len(closes) < window {
		return math.NaN()
	}
	return stat.Mean(closes[len(closes)-window:], nil)
}

// StdDev returns the sample standard deviation of the last window closes
func (f *Frame) StdDev(window int) float64 {
	closes := f.Closes()
	if window <= 1 || len(closes) < window {
		return math.NaN()
	}
	return stat.StdDev(closes[len(closes)-window:], nil)
}

// ZScore measures how far the newest close sits from the rolling mean in
// standard deviations. NaN when the window is short or flat.
func (f *Frame) ZScore(window int) float64 {
	closes := f.Closes()
	if window <= 1 || len(closes) < window {
		return math.NaN()
	}
	tail := closes[len(closes)-window:]
	mean := stat.Mean(tail, nil)
	sd := stat.StdDev(tail, nil)
	if sd == 0 || math.IsNaN(sd) {
		return math.NaN()
	}
	return (closes[len(closes)-1] - mean) / sd
}

// ATR returns the average true range over the last window bars
func (f *Frame) ATR(window int) float64 {
	bars := f.Bars()
	if window <= 0 || len(bars) < window+1 {
		return math.NaN()
	}
	trs := make([]float64, 0, window)
	for i := len(bars) - window; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		tr := bars[i].High - bars[i].Low
		tr = math.Max(tr, math.Abs(bars[i].High-prevClose))
		tr = math.Max(tr, math.Abs(bars[i].Low-prevClose))
		trs = append(trs, tr)
	}
	return stat.Mean(trs, nil)
}

// FrameSet is the per-engine collection of frames keyed by canonical symbol
type FrameSet struct {
	mu     sync.RWMutex
	frames map[string]*Frame
	cap    int
}

// NewFrameSet creates an empty set with the given per-frame capacity
func NewFrameSet(capacity int) *FrameSet {
	return &FrameSet{
		frames: make(map[string]*Frame),
		cap:    capacity,
	}
}

// Get returns the frame for a symbol, creating it on first use
func (s *FrameSet) Get(symbol string) *Frame {
	s.mu.RLock()
	f, ok := s.frames[symbol]
	s.mu.RUnlock()
	if ok {
		return f
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok = s.frames[symbol]; ok {
		return f
	}
	f = NewFrame(symbol, s.cap)
	s.frames[symbol] = f
	return f
}

// Snapshot returns the current frames keyed by symbol
func (s *FrameSet) Snapshot() map[string]*Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Frame, len(s.frames))
	for k, v := range s.frames {
		out[k] = v
	}
	return out
}
