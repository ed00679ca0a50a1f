package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestGuard_AllowsUntilTripped(t *testing.T) {
	g := NewGuard(decimal.NewFromInt(100), decimal.NewFromInt(500))

	ok, _ := g.Allow()
	assert.True(t, ok)

	g.RecordPnL(decimal.NewFromInt(-50))
	ok, _ = g.Allow()
	assert.True(t, ok, "within the daily ceiling")

	g.RecordPnL(decimal.NewFromInt(-60))
	ok, reason := g.Allow()
	assert.False(t, ok)
	assert.Equal(t, "daily loss limit", reason)

	tripped, _ := g.Tripped()
	assert.True(t, tripped)
}

func TestGuard_TotalLossCeiling(t *testing.T) {
	g := NewGuard(decimal.Zero, decimal.NewFromInt(200))

	g.RecordPnL(decimal.NewFromInt(-150))
	ok, _ := g.Allow()
	assert.True(t, ok)

	g.RecordPnL(decimal.NewFromInt(-100))
	ok, reason := g.Allow()
	assert.False(t, ok)
	assert.Equal(t, "total loss limit", reason)
}

func TestGuard_RateLimitFreezeExpires(t *testing.T) {
	g := NewGuard(decimal.Zero, decimal.Zero)
	clock := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }

	g.FreezeRateLimited()
	ok, reason := g.Allow()
	assert.False(t, ok)
	assert.Equal(t, "rate-limit freeze", reason)

	clock = clock.Add(rateLimitFreeze + time.Second)
	ok, _ = g.Allow()
	assert.True(t, ok, "freeze expires after the window")
}

func TestGuard_DailyRollClearsDailyPnL(t *testing.T) {
	g := NewGuard(decimal.NewFromInt(100), decimal.Zero)
	clock := time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }

	g.RecordPnL(decimal.NewFromInt(-90))
	assert.True(t, g.DailyPnL().Equal(decimal.NewFromInt(-90)))

	clock = clock.Add(2 * time.Hour)
	assert.True(t, g.DailyPnL().IsZero())

	// A tripped guard stays tripped across the roll
	g.RecordPnL(decimal.NewFromInt(-150))
	tripped, _ := g.Tripped()
	assert.True(t, tripped)

	clock = clock.Add(24 * time.Hour)
	ok, _ := g.Allow()
	assert.False(t, ok, "trip persists until Reset")

	g.Reset()
	ok, _ = g.Allow()
	assert.True(t, ok)
}
