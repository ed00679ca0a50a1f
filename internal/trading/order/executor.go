// Package order provides order execution with rate limiting and retry logic
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"perp_trader/internal/core"
	apperrors "perp_trader/pkg/errors"
	"perp_trader/pkg/retry"
	"perp_trader/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	// Venue submission budget: 25 orders/second with burst capacity
	defaultRateLimit = 25
	defaultBurst     = 30

	errorRingCapacity  = 1000
	healthWindow       = 5 * time.Minute
	healthErrorCeiling = 50
)

// Executor implements core.IOrderExecutor in front of a venue adapter
type Executor struct {
	exchange core.IExchange
	logger   core.ILogger

	mu          sync.RWMutex
	rateLimiter *rate.Limiter

	// Ring of recent failure timestamps backing CheckHealth
	errorMu         sync.Mutex
	errorTimestamps []time.Time
	errorIndex      int

	tracer       trace.Tracer
	orderCounter metric.Int64Counter
	failCounter  metric.Int64Counter
}

func NewExecutor(exchange core.IExchange, logger core.ILogger) *Executor {
	meter := telemetry.GetMeter("order-executor")
	orderCounter, _ := meter.Int64Counter("order_submissions_total",
		metric.WithDescription("Total order submissions sent to the venue"))
	failCounter, _ := meter.Int64Counter("order_submission_failures_total",
		metric.WithDescription("Total order submissions that failed after retries"))

	return &Executor{
		exchange:        exchange,
		logger:          logger.WithField("component", "order_executor"),
		rateLimiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		errorTimestamps: make([]time.Time, 0, errorRingCapacity),
		tracer:          telemetry.GetTracer("order-executor"),
		orderCounter:    orderCounter,
		failCounter:     failCounter,
	}
}

// SetRateLimit replaces the submission limiter
func (e *Executor) SetRateLimit(limit float64, burst int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rateLimiter = rate.NewLimiter(rate.Limit(limit), burst)
}

func (e *Executor) limiter() *rate.Limiter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rateLimiter
}

// PlaceOrder submits one order, retrying transient failures with the
// rate-limit backoff schedule.
func (e *Executor) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	ctx, span := e.tracer.Start(ctx, "PlaceOrder",
		trace.WithAttributes(
			attribute.String("symbol", req.Symbol),
			attribute.String("side", string(req.Side)),
		),
	)
	defer span.End()

	if e.orderCounter != nil {
		e.orderCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("symbol", req.Symbol),
			attribute.String("side", string(req.Side)),
		))
	}

	var order *core.Order
	err := retry.Do(ctx, retry.RateLimitPolicy, apperrors.IsTransient, func() error {
		if err := e.limiter().Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
		var placeErr error
		order, placeErr = e.exchange.PlaceOrder(ctx, req)
		if placeErr != nil {
			e.logger.Warn("order placement failed",
				"symbol", req.Symbol,
				"side", req.Side,
				"error", placeErr.Error())
		}
		return placeErr
	})
	if err != nil {
		e.recordError()
		if e.failCounter != nil {
			e.failCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("symbol", req.Symbol),
				attribute.String("op", "place")))
		}
		return nil, err
	}
	return order, nil
}

// CancelOrder cancels one order; a venue-side not-found counts as success
// because the order can no longer execute.
func (e *Executor) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	ctx, span := e.tracer.Start(ctx, "CancelOrder",
		trace.WithAttributes(attribute.String("symbol", symbol)))
	defer span.End()

	err := retry.Do(ctx, retry.RateLimitPolicy, apperrors.IsTransient, func() error {
		if err := e.limiter().Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
		return e.exchange.CancelOrder(ctx, symbol, venueOrderID)
	})
	if errors.Is(err, apperrors.ErrOrderNotFound) {
		e.logger.Debug("cancel target already gone", "venue_order_id", venueOrderID)
		return nil
	}
	if err != nil {
		e.recordError()
		if e.failCounter != nil {
			e.failCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("symbol", symbol),
				attribute.String("op", "cancel")))
		}
		return err
	}
	return nil
}

// CheckHealth errors when the recent failure rate is abnormal
func (e *Executor) CheckHealth() error {
	if count := e.recentErrorCount(healthWindow); count > healthErrorCeiling {
		return fmt.Errorf("high error rate: %d errors in last %s", count, healthWindow)
	}
	return nil
}

func (e *Executor) recordError() {
	e.errorMu.Lock()
	defer e.errorMu.Unlock()
	if len(e.errorTimestamps) < errorRingCapacity {
		e.errorTimestamps = append(e.errorTimestamps, time.Now())
		return
	}
	e.errorTimestamps[e.errorIndex] = time.Now()
	e.errorIndex = (e.errorIndex + 1) % errorRingCapacity
}

func (e *Executor) recentErrorCount(window time.Duration) int {
	e.errorMu.Lock()
	defer e.errorMu.Unlock()
	cutoff := time.Now().Add(-window)
	count := 0
	for _, t := range e.errorTimestamps {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

var _ core.IOrderExecutor = (*Executor)(nil)
