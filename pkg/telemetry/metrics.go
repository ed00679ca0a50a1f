package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersPlacedTotal   = "perp_trader_orders_placed_total"
	MetricOrdersFilledTotal   = "perp_trader_orders_filled_total"
	MetricOrdersRejectedTotal = "perp_trader_orders_rejected_total"
	MetricTradesTotal         = "perp_trader_trades_total"
	MetricVolumeTotal         = "perp_trader_volume_total"
	MetricRiskEventsTotal     = "perp_trader_risk_events_total"
	MetricGridFillsTotal      = "perp_trader_grid_fills_total"
	MetricPnLUnrealized       = "perp_trader_pnl_unrealized"
	MetricOrdersActive        = "perp_trader_orders_active"
	MetricPositionSize        = "perp_trader_position_size"
	MetricPortfolioValue      = "perp_trader_portfolio_value"
	MetricGridProfit          = "perp_trader_grid_profit"
	MetricLatencyExchange     = "perp_trader_latency_exchange_ms"
	MetricWSReconnectsTotal   = "perp_trader_ws_reconnects_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersPlacedTotal   metric.Int64Counter
	OrdersFilledTotal   metric.Int64Counter
	OrdersRejectedTotal metric.Int64Counter
	TradesTotal         metric.Int64Counter
	VolumeTotal         metric.Float64Counter
	RiskEventsTotal     metric.Int64Counter
	GridFillsTotal      metric.Int64Counter
	WSReconnectsTotal   metric.Int64Counter
	LatencyExchange     metric.Float64Histogram

	PnLUnrealized  metric.Float64ObservableGauge
	OrdersActive   metric.Int64ObservableGauge
	PositionSize   metric.Float64ObservableGauge
	PortfolioValue metric.Float64ObservableGauge
	GridProfit     metric.Float64ObservableGauge

	// State for observable gauges
	mu               sync.RWMutex
	unrealizedPnLMap map[string]float64
	activeOrdersMap  map[string]int64
	positionSizeMap  map[string]float64
	portfolioValue   float64
	gridProfitMap    map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			unrealizedPnLMap: make(map[string]float64),
			activeOrdersMap:  make(map[string]int64),
			positionSizeMap:  make(map[string]float64),
			gridProfitMap:    make(map[string]float64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders placed"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders filled"))
	if err != nil {
		return err
	}

	m.OrdersRejectedTotal, err = meter.Int64Counter(MetricOrdersRejectedTotal, metric.WithDescription("Total orders rejected by the venue or the pre-trade check"))
	if err != nil {
		return err
	}

	m.TradesTotal, err = meter.Int64Counter(MetricTradesTotal, metric.WithDescription("Total trade records persisted"))
	if err != nil {
		return err
	}

	m.VolumeTotal, err = meter.Float64Counter(MetricVolumeTotal, metric.WithDescription("Total traded volume in quote units"))
	if err != nil {
		return err
	}

	m.RiskEventsTotal, err = meter.Int64Counter(MetricRiskEventsTotal, metric.WithDescription("Risk events journaled, by kind"))
	if err != nil {
		return err
	}

	m.GridFillsTotal, err = meter.Int64Counter(MetricGridFillsTotal, metric.WithDescription("Grid rung fills, by side"))
	if err != nil {
		return err
	}

	m.WSReconnectsTotal, err = meter.Int64Counter(MetricWSReconnectsTotal, metric.WithDescription("WebSocket reconnect attempts"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of exchange API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.PnLUnrealized, err = meter.Float64ObservableGauge(MetricPnLUnrealized, metric.WithDescription("Current unrealized PnL"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.unrealizedPnLMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive, metric.WithDescription("Number of currently open orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionSize, err = meter.Float64ObservableGauge(MetricPositionSize, metric.WithDescription("Current position size, signed"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.positionSizeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PortfolioValue, err = meter.Float64ObservableGauge(MetricPortfolioValue, metric.WithDescription("Cash plus mark-to-market of open positions"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.portfolioValue)
			return nil
		}))
	if err != nil {
		return err
	}

	m.GridProfit, err = meter.Float64ObservableGauge(MetricGridProfit, metric.WithDescription("Realized grid profit per instance"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for id, val := range m.gridProfitMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("instance", id)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetUnrealizedPnL(symbol string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrealizedPnLMap[symbol] = value
}

func (m *MetricsHolder) SetActiveOrders(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[symbol] = count
}

func (m *MetricsHolder) SetPositionSize(symbol string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionSizeMap[symbol] = size
}

func (m *MetricsHolder) SetPortfolioValue(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolioValue = value
}

func (m *MetricsHolder) SetGridProfit(instanceID string, profit float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gridProfitMap[instanceID] = profit
}

func (m *MetricsHolder) GetActiveOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.activeOrdersMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetPositionSize() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.positionSizeMap {
		res[k] = v
	}
	return res
}
