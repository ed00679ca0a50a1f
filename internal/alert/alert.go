// Package alert fans trading events out to notification channels. Delivery
// is fire-and-forget: a dead webhook must never stall the trading path.
package alert

import (
	"context"
	"sync"
	"time"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
)

type Level string

const (
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Error    Level = "ERROR"
	Critical Level = "CRITICAL"
)

type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type Channel interface {
	Send(ctx context.Context, alert Payload) error
	Name() string
}

// Manager owns the channel set and dispatches to each concurrently
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	logger   core.ILogger
}

func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		logger: logger.WithField("component", "alert_manager"),
	}
}

// NewFromConfig wires the webhook channel when a URL is configured; with no
// URL the manager is a silent no-op.
func NewFromConfig(cfg *config.Config, logger core.ILogger) *Manager {
	m := NewManager(logger)
	if cfg.Alert.WebhookURL != "" {
		m.AddChannel(NewWebhookChannel(cfg.Alert.WebhookURL))
	}
	return m
}

func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("alert channel added", "name", ch.Name())
}

// Alert dispatches to every channel without waiting for delivery
func (m *Manager) Alert(ctx context.Context, level Level, title, message string, fields map[string]string) {
	payload := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	m.mu.RLock()
	channels := append([]Channel(nil), m.channels...)
	m.mu.RUnlock()

	for _, ch := range channels {
		go func(c Channel) {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := c.Send(sendCtx, payload); err != nil {
				m.logger.Error("alert delivery failed", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// NotifyTrade is the engine trade-callback adapter
func (m *Manager) NotifyTrade(trade *core.Trade) {
	m.Alert(context.Background(), Info, "trade filled", trade.Symbol, map[string]string{
		"side":     string(trade.Side),
		"quantity": trade.Quantity.String(),
		"price":    trade.Price.String(),
	})
}

// NotifyRiskEvent forwards journaled risk occurrences; forced closes and
// grid stops escalate above warnings.
func (m *Manager) NotifyRiskEvent(event *core.RiskEvent) {
	level := Warning
	switch event.Kind {
	case core.RiskEventForcedClose, core.RiskEventGridStop:
		level = Critical
	case core.RiskEventDailyReset:
		level = Info
	}
	fields := make(map[string]string, len(event.Payload))
	for k, v := range event.Payload {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	m.Alert(context.Background(), level, event.Kind, event.Symbol, fields)
}
