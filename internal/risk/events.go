package risk

import (
	"context"
	"sync"
	"time"

	"perp_trader/internal/core"
	"perp_trader/pkg/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const journalCapacity = 1000

// EventSink receives journaled risk events for durable storage. Failures are
// logged by the caller and never abort trading.
type EventSink interface {
	SaveRiskEvent(ctx context.Context, event *core.RiskEvent) error
}

// Journal keeps the most recent risk events in memory and mirrors each one
// to an optional sink.
type Journal struct {
	mu     sync.Mutex
	events []core.RiskEvent
	sink   EventSink
	logger core.ILogger
}

func NewJournal(sink EventSink, logger core.ILogger) *Journal {
	return &Journal{
		sink:   sink,
		logger: logger,
	}
}

// Record journals one event and returns it
func (j *Journal) Record(kind, symbol string, payload map[string]interface{}) *core.RiskEvent {
	event := core.RiskEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Kind:      kind,
		Symbol:    symbol,
		Payload:   payload,
	}

	j.mu.Lock()
	j.events = append(j.events, event)
	if len(j.events) > journalCapacity {
		j.events = j.events[len(j.events)-journalCapacity:]
	}
	sink := j.sink
	j.mu.Unlock()

	if m := telemetry.GetGlobalMetrics(); m.RiskEventsTotal != nil {
		m.RiskEventsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", kind)))
	}

	if j.logger != nil {
		j.logger.Warn("risk event", "marker", "RISK", "kind", kind, "symbol", symbol)
	}

	if sink != nil {
		if err := sink.SaveRiskEvent(context.Background(), &event); err != nil && j.logger != nil {
			j.logger.Error("failed to persist risk event", "error", err, "kind", kind)
		}
	}
	return &event
}

// Events returns a copy of the journal, oldest first
func (j *Journal) Events() []core.RiskEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]core.RiskEvent, len(j.events))
	copy(out, j.events)
	return out
}
