package persistence

import (
	"context"
	"sync"

	"perp_trader/internal/core"
)

// MemoryStore is the in-process Sink used by tests and ephemeral runs
type MemoryStore struct {
	mu        sync.Mutex
	orders    map[int64]*core.Order
	trades    []*core.Trade
	positions map[string]*core.Position
	snapshots []*core.PortfolioSnapshot
	events    []*core.RiskEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[int64]*core.Order),
		positions: make(map[string]*core.Position),
	}
}

func (s *MemoryStore) SaveOrder(ctx context.Context, order *core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *MemoryStore) SaveTrade(ctx context.Context, trade *core.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *trade
	s.trades = append(s.trades, &cp)
	return nil
}

func (s *MemoryStore) SavePosition(ctx context.Context, position *core.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position.Quantity.IsZero() {
		delete(s.positions, position.Symbol)
		return nil
	}
	s.positions[position.Symbol] = position.Clone()
	return nil
}

func (s *MemoryStore) SavePortfolioSnapshot(ctx context.Context, snapshot *core.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snapshot
	s.snapshots = append(s.snapshots, &cp)
	return nil
}

func (s *MemoryStore) SaveRiskEvent(ctx context.Context, event *core.RiskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) LoadOpenOrders(ctx context.Context) ([]*core.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Order
	for _, o := range s.orders {
		if o.Status == core.OrderStatusPending || o.Status == core.OrderStatusOpen {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) LoadPositions(ctx context.Context) ([]*core.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Position
	for _, p := range s.positions {
		out = append(out, p.Clone())
	}
	return out, nil
}

// Trades returns a snapshot of persisted trades, oldest first
func (s *MemoryStore) Trades() []*core.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Snapshots returns persisted portfolio snapshots, oldest first
func (s *MemoryStore) Snapshots() []*core.PortfolioSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.PortfolioSnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

// Events returns persisted risk events, oldest first
func (s *MemoryStore) Events() []*core.RiskEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.RiskEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemoryStore) Close() error {
	return nil
}

var (
	_ Sink = (*MemoryStore)(nil)
	_ Sink = (*SQLiteStore)(nil)
)
