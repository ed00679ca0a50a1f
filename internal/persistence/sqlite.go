package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"perp_trader/internal/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// SQLiteStore persists trading records to a single SQLite file in WAL mode
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id               INTEGER PRIMARY KEY,
	venue_order_id   TEXT,
	client_order_id  TEXT,
	symbol           TEXT NOT NULL,
	venue_symbol     TEXT,
	side             TEXT NOT NULL,
	type             TEXT NOT NULL,
	quantity         TEXT NOT NULL,
	price            TEXT,
	reduce_only      INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	filled_quantity  TEXT,
	avg_fill_price   TEXT,
	commission       TEXT,
	commission_asset TEXT,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	trade_id         TEXT PRIMARY KEY,
	order_id         INTEGER,
	venue_order_id   TEXT,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	quantity         TEXT NOT NULL,
	price            TEXT NOT NULL,
	commission       TEXT,
	commission_asset TEXT,
	is_maker         INTEGER NOT NULL DEFAULT 0,
	ts               INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	symbol         TEXT PRIMARY KEY,
	side           TEXT NOT NULL,
	quantity       TEXT NOT NULL,
	entry_price    TEXT NOT NULL,
	mark_price     TEXT,
	unrealized_pnl TEXT,
	realized_pnl   TEXT,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	ts              INTEGER PRIMARY KEY,
	total_value     TEXT NOT NULL,
	cash            TEXT NOT NULL,
	positions_value TEXT NOT NULL,
	daily_pnl       TEXT,
	daily_return    REAL
);
CREATE TABLE IF NOT EXISTS risk_events (
	id      TEXT PRIMARY KEY,
	ts      INTEGER NOT NULL,
	kind    TEXT NOT NULL,
	symbol  TEXT,
	payload TEXT
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
`

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, order *core.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders
		(id, venue_order_id, client_order_id, symbol, venue_symbol, side, type,
		 quantity, price, reduce_only, status, filled_quantity, avg_fill_price,
		 commission, commission_asset, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.VenueOrderID, order.ClientOrderID, order.Symbol,
		order.VenueSymbol, string(order.Side), string(order.Type),
		order.Quantity.String(), order.Price.String(), boolToInt(order.ReduceOnly),
		string(order.Status), order.FilledQuantity.String(), order.AvgFillPrice.String(),
		order.Commission.String(), order.CommissionAsset,
		order.CreatedAt.UnixMilli(), order.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save order %d: %w", order.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *core.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades
		(trade_id, order_id, venue_order_id, symbol, side, quantity, price,
		 commission, commission_asset, is_maker, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.TradeID, trade.OrderID, trade.VenueOrderID, trade.Symbol,
		string(trade.Side), trade.Quantity.String(), trade.Price.String(),
		trade.Commission.String(), trade.CommissionAsset,
		boolToInt(trade.IsMaker), trade.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", trade.TradeID, err)
	}
	return nil
}

// SavePosition upserts by symbol; a zero quantity deletes the row
func (s *SQLiteStore) SavePosition(ctx context.Context, position *core.Position) error {
	if position.Quantity.IsZero() {
		_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, position.Symbol)
		if err != nil {
			return fmt.Errorf("failed to delete position %s: %w", position.Symbol, err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions
		(symbol, side, quantity, entry_price, mark_price, unrealized_pnl,
		 realized_pnl, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		position.Symbol, string(position.Side), position.Quantity.String(),
		position.EntryPrice.String(), position.MarkPrice.String(),
		position.UnrealizedPnL.String(), position.RealizedPnL.String(),
		position.CreatedAt.UnixMilli(), position.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save position %s: %w", position.Symbol, err)
	}
	return nil
}

func (s *SQLiteStore) SavePortfolioSnapshot(ctx context.Context, snapshot *core.PortfolioSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO portfolio_snapshots
		(ts, total_value, cash, positions_value, daily_pnl, daily_return)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snapshot.Timestamp.UnixMilli(), snapshot.TotalValue.String(),
		snapshot.Cash.String(), snapshot.PositionsValue.String(),
		snapshot.DailyPnL.String(), snapshot.DailyReturn)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveRiskEvent(ctx context.Context, event *core.RiskEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal risk event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO risk_events (id, ts, kind, symbol, payload)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.UnixMilli(), event.Kind, event.Symbol, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save risk event %s: %w", event.ID, err)
	}
	return nil
}

func (s *SQLiteStore) LoadOpenOrders(ctx context.Context) ([]*core.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_order_id, client_order_id, symbol, venue_symbol, side,
		       type, quantity, price, reduce_only, status, filled_quantity,
		       avg_fill_price, commission, commission_asset, created_at, updated_at
		FROM orders WHERE status IN (?, ?) ORDER BY id`,
		string(core.OrderStatusPending), string(core.OrderStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to load open orders: %w", err)
	}
	defer rows.Close()

	var orders []*core.Order
	for rows.Next() {
		var o core.Order
		var side, typ, status string
		var qty, price, filled, avgPrice, commission string
		var reduceOnly int
		var createdAt, updatedAt int64
		if err := rows.Scan(&o.ID, &o.VenueOrderID, &o.ClientOrderID, &o.Symbol,
			&o.VenueSymbol, &side, &typ, &qty, &price, &reduceOnly, &status,
			&filled, &avgPrice, &commission, &o.CommissionAsset,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		o.Side = core.OrderSide(side)
		o.Type = core.OrderType(typ)
		o.Status = core.OrderStatus(status)
		o.ReduceOnly = reduceOnly != 0
		if o.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("corrupt quantity for order %d: %w", o.ID, err)
		}
		o.Price = parseDecimalOrZero(price)
		o.FilledQuantity = parseDecimalOrZero(filled)
		o.AvgFillPrice = parseDecimalOrZero(avgPrice)
		o.Commission = parseDecimalOrZero(commission)
		o.CreatedAt = time.UnixMilli(createdAt)
		o.UpdatedAt = time.UnixMilli(updatedAt)
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) LoadPositions(ctx context.Context) ([]*core.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, side, quantity, entry_price, mark_price, unrealized_pnl,
		       realized_pnl, created_at, updated_at
		FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	defer rows.Close()

	var positions []*core.Position
	for rows.Next() {
		var p core.Position
		var side string
		var qty, entry, mark, upnl, rpnl string
		var createdAt, updatedAt int64
		if err := rows.Scan(&p.Symbol, &side, &qty, &entry, &mark, &upnl, &rpnl,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		p.Side = core.PositionSide(side)
		if p.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("corrupt quantity for position %s: %w", p.Symbol, err)
		}
		if p.Quantity.IsZero() {
			continue
		}
		p.EntryPrice = parseDecimalOrZero(entry)
		p.MarkPrice = parseDecimalOrZero(mark)
		p.UnrealizedPnL = parseDecimalOrZero(upnl)
		p.RealizedPnL = parseDecimalOrZero(rpnl)
		p.CreatedAt = time.UnixMilli(createdAt)
		p.UpdatedAt = time.UnixMilli(updatedAt)
		positions = append(positions, &p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
