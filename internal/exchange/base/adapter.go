// Package base provides common functionality for exchange adapters
package base

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
	apperrors "perp_trader/pkg/errors"
	pkghttp "perp_trader/pkg/http"
	"perp_trader/pkg/websocket"

	"github.com/shopspring/decimal"
)

// ParseErrorFunc maps a venue error body onto the sentinel taxonomy.
// Returning nil lets the generic classification stand.
type ParseErrorFunc func(statusCode int, body []byte) error

// MapOrderStatusFunc maps a venue's raw status string to the local lifecycle
type MapOrderStatusFunc func(rawStatus string) core.OrderStatus

// marketsTTL is how long cached trading rules stay fresh
const marketsTTL = time.Hour

// BaseAdapter provides common functionality for all exchange adapters:
// a resilient REST client, venue error classification, the hourly
// market-meta cache and the kline WebSocket lifecycle.
type BaseAdapter struct {
	Name   string
	Config *config.ExchangeConfig
	Logger core.ILogger
	REST   *pkghttp.Client

	// Exchange-specific hooks set by concrete implementations
	ParseError     ParseErrorFunc
	MapOrderStatus MapOrderStatusFunc

	marketsMu sync.RWMutex
	markets   map[string]*core.MarketInfo
	marketsAt time.Time

	wsMu     sync.Mutex
	wsClient *websocket.Client
}

// NewBaseAdapter creates a new base adapter with common configuration
func NewBaseAdapter(name string, cfg *config.ExchangeConfig, baseURL string, signer pkghttp.Signer, logger core.ILogger) *BaseAdapter {
	return &BaseAdapter{
		Name:   name,
		Config: cfg,
		Logger: logger.WithField("exchange", name),
		REST:   pkghttp.NewClient(baseURL, 10*time.Second, signer),
	}
}

// GetName returns the exchange name
func (b *BaseAdapter) GetName() string {
	return b.Name
}

// Get performs a GET request and classifies failures
func (b *BaseAdapter) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	body, err := b.REST.Get(ctx, path, params)
	return body, b.Classify(err)
}

// Post performs a JSON POST request and classifies failures
func (b *BaseAdapter) Post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := b.REST.Post(ctx, path, payload)
	return body, b.Classify(err)
}

// Delete performs a DELETE request and classifies failures
func (b *BaseAdapter) Delete(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	body, err := b.REST.Delete(ctx, path, params)
	return body, b.Classify(err)
}

// DeleteJSON performs a bodied DELETE request and classifies failures
func (b *BaseAdapter) DeleteJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := b.REST.DeleteJSON(ctx, path, payload)
	return body, b.Classify(err)
}

// Classify maps transport and HTTP failures onto the sentinel taxonomy.
// The adapter's ParseError hook gets first claim on venue error bodies.
func (b *BaseAdapter) Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status := pkghttp.StatusOf(err)
	if status == 0 {
		// Transport or decode failure
		return fmt.Errorf("%s: %w: %w", b.Name, apperrors.ErrExchangeUnreachable, err)
	}

	if b.ParseError != nil {
		var apiErr *pkghttp.APIError
		if errors.As(err, &apiErr) {
			if mapped := b.ParseError(status, apiErr.Body); mapped != nil {
				return mapped
			}
		}
	}

	switch {
	case status == 429:
		return fmt.Errorf("%s: %w", b.Name, apperrors.ErrRateLimitExceeded)
	case status == 401 || status == 403:
		return fmt.Errorf("%s: %w: %w", b.Name, apperrors.ErrAuthenticationFailed, err)
	case status == 404:
		return fmt.Errorf("%s: %w: %w", b.Name, apperrors.ErrOrderNotFound, err)
	case status >= 500:
		return fmt.Errorf("%s: %w: %w", b.Name, apperrors.ErrExchangeUnreachable, err)
	default:
		return err
	}
}

// IsNotFound reports whether an error (or a raw venue message) means the
// venue no longer recognises the order id.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, apperrors.ErrOrderNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// CachedMarkets serves trading rules through the hourly cache, delegating
// to fetch on a miss or expiry.
func (b *BaseAdapter) CachedMarkets(ctx context.Context, fetch func(context.Context) (map[string]*core.MarketInfo, error)) (map[string]*core.MarketInfo, error) {
	b.marketsMu.RLock()
	if b.markets != nil && time.Since(b.marketsAt) < marketsTTL {
		cached := b.markets
		b.marketsMu.RUnlock()
		return cached, nil
	}
	b.marketsMu.RUnlock()

	fresh, err := fetch(ctx)
	if err != nil {
		// Serve stale data over failing outright
		b.marketsMu.RLock()
		stale := b.markets
		b.marketsMu.RUnlock()
		if stale != nil {
			b.Logger.Warn("market refresh failed, serving stale cache", "error", err)
			return stale, nil
		}
		return nil, err
	}

	b.marketsMu.Lock()
	b.markets = fresh
	b.marketsAt = time.Now()
	b.marketsMu.Unlock()
	return fresh, nil
}

// SymbolInfo resolves one venue symbol through the cache. An unknown symbol
// invalidates the cache once and refetches so newly listed pairs recover.
func (b *BaseAdapter) SymbolInfo(ctx context.Context, symbol string, fetch func(context.Context) (map[string]*core.MarketInfo, error)) (*core.MarketInfo, error) {
	markets, err := b.CachedMarkets(ctx, fetch)
	if err != nil {
		return nil, err
	}
	if info, ok := markets[symbol]; ok {
		return info, nil
	}

	b.InvalidateMarkets()
	markets, err = b.CachedMarkets(ctx, fetch)
	if err != nil {
		return nil, err
	}
	if info, ok := markets[symbol]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("%s: %w: %s", b.Name, apperrors.ErrInvalidSymbol, symbol)
}

// InvalidateMarkets drops the cached trading rules
func (b *BaseAdapter) InvalidateMarkets() {
	b.marketsMu.Lock()
	b.markets = nil
	b.marketsMu.Unlock()
}

// SafeMapOrderStatus maps a raw venue status through the adapter hook
func (b *BaseAdapter) SafeMapOrderStatus(rawStatus string) core.OrderStatus {
	if b.MapOrderStatus != nil {
		return b.MapOrderStatus(rawStatus)
	}
	return core.OrderStatusOpen
}

// StartWebSocketStream starts the adapter's single kline WebSocket. The
// onConnected callback replays subscriptions after every reconnect.
func (b *BaseAdapter) StartWebSocketStream(wsURL string, onMessage func([]byte), onConnected func(client *websocket.Client)) error {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	if b.wsClient != nil {
		return fmt.Errorf("%s: kline stream already running", b.Name)
	}

	client := websocket.NewClient(wsURL, onMessage, b.Logger)
	if onConnected != nil {
		client.SetOnConnected(func() { onConnected(client) })
	}
	client.Start()
	b.wsClient = client

	b.Logger.Info("kline stream started", "url", wsURL)
	return nil
}

// WSClient returns the running stream client, or nil
func (b *BaseAdapter) WSClient() *websocket.Client {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	return b.wsClient
}

// StopWebSocketStream closes the kline WebSocket if running
func (b *BaseAdapter) StopWebSocketStream() error {
	b.wsMu.Lock()
	client := b.wsClient
	b.wsClient = nil
	b.wsMu.Unlock()

	if client != nil {
		client.Stop()
		b.Logger.Info("kline stream stopped")
	}
	return nil
}

// CloseREST releases idle REST sockets
func (b *BaseAdapter) CloseREST() {
	b.REST.CloseIdleConnections()
}

// ParseDecimal safely parses a string to decimal
func (b *BaseAdapter) ParseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		b.Logger.Warn("failed to parse decimal", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}

// ParseTimestamp safely parses a timestamp in milliseconds
func (b *BaseAdapter) ParseTimestamp(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
