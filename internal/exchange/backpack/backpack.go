// Package backpack implements the Backpack exchange adapter
package backpack

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
	"perp_trader/internal/exchange/base"
	apperrors "perp_trader/pkg/errors"
	"perp_trader/pkg/websocket"

	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL = "https://api.backpack.exchange"
	defaultWSURL   = "wss://ws.backpack.exchange"

	defaultQuote = "USDC"
	venueSuffix  = "_PERP"

	// signWindowMS is how long a signed request stays valid
	signWindowMS = 5000

	// minNotionalUSDC applies when the market filters omit one
	minNotionalUSDC = 5
)

// instructionFor maps a signed route to its signing instruction. Routes
// absent here are public and go out unsigned.
var instructionFor = map[string]string{
	"GET /api/v1/capital":   "balanceQuery",
	"GET /api/v1/position":  "positionQuery",
	"POST /api/v1/order":    "orderExecute",
	"GET /api/v1/order":     "orderQuery",
	"DELETE /api/v1/order":  "orderCancel",
	"GET /api/v1/orders":    "orderQueryAll",
	"DELETE /api/v1/orders": "orderCancelAll",
}

// Exchange implements core.IExchange for Backpack perpetuals
type Exchange struct {
	*base.BaseAdapter

	wsURL string

	klineMu      sync.Mutex
	klineHandler core.KlineHandler
}

type signer struct {
	priv   ed25519.PrivateKey
	pubB64 string
	window int64
	now    func() time.Time
}

func newSigner(seedB64 string) (*signer, error) {
	raw, err := base64.StdEncoding.DecodeString(seedB64)
	if err != nil {
		return nil, fmt.Errorf("backpack: decode ed25519 seed: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("backpack: ed25519 seed must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &signer{
		priv:   priv,
		pubB64: base64.StdEncoding.EncodeToString(pub),
		window: signWindowMS,
		now:    time.Now,
	}, nil
}

// SignRequest signs authenticated routes with the instruction scheme:
// `instruction=<verb>&<sorted kv>&timestamp=<ms>&window=<ms>` over Ed25519.
// Booleans are lower-cased by the canonicaliser; public routes pass through.
func (s *signer) SignRequest(req *http.Request) error {
	instruction, ok := instructionFor[req.Method+" "+req.URL.Path]
	if !ok {
		return nil
	}

	params, err := requestParams(req)
	if err != nil {
		return err
	}

	timestamp := s.now().UnixMilli()
	message := canonicalString(instruction, params, timestamp, s.window)
	signature := ed25519.Sign(s.priv, []byte(message))

	req.Header.Set("X-API-Key", s.pubB64)
	req.Header.Set("X-Signature", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("X-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-Window", strconv.FormatInt(s.window, 10))
	req.Header.Set("Content-Type", "application/json")
	return nil
}

// requestParams flattens the query string or JSON body into signing pairs
func requestParams(req *http.Request) (map[string]string, error) {
	params := make(map[string]string)

	for k, vs := range req.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	if req.GetBody == nil {
		return params, nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return params, nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		// Bulk-order endpoints post an array; the signature covers the
		// first object.
		var list []map[string]interface{}
		if err2 := json.Unmarshal(body, &list); err2 != nil || len(list) == 0 {
			return nil, fmt.Errorf("backpack: unsignable body: %w", err)
		}
		fields = list[0]
	}
	for k, v := range fields {
		switch tv := v.(type) {
		case nil:
			// skipped
		case string:
			params[k] = tv
		case bool:
			params[k] = strconv.FormatBool(tv)
		case float64:
			params[k] = strconv.FormatFloat(tv, 'f', -1, 64)
		default:
			params[k] = fmt.Sprintf("%v", tv)
		}
	}
	return params, nil
}

func canonicalString(instruction string, params map[string]string, timestamp, window int64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("instruction=")
	sb.WriteString(instruction)
	for _, k := range keys {
		sb.WriteByte('&')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	fmt.Fprintf(&sb, "&timestamp=%d&window=%d", timestamp, window)
	return sb.String()
}

// New creates a Backpack adapter from config
func New(cfg *config.ExchangeConfig, logger core.ILogger) (*Exchange, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = defaultWSURL
	}

	sg, err := newSigner(cfg.Ed25519Seed.Reveal())
	if err != nil {
		return nil, err
	}

	e := &Exchange{
		BaseAdapter: base.NewBaseAdapter("backpack", cfg, baseURL, sg, logger),
		wsURL:       wsURL,
	}
	e.ParseError = e.parseError
	e.MapOrderStatus = mapOrderStatus

	return e, nil
}

// VenueSymbol converts any accepted spelling into BASE_USDC_PERP. Native
// input passes through unchanged.
func (e *Exchange) VenueSymbol(symbol string) string {
	s := strings.TrimSpace(symbol)
	if s == "" {
		return s
	}
	if strings.HasSuffix(strings.ToUpper(s), venueSuffix) {
		return strings.ToUpper(s)
	}
	baseAsset, quote := core.SplitSymbol(s)
	if quote == "" || quote == "PERP" || quote == "SWAP" {
		quote = defaultQuote
	}
	return baseAsset + "_" + quote + venueSuffix
}

func (e *Exchange) parseError(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return nil
	}
	switch errResp.Code {
	case "":
		return nil
	case "RESOURCE_NOT_FOUND":
		return fmt.Errorf("backpack: %w: %s", apperrors.ErrOrderNotFound, errResp.Message)
	case "INSUFFICIENT_FUNDS":
		return fmt.Errorf("backpack: %w: %s", apperrors.ErrInsufficientFunds, errResp.Message)
	case "INVALID_ORDER", "INVALID_QUANTITY", "INVALID_PRICE":
		return fmt.Errorf("backpack: %w: %s", apperrors.ErrInvalidOrderParameter, errResp.Message)
	case "INVALID_SIGNATURE", "UNAUTHORIZED", "INVALID_API_KEY":
		return fmt.Errorf("backpack: %w: %s", apperrors.ErrAuthenticationFailed, errResp.Message)
	case "INVALID_SYMBOL", "MARKET_NOT_FOUND":
		return fmt.Errorf("backpack: %w: %s", apperrors.ErrInvalidSymbol, errResp.Message)
	default:
		if statusCode >= 400 && statusCode < 500 {
			return fmt.Errorf("backpack: %w: %s (%s)", apperrors.ErrOrderRejected, errResp.Message, errResp.Code)
		}
		return nil
	}
}

func mapOrderStatus(raw string) core.OrderStatus {
	switch raw {
	case "New", "PartiallyFilled", "TriggerPending":
		return core.OrderStatusOpen
	case "Filled":
		return core.OrderStatusFilled
	case "Cancelled", "Expired":
		return core.OrderStatusCancelled
	default:
		return core.OrderStatusOpen
	}
}

type market struct {
	Symbol      string `json:"symbol"`
	BaseSymbol  string `json:"baseSymbol"`
	QuoteSymbol string `json:"quoteSymbol"`
	MarketType  string `json:"marketType"`
	Filters     struct {
		Price struct {
			TickSize string `json:"tickSize"`
		} `json:"price"`
		Quantity struct {
			MinQuantity string `json:"minQuantity"`
			StepSize    string `json:"stepSize"`
		} `json:"quantity"`
	} `json:"filters"`
}

func (e *Exchange) fetchMarkets(ctx context.Context) (map[string]*core.MarketInfo, error) {
	body, err := e.Get(ctx, "/api/v1/markets", nil)
	if err != nil {
		return nil, err
	}
	var rows []market
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("backpack: %w: decode markets: %w", apperrors.ErrExchangeUnreachable, err)
	}

	markets := make(map[string]*core.MarketInfo, len(rows))
	for _, m := range rows {
		if m.MarketType != "" && m.MarketType != "PERP" {
			continue
		}
		tick := e.ParseDecimal(m.Filters.Price.TickSize)
		step := e.ParseDecimal(m.Filters.Quantity.StepSize)
		markets[m.Symbol] = &core.MarketInfo{
			Symbol:            m.Symbol,
			BaseAsset:         m.BaseSymbol,
			QuoteAsset:        m.QuoteSymbol,
			PriceTick:         tick,
			LotSize:           step,
			MinNotional:       decimal.NewFromInt(minNotionalUSDC),
			PricePrecision:    -tick.Exponent(),
			QuantityPrecision: -step.Exponent(),
		}
	}
	return markets, nil
}

// GetMarkets returns trading rules through the hourly cache
func (e *Exchange) GetMarkets(ctx context.Context) (map[string]*core.MarketInfo, error) {
	return e.CachedMarkets(ctx, e.fetchMarkets)
}

// GetSymbolInfo resolves one symbol through the cache
func (e *Exchange) GetSymbolInfo(ctx context.Context, symbol string) (*core.MarketInfo, error) {
	return e.SymbolInfo(ctx, e.VenueSymbol(symbol), e.fetchMarkets)
}

// GetTicker returns the venue's last-trade summary
func (e *Exchange) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	venueSym := e.VenueSymbol(symbol)
	body, err := e.Get(ctx, "/api/v1/ticker", map[string]string{"symbol": venueSym})
	if err != nil {
		return nil, err
	}
	var raw struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		High      string `json:"high"`
		Low       string `json:"low"`
		Volume    string `json:"volume"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("backpack: %w: decode ticker: %w", apperrors.ErrExchangeUnreachable, err)
	}
	return &core.Ticker{
		Symbol:    raw.Symbol,
		LastPrice: e.ParseDecimal(raw.LastPrice),
		HighPrice: e.ParseDecimal(raw.High),
		LowPrice:  e.ParseDecimal(raw.Low),
		Volume:    e.ParseDecimal(raw.Volume),
		Timestamp: time.Now(),
	}, nil
}

// GetDepth returns an order-book snapshot. The venue sorts both sides
// ascending, so bids are reversed to best-first.
func (e *Exchange) GetDepth(ctx context.Context, symbol string, limit int) (*core.Depth, error) {
	venueSym := e.VenueSymbol(symbol)
	body, err := e.Get(ctx, "/api/v1/depth", map[string]string{"symbol": venueSym})
	if err != nil {
		return nil, err
	}
	var raw struct {
		Bids      [][]string `json:"bids"`
		Asks      [][]string `json:"asks"`
		Timestamp int64      `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("backpack: %w: decode depth: %w", apperrors.ErrExchangeUnreachable, err)
	}

	parseLevels := func(rows [][]string) []core.PriceLevel {
		out := make([]core.PriceLevel, 0, len(rows))
		for _, lvl := range rows {
			if len(lvl) < 2 {
				continue
			}
			out = append(out, core.PriceLevel{
				Price:    e.ParseDecimal(lvl[0]),
				Quantity: e.ParseDecimal(lvl[1]),
			})
		}
		return out
	}

	bids := parseLevels(raw.Bids)
	for i, j := 0, len(bids)-1; i < j; i, j = i+1, j-1 {
		bids[i], bids[j] = bids[j], bids[i]
	}
	asks := parseLevels(raw.Asks)

	if limit > 0 {
		if len(bids) > limit {
			bids = bids[:limit]
		}
		if len(asks) > limit {
			asks = asks[:limit]
		}
	}

	return &core.Depth{
		Symbol:    venueSym,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.UnixMicro(raw.Timestamp),
	}, nil
}

// parseIntervalDuration turns "15m"/"1h"/"1d" into a duration, defaulting
// to 15 minutes.
func parseIntervalDuration(interval string) time.Duration {
	if len(interval) < 2 {
		return 15 * time.Minute
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 15 * time.Minute
	}
	switch interval[len(interval)-1] {
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	default:
		return 15 * time.Minute
	}
}

type klineRow struct {
	Start  string `json:"start"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
	End    string `json:"end"`
}

// parseBarTime accepts the venue's datetime spelling or a millisecond epoch
func parseBarTime(s string) int64 {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return ts.UnixMilli()
	}
	return 0
}

// GetKlines returns bars ordered oldest to newest. The venue requires a
// start time, so a zero start is derived from the interval and limit.
func (e *Exchange) GetKlines(ctx context.Context, symbol, interval string, startMS, endMS int64, limit int) ([]core.Kline, error) {
	venueSym := e.VenueSymbol(symbol)
	if limit <= 0 {
		limit = 1000
	}
	if startMS == 0 {
		span := parseIntervalDuration(interval) * time.Duration(limit)
		startMS = time.Now().Add(-span).UnixMilli()
	}

	params := map[string]string{
		"symbol":    venueSym,
		"interval":  interval,
		"startTime": strconv.FormatInt(startMS/1000, 10),
	}
	if endMS > 0 {
		params["endTime"] = strconv.FormatInt(endMS/1000, 10)
	}

	body, err := e.Get(ctx, "/api/v1/klines", params)
	if err != nil {
		return nil, err
	}
	var rows []klineRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("backpack: %w: decode klines: %w", apperrors.ErrExchangeUnreachable, err)
	}

	now := time.Now().UnixMilli()
	step := parseIntervalDuration(interval).Milliseconds()
	klines := make([]core.Kline, 0, len(rows))
	for _, row := range rows {
		openMS := parseBarTime(row.Start)
		open, _ := strconv.ParseFloat(row.Open, 64)
		high, _ := strconv.ParseFloat(row.High, 64)
		low, _ := strconv.ParseFloat(row.Low, 64)
		closePx, _ := strconv.ParseFloat(row.Close, 64)
		volume, _ := strconv.ParseFloat(row.Volume, 64)
		klines = append(klines, core.Kline{
			OpenTime: openMS,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePx,
			Volume:   volume,
			Closed:   openMS+step <= now,
		})
	}
	sort.Slice(klines, func(i, j int) bool { return klines[i].OpenTime < klines[j].OpenTime })
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

// GetServerTime returns the venue clock in milliseconds. The endpoint
// responds with a bare number.
func (e *Exchange) GetServerTime(ctx context.Context) (int64, error) {
	body, err := e.Get(ctx, "/api/v1/time", nil)
	if err != nil {
		return 0, err
	}
	raw := strings.Trim(strings.TrimSpace(string(body)), `"`)
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("backpack: %w: parse time %q", apperrors.ErrExchangeUnreachable, raw)
	}
	return ms, nil
}

// GetBalances returns per-asset balances
func (e *Exchange) GetBalances(ctx context.Context) ([]core.Balance, error) {
	body, err := e.Get(ctx, "/api/v1/capital", nil)
	if err != nil {
		return nil, err
	}
	var raw map[string]struct {
		Available string `json:"available"`
		Locked    string `json:"locked"`
		Staked    string `json:"staked"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("backpack: %w: decode capital: %w", apperrors.ErrExchangeUnreachable, err)
	}

	assets := make([]string, 0, len(raw))
	for asset := range raw {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	balances := make([]core.Balance, 0, len(assets))
	for _, asset := range assets {
		b := raw[asset]
		balances = append(balances, core.Balance{
			Asset:     asset,
			Available: e.ParseDecimal(b.Available),
			Locked:    e.ParseDecimal(b.Locked).Add(e.ParseDecimal(b.Staked)),
		})
	}
	return balances, nil
}

// GetPositions returns open positions, all symbols when symbol is empty
func (e *Exchange) GetPositions(ctx context.Context, symbol string) ([]*core.Position, error) {
	body, err := e.Get(ctx, "/api/v1/position", nil)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Symbol        string `json:"symbol"`
		NetQuantity   string `json:"netQuantity"`
		EntryPrice    string `json:"entryPrice"`
		MarkPrice     string `json:"markPrice"`
		PnLUnrealized string `json:"pnlUnrealized"`
		PnLRealized   string `json:"pnlRealized"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("backpack: %w: decode positions: %w", apperrors.ErrExchangeUnreachable, err)
	}

	want := ""
	if symbol != "" {
		want = e.VenueSymbol(symbol)
	}

	positions := make([]*core.Position, 0, len(rows))
	for _, raw := range rows {
		if want != "" && raw.Symbol != want {
			continue
		}
		qty := e.ParseDecimal(raw.NetQuantity)
		if qty.IsZero() {
			continue
		}
		side := core.PositionSideLong
		if qty.IsNegative() {
			side = core.PositionSideShort
			qty = qty.Abs()
		}
		positions = append(positions, &core.Position{
			Symbol:        raw.Symbol,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    e.ParseDecimal(raw.EntryPrice),
			MarkPrice:     e.ParseDecimal(raw.MarkPrice),
			UnrealizedPnL: e.ParseDecimal(raw.PnLUnrealized),
			RealizedPnL:   e.ParseDecimal(raw.PnLRealized),
			UpdatedAt:     time.Now(),
		})
	}
	return positions, nil
}

type orderRow struct {
	ID               string `json:"id"`
	ClientID         int64  `json:"clientId"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	OrderType        string `json:"orderType"`
	Quantity         string `json:"quantity"`
	Price            string `json:"price"`
	ExecutedQuantity string `json:"executedQuantity"`
	ExecutedQuote    string `json:"executedQuoteQuantity"`
	Status           string `json:"status"`
	ReduceOnly       bool   `json:"reduceOnly"`
	CreatedAt        int64  `json:"createdAt"`
}

func (e *Exchange) orderFromRow(raw orderRow) *core.Order {
	side := core.OrderSideBuy
	if raw.Side == "Ask" {
		side = core.OrderSideSell
	}
	ordType := core.OrderTypeLimit
	if raw.OrderType == "Market" {
		ordType = core.OrderTypeMarket
	}

	filled := e.ParseDecimal(raw.ExecutedQuantity)
	avg := decimal.Zero
	if filled.IsPositive() {
		avg = e.ParseDecimal(raw.ExecutedQuote).Div(filled)
	}

	clientID := ""
	if raw.ClientID != 0 {
		clientID = strconv.FormatInt(raw.ClientID, 10)
	}

	return &core.Order{
		VenueOrderID:   raw.ID,
		ClientOrderID:  clientID,
		Symbol:         raw.Symbol,
		VenueSymbol:    raw.Symbol,
		Side:           side,
		Type:           ordType,
		Quantity:       e.ParseDecimal(raw.Quantity),
		Price:          e.ParseDecimal(raw.Price),
		ReduceOnly:     raw.ReduceOnly,
		Status:         e.SafeMapOrderStatus(raw.Status),
		FilledQuantity: filled,
		AvgFillPrice:   avg,
		CreatedAt:      e.ParseTimestamp(raw.CreatedAt),
		UpdatedAt:      time.Now(),
	}
}

// PlaceOrder submits one order
func (e *Exchange) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	venueSym := e.VenueSymbol(req.Symbol)

	side := "Bid"
	if req.Side == core.OrderSideSell {
		side = "Ask"
	}
	ordType := "Limit"
	if req.Type == core.OrderTypeMarket {
		ordType = "Market"
	}

	body := map[string]interface{}{
		"symbol":    venueSym,
		"side":      side,
		"orderType": ordType,
		"quantity":  req.Quantity.String(),
	}
	if ordType == "Limit" {
		body["price"] = req.Price.String()
	}
	switch req.Type {
	case core.OrderTypeIOC:
		body["timeInForce"] = "IOC"
	case core.OrderTypeFOK:
		body["timeInForce"] = "FOK"
	}
	if req.PostOnly {
		body["postOnly"] = true
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if req.ClientOrderID != "" {
		if cid, err := strconv.ParseInt(req.ClientOrderID, 10, 64); err == nil {
			body["clientId"] = cid
		}
	}

	respBody, err := e.Post(ctx, "/api/v1/order", body)
	if err != nil {
		return nil, err
	}
	var raw orderRow
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("backpack: %w: decode order: %w", apperrors.ErrExchangeUnreachable, err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("backpack: %w: order response missing id", apperrors.ErrOrderRejected)
	}

	order := e.orderFromRow(raw)
	order.Symbol = req.Symbol
	order.CreatedAt = time.Now()
	return order, nil
}

// GetOrder fetches one order. A venue-lost id returns a NOT_FOUND record,
// never an error.
func (e *Exchange) GetOrder(ctx context.Context, symbol, venueOrderID string) (*core.Order, error) {
	venueSym := e.VenueSymbol(symbol)
	params := map[string]string{"symbol": venueSym, "orderId": venueOrderID}

	body, err := e.Get(ctx, "/api/v1/order", params)
	if err != nil {
		if base.IsNotFound(err) {
			return &core.Order{
				VenueOrderID: venueOrderID,
				Symbol:       symbol,
				VenueSymbol:  venueSym,
				Status:       core.OrderStatusNotFound,
			}, nil
		}
		return nil, err
	}

	var raw orderRow
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("backpack: %w: decode order: %w", apperrors.ErrExchangeUnreachable, err)
	}
	order := e.orderFromRow(raw)
	order.Symbol = symbol
	return order, nil
}

// GetOpenOrders lists resting orders, all symbols when symbol is empty
func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = e.VenueSymbol(symbol)
	}
	body, err := e.Get(ctx, "/api/v1/orders", params)
	if err != nil {
		return nil, err
	}
	var rows []orderRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("backpack: %w: decode orders: %w", apperrors.ErrExchangeUnreachable, err)
	}
	orders := make([]*core.Order, 0, len(rows))
	for _, raw := range rows {
		orders = append(orders, e.orderFromRow(raw))
	}
	return orders, nil
}

// CancelOrder cancels one order; an already-gone order is not an error
func (e *Exchange) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	body := map[string]interface{}{
		"symbol":  e.VenueSymbol(symbol),
		"orderId": venueOrderID,
	}
	_, err := e.DeleteJSON(ctx, "/api/v1/order", body)
	if err != nil && base.IsNotFound(err) {
		return nil
	}
	return err
}

// CancelAllOrders cancels every resting order on a symbol
func (e *Exchange) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]interface{}{
		"symbol": e.VenueSymbol(symbol),
	}
	_, err := e.DeleteJSON(ctx, "/api/v1/orders", body)
	if err != nil && base.IsNotFound(err) {
		return nil
	}
	return err
}

// StartKlineStream subscribes kline.<interval>.<symbol> streams
func (e *Exchange) StartKlineStream(ctx context.Context, symbols []string, interval string, handler core.KlineHandler) error {
	e.klineMu.Lock()
	e.klineHandler = handler
	e.klineMu.Unlock()

	return e.StartWebSocketStream(e.wsURL, e.handleStreamMessage, func(client *websocket.Client) {
		streams := make([]string, len(symbols))
		for i, s := range symbols {
			streams[i] = "kline." + interval + "." + e.VenueSymbol(s)
		}
		if err := client.Send(map[string]interface{}{"method": "SUBSCRIBE", "params": streams}); err != nil {
			e.Logger.Error("failed to send kline subscription", "error", err)
		}
	})
}

func (e *Exchange) handleStreamMessage(message []byte) {
	var event struct {
		Stream string `json:"stream"`
		Data   struct {
			Symbol string `json:"s"`
			Start  string `json:"t"`
			Open   string `json:"o"`
			High   string `json:"h"`
			Low    string `json:"l"`
			Close  string `json:"c"`
			Volume string `json:"v"`
			Closed bool   `json:"X"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &event); err != nil {
		return
	}
	if !strings.HasPrefix(event.Stream, "kline.") {
		return
	}

	e.klineMu.Lock()
	handler := e.klineHandler
	e.klineMu.Unlock()
	if handler == nil {
		return
	}

	symbol := event.Data.Symbol
	if symbol == "" {
		// The stream name carries the symbol as its last segment
		parts := strings.Split(event.Stream, ".")
		symbol = parts[len(parts)-1]
	}

	open, _ := strconv.ParseFloat(event.Data.Open, 64)
	high, _ := strconv.ParseFloat(event.Data.High, 64)
	low, _ := strconv.ParseFloat(event.Data.Low, 64)
	closePx, _ := strconv.ParseFloat(event.Data.Close, 64)
	volume, _ := strconv.ParseFloat(event.Data.Volume, 64)

	handler(symbol, core.Kline{
		OpenTime: parseBarTime(event.Data.Start),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePx,
		Volume:   volume,
		Closed:   event.Data.Closed,
	})
}

// StopKlineStream closes the stream WebSocket
func (e *Exchange) StopKlineStream() error {
	e.klineMu.Lock()
	e.klineHandler = nil
	e.klineMu.Unlock()
	return e.StopWebSocketStream()
}

// Close releases sockets and the HTTP session
func (e *Exchange) Close() error {
	_ = e.StopKlineStream()
	e.CloseREST()
	return nil
}
