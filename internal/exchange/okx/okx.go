// Package okx implements the OKX perpetual-swap adapter
package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
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
	defaultBaseURL    = "https://www.okx.com"
	defaultBusinessWS = "wss://ws.okx.com:8443/ws/v5/business"

	defaultQuote = "USDT"
	venueSuffix  = "-SWAP"
)

// Exchange implements core.IExchange for OKX USDT-margined swaps
type Exchange struct {
	*base.BaseAdapter

	wsURL string

	// Contract sizes per instrument: order sizes on OKX swaps are in
	// contracts, not base units.
	ctMu   sync.RWMutex
	ctVals map[string]decimal.Decimal

	klineMu      sync.Mutex
	klineHandler core.KlineHandler
}

type signer struct {
	apiKey     string
	secretKey  string
	passphrase string
}

// SignRequest adds the OK-ACCESS-* authentication headers. The preimage is
// iso8601 timestamp + METHOD + path with sorted query + compact JSON body.
func (s *signer) SignRequest(req *http.Request) error {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	var body []byte
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return err
		}
		body, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
	}

	message := timestamp + req.Method + path + string(body)
	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(message))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("OK-ACCESS-KEY", s.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", signature)
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", s.passphrase)
	req.Header.Set("Content-Type", "application/json")
	return nil
}

// New creates an OKX adapter from config
func New(cfg *config.ExchangeConfig, logger core.ILogger) (*Exchange, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = defaultBusinessWS
	}

	sg := &signer{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey.Reveal(),
		passphrase: cfg.Passphrase.Reveal(),
	}

	e := &Exchange{
		BaseAdapter: base.NewBaseAdapter("okx", cfg, baseURL, sg, logger),
		wsURL:       wsURL,
		ctVals:      make(map[string]decimal.Decimal),
	}
	e.ParseError = e.parseError
	e.MapOrderStatus = mapOrderStatus

	return e, nil
}

// VenueSymbol converts any accepted spelling into the venue's
// BASE-QUOTE-SWAP instrument ID. Unqualified and _PERP spellings map to the
// USDT-margined swap; an explicit quote is kept, since OKX lists its
// USDC-margined swaps under the same scheme (ETH-USDC-SWAP). Native input
// passes through unchanged.
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
	return baseAsset + "-" + quote + venueSuffix
}

func (e *Exchange) parseError(statusCode int, body []byte) error {
	var errResp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return nil
	}
	return mapVenueCode(errResp.Code, errResp.Msg)
}

// mapVenueCode maps OKX error codes onto the sentinel taxonomy.
// https://www.okx.com/docs-v5/en/#error-code-details
func mapVenueCode(code, msg string) error {
	switch code {
	case "", "0":
		return nil
	case "50004", "50011", "50027":
		return fmt.Errorf("okx: %w: %s", apperrors.ErrInvalidOrderParameter, msg)
	case "50005", "50013":
		return fmt.Errorf("okx: %w: %s", apperrors.ErrAuthenticationFailed, msg)
	case "50014":
		return fmt.Errorf("okx: %w", apperrors.ErrRateLimitExceeded)
	case "51000":
		return fmt.Errorf("okx: %w: %s", apperrors.ErrInsufficientFunds, msg)
	case "51401", "51603":
		return fmt.Errorf("okx: %w: %s", apperrors.ErrOrderNotFound, msg)
	case "51020":
		return fmt.Errorf("okx: %w: %s", apperrors.ErrOrderRejected, msg)
	case "50001":
		return fmt.Errorf("okx: %w: %s", apperrors.ErrSystemOverload, msg)
	default:
		return fmt.Errorf("okx: %w: %s (%s)", apperrors.ErrOrderRejected, msg, code)
	}
}

func mapOrderStatus(raw string) core.OrderStatus {
	switch raw {
	case "live", "partially_filled":
		return core.OrderStatusOpen
	case "filled":
		return core.OrderStatusFilled
	case "canceled", "mmp_canceled":
		return core.OrderStatusCancelled
	default:
		return core.OrderStatusOpen
	}
}

// envelope is the common {code, msg, data} wrapper of /api/v5 responses
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e *Exchange) call(ctx context.Context, method, path string, params map[string]string, payload interface{}, out interface{}) error {
	var body []byte
	var err error
	switch method {
	case http.MethodGet:
		body, err = e.Get(ctx, path, params)
	case http.MethodPost:
		body, err = e.Post(ctx, path, payload)
	default:
		return fmt.Errorf("okx: unsupported method %s", method)
	}
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("okx: %w: decode: %w", apperrors.ErrExchangeUnreachable, err)
	}
	if env.Code != "0" {
		return mapVenueCode(env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("okx: %w: decode data: %w", apperrors.ErrExchangeUnreachable, err)
		}
	}
	return nil
}

type instrument struct {
	InstID string `json:"instId"`
	CtVal  string `json:"ctVal"`
	Uly    string `json:"uly"`
	TickSz string `json:"tickSz"`
	LotSz  string `json:"lotSz"`
	MinSz  string `json:"minSz"`
	State  string `json:"state"`
}

func (e *Exchange) fetchMarkets(ctx context.Context) (map[string]*core.MarketInfo, error) {
	var instruments []instrument
	if err := e.call(ctx, http.MethodGet, "/api/v5/public/instruments", map[string]string{"instType": "SWAP"}, nil, &instruments); err != nil {
		return nil, err
	}

	markets := make(map[string]*core.MarketInfo, len(instruments))
	ctVals := make(map[string]decimal.Decimal, len(instruments))
	for _, inst := range instruments {
		if inst.State != "" && inst.State != "live" {
			continue
		}
		tickSz := e.ParseDecimal(inst.TickSz)
		lotSz := e.ParseDecimal(inst.LotSz)
		minSz := e.ParseDecimal(inst.MinSz)
		ctVal := e.ParseDecimal(inst.CtVal)

		baseAsset, quoteAsset := core.SplitSymbol(inst.Uly)
		if baseAsset == "" {
			baseAsset, quoteAsset = core.SplitSymbol(inst.InstID)
		}

		markets[inst.InstID] = &core.MarketInfo{
			Symbol:            inst.InstID,
			BaseAsset:         baseAsset,
			QuoteAsset:        quoteAsset,
			PriceTick:         tickSz,
			LotSize:           lotSz.Mul(ctVal), // base units per order-size step
			MinNotional:       minSz.Mul(ctVal),
			PricePrecision:    -tickSz.Exponent(),
			QuantityPrecision: -lotSz.Exponent(),
		}
		ctVals[inst.InstID] = ctVal
	}

	e.ctMu.Lock()
	e.ctVals = ctVals
	e.ctMu.Unlock()

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

// contractValue returns the base-unit value of one contract, defaulting to 1
func (e *Exchange) contractValue(ctx context.Context, symbol string) decimal.Decimal {
	e.ctMu.RLock()
	ct, ok := e.ctVals[symbol]
	e.ctMu.RUnlock()
	if ok && ct.IsPositive() {
		return ct
	}
	// Populate the cache as a side effect
	if _, err := e.GetMarkets(ctx); err == nil {
		e.ctMu.RLock()
		ct, ok = e.ctVals[symbol]
		e.ctMu.RUnlock()
		if ok && ct.IsPositive() {
			return ct
		}
	}
	return decimal.NewFromInt(1)
}

// GetTicker returns the venue's last-trade summary
func (e *Exchange) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	venueSym := e.VenueSymbol(symbol)
	var data []struct {
		InstID  string `json:"instId"`
		Last    string `json:"last"`
		High24h string `json:"high24h"`
		Low24h  string `json:"low24h"`
		Vol24h  string `json:"vol24h"`
		TS      string `json:"ts"`
	}
	if err := e.call(ctx, http.MethodGet, "/api/v5/market/ticker", map[string]string{"instId": venueSym}, nil, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("okx: %w: no ticker for %s", apperrors.ErrInvalidSymbol, venueSym)
	}

	raw := data[0]
	ts, _ := strconv.ParseInt(raw.TS, 10, 64)
	return &core.Ticker{
		Symbol:    raw.InstID,
		LastPrice: e.ParseDecimal(raw.Last),
		HighPrice: e.ParseDecimal(raw.High24h),
		LowPrice:  e.ParseDecimal(raw.Low24h),
		Volume:    e.ParseDecimal(raw.Vol24h),
		Timestamp: e.ParseTimestamp(ts),
	}, nil
}

// GetDepth returns an order-book snapshot
func (e *Exchange) GetDepth(ctx context.Context, symbol string, limit int) (*core.Depth, error) {
	venueSym := e.VenueSymbol(symbol)
	if limit <= 0 {
		limit = 20
	}
	var data []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		TS   string     `json:"ts"`
	}
	params := map[string]string{"instId": venueSym, "sz": strconv.Itoa(limit)}
	if err := e.call(ctx, http.MethodGet, "/api/v5/market/books", params, nil, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("okx: %w: no depth for %s", apperrors.ErrInvalidSymbol, venueSym)
	}

	parseLevels := func(raw [][]string) []core.PriceLevel {
		out := make([]core.PriceLevel, 0, len(raw))
		for _, lvl := range raw {
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

	ts, _ := strconv.ParseInt(data[0].TS, 10, 64)
	return &core.Depth{
		Symbol:    venueSym,
		Bids:      parseLevels(data[0].Bids),
		Asks:      parseLevels(data[0].Asks),
		Timestamp: e.ParseTimestamp(ts),
	}, nil
}

// barName maps an interval to OKX's bar parameter: minutes stay lowercase,
// hours and above are uppercase.
func barName(interval string) string {
	if strings.HasSuffix(interval, "m") {
		return interval
	}
	return strings.ToUpper(interval)
}

// GetKlines returns bars ordered oldest to newest
func (e *Exchange) GetKlines(ctx context.Context, symbol, interval string, startMS, endMS int64, limit int) ([]core.Kline, error) {
	venueSym := e.VenueSymbol(symbol)
	if limit <= 0 || limit > 300 {
		limit = 300
	}
	params := map[string]string{
		"instId": venueSym,
		"bar":    barName(interval),
		"limit":  strconv.Itoa(limit),
	}
	if endMS > 0 {
		params["after"] = strconv.FormatInt(endMS, 10)
	}
	if startMS > 0 {
		params["before"] = strconv.FormatInt(startMS-1, 10)
	}

	var rows [][]string
	if err := e.call(ctx, http.MethodGet, "/api/v5/market/candles", params, nil, &rows); err != nil {
		return nil, err
	}

	// OKX returns newest first
	klines := make([]core.Kline, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		openMS, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		closePx, _ := strconv.ParseFloat(row[4], 64)
		volume, _ := strconv.ParseFloat(row[5], 64)
		closed := len(row) > 8 && row[8] == "1"
		klines = append(klines, core.Kline{
			OpenTime: openMS,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePx,
			Volume:   volume,
			Closed:   closed,
		})
	}
	return klines, nil
}

// GetServerTime returns the venue clock in milliseconds
func (e *Exchange) GetServerTime(ctx context.Context) (int64, error) {
	var data []struct {
		TS string `json:"ts"`
	}
	if err := e.call(ctx, http.MethodGet, "/api/v5/public/time", nil, nil, &data); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("okx: %w: empty time response", apperrors.ErrExchangeUnreachable)
	}
	return strconv.ParseInt(data[0].TS, 10, 64)
}

// GetBalances returns per-asset balances
func (e *Exchange) GetBalances(ctx context.Context) ([]core.Balance, error) {
	var data []struct {
		Details []struct {
			Ccy       string `json:"ccy"`
			AvailEq   string `json:"availEq"`
			FrozenBal string `json:"frozenBal"`
		} `json:"details"`
	}
	if err := e.call(ctx, http.MethodGet, "/api/v5/account/balance", nil, nil, &data); err != nil {
		return nil, err
	}

	var balances []core.Balance
	for _, acct := range data {
		for _, d := range acct.Details {
			balances = append(balances, core.Balance{
				Asset:     d.Ccy,
				Available: e.ParseDecimal(d.AvailEq),
				Locked:    e.ParseDecimal(d.FrozenBal),
			})
		}
	}
	return balances, nil
}

// GetPositions returns open positions, all symbols when symbol is empty
func (e *Exchange) GetPositions(ctx context.Context, symbol string) ([]*core.Position, error) {
	params := map[string]string{"instType": "SWAP"}
	if symbol != "" {
		params["instId"] = e.VenueSymbol(symbol)
	}
	var data []struct {
		InstID      string `json:"instId"`
		Pos         string `json:"pos"`
		AvgPx       string `json:"avgPx"`
		MarkPx      string `json:"markPx"`
		Upl         string `json:"upl"`
		RealizedPnl string `json:"realizedPnl"`
		CTime       string `json:"cTime"`
		UTime       string `json:"uTime"`
	}
	if err := e.call(ctx, http.MethodGet, "/api/v5/account/positions", params, nil, &data); err != nil {
		return nil, err
	}

	positions := make([]*core.Position, 0, len(data))
	for _, raw := range data {
		contracts := e.ParseDecimal(raw.Pos)
		if contracts.IsZero() {
			continue
		}
		side := core.PositionSideLong
		if contracts.IsNegative() {
			side = core.PositionSideShort
			contracts = contracts.Abs()
		}
		qty := contracts.Mul(e.contractValue(ctx, raw.InstID))

		cts, _ := strconv.ParseInt(raw.CTime, 10, 64)
		uts, _ := strconv.ParseInt(raw.UTime, 10, 64)
		positions = append(positions, &core.Position{
			Symbol:        raw.InstID,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    e.ParseDecimal(raw.AvgPx),
			MarkPrice:     e.ParseDecimal(raw.MarkPx),
			UnrealizedPnL: e.ParseDecimal(raw.Upl),
			RealizedPnL:   e.ParseDecimal(raw.RealizedPnl),
			CreatedAt:     e.ParseTimestamp(cts),
			UpdatedAt:     e.ParseTimestamp(uts),
		})
	}
	return positions, nil
}

// PlaceOrder submits one order. Quantities arrive in base units and are
// mapped to contracts.
func (e *Exchange) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	venueSym := e.VenueSymbol(req.Symbol)

	side := "buy"
	if req.Side == core.OrderSideSell {
		side = "sell"
	}
	ordType := "limit"
	switch req.Type {
	case core.OrderTypeMarket:
		ordType = "market"
	case core.OrderTypeIOC:
		ordType = "ioc"
	case core.OrderTypeFOK:
		ordType = "fok"
	}
	if req.PostOnly {
		ordType = "post_only"
	}

	ct := e.contractValue(ctx, venueSym)
	contracts := req.Quantity.Div(ct)

	body := map[string]interface{}{
		"instId":  venueSym,
		"tdMode":  "cross",
		"side":    side,
		"ordType": ordType,
		"sz":      contracts.String(),
	}
	if ordType != "market" {
		body["px"] = req.Price.String()
	}
	if req.ClientOrderID != "" {
		body["clOrdId"] = req.ClientOrderID
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	var data []struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := e.call(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("okx: %w: empty order response", apperrors.ErrOrderRejected)
	}
	if data[0].SCode != "0" {
		if err := mapVenueCode(data[0].SCode, data[0].SMsg); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("okx: %w: %s", apperrors.ErrOrderRejected, data[0].SMsg)
	}

	now := time.Now()
	return &core.Order{
		VenueOrderID:  data[0].OrdID,
		ClientOrderID: data[0].ClOrdID,
		Symbol:        req.Symbol,
		VenueSymbol:   venueSym,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		ReduceOnly:    req.ReduceOnly,
		Status:        core.OrderStatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

type orderRow struct {
	InstID     string `json:"instId"`
	OrdID      string `json:"ordId"`
	ClOrdID    string `json:"clOrdId"`
	Px         string `json:"px"`
	Sz         string `json:"sz"`
	Side       string `json:"side"`
	OrdType    string `json:"ordType"`
	State      string `json:"state"`
	AccFillSz  string `json:"accFillSz"`
	AvgPx      string `json:"avgPx"`
	Fee        string `json:"fee"`
	FeeCcy     string `json:"feeCcy"`
	ReduceOnly string `json:"reduceOnly"`
	CTime      string `json:"cTime"`
	UTime      string `json:"uTime"`
}

func (e *Exchange) orderFromRow(ctx context.Context, raw orderRow) *core.Order {
	ct := e.contractValue(ctx, raw.InstID)

	side := core.OrderSideBuy
	if raw.Side == "sell" {
		side = core.OrderSideSell
	}
	ordType := core.OrderTypeLimit
	if raw.OrdType == "market" {
		ordType = core.OrderTypeMarket
	}

	cts, _ := strconv.ParseInt(raw.CTime, 10, 64)
	uts, _ := strconv.ParseInt(raw.UTime, 10, 64)

	return &core.Order{
		VenueOrderID:    raw.OrdID,
		ClientOrderID:   raw.ClOrdID,
		Symbol:          raw.InstID,
		VenueSymbol:     raw.InstID,
		Side:            side,
		Type:            ordType,
		Quantity:        e.ParseDecimal(raw.Sz).Mul(ct),
		Price:           e.ParseDecimal(raw.Px),
		ReduceOnly:      raw.ReduceOnly == "true",
		Status:          e.SafeMapOrderStatus(raw.State),
		FilledQuantity:  e.ParseDecimal(raw.AccFillSz).Mul(ct),
		AvgFillPrice:    e.ParseDecimal(raw.AvgPx),
		Commission:      e.ParseDecimal(raw.Fee).Abs(),
		CommissionAsset: raw.FeeCcy,
		CreatedAt:       e.ParseTimestamp(cts),
		UpdatedAt:       e.ParseTimestamp(uts),
	}
}

// GetOrder fetches one order. A venue-lost id returns a NOT_FOUND record,
// never an error.
func (e *Exchange) GetOrder(ctx context.Context, symbol, venueOrderID string) (*core.Order, error) {
	venueSym := e.VenueSymbol(symbol)
	params := map[string]string{"instId": venueSym, "ordId": venueOrderID}

	var data []orderRow
	err := e.call(ctx, http.MethodGet, "/api/v5/trade/order", params, nil, &data)
	if err != nil {
		if errors.Is(err, apperrors.ErrOrderNotFound) || base.IsNotFound(err) {
			return &core.Order{
				VenueOrderID: venueOrderID,
				Symbol:       symbol,
				VenueSymbol:  venueSym,
				Status:       core.OrderStatusNotFound,
			}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return &core.Order{
			VenueOrderID: venueOrderID,
			Symbol:       symbol,
			VenueSymbol:  venueSym,
			Status:       core.OrderStatusNotFound,
		}, nil
	}
	return e.orderFromRow(ctx, data[0]), nil
}

// GetOpenOrders lists pending orders, all symbols when symbol is empty
func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	params := map[string]string{"instType": "SWAP"}
	if symbol != "" {
		params["instId"] = e.VenueSymbol(symbol)
	}

	var data []orderRow
	if err := e.call(ctx, http.MethodGet, "/api/v5/trade/orders-pending", params, nil, &data); err != nil {
		return nil, err
	}

	orders := make([]*core.Order, 0, len(data))
	for _, raw := range data {
		orders = append(orders, e.orderFromRow(ctx, raw))
	}
	return orders, nil
}

// CancelOrder cancels one order; an already-gone order is not an error
func (e *Exchange) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	body := map[string]interface{}{
		"instId": e.VenueSymbol(symbol),
		"ordId":  venueOrderID,
	}

	var data []struct {
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := e.call(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, &data); err != nil {
		if errors.Is(err, apperrors.ErrOrderNotFound) {
			return nil
		}
		return err
	}
	if len(data) > 0 && data[0].SCode != "0" {
		err := mapVenueCode(data[0].SCode, data[0].SMsg)
		if errors.Is(err, apperrors.ErrOrderNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// CancelAllOrders enumerates pending orders and cancels them in batches of 20
func (e *Exchange) CancelAllOrders(ctx context.Context, symbol string) error {
	orders, err := e.GetOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	const batch = 20
	for i := 0; i < len(orders); i += batch {
		end := i + batch
		if end > len(orders) {
			end = len(orders)
		}
		var reqs []map[string]interface{}
		for _, o := range orders[i:end] {
			reqs = append(reqs, map[string]interface{}{
				"instId": o.VenueSymbol,
				"ordId":  o.VenueOrderID,
			})
		}

		var data []struct {
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		}
		if err := e.call(ctx, http.MethodPost, "/api/v5/trade/cancel-batch-orders", nil, reqs, &data); err != nil {
			return err
		}
		for _, d := range data {
			if d.SCode != "0" && d.SCode != "51401" {
				e.Logger.Warn("batch cancel item failed", "code", d.SCode, "msg", d.SMsg)
			}
		}
	}
	return nil
}

// StartKlineStream subscribes candle channels on the business WebSocket
func (e *Exchange) StartKlineStream(ctx context.Context, symbols []string, interval string, handler core.KlineHandler) error {
	e.klineMu.Lock()
	e.klineHandler = handler
	e.klineMu.Unlock()

	channel := "candle" + barName(interval)

	return e.StartWebSocketStream(e.wsURL, e.handleKlineMessage, func(client *websocket.Client) {
		args := make([]map[string]string, len(symbols))
		for i, s := range symbols {
			args[i] = map[string]string{
				"channel": channel,
				"instId":  e.VenueSymbol(s),
			}
		}
		if err := client.Send(map[string]interface{}{"op": "subscribe", "args": args}); err != nil {
			e.Logger.Error("failed to send candle subscription", "error", err)
		}
	})
}

func (e *Exchange) handleKlineMessage(message []byte) {
	var event struct {
		Arg struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
		Data [][]string `json:"data"`
	}
	if err := json.Unmarshal(message, &event); err != nil {
		return
	}
	if !strings.HasPrefix(event.Arg.Channel, "candle") {
		return
	}

	e.klineMu.Lock()
	handler := e.klineHandler
	e.klineMu.Unlock()
	if handler == nil {
		return
	}

	for _, row := range event.Data {
		if len(row) < 6 {
			continue
		}
		openMS, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		closePx, _ := strconv.ParseFloat(row[4], 64)
		volume, _ := strconv.ParseFloat(row[5], 64)
		closed := len(row) > 8 && row[8] == "1"

		handler(event.Arg.InstID, core.Kline{
			OpenTime: openMS,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePx,
			Volume:   volume,
			Closed:   closed,
		})
	}
}

// StopKlineStream closes the candle WebSocket
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
