// Package hyperliquid implements the Hyperliquid perpetuals adapter.
//
// Every read goes through POST /info; writes go through POST /exchange with
// an action signed by the agent scheme: the msgpack-encoded action plus the
// nonce (and vault flag) are keccak-hashed into a connectionId, which is
// signed as EIP-712 typed data.
package hyperliquid

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
	"perp_trader/internal/exchange/base"
	apperrors "perp_trader/pkg/errors"
	"perp_trader/pkg/websocket"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultBaseURL = "https://api.hyperliquid.xyz"
	defaultWSURL   = "wss://api.hyperliquid.xyz/ws"

	// signingChainID is fixed by the venue regardless of network
	signingChainID = 1337

	sourceMainnet = "a"
	sourceTestnet = "b"
)

// Exchange implements core.IExchange for Hyperliquid perps
type Exchange struct {
	*base.BaseAdapter

	wsURL   string
	signer  *signer
	address string

	// asset ids and size decimals by coin, filled from the meta universe
	assetMu sync.RWMutex
	assets  map[string]assetInfo

	lastNonce atomic.Int64

	klineMu      sync.Mutex
	klineHandler core.KlineHandler
}

type assetInfo struct {
	id         int
	szDecimals int
}

type signer struct {
	priv   *ecdsa.PrivateKey
	source string
}

type wireSignature struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// connectionID hashes msgpack(action) || nonce (8-byte BE) || 0x00 (no vault)
func connectionID(action interface{}, nonce uint64) ([]byte, error) {
	packed, err := msgpack.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: pack action: %w", err)
	}
	data := make([]byte, 0, len(packed)+9)
	data = append(data, packed...)
	var nonceBE [8]byte
	binary.BigEndian.PutUint64(nonceBE[:], nonce)
	data = append(data, nonceBE[:]...)
	data = append(data, 0x00)
	return crypto.Keccak256(data), nil
}

// signAction signs the agent struct over the fixed 1337 signing domain
func (s *signer) signAction(action interface{}, nonce uint64) (*wireSignature, error) {
	connID, err := connectionID(action, nonce)
	if err != nil {
		return nil, err
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           (*ethmath.HexOrDecimal256)(big.NewInt(signingChainID)),
			VerifyingContract: "0x0000000000000000000000000000000000000000",
		},
		Message: apitypes.TypedDataMessage{
			"source":       s.source,
			"connectionId": hexutil.Encode(connID),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: typed data hash: %w", err)
	}
	sig, err := crypto.Sign(hash, s.priv)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: sign action: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return &wireSignature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: sig[64],
	}, nil
}

// New creates a Hyperliquid adapter from config
func New(cfg *config.ExchangeConfig, logger core.ILogger) (*Exchange, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = defaultWSURL
	}

	keyHex := strings.TrimPrefix(cfg.PrivateKey.Reveal(), "0x")
	priv, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: parse private key: %w", err)
	}
	source := sourceMainnet
	if cfg.Testnet {
		source = sourceTestnet
	}

	e := &Exchange{
		BaseAdapter: base.NewBaseAdapter("hyperliquid", cfg, baseURL, nil, logger),
		wsURL:       wsURL,
		signer:      &signer{priv: priv, source: source},
		address:     crypto.PubkeyToAddress(priv.PublicKey).Hex(),
		assets:      make(map[string]assetInfo),
	}
	e.MapOrderStatus = mapOrderStatus
	return e, nil
}

// VenueSymbol reduces any accepted spelling to the bare coin name
func (e *Exchange) VenueSymbol(symbol string) string {
	s := strings.TrimSpace(symbol)
	if s == "" {
		return s
	}
	baseAsset, _ := core.SplitSymbol(s)
	return baseAsset
}

func mapOrderStatus(raw string) core.OrderStatus {
	switch raw {
	case "open", "triggered":
		return core.OrderStatusOpen
	case "filled":
		return core.OrderStatusFilled
	case "canceled", "marginCanceled":
		return core.OrderStatusCancelled
	case "rejected":
		return core.OrderStatusRejected
	default:
		return core.OrderStatusOpen
	}
}

// info posts one /info query and decodes the response
func (e *Exchange) info(ctx context.Context, payload interface{}, out interface{}) error {
	body, err := e.Post(ctx, "/info", payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("hyperliquid: %w: decode info: %w", apperrors.ErrExchangeUnreachable, err)
	}
	return nil
}

// nextNonce returns a strictly increasing millisecond nonce
func (e *Exchange) nextNonce() uint64 {
	for {
		now := time.Now().UnixMilli()
		last := e.lastNonce.Load()
		if now <= last {
			now = last + 1
		}
		if e.lastNonce.CompareAndSwap(last, now) {
			return uint64(now)
		}
	}
}

// exchangeAction signs and posts one /exchange action
func (e *Exchange) exchangeAction(ctx context.Context, action interface{}, out interface{}) error {
	nonce := e.nextNonce()
	sig, err := e.signer.signAction(action, nonce)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"action":       action,
		"nonce":        nonce,
		"signature":    sig,
		"vaultAddress": nil,
	}
	body, err := e.Post(ctx, "/exchange", payload)
	if err != nil {
		return err
	}

	var status struct {
		Status   string          `json:"status"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("hyperliquid: %w: decode response: %w", apperrors.ErrExchangeUnreachable, err)
	}
	if status.Status != "ok" {
		return fmt.Errorf("hyperliquid: %w: %s", apperrors.ErrOrderRejected, status.Status)
	}
	if out != nil && len(status.Response) > 0 {
		if err := json.Unmarshal(status.Response, out); err != nil {
			return fmt.Errorf("hyperliquid: %w: decode response: %w", apperrors.ErrExchangeUnreachable, err)
		}
	}
	return nil
}

type metaUniverse struct {
	Universe []struct {
		Name       string `json:"name"`
		SzDecimals int    `json:"szDecimals"`
		IsDelisted bool   `json:"isDelisted"`
	} `json:"universe"`
}

func (e *Exchange) fetchMarkets(ctx context.Context) (map[string]*core.MarketInfo, error) {
	var meta metaUniverse
	if err := e.info(ctx, map[string]string{"type": "meta"}, &meta); err != nil {
		return nil, err
	}

	markets := make(map[string]*core.MarketInfo, len(meta.Universe))
	assets := make(map[string]assetInfo, len(meta.Universe))
	for i, u := range meta.Universe {
		if u.IsDelisted {
			continue
		}
		szDec := int32(u.SzDecimals)
		// Perp prices allow up to 6-szDecimals decimal places
		pxDec := int32(6) - szDec
		if pxDec < 0 {
			pxDec = 0
		}
		markets[u.Name] = &core.MarketInfo{
			Symbol:            u.Name,
			BaseAsset:         u.Name,
			QuoteAsset:        "USD",
			LotSize:           decimal.New(1, -szDec),
			PriceTick:         decimal.New(1, -pxDec),
			MinNotional:       decimal.NewFromInt(10),
			PricePrecision:    pxDec,
			QuantityPrecision: szDec,
		}
		assets[u.Name] = assetInfo{id: i, szDecimals: u.SzDecimals}
	}

	e.assetMu.Lock()
	e.assets = assets
	e.assetMu.Unlock()
	return markets, nil
}

// GetMarkets returns trading rules through the hourly cache
func (e *Exchange) GetMarkets(ctx context.Context) (map[string]*core.MarketInfo, error) {
	return e.CachedMarkets(ctx, e.fetchMarkets)
}

// GetSymbolInfo resolves one coin through the cache
func (e *Exchange) GetSymbolInfo(ctx context.Context, symbol string) (*core.MarketInfo, error) {
	return e.SymbolInfo(ctx, e.VenueSymbol(symbol), e.fetchMarkets)
}

// asset resolves a coin to its universe index, refreshing the meta once
func (e *Exchange) asset(ctx context.Context, coin string) (assetInfo, error) {
	e.assetMu.RLock()
	info, ok := e.assets[coin]
	e.assetMu.RUnlock()
	if ok {
		return info, nil
	}
	if _, err := e.GetMarkets(ctx); err != nil {
		return assetInfo{}, err
	}
	e.assetMu.RLock()
	info, ok = e.assets[coin]
	e.assetMu.RUnlock()
	if !ok {
		return assetInfo{}, fmt.Errorf("hyperliquid: %w: %s", apperrors.ErrInvalidSymbol, coin)
	}
	return info, nil
}

// GetTicker returns the mid price; the venue's mids feed carries no range data
func (e *Exchange) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	coin := e.VenueSymbol(symbol)
	var mids map[string]string
	if err := e.info(ctx, map[string]string{"type": "allMids"}, &mids); err != nil {
		return nil, err
	}
	mid, ok := mids[coin]
	if !ok {
		return nil, fmt.Errorf("hyperliquid: %w: no mid for %s", apperrors.ErrInvalidSymbol, coin)
	}
	return &core.Ticker{
		Symbol:    coin,
		LastPrice: e.ParseDecimal(mid),
		Timestamp: time.Now(),
	}, nil
}

// GetDepth returns an order-book snapshot
func (e *Exchange) GetDepth(ctx context.Context, symbol string, limit int) (*core.Depth, error) {
	coin := e.VenueSymbol(symbol)
	var book struct {
		Levels [][]struct {
			Px string `json:"px"`
			Sz string `json:"sz"`
		} `json:"levels"`
		Time int64 `json:"time"`
	}
	if err := e.info(ctx, map[string]string{"type": "l2Book", "coin": coin}, &book); err != nil {
		return nil, err
	}
	if len(book.Levels) < 2 {
		return nil, fmt.Errorf("hyperliquid: %w: malformed book for %s", apperrors.ErrExchangeUnreachable, coin)
	}

	parse := func(rows []struct {
		Px string `json:"px"`
		Sz string `json:"sz"`
	}) []core.PriceLevel {
		out := make([]core.PriceLevel, 0, len(rows))
		for _, lvl := range rows {
			out = append(out, core.PriceLevel{
				Price:    e.ParseDecimal(lvl.Px),
				Quantity: e.ParseDecimal(lvl.Sz),
			})
		}
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out
	}

	return &core.Depth{
		Symbol:    coin,
		Bids:      parse(book.Levels[0]),
		Asks:      parse(book.Levels[1]),
		Timestamp: e.ParseTimestamp(book.Time),
	}, nil
}

type candleRow struct {
	OpenMS  int64  `json:"t"`
	CloseMS int64  `json:"T"`
	Coin    string `json:"s"`
	Open    string `json:"o"`
	Close   string `json:"c"`
	High    string `json:"h"`
	Low     string `json:"l"`
	Volume  string `json:"v"`
}

func toKline(row candleRow, nowMS int64) core.Kline {
	open, _ := strconv.ParseFloat(row.Open, 64)
	high, _ := strconv.ParseFloat(row.High, 64)
	low, _ := strconv.ParseFloat(row.Low, 64)
	closePx, _ := strconv.ParseFloat(row.Close, 64)
	volume, _ := strconv.ParseFloat(row.Volume, 64)
	return core.Kline{
		OpenTime: row.OpenMS,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePx,
		Volume:   volume,
		Closed:   row.CloseMS <= nowMS,
	}
}

// intervalSpan turns "15m"/"1h"/"1d" into milliseconds for window math
func intervalSpan(interval string) int64 {
	if len(interval) < 2 {
		return 15 * 60 * 1000
	}
	n, err := strconv.ParseInt(interval[:len(interval)-1], 10, 64)
	if err != nil || n <= 0 {
		return 15 * 60 * 1000
	}
	switch interval[len(interval)-1] {
	case 'm':
		return n * 60 * 1000
	case 'h':
		return n * 60 * 60 * 1000
	case 'd':
		return n * 24 * 60 * 60 * 1000
	default:
		return 15 * 60 * 1000
	}
}

// GetKlines returns bars ordered oldest to newest
func (e *Exchange) GetKlines(ctx context.Context, symbol, interval string, startMS, endMS int64, limit int) ([]core.Kline, error) {
	coin := e.VenueSymbol(symbol)
	if limit <= 0 {
		limit = 1000
	}
	now := time.Now().UnixMilli()
	if endMS == 0 {
		endMS = now
	}
	if startMS == 0 {
		startMS = endMS - intervalSpan(interval)*int64(limit)
	}

	payload := map[string]interface{}{
		"type": "candleSnapshot",
		"req": map[string]interface{}{
			"coin":      coin,
			"interval":  interval,
			"startTime": startMS,
			"endTime":   endMS,
		},
	}
	var rows []candleRow
	if err := e.info(ctx, payload, &rows); err != nil {
		return nil, err
	}

	klines := make([]core.Kline, 0, len(rows))
	for _, row := range rows {
		klines = append(klines, toKline(row, now))
	}
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

// GetServerTime reports the local clock; the venue exposes no time endpoint
func (e *Exchange) GetServerTime(ctx context.Context) (int64, error) {
	return time.Now().UnixMilli(), nil
}

type clearinghouseState struct {
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			EntryPx       string `json:"entryPx"`
			PositionValue string `json:"positionValue"`
			UnrealizedPnl string `json:"unrealizedPnl"`
		} `json:"position"`
	} `json:"assetPositions"`
}

func (e *Exchange) state(ctx context.Context) (*clearinghouseState, error) {
	var st clearinghouseState
	err := e.info(ctx, map[string]string{"type": "clearinghouseState", "user": e.address}, &st)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetBalances reports the USDC margin account
func (e *Exchange) GetBalances(ctx context.Context) ([]core.Balance, error) {
	st, err := e.state(ctx)
	if err != nil {
		return nil, err
	}
	total := e.ParseDecimal(st.MarginSummary.AccountValue)
	available := e.ParseDecimal(st.Withdrawable)
	locked := total.Sub(available)
	if locked.IsNegative() {
		locked = decimal.Zero
	}
	return []core.Balance{{
		Asset:     "USDC",
		Available: available,
		Locked:    locked,
	}}, nil
}

// GetPositions returns open positions, all coins when symbol is empty
func (e *Exchange) GetPositions(ctx context.Context, symbol string) ([]*core.Position, error) {
	st, err := e.state(ctx)
	if err != nil {
		return nil, err
	}

	want := ""
	if symbol != "" {
		want = e.VenueSymbol(symbol)
	}

	positions := make([]*core.Position, 0, len(st.AssetPositions))
	for _, ap := range st.AssetPositions {
		p := ap.Position
		if want != "" && p.Coin != want {
			continue
		}
		szi := e.ParseDecimal(p.Szi)
		if szi.IsZero() {
			continue
		}
		side := core.PositionSideLong
		qty := szi
		if szi.IsNegative() {
			side = core.PositionSideShort
			qty = szi.Abs()
		}
		mark := decimal.Zero
		if qty.IsPositive() {
			mark = e.ParseDecimal(p.PositionValue).Div(qty)
		}
		positions = append(positions, &core.Position{
			Symbol:        p.Coin,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    e.ParseDecimal(p.EntryPx),
			MarkPrice:     mark,
			UnrealizedPnL: e.ParseDecimal(p.UnrealizedPnl),
			UpdatedAt:     time.Now(),
		})
	}
	return positions, nil
}

// Wire shapes for signed actions. Field order matters: the msgpack bytes
// feed the connectionId hash.
type limitTif struct {
	Tif string `msgpack:"tif" json:"tif"`
}

type wireOrderType struct {
	Limit *limitTif `msgpack:"limit,omitempty" json:"limit,omitempty"`
}

type wireOrder struct {
	Asset      int           `msgpack:"a" json:"a"`
	IsBuy      bool          `msgpack:"b" json:"b"`
	Price      string        `msgpack:"p" json:"p"`
	Size       string        `msgpack:"s" json:"s"`
	ReduceOnly bool          `msgpack:"r" json:"r"`
	Type       wireOrderType `msgpack:"t" json:"t"`
}

type orderAction struct {
	Type     string      `msgpack:"type" json:"type"`
	Orders   []wireOrder `msgpack:"orders" json:"orders"`
	Grouping string      `msgpack:"grouping" json:"grouping"`
}

type wireCancel struct {
	Asset int    `msgpack:"a" json:"a"`
	Oid   uint64 `msgpack:"o" json:"o"`
}

type cancelAction struct {
	Type    string       `msgpack:"type" json:"type"`
	Cancels []wireCancel `msgpack:"cancels" json:"cancels"`
}

type orderResponseData struct {
	Statuses []struct {
		Resting *struct {
			Oid uint64 `json:"oid"`
		} `json:"resting"`
		Filled *struct {
			Oid     uint64 `json:"oid"`
			TotalSz string `json:"totalSz"`
			AvgPx   string `json:"avgPx"`
		} `json:"filled"`
		Error string `json:"error"`
	} `json:"statuses"`
}

// PlaceOrder submits one order through a signed exchange action
func (e *Exchange) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	coin := e.VenueSymbol(req.Symbol)
	info, err := e.asset(ctx, coin)
	if err != nil {
		return nil, err
	}

	tif := "Gtc"
	switch req.Type {
	case core.OrderTypeIOC, core.OrderTypeMarket:
		tif = "Ioc"
	case core.OrderTypeFOK:
		tif = "Ioc" // closest supported semantics
	}
	if req.PostOnly {
		tif = "Alo"
	}

	price := req.Price
	if req.Type == core.OrderTypeMarket && price.IsZero() {
		ticker, terr := e.GetTicker(ctx, coin)
		if terr != nil {
			return nil, terr
		}
		// Cross the book with a generous IOC limit
		if req.Side == core.OrderSideBuy {
			price = ticker.LastPrice.Mul(decimal.RequireFromString("1.05"))
		} else {
			price = ticker.LastPrice.Mul(decimal.RequireFromString("0.95"))
		}
		price = price.Round(6 - int32(info.szDecimals))
	}

	action := orderAction{
		Type: "order",
		Orders: []wireOrder{{
			Asset:      info.id,
			IsBuy:      req.Side == core.OrderSideBuy,
			Price:      price.String(),
			Size:       req.Quantity.String(),
			ReduceOnly: req.ReduceOnly,
			Type:       wireOrderType{Limit: &limitTif{Tif: tif}},
		}},
		Grouping: "na",
	}

	var resp struct {
		Data orderResponseData `json:"data"`
	}
	if err := e.exchangeAction(ctx, action, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data.Statuses) == 0 {
		return nil, fmt.Errorf("hyperliquid: %w: empty order status", apperrors.ErrOrderRejected)
	}

	st := resp.Data.Statuses[0]
	now := time.Now()
	order := &core.Order{
		Symbol:      req.Symbol,
		VenueSymbol: coin,
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		Price:       price,
		ReduceOnly:  req.ReduceOnly,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	switch {
	case st.Error != "":
		return nil, fmt.Errorf("hyperliquid: %w: %s", apperrors.ErrOrderRejected, st.Error)
	case st.Filled != nil:
		order.VenueOrderID = strconv.FormatUint(st.Filled.Oid, 10)
		order.Status = core.OrderStatusFilled
		order.FilledQuantity = e.ParseDecimal(st.Filled.TotalSz)
		order.AvgFillPrice = e.ParseDecimal(st.Filled.AvgPx)
		order.FilledAt = now
	case st.Resting != nil:
		order.VenueOrderID = strconv.FormatUint(st.Resting.Oid, 10)
		order.Status = core.OrderStatusOpen
	default:
		return nil, fmt.Errorf("hyperliquid: %w: unrecognised order status", apperrors.ErrOrderRejected)
	}
	return order, nil
}

type restingOrder struct {
	Coin      string `json:"coin"`
	Side      string `json:"side"` // B bid, A ask
	LimitPx   string `json:"limitPx"`
	Sz        string `json:"sz"`
	OrigSz    string `json:"origSz"`
	Oid       uint64 `json:"oid"`
	Timestamp int64  `json:"timestamp"`
}

func (e *Exchange) orderFromResting(raw restingOrder, status core.OrderStatus) *core.Order {
	side := core.OrderSideBuy
	if raw.Side == "A" {
		side = core.OrderSideSell
	}
	orig := e.ParseDecimal(raw.OrigSz)
	remaining := e.ParseDecimal(raw.Sz)
	filled := orig.Sub(remaining)
	if filled.IsNegative() {
		filled = decimal.Zero
	}
	return &core.Order{
		VenueOrderID:   strconv.FormatUint(raw.Oid, 10),
		Symbol:         raw.Coin,
		VenueSymbol:    raw.Coin,
		Side:           side,
		Type:           core.OrderTypeLimit,
		Quantity:       orig,
		Price:          e.ParseDecimal(raw.LimitPx),
		Status:         status,
		FilledQuantity: filled,
		CreatedAt:      e.ParseTimestamp(raw.Timestamp),
		UpdatedAt:      time.Now(),
	}
}

// GetOrder fetches one order by oid. An unknown oid returns a NOT_FOUND
// record, never an error.
func (e *Exchange) GetOrder(ctx context.Context, symbol, venueOrderID string) (*core.Order, error) {
	coin := e.VenueSymbol(symbol)
	oid, err := strconv.ParseUint(venueOrderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: %w: bad order id %q", apperrors.ErrInvalidOrderParameter, venueOrderID)
	}

	var resp struct {
		Status string `json:"status"`
		Order  struct {
			Order  restingOrder `json:"order"`
			Status string       `json:"status"`
		} `json:"order"`
	}
	payload := map[string]interface{}{"type": "orderStatus", "user": e.address, "oid": oid}
	if err := e.info(ctx, payload, &resp); err != nil {
		return nil, err
	}

	if resp.Status == "unknownOid" {
		return &core.Order{
			VenueOrderID: venueOrderID,
			Symbol:       symbol,
			VenueSymbol:  coin,
			Status:       core.OrderStatusNotFound,
		}, nil
	}

	order := e.orderFromResting(resp.Order.Order, e.SafeMapOrderStatus(resp.Order.Status))
	order.Symbol = symbol
	if order.Status == core.OrderStatusFilled {
		order.FilledQuantity = order.Quantity
		if order.AvgFillPrice.IsZero() {
			order.AvgFillPrice = order.Price
		}
	}
	return order, nil
}

// GetOpenOrders lists resting orders, all coins when symbol is empty
func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	var rows []restingOrder
	payload := map[string]string{"type": "openOrders", "user": e.address}
	if err := e.info(ctx, payload, &rows); err != nil {
		return nil, err
	}

	want := ""
	if symbol != "" {
		want = e.VenueSymbol(symbol)
	}

	orders := make([]*core.Order, 0, len(rows))
	for _, raw := range rows {
		if want != "" && raw.Coin != want {
			continue
		}
		orders = append(orders, e.orderFromResting(raw, core.OrderStatusOpen))
	}
	return orders, nil
}

// CancelOrder cancels one order; an already-gone oid is not an error
func (e *Exchange) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	coin := e.VenueSymbol(symbol)
	info, err := e.asset(ctx, coin)
	if err != nil {
		return err
	}
	oid, err := strconv.ParseUint(venueOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("hyperliquid: %w: bad order id %q", apperrors.ErrInvalidOrderParameter, venueOrderID)
	}

	action := cancelAction{
		Type:    "cancel",
		Cancels: []wireCancel{{Asset: info.id, Oid: oid}},
	}
	var resp struct {
		Data struct {
			Statuses []json.RawMessage `json:"statuses"`
		} `json:"data"`
	}
	if err := e.exchangeAction(ctx, action, &resp); err != nil {
		return err
	}
	for _, raw := range resp.Data.Statuses {
		var detail struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &detail) == nil && detail.Error != "" {
			if strings.Contains(strings.ToLower(detail.Error), "never placed") ||
				strings.Contains(strings.ToLower(detail.Error), "already") {
				return nil
			}
			return fmt.Errorf("hyperliquid: %w: %s", apperrors.ErrOrderRejected, detail.Error)
		}
	}
	return nil
}

// CancelAllOrders cancels every resting order on a coin in one action
func (e *Exchange) CancelAllOrders(ctx context.Context, symbol string) error {
	orders, err := e.GetOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	cancels := make([]wireCancel, 0, len(orders))
	for _, o := range orders {
		info, aerr := e.asset(ctx, o.VenueSymbol)
		if aerr != nil {
			return aerr
		}
		oid, perr := strconv.ParseUint(o.VenueOrderID, 10, 64)
		if perr != nil {
			continue
		}
		cancels = append(cancels, wireCancel{Asset: info.id, Oid: oid})
	}

	action := cancelAction{Type: "cancel", Cancels: cancels}
	return e.exchangeAction(ctx, action, nil)
}

// StartKlineStream subscribes one candle channel per coin
func (e *Exchange) StartKlineStream(ctx context.Context, symbols []string, interval string, handler core.KlineHandler) error {
	e.klineMu.Lock()
	e.klineHandler = handler
	e.klineMu.Unlock()

	return e.StartWebSocketStream(e.wsURL, e.handleStreamMessage, func(client *websocket.Client) {
		for _, s := range symbols {
			sub := map[string]interface{}{
				"method": "subscribe",
				"subscription": map[string]string{
					"type":     "candle",
					"coin":     e.VenueSymbol(s),
					"interval": interval,
				},
			}
			if err := client.Send(sub); err != nil {
				e.Logger.Error("failed to send candle subscription", "error", err)
				return
			}
		}
	})
}

func (e *Exchange) handleStreamMessage(message []byte) {
	var event struct {
		Channel string    `json:"channel"`
		Data    candleRow `json:"data"`
	}
	if err := json.Unmarshal(message, &event); err != nil {
		return
	}
	if event.Channel != "candle" {
		return
	}

	e.klineMu.Lock()
	handler := e.klineHandler
	e.klineMu.Unlock()
	if handler == nil {
		return
	}

	handler(event.Data.Coin, toKline(event.Data, time.Now().UnixMilli()))
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
