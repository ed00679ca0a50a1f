// Package ostium implements the on-chain Ostium adapter. Orders are
// contract calls on an Arbitrum RPC endpoint; open trades are keyed by
// (pair id, trade index) and reads go through the indexer.
package ostium

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
	apperrors "perp_trader/pkg/errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	defaultIndexerURL = "https://metadata-backend.ostium.io"

	// Arbitrum One USDC
	usdcAddress = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"

	defaultTradingContract = "0x6D0bA1f9996DBD8885827e1b2e8f6593e7702411"

	// Collateral is 6-dp USDC, prices are 18-dp fixed point
	collateralDecimals = 6
	priceDecimals      = 18

	// slippagePercent tolerated on market entries, 2-dp fixed point
	slippagePercent = 100 // 1.00%

	openTxGasLimit = 1_500_000

	marketsTTL = time.Hour
)

const tradingABIJSON = `[
 {"type":"function","name":"openTrade","stateMutability":"nonpayable","inputs":[
   {"name":"trade","type":"tuple","components":[
     {"name":"trader","type":"address"},
     {"name":"pairIndex","type":"uint256"},
     {"name":"index","type":"uint256"},
     {"name":"collateral","type":"uint256"},
     {"name":"openPrice","type":"uint256"},
     {"name":"buy","type":"bool"},
     {"name":"leverage","type":"uint256"},
     {"name":"tp","type":"uint256"},
     {"name":"sl","type":"uint256"}
   ]},
   {"name":"orderType","type":"uint8"},
   {"name":"slippageP","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"closeTradeMarket","stateMutability":"nonpayable","inputs":[
   {"name":"pairIndex","type":"uint256"},
   {"name":"index","type":"uint256"},
   {"name":"closePercentage","type":"uint256"}],"outputs":[]}
]`

const erc20ABIJSON = `[
 {"type":"function","name":"balanceOf","stateMutability":"view",
  "inputs":[{"name":"account","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]}
]`

// TradeHandle identifies one open on-chain trade
type TradeHandle struct {
	PairID int64
	Index  int64
}

// Exchange implements core.IExchange and core.PositionLiquidator
type Exchange struct {
	cfg    *config.ExchangeConfig
	logger core.ILogger

	eth     *ethclient.Client
	indexer *resty.Client

	priv    *ecdsa.PrivateKey
	address common.Address

	tradingABI abi.ABI
	erc20ABI   abi.ABI
	contract   common.Address
	usdc       common.Address

	chainMu sync.Mutex
	chainID *big.Int

	marketsMu sync.RWMutex
	markets   map[string]*core.MarketInfo
	pairIDs   map[string]int64
	marketsAt time.Time

	// Open trade handles recorded at placement, keyed by coin
	trackMu sync.Mutex
	tracked map[string][]TradeHandle
}

// New creates an Ostium adapter from config
func New(cfg *config.ExchangeConfig, logger core.ILogger) (*Exchange, error) {
	keyHex := strings.TrimPrefix(cfg.PrivateKey.Reveal(), "0x")
	priv, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("ostium: parse private key: %w", err)
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("ostium: rpc_url is required")
	}
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ostium: dial rpc: %w", err)
	}

	indexerURL := cfg.IndexerURL
	if indexerURL == "" {
		indexerURL = defaultIndexerURL
	}

	tradingABI, err := abi.JSON(strings.NewReader(tradingABIJSON))
	if err != nil {
		return nil, fmt.Errorf("ostium: parse trading abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("ostium: parse erc20 abi: %w", err)
	}

	contract := defaultTradingContract
	if cfg.BaseURL != "" && strings.HasPrefix(cfg.BaseURL, "0x") {
		// base_url doubles as a trading-contract override for this venue
		contract = cfg.BaseURL
	}

	return &Exchange{
		cfg:        cfg,
		logger:     logger.WithField("exchange", "ostium"),
		eth:        eth,
		indexer:    resty.New().SetBaseURL(indexerURL).SetTimeout(10 * time.Second),
		priv:       priv,
		address:    crypto.PubkeyToAddress(priv.PublicKey),
		tradingABI: tradingABI,
		erc20ABI:   erc20ABI,
		contract:   common.HexToAddress(contract),
		usdc:       common.HexToAddress(usdcAddress),
		tracked:    make(map[string][]TradeHandle),
	}, nil
}

// GetName returns the exchange name
func (e *Exchange) GetName() string {
	return "ostium"
}

// VenueSymbol reduces any accepted spelling to the bare asset name
func (e *Exchange) VenueSymbol(symbol string) string {
	s := strings.TrimSpace(symbol)
	if s == "" {
		return s
	}
	baseAsset, _ := core.SplitSymbol(s)
	return baseAsset
}

// toUnits scales a decimal into a fixed-point big integer
func toUnits(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Truncate(0).BigInt()
}

// fromUnits scales a fixed-point big integer back into a decimal
func fromUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

type indexerMarket struct {
	ID   int64  `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

func (e *Exchange) fetchMarkets(ctx context.Context) (map[string]*core.MarketInfo, map[string]int64, error) {
	var rows []indexerMarket
	resp, err := e.indexer.R().SetContext(ctx).SetResult(&rows).Get("/markets")
	if err != nil {
		return nil, nil, fmt.Errorf("ostium: %w: %w", apperrors.ErrExchangeUnreachable, err)
	}
	if resp.IsError() {
		return nil, nil, fmt.Errorf("ostium: %w: indexer status %d", apperrors.ErrExchangeUnreachable, resp.StatusCode())
	}

	markets := make(map[string]*core.MarketInfo, len(rows))
	pairIDs := make(map[string]int64, len(rows))
	for _, m := range rows {
		markets[m.From] = &core.MarketInfo{
			Symbol:            m.From,
			BaseAsset:         m.From,
			QuoteAsset:        m.To,
			MinNotional:       decimal.NewFromInt(10),
			PricePrecision:    5,
			QuantityPrecision: collateralDecimals,
		}
		pairIDs[m.From] = m.ID
	}
	return markets, pairIDs, nil
}

// GetMarkets returns the indexer's pair list through the hourly cache
func (e *Exchange) GetMarkets(ctx context.Context) (map[string]*core.MarketInfo, error) {
	e.marketsMu.RLock()
	if e.markets != nil && time.Since(e.marketsAt) < marketsTTL {
		cached := e.markets
		e.marketsMu.RUnlock()
		return cached, nil
	}
	e.marketsMu.RUnlock()

	markets, pairIDs, err := e.fetchMarkets(ctx)
	if err != nil {
		e.marketsMu.RLock()
		stale := e.markets
		e.marketsMu.RUnlock()
		if stale != nil {
			e.logger.Warn("market refresh failed, serving stale cache", "error", err)
			return stale, nil
		}
		return nil, err
	}

	e.marketsMu.Lock()
	e.markets = markets
	e.pairIDs = pairIDs
	e.marketsAt = time.Now()
	e.marketsMu.Unlock()
	return markets, nil
}

// GetSymbolInfo resolves one pair through the cache
func (e *Exchange) GetSymbolInfo(ctx context.Context, symbol string) (*core.MarketInfo, error) {
	coin := e.VenueSymbol(symbol)
	markets, err := e.GetMarkets(ctx)
	if err != nil {
		return nil, err
	}
	if info, ok := markets[coin]; ok {
		return info, nil
	}

	// One invalidating refetch so newly listed pairs recover
	e.marketsMu.Lock()
	e.markets = nil
	e.marketsMu.Unlock()
	markets, err = e.GetMarkets(ctx)
	if err != nil {
		return nil, err
	}
	if info, ok := markets[coin]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("ostium: %w: %s", apperrors.ErrInvalidSymbol, coin)
}

// pairID resolves a coin to its on-chain pair index
func (e *Exchange) pairID(ctx context.Context, coin string) (int64, error) {
	if _, err := e.GetMarkets(ctx); err != nil {
		return 0, err
	}
	e.marketsMu.RLock()
	id, ok := e.pairIDs[coin]
	e.marketsMu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("ostium: %w: %s", apperrors.ErrInvalidSymbol, coin)
	}
	return id, nil
}

// GetTicker reads the indexer's latest oracle price
func (e *Exchange) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	coin := e.VenueSymbol(symbol)
	var raw struct {
		Price     string `json:"price"`
		High24h   string `json:"high24h"`
		Low24h    string `json:"low24h"`
		Timestamp int64  `json:"timestamp"`
	}
	resp, err := e.indexer.R().SetContext(ctx).SetResult(&raw).Get("/prices/" + coin)
	if err != nil {
		return nil, fmt.Errorf("ostium: %w: %w", apperrors.ErrExchangeUnreachable, err)
	}
	if resp.StatusCode() == 404 {
		return nil, fmt.Errorf("ostium: %w: %s", apperrors.ErrInvalidSymbol, coin)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ostium: %w: indexer status %d", apperrors.ErrExchangeUnreachable, resp.StatusCode())
	}

	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return nil, fmt.Errorf("ostium: %w: bad price %q", apperrors.ErrExchangeUnreachable, raw.Price)
	}
	high, _ := decimal.NewFromString(raw.High24h)
	low, _ := decimal.NewFromString(raw.Low24h)

	ts := time.Now()
	if raw.Timestamp > 0 {
		ts = time.UnixMilli(raw.Timestamp)
	}
	return &core.Ticker{
		Symbol:    coin,
		LastPrice: price,
		HighPrice: high,
		LowPrice:  low,
		Timestamp: ts,
	}, nil
}

// GetDepth is unsupported: an oracle-priced venue has no order book
func (e *Exchange) GetDepth(ctx context.Context, symbol string, limit int) (*core.Depth, error) {
	return nil, fmt.Errorf("ostium: %w: depth not available for %s", apperrors.ErrInvalidSymbol, e.VenueSymbol(symbol))
}

// GetKlines is unsupported: the indexer serves trades, not candle history.
// Strategies on this venue source klines from a market-data venue.
func (e *Exchange) GetKlines(ctx context.Context, symbol, interval string, startMS, endMS int64, limit int) ([]core.Kline, error) {
	return nil, fmt.Errorf("ostium: %w: kline history not available for %s", apperrors.ErrInvalidSymbol, e.VenueSymbol(symbol))
}

// GetServerTime reports the local clock
func (e *Exchange) GetServerTime(ctx context.Context) (int64, error) {
	return time.Now().UnixMilli(), nil
}

// GetBalances reads the wallet's USDC balance from the token contract
func (e *Exchange) GetBalances(ctx context.Context) ([]core.Balance, error) {
	data, err := e.erc20ABI.Pack("balanceOf", e.address)
	if err != nil {
		return nil, fmt.Errorf("ostium: pack balanceOf: %w", err)
	}
	out, err := e.eth.CallContract(ctx, ethereum.CallMsg{To: &e.usdc, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("ostium: %w: balanceOf: %w", apperrors.ErrExchangeUnreachable, err)
	}
	vals, err := e.erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("ostium: %w: decode balanceOf", apperrors.ErrExchangeUnreachable)
	}
	raw, _ := vals[0].(*big.Int)

	// Collateral posted in open trades counts as locked
	locked := decimal.Zero
	if positions, perr := e.GetPositions(ctx, ""); perr == nil {
		for _, p := range positions {
			locked = locked.Add(p.Quantity.Mul(p.EntryPrice))
		}
	}

	return []core.Balance{{
		Asset:     "USDC",
		Available: fromUnits(raw, collateralDecimals),
		Locked:    locked,
	}}, nil
}

type indexerTrade struct {
	PairID     int64  `json:"pairId"`
	Index      int64  `json:"index"`
	Pair       string `json:"pair"`
	Collateral string `json:"collateral"`
	Leverage   int    `json:"leverage"`
	IsBuy      bool   `json:"isBuy"`
	OpenPrice  string `json:"openPrice"`
	Timestamp  int64  `json:"timestamp"`
}

func (e *Exchange) openTrades(ctx context.Context) ([]indexerTrade, error) {
	var rows []indexerTrade
	resp, err := e.indexer.R().
		SetContext(ctx).
		SetQueryParam("trader", e.address.Hex()).
		SetResult(&rows).
		Get("/trades")
	if err != nil {
		return nil, fmt.Errorf("ostium: %w: %w", apperrors.ErrExchangeUnreachable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ostium: %w: indexer status %d", apperrors.ErrExchangeUnreachable, resp.StatusCode())
	}
	return rows, nil
}

// GetPositions derives positions from the indexer's open trades and
// refreshes the trade-handle cache along the way.
func (e *Exchange) GetPositions(ctx context.Context, symbol string) ([]*core.Position, error) {
	rows, err := e.openTrades(ctx)
	if err != nil {
		return nil, err
	}

	want := ""
	if symbol != "" {
		want = e.VenueSymbol(symbol)
	}

	tracked := make(map[string][]TradeHandle)
	byCoin := make(map[string]*core.Position)
	for _, raw := range rows {
		coin := raw.Pair
		tracked[coin] = append(tracked[coin], TradeHandle{PairID: raw.PairID, Index: raw.Index})
		if want != "" && coin != want {
			continue
		}

		collateral, _ := decimal.NewFromString(raw.Collateral)
		openPrice, _ := decimal.NewFromString(raw.OpenPrice)
		if openPrice.IsZero() {
			continue
		}
		lev := decimal.NewFromInt(int64(raw.Leverage))
		qty := collateral.Mul(lev).Div(openPrice)

		side := core.PositionSideLong
		if !raw.IsBuy {
			side = core.PositionSideShort
		}

		// Same-direction trades on one pair aggregate weighted by quantity
		if existing, ok := byCoin[coin]; ok && existing.Side == side {
			total := existing.Quantity.Add(qty)
			existing.EntryPrice = existing.EntryPrice.Mul(existing.Quantity).
				Add(openPrice.Mul(qty)).Div(total)
			existing.Quantity = total
			continue
		}
		byCoin[coin] = &core.Position{
			Symbol:     coin,
			Side:       side,
			Quantity:   qty,
			EntryPrice: openPrice,
			CreatedAt:  time.UnixMilli(raw.Timestamp),
			UpdatedAt:  time.Now(),
		}
	}

	e.trackMu.Lock()
	e.tracked = tracked
	e.trackMu.Unlock()

	positions := make([]*core.Position, 0, len(byCoin))
	for _, p := range byCoin {
		if ticker, terr := e.GetTicker(ctx, p.Symbol); terr == nil {
			p.MarkPrice = ticker.LastPrice
			diff := p.MarkPrice.Sub(p.EntryPrice)
			if p.Side == core.PositionSideShort {
				diff = diff.Neg()
			}
			p.UnrealizedPnL = diff.Mul(p.Quantity)
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// Tracked returns the cached trade handles for one coin
func (e *Exchange) Tracked(symbol string) []TradeHandle {
	coin := e.VenueSymbol(symbol)
	e.trackMu.Lock()
	defer e.trackMu.Unlock()
	out := make([]TradeHandle, len(e.tracked[coin]))
	copy(out, e.tracked[coin])
	return out
}

func (e *Exchange) track(coin string, h TradeHandle) {
	e.trackMu.Lock()
	e.tracked[coin] = append(e.tracked[coin], h)
	e.trackMu.Unlock()
}

// nextTradeIndex picks the first free per-pair trade slot
func (e *Exchange) nextTradeIndex(coin string) int64 {
	e.trackMu.Lock()
	defer e.trackMu.Unlock()
	used := make(map[int64]bool)
	for _, h := range e.tracked[coin] {
		used[h.Index] = true
	}
	for i := int64(0); ; i++ {
		if !used[i] {
			return i
		}
	}
}

func (e *Exchange) getChainID(ctx context.Context) (*big.Int, error) {
	e.chainMu.Lock()
	defer e.chainMu.Unlock()
	if e.chainID != nil {
		return e.chainID, nil
	}
	id, err := e.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("ostium: %w: chain id: %w", apperrors.ErrExchangeUnreachable, err)
	}
	e.chainID = id
	return id, nil
}

// sendTx signs and submits one contract call
func (e *Exchange) sendTx(ctx context.Context, data []byte) (common.Hash, error) {
	chainID, err := e.getChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := e.eth.PendingNonceAt(ctx, e.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ostium: %w: nonce: %w", apperrors.ErrExchangeUnreachable, err)
	}
	gasPrice, err := e.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ostium: %w: gas price: %w", apperrors.ErrExchangeUnreachable, err)
	}

	tx := types.NewTransaction(nonce, e.contract, big.NewInt(0), openTxGasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), e.priv)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ostium: sign tx: %w", err)
	}
	if err := e.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("ostium: %w: send tx: %w", apperrors.ErrExchangeUnreachable, err)
	}
	return signed.Hash(), nil
}

type wireTrade struct {
	Trader     common.Address
	PairIndex  *big.Int
	Index      *big.Int
	Collateral *big.Int
	OpenPrice  *big.Int
	Buy        bool
	Leverage   *big.Int
	Tp         *big.Int
	Sl         *big.Int
}

// PlaceOrder opens an on-chain trade. Every order executes as a market
// entry at the oracle price within the slippage bound.
func (e *Exchange) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	coin := e.VenueSymbol(req.Symbol)
	pair, err := e.pairID(ctx, coin)
	if err != nil {
		return nil, err
	}

	price := req.Price
	if price.IsZero() {
		ticker, terr := e.GetTicker(ctx, coin)
		if terr != nil {
			return nil, terr
		}
		price = ticker.LastPrice
	}

	leverage := int64(req.MaxLeverage)
	if leverage <= 0 {
		leverage = 1
	}
	// The contract takes collateral, not size
	collateral := req.Quantity.Mul(price).Div(decimal.NewFromInt(leverage))

	index := e.nextTradeIndex(coin)
	trade := wireTrade{
		Trader:     e.address,
		PairIndex:  big.NewInt(pair),
		Index:      big.NewInt(index),
		Collateral: toUnits(collateral, collateralDecimals),
		OpenPrice:  toUnits(price, priceDecimals),
		Buy:        req.Side == core.OrderSideBuy,
		Leverage:   big.NewInt(leverage),
		Tp:         big.NewInt(0),
		Sl:         big.NewInt(0),
	}

	data, err := e.tradingABI.Pack("openTrade", trade, uint8(0), big.NewInt(slippagePercent))
	if err != nil {
		return nil, fmt.Errorf("ostium: pack openTrade: %w", err)
	}

	hash, err := e.sendTx(ctx, data)
	if err != nil {
		return nil, err
	}

	e.track(coin, TradeHandle{PairID: pair, Index: index})
	e.logger.Info("trade submitted",
		"symbol", coin, "pair", pair, "index", index, "tx", hash.Hex())

	now := time.Now()
	return &core.Order{
		VenueOrderID: hash.Hex(),
		Symbol:       req.Symbol,
		VenueSymbol:  coin,
		Side:         req.Side,
		Type:         core.OrderTypeMarket,
		Quantity:     req.Quantity,
		Price:        price,
		ReduceOnly:   req.ReduceOnly,
		Status:       core.OrderStatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetOrder resolves a submitted transaction: mined-success is filled,
// mined-revert is rejected, pending stays open, unknown is NOT_FOUND.
func (e *Exchange) GetOrder(ctx context.Context, symbol, venueOrderID string) (*core.Order, error) {
	coin := e.VenueSymbol(symbol)
	hash := common.HexToHash(venueOrderID)

	order := &core.Order{
		VenueOrderID: venueOrderID,
		Symbol:       symbol,
		VenueSymbol:  coin,
		UpdatedAt:    time.Now(),
	}

	receipt, err := e.eth.TransactionReceipt(ctx, hash)
	if err == nil {
		if receipt.Status == types.ReceiptStatusSuccessful {
			order.Status = core.OrderStatusFilled
			order.FilledAt = time.Now()
		} else {
			order.Status = core.OrderStatusRejected
		}
		return order, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("ostium: %w: receipt: %w", apperrors.ErrExchangeUnreachable, err)
	}

	_, pending, err := e.eth.TransactionByHash(ctx, hash)
	if err == nil && pending {
		order.Status = core.OrderStatusOpen
		return order, nil
	}
	order.Status = core.OrderStatusNotFound
	return order, nil
}

// GetOpenOrders returns nothing: market entries never rest
func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	return nil, nil
}

// CancelOrder is a no-op: a submitted transaction cannot be recalled
func (e *Exchange) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	return nil
}

// CancelAllOrders is a no-op for the same reason
func (e *Exchange) CancelAllOrders(ctx context.Context, symbol string) error {
	return nil
}

// LiquidateTracked market-closes every tracked trade on a symbol
func (e *Exchange) LiquidateTracked(ctx context.Context, symbol string) error {
	coin := e.VenueSymbol(symbol)
	handles := e.Tracked(coin)
	if len(handles) == 0 {
		return nil
	}

	for _, h := range handles {
		data, err := e.tradingABI.Pack("closeTradeMarket",
			big.NewInt(h.PairID), big.NewInt(h.Index), big.NewInt(100))
		if err != nil {
			return fmt.Errorf("ostium: pack closeTradeMarket: %w", err)
		}
		hash, err := e.sendTx(ctx, data)
		if err != nil {
			return err
		}
		e.logger.Info("close submitted",
			"symbol", coin, "pair", h.PairID, "index", h.Index, "tx", hash.Hex())
	}

	e.trackMu.Lock()
	delete(e.tracked, coin)
	e.trackMu.Unlock()
	return nil
}

// StartKlineStream is unsupported; strategies source klines elsewhere
func (e *Exchange) StartKlineStream(ctx context.Context, symbols []string, interval string, handler core.KlineHandler) error {
	return fmt.Errorf("ostium: %w: kline streaming not available", apperrors.ErrInvalidSymbol)
}

// StopKlineStream is a no-op
func (e *Exchange) StopKlineStream() error {
	return nil
}

// Close releases the RPC connection
func (e *Exchange) Close() error {
	e.eth.Close()
	return nil
}
