package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
	apperrors "perp_trader/pkg/errors"
	"perp_trader/internal/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKey is a throwaway well-known development key
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const metaBody = `{"universe":[
	{"name":"BTC","szDecimals":5},
	{"name":"ETH","szDecimals":4},
	{"name":"GONE","szDecimals":2,"isDelisted":true}
]}`

func newTestExchange(t *testing.T, handler http.Handler) *Exchange {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, err := logging.NewZapLogger("error")
	require.NoError(t, err)

	cfg := &config.ExchangeConfig{
		PrivateKey: config.Secret("0x" + testKey),
		BaseURL:    server.URL,
	}
	ex, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ex.Close() })
	return ex
}

func TestVenueSymbol(t *testing.T) {
	ex := &Exchange{}
	cases := []struct {
		in   string
		want string
	}{
		{"ETH", "ETH"},
		{"eth", "ETH"},
		{"ETH/USDC", "ETH"},
		{"ETH-USDT-SWAP", "ETH"},
		{"ETH_USDC_PERP", "ETH"},
	}
	for _, tc := range cases {
		got := ex.VenueSymbol(tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
		assert.Equal(t, tc.want, ex.VenueSymbol(got), "idempotence for %q", tc.in)
	}
}

func TestConnectionID(t *testing.T) {
	action := orderAction{
		Type: "order",
		Orders: []wireOrder{{
			Asset: 1, IsBuy: true, Price: "3000", Size: "0.5",
			Type: wireOrderType{Limit: &limitTif{Tif: "Gtc"}},
		}},
		Grouping: "na",
	}

	a, err := connectionID(action, 1700000000000)
	require.NoError(t, err)
	require.Len(t, a, 32)

	// Stable for identical input
	b, err := connectionID(action, 1700000000000)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// The nonce is part of the hash
	c, err := connectionID(action, 1700000000001)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	// So is the action payload
	action.Orders[0].Size = "0.6"
	d, err := connectionID(action, 1700000000000)
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestSignAction(t *testing.T) {
	ex := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	action := cancelAction{Type: "cancel", Cancels: []wireCancel{{Asset: 1, Oid: 42}}}
	sig, err := ex.signer.signAction(action, 1700000000000)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sig.R, "0x"))
	assert.Len(t, sig.R, 66)
	assert.Len(t, sig.S, 66)
	assert.Contains(t, []uint8{27, 28}, sig.V)

	// secp256k1 signing is deterministic
	again, err := ex.signer.signAction(action, 1700000000000)
	require.NoError(t, err)
	assert.Equal(t, sig, again)
}

func TestNextNonceMonotonic(t *testing.T) {
	ex := &Exchange{}
	prev := ex.nextNonce()
	for i := 0; i < 100; i++ {
		n := ex.nextNonce()
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestPlaceOrder_Resting(t *testing.T) {
	var payload struct {
		Action    orderAction    `json:"action"`
		Nonce     uint64         `json:"nonce"`
		Signature *wireSignature `json:"signature"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(metaBody))
	})
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":777}}]}}}`))
	})
	ex := newTestExchange(t, mux)

	order, err := ex.PlaceOrder(context.Background(), &core.OrderRequest{
		Symbol:   "ETH/USDC",
		Side:     core.OrderSideBuy,
		Type:     core.OrderTypeLimit,
		Quantity: decimal.RequireFromString("0.5"),
		Price:    decimal.RequireFromString("3000"),
	})
	require.NoError(t, err)

	assert.Equal(t, "777", order.VenueOrderID)
	assert.Equal(t, core.OrderStatusOpen, order.Status)
	assert.Equal(t, "ETH", order.VenueSymbol)

	// ETH is index 1 in the universe
	require.Len(t, payload.Action.Orders, 1)
	wire := payload.Action.Orders[0]
	assert.Equal(t, 1, wire.Asset)
	assert.True(t, wire.IsBuy)
	assert.Equal(t, "3000", wire.Price)
	assert.Equal(t, "0.5", wire.Size)
	assert.Equal(t, "Gtc", wire.Type.Limit.Tif)
	assert.Equal(t, "na", payload.Action.Grouping)
	require.NotNil(t, payload.Signature)
	assert.NotZero(t, payload.Nonce)
}

func TestPlaceOrder_ImmediateFill(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(metaBody))
	})
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"oid":778,"totalSz":"0.5","avgPx":"2999.8"}}]}}}`))
	})
	ex := newTestExchange(t, mux)

	order, err := ex.PlaceOrder(context.Background(), &core.OrderRequest{
		Symbol:   "ETH",
		Side:     core.OrderSideSell,
		Type:     core.OrderTypeIOC,
		Quantity: decimal.RequireFromString("0.5"),
		Price:    decimal.RequireFromString("2999"),
	})
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledQuantity.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, order.AvgFillPrice.Equal(decimal.RequireFromString("2999.8")))
	assert.False(t, order.FilledAt.IsZero())
}

func TestPlaceOrder_VenueError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(metaBody))
	})
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":"Insufficient margin to place order"}]}}}`))
	})
	ex := newTestExchange(t, mux)

	_, err := ex.PlaceOrder(context.Background(), &core.OrderRequest{
		Symbol:   "ETH",
		Side:     core.OrderSideBuy,
		Type:     core.OrderTypeLimit,
		Quantity: decimal.RequireFromString("100"),
		Price:    decimal.RequireFromString("3000"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrOrderRejected))
}

func TestGetOrder_UnknownOid(t *testing.T) {
	ex := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"unknownOid"}`))
	}))

	order, err := ex.GetOrder(context.Background(), "ETH", "424242")
	require.NoError(t, err, "an unknown oid is a status, not an error")
	assert.Equal(t, core.OrderStatusNotFound, order.Status)
	assert.Equal(t, "424242", order.VenueOrderID)
}

func TestGetOrder_PartialFill(t *testing.T) {
	ex := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "orderStatus", q["type"])
		_, _ = w.Write([]byte(`{"status":"order","order":{
			"order":{"coin":"ETH","side":"B","limitPx":"3000","sz":"0.3","origSz":"0.5","oid":777,"timestamp":1700000000000},
			"status":"open"}}`))
	}))

	order, err := ex.GetOrder(context.Background(), "ETH", "777")
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusOpen, order.Status)
	// Remaining size 0.3 of original 0.5 means 0.2 filled
	assert.True(t, order.FilledQuantity.Equal(decimal.RequireFromString("0.2")), "got %s", order.FilledQuantity)
	assert.True(t, order.Quantity.Equal(decimal.RequireFromString("0.5")))
}

func TestGetBalances(t *testing.T) {
	ex := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"marginSummary":{"accountValue":"1000","totalMarginUsed":"100"},
			"withdrawable":"900",
			"assetPositions":[]
		}`))
	}))

	balances, err := ex.GetBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "USDC", balances[0].Asset)
	assert.True(t, balances[0].Available.Equal(decimal.NewFromInt(900)))
	assert.True(t, balances[0].Locked.Equal(decimal.NewFromInt(100)))
}

func TestGetPositions(t *testing.T) {
	ex := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"marginSummary":{"accountValue":"1000","totalMarginUsed":"100"},
			"withdrawable":"900",
			"assetPositions":[
				{"position":{"coin":"ETH","szi":"-0.4","entryPx":"3000","positionValue":"1196","unrealizedPnl":"4"}},
				{"position":{"coin":"BTC","szi":"0","entryPx":"0","positionValue":"0","unrealizedPnl":"0"}}
			]
		}`))
	}))

	positions, err := ex.GetPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 1, "flat positions must be dropped")

	p := positions[0]
	assert.Equal(t, core.PositionSideShort, p.Side)
	assert.True(t, p.Quantity.Equal(decimal.RequireFromString("0.4")))
	// Mark derives from position value over size
	assert.True(t, p.MarkPrice.Equal(decimal.NewFromInt(2990)), "got %s", p.MarkPrice)
}

func TestGetKlines(t *testing.T) {
	ex := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "candleSnapshot", q["type"])
		_, _ = w.Write([]byte(`[
			{"t":1700000000000,"T":1700000900000,"s":"ETH","o":"100","c":"102","h":"102","l":"99","v":"15"},
			{"t":1700000900000,"T":9999999999999,"s":"ETH","o":"102","c":"103","h":"104","l":"101","v":"10"}
		]`))
	}))

	klines, err := ex.GetKlines(context.Background(), "ETH", "15m", 0, 0, 100)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.True(t, klines[0].Closed)
	assert.False(t, klines[1].Closed, "bar closing in the future is still forming")
	assert.Equal(t, 102.0, klines[0].Close)
}

func TestHandleStreamMessage(t *testing.T) {
	ex := &Exchange{}
	var gotCoin string
	var gotBar core.Kline
	ex.klineHandler = func(coin string, k core.Kline) {
		gotCoin = coin
		gotBar = k
	}

	ex.handleStreamMessage([]byte(`{"channel":"candle","data":
		{"t":1700000000000,"T":1700000900000,"s":"ETH","o":"100","c":"101.5","h":"102","l":"99","v":"15"}}`))

	assert.Equal(t, "ETH", gotCoin)
	assert.Equal(t, int64(1700000000000), gotBar.OpenTime)
	assert.Equal(t, 101.5, gotBar.Close)

	// Other channels are ignored
	gotCoin = ""
	ex.handleStreamMessage([]byte(`{"channel":"subscriptionResponse","data":{}}`))
	assert.Empty(t, gotCoin)
}

func TestMapOrderStatus(t *testing.T) {
	cases := map[string]core.OrderStatus{
		"open":           core.OrderStatusOpen,
		"triggered":      core.OrderStatusOpen,
		"filled":         core.OrderStatusFilled,
		"canceled":       core.OrderStatusCancelled,
		"marginCanceled": core.OrderStatusCancelled,
		"rejected":       core.OrderStatusRejected,
	}
	for raw, want := range cases {
		assert.Equal(t, want, mapOrderStatus(raw), "status %s", raw)
	}
}
