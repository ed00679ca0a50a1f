package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
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

const instrumentsBody = `{"code":"0","msg":"","data":[
	{"instId":"ETH-USDT-SWAP","uly":"ETH-USDT","ctVal":"0.01","tickSz":"0.01","lotSz":"1","minSz":"1","state":"live"},
	{"instId":"BTC-USDT-SWAP","uly":"BTC-USDT","ctVal":"0.001","tickSz":"0.1","lotSz":"1","minSz":"1","state":"live"},
	{"instId":"OLD-USDT-SWAP","uly":"OLD-USDT","ctVal":"1","tickSz":"0.1","lotSz":"1","minSz":"1","state":"suspend"}
]}`

func newTestExchange(t *testing.T, handler http.Handler) (*Exchange, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, err := logging.NewZapLogger("error")
	require.NoError(t, err)

	cfg := &config.ExchangeConfig{
		APIKey:     "test-key",
		SecretKey:  config.Secret("test-secret"),
		Passphrase: config.Secret("test-pass"),
		BaseURL:    server.URL,
	}
	ex, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ex.Close() })
	return ex, server
}

func TestVenueSymbol(t *testing.T) {
	ex := &Exchange{}
	cases := []struct {
		in   string
		want string
	}{
		{"ETH", "ETH-USDT-SWAP"},
		{"eth", "ETH-USDT-SWAP"},
		{"ETH/USDT", "ETH-USDT-SWAP"},
		{"ETH/USDC", "ETH-USDC-SWAP"},
		{"ETH_USDC_PERP", "ETH-USDC-SWAP"},
		{"ETH-USDT-SWAP", "ETH-USDT-SWAP"},
		{"eth-usdt-swap", "ETH-USDT-SWAP"},
	}
	for _, tc := range cases {
		got := ex.VenueSymbol(tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
		// Native output must pass through unchanged
		assert.Equal(t, tc.want, ex.VenueSymbol(got), "idempotence for %q", tc.in)
	}
}

func TestSignRequest(t *testing.T) {
	sg := &signer{apiKey: "key", secretKey: "secret", passphrase: "pass"}

	body := `{"instId":"ETH-USDT-SWAP"}`
	req, err := http.NewRequest(http.MethodPost, "https://www.okx.com/api/v5/trade/order?foo=bar", strings.NewReader(body))
	require.NoError(t, err)
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}

	require.NoError(t, sg.SignRequest(req))

	assert.Equal(t, "key", req.Header.Get("OK-ACCESS-KEY"))
	assert.Equal(t, "pass", req.Header.Get("OK-ACCESS-PASSPHRASE"))

	ts := req.Header.Get("OK-ACCESS-TIMESTAMP")
	require.NotEmpty(t, ts)
	assert.True(t, strings.HasSuffix(ts, "Z"))

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(ts + "POST" + "/api/v5/trade/order?foo=bar" + body))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, req.Header.Get("OK-ACCESS-SIGN"))
}

func TestGetMarkets(t *testing.T) {
	ex, _ := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/public/instruments", r.URL.Path)
		assert.Equal(t, "SWAP", r.URL.Query().Get("instType"))
		_, _ = w.Write([]byte(instrumentsBody))
	}))

	markets, err := ex.GetMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2, "suspended instruments must be dropped")

	eth := markets["ETH-USDT-SWAP"]
	require.NotNil(t, eth)
	assert.Equal(t, "ETH", eth.BaseAsset)
	assert.Equal(t, "USDT", eth.QuoteAsset)
	assert.True(t, eth.PriceTick.Equal(decimal.RequireFromString("0.01")))
	// 1 contract of 0.01 ETH makes the base-unit step 0.01
	assert.True(t, eth.LotSize.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, int32(2), eth.PricePrecision)
}

func TestPlaceOrder_ContractMapping(t *testing.T) {
	var placed map[string]interface{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v5/public/instruments", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(instrumentsBody))
	})
	mux.HandleFunc("/api/v5/trade/order", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&placed))
		assert.NotEmpty(t, r.Header.Get("OK-ACCESS-SIGN"))
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"12345","clOrdId":"cli-1","sCode":"0","sMsg":""}]}`))
	})
	ex, _ := newTestExchange(t, mux)

	order, err := ex.PlaceOrder(context.Background(), &core.OrderRequest{
		Symbol:        "ETH",
		Side:          core.OrderSideBuy,
		Type:          core.OrderTypeLimit,
		Quantity:      decimal.RequireFromString("0.5"),
		Price:         decimal.RequireFromString("3000.5"),
		ClientOrderID: "cli-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "12345", order.VenueOrderID)
	assert.Equal(t, core.OrderStatusOpen, order.Status)
	assert.Equal(t, "ETH-USDT-SWAP", order.VenueSymbol)

	// 0.5 ETH at 0.01 ETH per contract is 50 contracts
	assert.Equal(t, "50", placed["sz"])
	assert.Equal(t, "ETH-USDT-SWAP", placed["instId"])
	assert.Equal(t, "cross", placed["tdMode"])
	assert.Equal(t, "buy", placed["side"])
	assert.Equal(t, "limit", placed["ordType"])
	assert.Equal(t, "3000.5", placed["px"])
}

func TestPlaceOrder_InnerRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v5/public/instruments", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(instrumentsBody))
	})
	mux.HandleFunc("/api/v5/trade/order", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"1","msg":"operation failed","data":[{"ordId":"","sCode":"51000","sMsg":"insufficient balance"}]}`))
	})
	ex, _ := newTestExchange(t, mux)

	_, err := ex.PlaceOrder(context.Background(), &core.OrderRequest{
		Symbol:   "ETH",
		Side:     core.OrderSideBuy,
		Type:     core.OrderTypeLimit,
		Quantity: decimal.RequireFromString("0.5"),
		Price:    decimal.RequireFromString("3000"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrOrderRejected), "envelope code 1 maps to rejection, got %v", err)
}

func TestGetOrder_NotFound(t *testing.T) {
	ex, _ := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"51603","msg":"Order does not exist","data":[]}`))
	}))

	order, err := ex.GetOrder(context.Background(), "ETH", "99999")
	require.NoError(t, err, "a venue-lost id is a status, not an error")
	assert.Equal(t, core.OrderStatusNotFound, order.Status)
	assert.Equal(t, "99999", order.VenueOrderID)
}

func TestGetOrder_Filled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v5/public/instruments", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(instrumentsBody))
	})
	mux.HandleFunc("/api/v5/trade/order", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ETH-USDT-SWAP", r.URL.Query().Get("instId"))
		assert.Equal(t, "12345", r.URL.Query().Get("ordId"))
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{
			"instId":"ETH-USDT-SWAP","ordId":"12345","px":"3000","sz":"50","side":"buy",
			"ordType":"limit","state":"filled","accFillSz":"50","avgPx":"2999.5",
			"fee":"-0.45","feeCcy":"USDT","cTime":"1700000000000","uTime":"1700000060000"}]}`))
	})
	ex, _ := newTestExchange(t, mux)

	order, err := ex.GetOrder(context.Background(), "ETH", "12345")
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, order.Status)
	// Contract sizes convert back to base units
	assert.True(t, order.FilledQuantity.Equal(decimal.RequireFromString("0.5")), "got %s", order.FilledQuantity)
	assert.True(t, order.AvgFillPrice.Equal(decimal.RequireFromString("2999.5")))
	assert.True(t, order.Commission.Equal(decimal.RequireFromString("0.45")), "fees are reported negative and stored positive")
	assert.Equal(t, "USDT", order.CommissionAsset)
}

func TestGetKlines_OldestFirst(t *testing.T) {
	ex, _ := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/candles", r.URL.Path)
		assert.Equal(t, "15m", r.URL.Query().Get("bar"))
		// Venue returns newest first
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[
			["1700001800000","103","104","102","103.5","10","0","0","0"],
			["1700000900000","102","103","101","103","12","0","0","1"],
			["1700000000000","100","102","99","102","15","0","0","1"]
		]}`))
	}))

	klines, err := ex.GetKlines(context.Background(), "ETH", "15m", 0, 0, 100)
	require.NoError(t, err)
	require.Len(t, klines, 3)

	assert.Equal(t, int64(1700000000000), klines[0].OpenTime)
	assert.Equal(t, int64(1700001800000), klines[2].OpenTime)
	assert.True(t, klines[0].Closed)
	assert.False(t, klines[2].Closed, "forming candle carries confirm flag 0")
	assert.Equal(t, 103.5, klines[2].Close)
}

func TestGetPositions_ShortContracts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v5/public/instruments", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(instrumentsBody))
	})
	mux.HandleFunc("/api/v5/account/positions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[
			{"instId":"ETH-USDT-SWAP","pos":"-10","avgPx":"3000","markPx":"2990","upl":"3","realizedPnl":"0","cTime":"1700000000000","uTime":"1700000060000"},
			{"instId":"BTC-USDT-SWAP","pos":"0","avgPx":"0","markPx":"60000","upl":"0","realizedPnl":"0","cTime":"0","uTime":"0"}
		]}`))
	})
	ex, _ := newTestExchange(t, mux)

	positions, err := ex.GetPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 1, "flat positions must be dropped")

	p := positions[0]
	assert.Equal(t, core.PositionSideShort, p.Side)
	assert.True(t, p.Quantity.Equal(decimal.RequireFromString("0.1")), "10 contracts of 0.01 ETH, got %s", p.Quantity)
	assert.True(t, p.SignedQuantity().IsNegative())
}

func TestCancelOrder_AlreadyGone(t *testing.T) {
	ex, _ := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"sCode":"51401","sMsg":"Cancellation failed as the order does not exist"}]}`))
	}))

	err := ex.CancelOrder(context.Background(), "ETH", "12345")
	assert.NoError(t, err, "cancelling an already-gone order is idempotent")
}

func TestGetBalances(t *testing.T) {
	ex, _ := newTestExchange(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/account/balance", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("OK-ACCESS-SIGN"))
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"details":[
			{"ccy":"USDT","availEq":"1000.5","frozenBal":"20"},
			{"ccy":"ETH","availEq":"0.2","frozenBal":"0"}
		]}]}`))
	}))

	balances, err := ex.GetBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "USDT", balances[0].Asset)
	assert.True(t, balances[0].Available.Equal(decimal.RequireFromString("1000.5")))
	assert.True(t, balances[0].Total().Equal(decimal.RequireFromString("1020.5")))
}

func TestMapVenueCode(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"0", nil},
		{"50014", apperrors.ErrRateLimitExceeded},
		{"51000", apperrors.ErrInsufficientFunds},
		{"51401", apperrors.ErrOrderNotFound},
		{"51603", apperrors.ErrOrderNotFound},
		{"50013", apperrors.ErrAuthenticationFailed},
		{"50001", apperrors.ErrSystemOverload},
		{"50027", apperrors.ErrInvalidOrderParameter},
		{"60999", apperrors.ErrOrderRejected}, // unmapped codes are rejections
	}
	for _, tc := range cases {
		err := mapVenueCode(tc.code, "msg")
		if tc.want == nil {
			assert.NoError(t, err, "code %s", tc.code)
			continue
		}
		assert.True(t, errors.Is(err, tc.want), "code %s mapped to %v", tc.code, err)
	}
}

func TestBarName(t *testing.T) {
	assert.Equal(t, "15m", barName("15m"))
	assert.Equal(t, "1H", barName("1h"))
	assert.Equal(t, "1D", barName("1d"))
}
