package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "api_key: ${TEST_API_KEY}",
			envVars: map[string]string{
				"TEST_API_KEY": "test_key_123",
			},
			expected: "api_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "api_key: ${API_KEY}\nsecret: ${SECRET_KEY}",
			envVars: map[string]string{
				"API_KEY":    "key_value",
				"SECRET_KEY": "secret_value",
			},
			expected: "api_key: key_value\nsecret: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
		{
			name:  "mixed static and env vars",
			input: "static_value: 123\napi_key: ${TEST_KEY}",
			envVars: map[string]string{
				"TEST_KEY": "dynamic_key",
			},
			expected: "static_value: 123\napi_key: dynamic_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "mock", cfg.App.Exchange)
	assert.Equal(t, 50, cfg.Trading.Leverage)
	assert.Equal(t, 0.05, cfg.Trading.MaxPositionSize)
	assert.Equal(t, 2, cfg.Timing.OrderPollInterval)
}

func TestValidate_AppConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Exchange = "binance"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.exchange")

	cfg = DefaultConfig()
	cfg.App.Exchange = "okx" // no credentials section configured
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange configuration not found")
}

func TestValidate_ExchangeCredentials(t *testing.T) {
	tests := []struct {
		name    string
		venue   string
		cfg     ExchangeConfig
		wantErr string
	}{
		{
			name:    "okx missing passphrase",
			venue:   "okx",
			cfg:     ExchangeConfig{APIKey: "k", SecretKey: "s"},
			wantErr: "passphrase",
		},
		{
			name:    "backpack missing seed",
			venue:   "backpack",
			cfg:     ExchangeConfig{APIKey: "k"},
			wantErr: "ed25519_seed",
		},
		{
			name:    "hyperliquid missing key",
			venue:   "hyperliquid",
			cfg:     ExchangeConfig{},
			wantErr: "private key",
		},
		{
			name:    "ostium missing rpc",
			venue:   "ostium",
			cfg:     ExchangeConfig{PrivateKey: "0xabc"},
			wantErr: "rpc_url",
		},
		{
			name:    "fee rate out of range",
			venue:   "okx",
			cfg:     ExchangeConfig{APIKey: "k", SecretKey: "s", Passphrase: "p", FeeRate: 1.5},
			wantErr: "fee rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.App.Exchange = tt.venue
			cfg.Exchanges[tt.venue] = tt.cfg
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_TradingConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trading.Symbols = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trading.symbols")

	cfg = DefaultConfig()
	cfg.Trading.Leverage = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Trading.MaxPositionSize = 1.5
	require.Error(t, cfg.Validate())
}

func TestValidate_GridConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Grid.Symbol = "" // disabled grid needs no band
	require.NoError(t, cfg.Validate())

	cfg.Grid.Symbol = "ETH_USDC_PERP"
	cfg.Grid.LowerPrice = 3500
	cfg.Grid.UpperPrice = 3000
	cfg.Grid.GridCount = 10
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid band")

	cfg.Grid.LowerPrice = 3000
	cfg.Grid.UpperPrice = 3500
	cfg.Grid.GridCount = 1
	require.Error(t, cfg.Validate())

	cfg.Grid.GridCount = 10
	cfg.Grid.Mode = "both_ways"
	require.Error(t, cfg.Validate())
}

func TestValidate_PersistenceConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Persistence.Driver = "sqlite"
	cfg.Persistence.Path = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistence.path")

	cfg.Persistence.Path = "trader.db"
	require.NoError(t, cfg.Validate())

	cfg.Persistence.Driver = "postgres"
	require.Error(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	os.Setenv("TEST_OKX_SECRET", "s3cret")
	defer os.Unsetenv("TEST_OKX_SECRET")

	yaml := `
app:
  exchange: okx
  strategy: mean_reversion
  log_level: DEBUG
exchanges:
  okx:
    api_key: key
    secret_key: ${TEST_OKX_SECRET}
    passphrase: phrase
    fee_rate: 0.0005
trading:
  symbols: ["ETH-USDT-SWAP"]
  leverage: 20
grid:
  symbol: ETH-USDT-SWAP
  lower_price: 3000
  upper_price: 3500
  grid_count: 10
  investment_per_grid: 10
persistence:
  driver: memory
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "okx", cfg.App.Exchange)
	assert.Equal(t, 20, cfg.Trading.Leverage)
	assert.Equal(t, "s3cret", cfg.Exchanges["okx"].SecretKey.Reveal())
	// Defaults survive a partial file
	assert.Equal(t, "15m", cfg.Trading.KlineInterval)
	assert.Equal(t, 0.30, cfg.Grid.DailyLossLimitPct)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestConfigString_MasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchanges["okx"] = ExchangeConfig{
		APIKey:     "super-long-api-key-value",
		SecretKey:  "secret_key_value",
		Passphrase: "passphrase_value",
	}

	s := cfg.String()
	assert.NotContains(t, s, "secret_key_value")
	assert.NotContains(t, s, "passphrase_value")
	assert.NotContains(t, s, "super-long-api-key-value")
	assert.True(t, strings.Contains(s, "supe") && strings.Contains(s, "alue"),
		"api key should be partially masked, got: %s", s)
}
