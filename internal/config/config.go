// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig                 `yaml:"app"`
	Exchanges   map[string]ExchangeConfig `yaml:"exchanges"`
	Trading     TradingConfig             `yaml:"trading"`
	Risk        RiskConfig                `yaml:"risk"`
	Grid        GridConfig                `yaml:"grid"`
	Persistence PersistenceConfig         `yaml:"persistence"`
	Alert       AlertConfig               `yaml:"alert"`
	Timing      TimingConfig              `yaml:"timing"`
	Concurrency ConcurrencyConfig         `yaml:"concurrency"`
	Telemetry   TelemetryConfig           `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Exchange string `yaml:"exchange"` // venue the live engine trades on
	Strategy string `yaml:"strategy"` // registered strategy name
	LogLevel string `yaml:"log_level"`
}

// ExchangeConfig contains venue-specific credentials and endpoints
type ExchangeConfig struct {
	APIKey      string  `yaml:"api_key"`
	SecretKey   Secret  `yaml:"secret_key"`
	Passphrase  Secret  `yaml:"passphrase"`   // HMAC venues
	Ed25519Seed Secret  `yaml:"ed25519_seed"` // EdDSA venues, base64
	PrivateKey  Secret  `yaml:"private_key"`  // EVM venues, hex
	RPCURL      string  `yaml:"rpc_url"`      // on-chain venues
	IndexerURL  string  `yaml:"indexer_url"`  // on-chain venues
	BaseURL     string  `yaml:"base_url"`     // optional REST override
	WSURL       string  `yaml:"ws_url"`       // optional stream override
	FeeRate     float64 `yaml:"fee_rate"`
	Testnet     bool    `yaml:"testnet"`
}

// TradingConfig contains live-engine trading parameters
type TradingConfig struct {
	Symbols           []string `yaml:"symbols"`
	KlineInterval     string   `yaml:"kline_interval"`
	Leverage          int      `yaml:"leverage"`
	MaxPositionSize   float64  `yaml:"max_position_size"`   // fraction of capital usable as margin per check
	MaxMarginUsage    float64  `yaml:"max_margin_usage"`    // dispatch gate on projected total margin
	StopLossPercent   float64  `yaml:"stop_loss_percent"`   // leveraged-PnL stop for the position monitor
	TakeProfitPercent float64  `yaml:"take_profit_percent"` // leveraged-PnL take for the position monitor
	StopLossOffset    float64  `yaml:"stop_loss_offset"`    // pre-trade stop price offset from current
	TakeProfitOffset  float64  `yaml:"take_profit_offset"`  // pre-trade take price offset from current
	QuantityPrecision int32    `yaml:"quantity_precision"`
}

// RiskConfig contains risk-manager settings
type RiskConfig struct {
	DailyLossLimit float64 `yaml:"daily_loss_limit"` // absolute quote-currency ceiling
	MaxDrawdown    float64 `yaml:"max_drawdown"`     // fraction of peak value
	VaRConfidence  float64 `yaml:"var_confidence"`
}

// GridConfig contains grid-instance defaults
type GridConfig struct {
	Symbol            string  `yaml:"symbol"`
	LowerPrice        float64 `yaml:"lower_price"`
	UpperPrice        float64 `yaml:"upper_price"`
	GridCount         int     `yaml:"grid_count"`
	InvestmentPerGrid float64 `yaml:"investment_per_grid"`
	Leverage          int     `yaml:"leverage"`
	Mode              string  `yaml:"mode"` // long_short, long_only, short_only
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct"`
	StopLossPct       float64 `yaml:"stop_loss_pct"`
	FeeRate           float64 `yaml:"fee_rate"`
	MinOrderValue     float64 `yaml:"min_order_value"`
}

// PersistenceConfig selects the sink backing
type PersistenceConfig struct {
	Driver string `yaml:"driver"` // sqlite or memory
	Path   string `yaml:"path"`
}

// AlertConfig configures the outbound webhook notifier
type AlertConfig struct {
	WebhookURL string `yaml:"webhook_url"` // empty disables alerts
}

// TimingConfig contains loop cadences in seconds
type TimingConfig struct {
	OrderPollInterval       int `yaml:"order_poll_interval"`
	PositionMonitorInterval int `yaml:"position_monitor_interval"`
	SnapshotInterval        int `yaml:"snapshot_interval"`
	HeartbeatInterval       int `yaml:"heartbeat_interval"`
	CapitalCacheSeconds     int `yaml:"capital_cache_seconds"`
	GridMonitorInterval     int `yaml:"grid_monitor_interval"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	WorkerPoolSize   int `yaml:"worker_pool_size"`
	WorkerPoolBuffer int `yaml:"worker_pool_buffer"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	for _, err := range []error{
		c.validateAppConfig(),
		c.validateExchanges(),
		c.validateTradingConfig(),
		c.validateRiskConfig(),
		c.validateGridConfig(),
		c.validatePersistenceConfig(),
	} {
		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	validExchanges := []string{"backpack", "okx", "hyperliquid", "ostium", "mock"}

	if c.App.Exchange == "" {
		return ValidationError{
			Field:   "app.exchange",
			Message: "an exchange must be selected",
		}
	}

	if !contains(validExchanges, c.App.Exchange) {
		return ValidationError{
			Field:   "app.exchange",
			Value:   c.App.Exchange,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validExchanges, ", ")),
		}
	}

	if c.App.Exchange != "mock" {
		if _, exists := c.Exchanges[c.App.Exchange]; !exists {
			return ValidationError{
				Field:   "app.exchange",
				Value:   c.App.Exchange,
				Message: "exchange configuration not found in exchanges section",
			}
		}
	}

	validLevels := []string{"DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL"}
	if c.App.LogLevel != "" && !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}

	return nil
}

func (c *Config) validateExchanges() error {
	for name, exchange := range c.Exchanges {
		switch name {
		case "backpack":
			if exchange.APIKey == "" || exchange.Ed25519Seed == "" {
				return ValidationError{
					Field:   fmt.Sprintf("exchanges.%s", name),
					Message: "api_key and ed25519_seed are required",
				}
			}
		case "okx":
			if exchange.APIKey == "" || exchange.SecretKey == "" || exchange.Passphrase == "" {
				return ValidationError{
					Field:   fmt.Sprintf("exchanges.%s", name),
					Message: "api_key, secret_key and passphrase are required",
				}
			}
		case "hyperliquid":
			if exchange.PrivateKey == "" {
				return ValidationError{
					Field:   fmt.Sprintf("exchanges.%s.private_key", name),
					Message: "private key is required",
				}
			}
		case "ostium":
			if exchange.PrivateKey == "" || exchange.RPCURL == "" {
				return ValidationError{
					Field:   fmt.Sprintf("exchanges.%s", name),
					Message: "private_key and rpc_url are required",
				}
			}
		}

		if exchange.FeeRate < 0 || exchange.FeeRate > 1 {
			return ValidationError{
				Field:   fmt.Sprintf("exchanges.%s.fee_rate", name),
				Value:   exchange.FeeRate,
				Message: "fee rate must be within [0, 1]",
			}
		}
	}

	return nil
}

func (c *Config) validateTradingConfig() error {
	if len(c.Trading.Symbols) == 0 {
		return ValidationError{
			Field:   "trading.symbols",
			Message: "at least one trading symbol is required",
		}
	}

	if c.Trading.Leverage <= 0 || c.Trading.Leverage > 125 {
		return ValidationError{
			Field:   "trading.leverage",
			Value:   c.Trading.Leverage,
			Message: "leverage must be within (0, 125]",
		}
	}

	if c.Trading.MaxPositionSize <= 0 || c.Trading.MaxPositionSize > 1 {
		return ValidationError{
			Field:   "trading.max_position_size",
			Value:   c.Trading.MaxPositionSize,
			Message: "max position size must be within (0, 1]",
		}
	}

	return nil
}

func (c *Config) validateRiskConfig() error {
	if c.Risk.DailyLossLimit < 0 {
		return ValidationError{
			Field:   "risk.daily_loss_limit",
			Value:   c.Risk.DailyLossLimit,
			Message: "daily loss limit must not be negative",
		}
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown > 1 {
		return ValidationError{
			Field:   "risk.max_drawdown",
			Value:   c.Risk.MaxDrawdown,
			Message: "max drawdown must be within (0, 1]",
		}
	}
	return nil
}

func (c *Config) validateGridConfig() error {
	if c.Grid.Symbol == "" {
		return nil // grid disabled
	}

	if c.Grid.LowerPrice <= 0 || c.Grid.UpperPrice <= c.Grid.LowerPrice {
		return ValidationError{
			Field:   "grid.upper_price",
			Value:   c.Grid.UpperPrice,
			Message: "grid band must satisfy 0 < lower < upper",
		}
	}
	if c.Grid.GridCount < 2 {
		return ValidationError{
			Field:   "grid.grid_count",
			Value:   c.Grid.GridCount,
			Message: "grid count must be at least 2",
		}
	}
	validModes := []string{"long_short", "long_only", "short_only"}
	if !contains(validModes, c.Grid.Mode) {
		return ValidationError{
			Field:   "grid.mode",
			Value:   c.Grid.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validModes, ", ")),
		}
	}
	return nil
}

func (c *Config) validatePersistenceConfig() error {
	switch c.Persistence.Driver {
	case "", "memory":
		return nil
	case "sqlite":
		if c.Persistence.Path == "" {
			return ValidationError{
				Field:   "persistence.path",
				Message: "sqlite driver requires a database path",
			}
		}
		return nil
	default:
		return ValidationError{
			Field:   "persistence.driver",
			Value:   c.Persistence.Driver,
			Message: "must be one of: sqlite, memory",
		}
	}
}

// GetExchangeConfig returns the configuration for the selected exchange
func (c *Config) GetExchangeConfig() (*ExchangeConfig, error) {
	exchange, exists := c.Exchanges[c.App.Exchange]
	if !exists {
		return nil, fmt.Errorf("exchange configuration not found for: %s", c.App.Exchange)
	}
	return &exchange, nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Exchanges = make(map[string]ExchangeConfig, len(c.Exchanges))
	for name, exchange := range c.Exchanges {
		exchange.APIKey = maskString(exchange.APIKey)
		configCopy.Exchanges[name] = exchange
	}

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the built-in defaults; LoadConfig overlays the file
// on top of them.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Exchange: "mock",
			Strategy: "mean_reversion",
			LogLevel: "INFO",
		},
		Exchanges: map[string]ExchangeConfig{},
		Trading: TradingConfig{
			Symbols:           []string{"ETH_USDC_PERP"},
			KlineInterval:     "15m",
			Leverage:          50,
			MaxPositionSize:   0.05,
			MaxMarginUsage:    0.10,
			StopLossPercent:   0.50,
			TakeProfitPercent: 1.00,
			StopLossOffset:    0.02,
			TakeProfitOffset:  0.03,
			QuantityPrecision: 4,
		},
		Risk: RiskConfig{
			DailyLossLimit: 500.0,
			MaxDrawdown:    0.20,
			VaRConfidence:  0.95,
		},
		Grid: GridConfig{
			Mode:              "long_short",
			DailyLossLimitPct: 0.30,
			StopLossPct:       0.50,
			FeeRate:           0.0004,
			MinOrderValue:     5.0,
			Leverage:          10,
		},
		Persistence: PersistenceConfig{
			Driver: "memory",
		},
		Timing: TimingConfig{
			OrderPollInterval:       2,
			PositionMonitorInterval: 30,
			SnapshotInterval:        60,
			HeartbeatInterval:       60,
			CapitalCacheSeconds:     10,
			GridMonitorInterval:     2,
		},
		Concurrency: ConcurrencyConfig{
			WorkerPoolSize:   8,
			WorkerPoolBuffer: 256,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: false,
		},
	}
}
