// Package exchange resolves venue names to adapter instances
package exchange

import (
	"fmt"
	"strings"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
	"perp_trader/internal/exchange/backpack"
	"perp_trader/internal/exchange/hyperliquid"
	"perp_trader/internal/exchange/okx"
	"perp_trader/internal/exchange/ostium"
	"perp_trader/internal/mock"
)

// Compile-time contract checks for every adapter the factory can hand out.
var (
	_ core.IExchange = (*backpack.Exchange)(nil)
	_ core.IExchange = (*okx.Exchange)(nil)
	_ core.IExchange = (*hyperliquid.Exchange)(nil)
	_ core.IExchange = (*ostium.Exchange)(nil)
	_ core.IExchange = (*mock.Exchange)(nil)

	_ core.PositionLiquidator = (*ostium.Exchange)(nil)
)

// NewExchange creates the adapter for the named venue using its section of
// the configuration. The mock venue needs no credentials.
func NewExchange(exchangeName string, cfg *config.Config, logger core.ILogger) (core.IExchange, error) {
	name := strings.ToLower(exchangeName)
	if name == "mock" {
		return mock.NewExchange(), nil
	}

	exchangeConfig, exists := cfg.Exchanges[name]
	if !exists {
		return nil, fmt.Errorf("configuration not found for exchange: %s", exchangeName)
	}

	switch name {
	case "backpack":
		return backpack.New(&exchangeConfig, logger)
	case "okx":
		return okx.New(&exchangeConfig, logger)
	case "hyperliquid":
		return hyperliquid.New(&exchangeConfig, logger)
	case "ostium":
		return ostium.New(&exchangeConfig, logger)
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", exchangeName)
	}
}
