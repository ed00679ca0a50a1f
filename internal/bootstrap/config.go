package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"perp_trader/internal/config"
)

// LoadConfig reads and validates the config file, then runs environment
// checks that schema validation cannot cover. An empty path yields the
// built-in defaults (mock venue, in-memory persistence).
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

// checkPreFlight verifies the process can actually run with this config
func checkPreFlight(cfg *config.Config) error {
	if cfg.App.Exchange != "mock" {
		venueCfg, err := cfg.GetExchangeConfig()
		if err != nil {
			return err
		}
		if venueCfg.APIKey == "" && venueCfg.Ed25519Seed == "" && venueCfg.PrivateKey == "" {
			return fmt.Errorf("exchange %q has no credentials configured", cfg.App.Exchange)
		}
	}

	if cfg.Persistence.Driver == "sqlite" {
		if cfg.Persistence.Path == "" {
			return fmt.Errorf("sqlite persistence needs a path")
		}
		if dir := filepath.Dir(cfg.Persistence.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("sqlite directory: %w", err)
			}
		}
	}
	return nil
}
