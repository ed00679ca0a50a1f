package strategy

import (
	"fmt"
	"sort"
	"sync"

	"perp_trader/internal/config"
	"perp_trader/internal/core"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register makes a strategy constructor available by name. Duplicate names
// panic; registration happens from package init functions.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = ctor
}

// New builds the named strategy from configuration
func New(name string, cfg *config.Config, logger core.ILogger) (Strategy, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (registered: %v)", name, Names())
	}
	return ctor(cfg, logger)
}

// Names lists registered strategies in sorted order
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
