package grid

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"perp_trader/internal/core"
)

// Manager is the thread-safe registry of grid instances
type Manager struct {
	mu        sync.Mutex
	instances map[string]*Instance
	logger    core.ILogger
}

func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		instances: make(map[string]*Instance),
		logger:    logger.WithField("component", "grid_manager"),
	}
}

// Add registers an instance under its id
func (m *Manager) Add(instance *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.instances[instance.ID]; exists {
		return fmt.Errorf("grid instance %s already registered", instance.ID)
	}
	m.instances[instance.ID] = instance
	return nil
}

// Get looks an instance up by id
func (m *Manager) Get(id string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	instance, ok := m.instances[id]
	return instance, ok
}

// Remove stops and deregisters one instance
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	instance, ok := m.instances[id]
	delete(m.instances, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("grid instance %s not found", id)
	}
	return instance.Stop(ctx)
}

// IDs lists registered instance ids in sorted order
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.instances))
	for id := range m.instances {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StopAll stops every instance; errors are logged, not aggregated
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	instances := make([]*Instance, 0, len(m.instances))
	for _, instance := range m.instances {
		instances = append(instances, instance)
	}
	m.instances = make(map[string]*Instance)
	m.mu.Unlock()

	for _, instance := range instances {
		if err := instance.Stop(ctx); err != nil {
			m.logger.Error("grid stop failed", "instance", instance.ID, "error", err)
		}
	}
}
