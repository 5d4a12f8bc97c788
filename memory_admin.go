// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formnavigator

import (
	"context"
	"sync"
)

// MemoryConfigurationAdmin is a ConfigurationAdmin holding configurations in memory.
type MemoryConfigurationAdmin struct {
	mu        sync.RWMutex
	factories map[string][]Configuration
}

// NewMemoryConfigurationAdmin returns an empty MemoryConfigurationAdmin.
func NewMemoryConfigurationAdmin() *MemoryConfigurationAdmin {
	return &MemoryConfigurationAdmin{
		factories: make(map[string][]Configuration),
	}
}

// Add registers configurations under factoryPID, after any already registered.
func (m *MemoryConfigurationAdmin) Add(factoryPID string, configurations ...Configuration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.factories[factoryPID] = append(m.factories[factoryPID], copyConfigurations(configurations)...)
}

// Reset removes every configuration registered under factoryPID.
func (m *MemoryConfigurationAdmin) Reset(factoryPID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.factories, factoryPID)
}

func (m *MemoryConfigurationAdmin) ListConfigurations(_ context.Context, filter string) ([]Configuration, error) {
	factoryPID, err := ParseFactoryFilter(filter)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	configurations, ok := m.factories[factoryPID]
	if !ok || len(configurations) == 0 {
		return nil, nil
	}

	return copyConfigurations(configurations), nil
}
