package source

import (
	"context"
	"sync"
)

// AdapterInfo describes a registered adapter for API discovery.
type AdapterInfo struct {
	Type        string `json:"type"`         // "postgres", "sqlserver", "rest", "internal_service"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`
}

// Registration contains info plus factories for creating adapters. The config
// map is the data source's decrypted connection config. RunnerFactory is nil
// for non-relational kinds.
type Registration struct {
	Info          AdapterInfo
	ProberFactory func(ctx context.Context, config map[string]any) (Prober, error)
	RunnerFactory func(ctx context.Context, config map[string]any) (Runner, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapter types.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// GetProberFactory returns the prober factory for an adapter type.
// Returns nil if the type is not registered.
func GetProberFactory(adapterType string) func(ctx context.Context, config map[string]any) (Prober, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[adapterType]; ok {
		return reg.ProberFactory
	}
	return nil
}

// GetRunnerFactory returns the runner factory for an adapter type.
// Returns nil if the type is not registered or does not execute SQL.
func GetRunnerFactory(adapterType string) func(ctx context.Context, config map[string]any) (Runner, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[adapterType]; ok {
		return reg.RunnerFactory
	}
	return nil
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(adapterType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[adapterType]
	return ok
}
