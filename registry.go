package xpub

import (
	"errors"
	"sort"
	"sync"
)

// BackendFactory turns a topic and a config blob into a ConnectionFactory.
type BackendFactory func(topic string, cfg map[string]any) (ConnectionFactory, error)

var (
	backendRegistryMu sync.RWMutex
	backendRegistry   = map[string]BackendFactory{}
)

// RegisterBackend registers a broker adapter.
func RegisterBackend(name string, factory BackendFactory) error {
	if name == "" {
		return errors.New("backend name must not be empty")
	}
	if factory == nil {
		return errors.New("backend factory must not be nil")
	}
	backendRegistryMu.Lock()
	backendRegistry[name] = factory
	backendRegistryMu.Unlock()
	return nil
}

// NewConnectionFactory resolves a registered backend by name.
func NewConnectionFactory(name, topic string, cfg map[string]any) (ConnectionFactory, error) {
	backendRegistryMu.RLock()
	f, ok := backendRegistry[name]
	backendRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownBackend{name: name}
	}
	return f(topic, cfg)
}

// Backends lists registered backend names in sorted order.
func Backends() []string {
	backendRegistryMu.RLock()
	names := make([]string, 0, len(backendRegistry))
	for n := range backendRegistry {
		names = append(names, n)
	}
	backendRegistryMu.RUnlock()
	sort.Strings(names)
	return names
}
