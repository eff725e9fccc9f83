package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a strategy instance for the manager. name is
// "{class}_{portfolio}".
type Factory func(m *Manager, name, portfolioName string, setting map[string]any) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// RegisterClass adds a strategy class to the registry. Classes register
// themselves from init functions; duplicate names panic at startup.
func RegisterClass(className string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[className]; dup {
		panic(fmt.Sprintf("strategy class %q registered twice", className))
	}
	registry[className] = f
}

func classFactory(className string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[className]
	return f, ok
}

// ClassNames lists the registered strategy classes.
func ClassNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
