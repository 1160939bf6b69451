// Package registry holds compile-time name -> constructor tables for the
// listener's pluggable backends (client stores and binary-data handlers), the
// Go analogue of a string-keyed plugin-factory map. Transports and agent-bus
// bridges are not registered here.
// There is no dynamic loading: each backend package registers itself from
// an init() function, and cmd/hivemind-master looks the chosen name up.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jarbas-hive/hivemind-go/binarydata"
	"github.com/jarbas-hive/hivemind-go/store"
)

// StoreFactory builds a store.Store from a backend-specific DSN string (a
// file path for jsonstore, ignored for memstore).
type StoreFactory func(dsn string) (store.Store, error)

// BinaryHandlerFactory builds a binarydata.Handler from backend-specific
// configuration.
type BinaryHandlerFactory func(cfg map[string]string) (binarydata.Handler, error)

var (
	mu       sync.RWMutex
	stores   = map[string]StoreFactory{}
	handlers = map[string]BinaryHandlerFactory{}
)

func init() {
	// "noop" has no backend package of its own to self-register from, so it
	// is wired in directly here rather than left unavailable by name.
	RegisterBinaryHandler("noop", func(map[string]string) (binarydata.Handler, error) {
		return &binarydata.NoopHandler{}, nil
	})
}

// RegisterStore makes a store backend available under name. It panics on a
// duplicate name, the same fail-fast contract as a package-init collision.
func RegisterStore(name string, f StoreFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := stores[name]; dup {
		panic(fmt.Sprintf("registry: store backend %q already registered", name))
	}
	stores[name] = f
}

// NewStore constructs the named store backend.
func NewStore(name, dsn string) (store.Store, error) {
	mu.RLock()
	f, ok := stores[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown store backend %q (available: %v)", name, StoreNames())
	}
	return f(dsn)
}

// StoreNames lists registered store backend names in sorted order.
func StoreNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(stores))
	for n := range stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RegisterBinaryHandler makes a binary-data handler backend available under name.
func RegisterBinaryHandler(name string, f BinaryHandlerFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := handlers[name]; dup {
		panic(fmt.Sprintf("registry: binary handler backend %q already registered", name))
	}
	handlers[name] = f
}

// NewBinaryHandler constructs the named binary-data handler backend.
func NewBinaryHandler(name string, cfg map[string]string) (binarydata.Handler, error) {
	mu.RLock()
	f, ok := handlers[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown binary handler backend %q (available: %v)", name, BinaryHandlerNames())
	}
	return f(cfg)
}

// BinaryHandlerNames lists registered binary-handler backend names in sorted order.
func BinaryHandlerNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(handlers))
	for n := range handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
