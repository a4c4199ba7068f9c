package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultFactory is the default store factory
type DefaultFactory struct {
	builders map[string]Builder
	mu       sync.RWMutex
}

// Builder is a function that creates a store from config
type Builder func(config Config) (Store, error)

var (
	// Global factory instance
	globalFactory = &DefaultFactory{
		builders: make(map[string]Builder),
	}
)

func init() {
	// The file store has no dependencies; database backends register
	// themselves from internal/store/factory.
	RegisterStoreType("file", newFile)
	RegisterStoreType("json", newFile)
}

func newFile(config Config) (Store, error) {
	fs, err := NewFileStore(config)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// RegisterStoreType registers a new store type with the global factory
func RegisterStoreType(storeType string, builder Builder) {
	globalFactory.RegisterStoreType(storeType, builder)
}

// CreateStore creates a store using the global factory
func CreateStore(config Config) (Store, error) {
	return globalFactory.CreateStore(config)
}

// SupportedTypes returns supported store types from the global factory
func SupportedTypes() []string {
	return globalFactory.SupportedTypes()
}

// RegisterStoreType registers a new store type
func (f *DefaultFactory) RegisterStoreType(storeType string, builder Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[storeType] = builder
}

// CreateStore creates a store based on the configuration.
// An empty type selects the file store.
func (f *DefaultFactory) CreateStore(config Config) (Store, error) {
	typ := strings.ToLower(strings.TrimSpace(config.Type))
	if typ == "" {
		typ = "file"
	}
	f.mu.RLock()
	builder, exists := f.builders[typ]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s (supported: %v)", ErrUnknownType, typ, f.SupportedTypes())
	}

	return builder(config)
}

// SupportedTypes returns a sorted list of supported store types
func (f *DefaultFactory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.builders))
	for storeType := range f.builders {
		types = append(types, storeType)
	}
	sort.Strings(types)
	return types
}
