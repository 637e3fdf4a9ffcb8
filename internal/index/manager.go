package index

import (
	"sort"
	"sync"

	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/domain/collection"
)

// Manager owns the in-process collections, keyed by name.
type Manager struct {
	mu          sync.RWMutex
	collections map[string]*Collection
}

// NewManager creates an empty collection manager.
func NewManager() *Manager {
	return &Manager{collections: make(map[string]*Collection)}
}

// Create registers a new collection for the schema.
func (m *Manager) Create(schema collection.Schema) (*Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.collections[schema.Name()]; exists {
		return nil, domain.NewConflict("a collection with name `%s` already exists", schema.Name())
	}
	col := NewCollection(schema)
	m.collections[schema.Name()] = col
	return col, nil
}

// Get returns the collection with the given name.
func (m *Manager) Get(name string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[name]
	if !ok {
		return nil, domain.NewNotFound("no collection with name `%s` found", name)
	}
	return col, nil
}

// Names returns all collection names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.collections))
	for n := range m.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Drop removes a collection.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[name]; !ok {
		return domain.NewNotFound("no collection with name `%s` found", name)
	}
	delete(m.collections, name)
	return nil
}
