// Package cache holds the in-memory tier of the directory: insertion-ordered
// maps keyed by entity id and the inspector that sweeps expired entries.
package cache

import (
	"sync"
	"time"
)

// Expirable is anything that knows when it stops being valid.
type Expirable interface {
	ExpiresAt() time.Time
}

// OrderedMap is a mutex-guarded map that remembers insertion order.
// Re-putting an existing key keeps its position.
type OrderedMap[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
	keys  []K
}

func NewOrderedMap[K comparable, V any]() *OrderedMap[K, V] {
	return &OrderedMap[K, V]{items: make(map[K]V)}
}

func (m *OrderedMap[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *OrderedMap[K, V]) Put(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.items[key] = value
}

// Remove deletes key and returns the value it held.
func (m *OrderedMap[K, V]) Remove(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(key)
}

func (m *OrderedMap[K, V]) removeLocked(key K) (V, bool) {
	v, ok := m.items[key]
	if !ok {
		return v, false
	}
	delete(m.items, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return v, true
}

func (m *OrderedMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Values returns a snapshot in insertion order.
func (m *OrderedMap[K, V]) Values() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]V, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.items[k])
	}
	return out
}

func (m *OrderedMap[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[K]V)
	m.keys = nil
}

// RemoveIf deletes every entry for which match returns true and returns
// the removed values in insertion order.
func (m *OrderedMap[K, V]) RemoveIf(match func(V) bool) []V {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []V
	kept := m.keys[:0]
	for _, k := range m.keys {
		v := m.items[k]
		if match(v) {
			delete(m.items, k)
			removed = append(removed, v)
			continue
		}
		kept = append(kept, k)
	}
	m.keys = kept
	return removed
}
