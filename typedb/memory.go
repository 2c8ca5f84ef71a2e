package typedb

import (
	"fmt"
	"iter"
	"sync"

	"github.com/elliotchance/orderedmap"
)

// Entry is one stored type.
type Entry struct {
	Handle Handle
	Layout Layout
}

// Memory is an insertion-ordered, in-memory Database. It is safe for
// concurrent use.
type Memory struct {
	mu     sync.RWMutex
	types  *orderedmap.OrderedMap // name -> *Entry
	nextID uint64
}

// NewMemory creates an empty database.
func NewMemory() *Memory {
	return &Memory{types: orderedmap.NewOrderedMap()}
}

func (m *Memory) entry(name string) (*Entry, bool) {
	v, ok := m.types.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// DefineType stores a new type.
func (m *Memory) DefineType(name string, layout Layout) (Handle, error) {
	if err := layout.Validate(); err != nil {
		return Handle{}, fmt.Errorf("typedb: define %s: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entry(name); ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrNameConflict, name)
	}
	return m.insert(name, layout), nil
}

func (m *Memory) insert(name string, layout Layout) Handle {
	m.nextID++
	e := &Entry{Handle: Handle{ID: m.nextID, Name: name}, Layout: layout}
	m.types.Set(name, e)
	return e.Handle
}

// OverwriteType replaces the layout of an existing type, keeping its
// handle, or defines it when absent.
func (m *Memory) OverwriteType(name string, layout Layout) (Handle, error) {
	if err := layout.Validate(); err != nil {
		return Handle{}, fmt.Errorf("typedb: overwrite %s: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entry(name); ok {
		e.Layout = layout
		return e.Handle, nil
	}
	return m.insert(name, layout), nil
}

// Lookup returns the layout stored under name.
func (m *Memory) Lookup(name string) (Layout, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entry(name)
	if !ok {
		return Layout{}, false
	}
	return e.Layout, true
}

// Handle returns the handle of the type stored under name.
func (m *Memory) Handle(name string) (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entry(name)
	if !ok {
		return Handle{}, false
	}
	return e.Handle, true
}

// RemoveType deletes the type stored under name.
func (m *Memory) RemoveType(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.types.Delete(name) {
		return fmt.Errorf("%w: %s", ErrTypeNotFound, name)
	}
	return nil
}

// Len returns the number of stored types.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types.Len()
}

// All returns an iterator over stored types in definition order.
func (m *Memory) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		m.mu.RLock()
		entries := make([]Entry, 0, m.types.Len())
		for el := m.types.Front(); el != nil; el = el.Next() {
			entries = append(entries, *el.Value.(*Entry))
		}
		m.mu.RUnlock()

		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}
