package rtti

import (
	"iter"

	"github.com/elliotchance/orderedmap"
)

// Arena owns every record decoded during one run, indexed by address in
// first-seen order. Records shared by several locators are decoded once.
type Arena struct {
	dec         *Decoder
	types       *orderedmap.OrderedMap // uint64 -> *TypeDescriptor
	hierarchies *orderedmap.OrderedMap // uint64 -> *ClassHierarchyDescriptor
	bases       *orderedmap.OrderedMap // uint64 -> *BaseClassDescriptor
	locators    *orderedmap.OrderedMap // uint64 -> *CompleteObjectLocator
	nodes       *orderedmap.OrderedMap // CHD address -> *HierarchyNode
}

// NewArena creates an empty arena that decodes through dec.
func NewArena(dec *Decoder) *Arena {
	return &Arena{
		dec:         dec,
		types:       orderedmap.NewOrderedMap(),
		hierarchies: orderedmap.NewOrderedMap(),
		bases:       orderedmap.NewOrderedMap(),
		locators:    orderedmap.NewOrderedMap(),
		nodes:       orderedmap.NewOrderedMap(),
	}
}

func cached[T any](m *orderedmap.OrderedMap, addr uint64, decode func(uint64) (*T, error)) (*T, error) {
	if v, ok := m.Get(addr); ok {
		return v.(*T), nil
	}
	rec, err := decode(addr)
	if err != nil {
		return nil, err
	}
	m.Set(addr, rec)
	return rec, nil
}

// AddChain records the parts of a validated chain.
func (a *Arena) AddChain(c *Chain) {
	a.locators.Set(c.Locator.Address, c.Locator)
	a.types.Set(c.Type.Address, c.Type)
	a.hierarchies.Set(c.Hierarchy.Address, c.Hierarchy)
	a.bases.Set(c.Self.Address, c.Self)
}

// TypeDescriptor returns the type descriptor at addr, decoding it once.
func (a *Arena) TypeDescriptor(addr uint64) (*TypeDescriptor, error) {
	return cached(a.types, addr, a.dec.DecodeTypeDescriptor)
}

// ClassHierarchy returns the hierarchy descriptor at addr.
func (a *Arena) ClassHierarchy(addr uint64) (*ClassHierarchyDescriptor, error) {
	return cached(a.hierarchies, addr, a.dec.DecodeClassHierarchyDescriptor)
}

// BaseClass returns the base class descriptor at addr.
func (a *Arena) BaseClass(addr uint64) (*BaseClassDescriptor, error) {
	return cached(a.bases, addr, a.dec.DecodeBaseClassDescriptor)
}

// Locator returns a recorded locator.
func (a *Arena) Locator(addr uint64) (*CompleteObjectLocator, bool) {
	v, ok := a.locators.Get(addr)
	if !ok {
		return nil, false
	}
	return v.(*CompleteObjectLocator), true
}

// Node returns the hierarchy node built for the descriptor at chd.
func (a *Arena) Node(chd uint64) (*HierarchyNode, bool) {
	v, ok := a.nodes.Get(chd)
	if !ok {
		return nil, false
	}
	return v.(*HierarchyNode), true
}

func (a *Arena) addNode(n *HierarchyNode) {
	a.nodes.Set(n.Descriptor.Address, n)
}

// Nodes returns the hierarchy nodes in creation order.
func (a *Arena) Nodes() iter.Seq[*HierarchyNode] {
	return func(yield func(*HierarchyNode) bool) {
		for el := a.nodes.Front(); el != nil; el = el.Next() {
			if !yield(el.Value.(*HierarchyNode)) {
				return
			}
		}
	}
}

// Len returns the number of hierarchy nodes.
func (a *Arena) Len() int {
	return a.nodes.Len()
}
