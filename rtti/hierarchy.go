package rtti

import (
	"slices"

	mapset "github.com/deckarep/golang-set"
)

// BaseEdge is one entry of a class's base class array, the class itself
// excluded.
type BaseEdge struct {
	Name       ClassName     `json:"name"`
	Offset     int64         `json:"offset"` // member displacement of the base subobject
	Where      PMD           `json:"where"`
	Attributes BCDAttributes `json:"attributes"`
	Descriptor uint64        `json:"descriptor"`
	// Parent is the display name of the class that directly contains this
	// base; Direct is set when that is the class itself.
	Parent            string `json:"parent"`
	Direct            bool   `json:"direct"`
	NumContainedBases uint32 `json:"numContainedBases"`
}

// HierarchyNode is a recovered class with its bases, locators and
// vftables.
type HierarchyNode struct {
	Name         ClassName
	Descriptor   *ClassHierarchyDescriptor
	Attributes   CHDAttributes
	Bases        []BaseEdge
	VirtualBases []BaseEdge
	Locators     []*CompleteObjectLocator
	Vftables     []*Vftable
}

func (n *HierarchyNode) addLocator(col *CompleteObjectLocator) {
	if !slices.ContainsFunc(n.Locators, func(c *CompleteObjectLocator) bool { return c.Address == col.Address }) {
		n.Locators = append(n.Locators, col)
	}
}

// ForBase names the non-virtual base whose subobject starts at offset, or
// returns "" for the primary table.
func (n *HierarchyNode) ForBase(offset uint32) string {
	if offset == 0 {
		return ""
	}
	for _, b := range n.Bases {
		if b.Offset == int64(offset) {
			return b.Name.Display
		}
	}
	return ""
}

// HierarchyBuilder turns validated chains into hierarchy nodes.
type HierarchyBuilder struct {
	arena *Arena
	names *NameCache
}

// NewHierarchyBuilder creates a builder storing nodes in arena.
func NewHierarchyBuilder(arena *Arena, names *NameCache) *HierarchyBuilder {
	return &HierarchyBuilder{arena: arena, names: names}
}

type baseFrame struct {
	name      string
	remaining uint32
}

// Build returns the node for the chain's hierarchy descriptor, creating it
// on first use. Further locators sharing the descriptor attach to the same
// node.
func (b *HierarchyBuilder) Build(c *Chain) (*HierarchyNode, error) {
	if n, ok := b.arena.Node(c.Hierarchy.Address); ok {
		n.addLocator(c.Locator)
		return n, nil
	}

	n := &HierarchyNode{
		Name:       b.names.Lookup(c.Type.DecoratedName),
		Descriptor: c.Hierarchy,
		Attributes: c.Hierarchy.Attributes,
		Locators:   []*CompleteObjectLocator{c.Locator},
	}

	seen := mapset.NewThreadUnsafeSet()
	seen.Add(c.Self.Address)
	stack := []baseFrame{{name: n.Name.Display, remaining: c.Self.NumContainedBases}}

	for _, addr := range c.Array.Entries[1:] {
		bcd, err := b.arena.BaseClass(addr)
		if err != nil {
			return nil, err
		}
		td, err := b.arena.TypeDescriptor(bcd.TypeDescriptor)
		if err != nil {
			return nil, err
		}
		name := b.names.Lookup(td.DecoratedName)

		for len(stack) > 1 && stack[len(stack)-1].remaining == 0 {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1].name
		direct := len(stack) == 1
		for i := range stack {
			if stack[i].remaining > 0 {
				stack[i].remaining--
			}
		}
		stack = append(stack, baseFrame{name: name.Display, remaining: bcd.NumContainedBases})

		if !seen.Add(addr) {
			continue
		}
		edge := BaseEdge{
			Name:              name,
			Offset:            int64(bcd.Where.MDisp),
			Where:             bcd.Where,
			Attributes:        bcd.Attributes,
			Descriptor:        bcd.Address,
			Parent:            parent,
			Direct:            direct,
			NumContainedBases: bcd.NumContainedBases,
		}
		if bcd.IsVirtual() {
			n.VirtualBases = append(n.VirtualBases, edge)
		} else {
			n.Bases = append(n.Bases, edge)
		}
	}

	b.arena.addNode(n)
	return n, nil
}
