package rtti

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/apex/log"

	"github.com/skdltmxn/rtti-go/typedb"
)

// Emitted lists the types written for one class.
type Emitted struct {
	Struct      typedb.Handle
	Vftables    []typedb.Handle
	Overwritten int
}

// Emitter writes recovered classes to a type database.
type Emitter struct {
	db typedb.Database
	ps int
}

// NewEmitter creates an emitter for an image with the given pointer width.
func NewEmitter(db typedb.Database, pointerSize int) *Emitter {
	return &Emitter{db: db, ps: pointerSize}
}

// VftableTypeName returns the type name of a class's vftable.
func VftableTypeName(class, forBase string) string {
	if forBase == "" {
		return class + "::vftable"
	}
	return class + "::vftable{for " + forBase + "}"
}

type plannedType struct {
	name   string
	layout typedb.Layout
}

// resolveName keeps name when it is free or already holds a type of the
// same origin, and otherwise suffixes it with the origin.
func (e *Emitter) resolveName(name string, origin uint64) string {
	if l, ok := e.db.Lookup(name); ok && l.Origin != origin {
		return fmt.Sprintf("%s@%x", name, origin)
	}
	return name
}

func (e *Emitter) plan(n *HierarchyNode) []plannedType {
	ps := uint64(e.ps)
	origin := n.Descriptor.Address
	class := n.Name.Display

	vfts := slices.Clone(n.Vftables)
	slices.SortStableFunc(vfts, func(a, b *Vftable) int {
		if c := cmp.Compare(a.Locator.Offset, b.Locator.Offset); c != 0 {
			return c
		}
		return cmp.Compare(a.Locator.CDOffset, b.Locator.CDOffset)
	})

	var out []plannedType
	used := make(map[string]bool)
	var fields []typedb.Field
	seenOffsets := make(map[uint32]bool)

	for _, vft := range vfts {
		name := VftableTypeName(class, vft.ForBase)
		if used[name] {
			name = fmt.Sprintf("%s@%x", name, vft.Address)
		}
		used[name] = true
		name = e.resolveName(name, origin)

		layout := typedb.Layout{
			Kind:      typedb.KindVftable,
			Size:      uint64(len(vft.Entries)) * ps,
			Origin:    origin,
			Decorated: n.Name.Decorated,
		}
		for i := range vft.Entries {
			layout.Fields = append(layout.Fields, typedb.Field{
				Name:   fmt.Sprintf("vfunc_%d", i),
				Offset: uint64(i) * ps,
				Size:   ps,
				Type:   typedb.CodePointer,
			})
		}
		out = append(out, plannedType{name: name, layout: layout})

		off := vft.Locator.Offset
		if vft.Locator.CDOffset != 0 || seenOffsets[off] {
			continue
		}
		seenOffsets[off] = true
		field := "__vftable"
		if off != 0 {
			if vft.ForBase != "" {
				field += "_" + typedb.CIdentifier(vft.ForBase)
			} else {
				field += fmt.Sprintf("_%x", off)
			}
		}
		fields = append(fields, typedb.Field{Name: field, Offset: uint64(off), Size: ps, Type: name})
	}

	st := typedb.Layout{
		Kind:      typedb.KindStruct,
		Fields:    fields,
		Origin:    origin,
		Decorated: n.Name.Decorated,
	}
	for _, f := range fields {
		st.Size = max(st.Size, f.Offset+ps)
	}
	for _, b := range n.Bases {
		st.Bases = append(st.Bases, typedb.BaseRef{Name: b.Name.Display, Offset: b.Offset, Flags: flagsOrEmpty(b.Attributes)})
	}
	for _, b := range n.VirtualBases {
		st.Bases = append(st.Bases, typedb.BaseRef{Name: b.Name.Display, Offset: b.Offset, Virtual: true, Flags: flagsOrEmpty(b.Attributes)})
	}
	out = append(out, plannedType{name: e.resolveName(class, origin), layout: st})
	return out
}

func flagsOrEmpty(a BCDAttributes) string {
	if a == 0 {
		return ""
	}
	return a.String()
}

// Emit writes the struct and vftable types of n. Classes without a
// vftable are skipped. When the database fails part way, types written by
// this call are removed and overwritten ones restored.
func (e *Emitter) Emit(n *HierarchyNode) (*Emitted, error) {
	if len(n.Vftables) == 0 {
		return nil, nil
	}

	planned := e.plan(n)

	var (
		defined     []string
		overwritten []plannedType
		handles     []typedb.Handle
	)
	rollback := func(cause error) error {
		var errs []error
		for _, name := range defined {
			errs = append(errs, e.db.RemoveType(name))
		}
		for _, p := range overwritten {
			_, err := e.db.OverwriteType(p.name, p.layout)
			errs = append(errs, err)
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("emit %s: %w (rollback: %v)", n.Name.Display, cause, err)
		}
		return fmt.Errorf("emit %s: %w", n.Name.Display, cause)
	}

	for _, p := range planned {
		if prev, ok := e.db.Lookup(p.name); ok {
			h, err := e.db.OverwriteType(p.name, p.layout)
			if err != nil {
				return nil, rollback(err)
			}
			overwritten = append(overwritten, plannedType{name: p.name, layout: prev})
			handles = append(handles, h)
			log.WithFields(log.Fields{"type": p.name, "origin": p.layout.Origin}).Info("overwriting existing type")
			continue
		}
		h, err := e.db.DefineType(p.name, p.layout)
		if err != nil {
			return nil, rollback(err)
		}
		defined = append(defined, p.name)
		handles = append(handles, h)
	}

	last := len(handles) - 1
	return &Emitted{
		Struct:      handles[last],
		Vftables:    handles[:last],
		Overwritten: len(overwritten),
	}, nil
}
