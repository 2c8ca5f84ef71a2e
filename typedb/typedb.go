// Package typedb defines the type database that recovered class layouts
// are written to, with an in-memory implementation.
package typedb

import (
	"errors"
	"fmt"
	"slices"
)

// Sentinel errors for common conditions.
var (
	// ErrNameConflict indicates a type with the same name already exists.
	ErrNameConflict = errors.New("typedb: name conflict")

	// ErrTypeNotFound indicates no type has the requested name.
	ErrTypeNotFound = errors.New("typedb: type not found")

	// ErrInvalidLayout indicates a layout that cannot be stored.
	ErrInvalidLayout = errors.New("typedb: invalid layout")
)

// Database is the narrow interface the type emitter writes through.
type Database interface {
	// DefineType creates a new type, failing with ErrNameConflict when the
	// name is taken.
	DefineType(name string, layout Layout) (Handle, error)
	// OverwriteType replaces or creates the type with the given name.
	OverwriteType(name string, layout Layout) (Handle, error)
	Lookup(name string) (Layout, bool)
	RemoveType(name string) error
}

// Handle identifies a stored type. IDs survive overwrites.
type Handle struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d", h.Name, h.ID)
}

// Kind distinguishes the layouts the emitter produces.
type Kind int

const (
	KindStruct Kind = iota
	KindVftable
)

func (k Kind) String() string {
	switch k {
	case KindStruct:
		return "struct"
	case KindVftable:
		return "vftable"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// CodePointer is the field type of a vftable slot whose signature is
// unknown.
const CodePointer = "code*"

// Field is one member at a fixed byte offset.
type Field struct {
	Name   string `json:"name"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
	// Type is CodePointer or the name of the pointed-to type in this
	// database.
	Type string `json:"type"`
}

// IsCodePointer reports whether the field holds an untyped code pointer.
func (f Field) IsCodePointer() bool {
	return f.Type == CodePointer
}

// BaseRef documents an inherited base without embedding it.
type BaseRef struct {
	Name    string `json:"name"`
	Offset  int64  `json:"offset"`
	Virtual bool   `json:"virtual,omitempty"`
	Flags   string `json:"flags,omitempty"`
}

// Layout is a complete type definition.
type Layout struct {
	Kind   Kind      `json:"kind"`
	Size   uint64    `json:"size"`
	Fields []Field   `json:"fields"`
	Bases  []BaseRef `json:"bases,omitempty"`
	// Origin ties the type to the hierarchy it was recovered from.
	Origin uint64 `json:"origin"`
	// Decorated is the mangled name the type was named after.
	Decorated string `json:"decorated,omitempty"`
}

// Equal reports whether two layouts describe the same type.
func (l Layout) Equal(o Layout) bool {
	return l.Kind == o.Kind &&
		l.Size == o.Size &&
		l.Origin == o.Origin &&
		l.Decorated == o.Decorated &&
		slices.Equal(l.Fields, o.Fields) &&
		slices.Equal(l.Bases, o.Bases)
}

// Validate checks that fields are ordered, non-overlapping and inside Size.
func (l Layout) Validate() error {
	var end uint64
	for i, f := range l.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field %d has no name", ErrInvalidLayout, i)
		}
		if i > 0 && f.Offset < end {
			return fmt.Errorf("%w: field %s at %#x overlaps previous field", ErrInvalidLayout, f.Name, f.Offset)
		}
		end = f.Offset + f.Size
		if end > l.Size {
			return fmt.Errorf("%w: field %s ends at %#x past size %#x", ErrInvalidLayout, f.Name, end, l.Size)
		}
	}
	return nil
}
