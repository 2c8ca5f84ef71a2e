package rtti

import (
	"github.com/skdltmxn/rtti-go/image"
)

// Chain is a validated locator with the records it links to.
type Chain struct {
	Locator   *CompleteObjectLocator
	Type      *TypeDescriptor
	Hierarchy *ClassHierarchyDescriptor
	Array     *BaseClassArray
	Self      *BaseClassDescriptor // first base class entry, the class itself
}

// Validator decides whether a candidate address is a genuine locator.
type Validator struct {
	img  image.Accessor
	dec  *Decoder
	cfg  Config
	ti   TypeInfo
	sig  uint32
	base uint64
}

// NewValidator creates a validator. ti is the resolved type_info vftable.
func NewValidator(img image.Accessor, dec *Decoder, ti TypeInfo, cfg Config) *Validator {
	v := &Validator{img: img, dec: dec, cfg: cfg.withDefaults(), ti: ti, sig: ColSigRev0}
	if dec.Mode().Relative() {
		v.sig = ColSigRev1
		v.base = dec.Mode().ImageBase
	}
	return v
}

func (v *Validator) inData(addr uint64) bool {
	if !v.img.IsReadable(addr) || v.img.IsExecutable(addr) {
		return false
	}
	return v.cfg.ScanWritable || !v.img.IsWritable(addr)
}

func (v *Validator) inTypeData(addr uint64) bool {
	if !v.img.IsReadable(addr) || v.img.IsExecutable(addr) {
		return false
	}
	return v.cfg.AllowWritableTypeDescriptors || !v.img.IsWritable(addr)
}

// Validate decodes the chain rooted at addr and checks it. Errors wrap
// ErrMalformedStructure or ErrValidationFailed.
func (v *Validator) Validate(addr uint64) (*Chain, error) {
	const colKind = "CompleteObjectLocator"

	col, err := v.dec.DecodeCompleteObjectLocator(addr)
	if err != nil {
		return nil, err
	}
	if col.Signature != v.sig {
		return nil, invalid(colKind, addr, "signature %d, want %d", col.Signature, v.sig)
	}
	if col.HasSelf && col.Self != addr-v.base {
		return nil, invalid(colKind, addr, "self reference %#x, want %#x", col.Self, addr-v.base)
	}
	if !v.inData(addr) {
		return nil, invalid(colKind, addr, "not in a read-only data region")
	}
	if !v.inTypeData(col.TypeDescriptor) {
		return nil, invalid(colKind, addr, "type descriptor %#x not in a data region", col.TypeDescriptor)
	}
	if !v.inData(col.ClassDescriptor) {
		return nil, invalid(colKind, addr, "hierarchy descriptor %#x not in a read-only data region", col.ClassDescriptor)
	}

	td, err := v.dec.DecodeTypeDescriptor(col.TypeDescriptor)
	if err != nil {
		return nil, err
	}
	if err := v.checkTypeDescriptor(td); err != nil {
		return nil, err
	}

	chd, err := v.dec.DecodeClassHierarchyDescriptor(col.ClassDescriptor)
	if err != nil {
		return nil, err
	}
	if chd.Signature != 0 {
		return nil, invalid("ClassHierarchyDescriptor", chd.Address, "signature %d", chd.Signature)
	}
	if chd.NumBaseClasses == 0 || chd.NumBaseClasses > MaxBaseClasses {
		return nil, invalid("ClassHierarchyDescriptor", chd.Address, "%d base classes", chd.NumBaseClasses)
	}
	if !v.inData(chd.BaseClassArray) {
		return nil, invalid("ClassHierarchyDescriptor", chd.Address, "base class array %#x not in a read-only data region", chd.BaseClassArray)
	}

	bca, err := v.dec.DecodeBaseClassArray(chd.BaseClassArray, chd.NumBaseClasses)
	if err != nil {
		return nil, err
	}
	for i, e := range bca.Entries {
		if !v.inData(e) {
			return nil, invalid("BaseClassArray", bca.Address, "entry %d at %#x not in a read-only data region", i, e)
		}
	}
	self, err := v.dec.DecodeBaseClassDescriptor(bca.Entries[0])
	if err != nil {
		return nil, err
	}
	if self.TypeDescriptor != col.TypeDescriptor {
		return nil, invalid("BaseClassArray", bca.Address, "first entry describes %#x, locator describes %#x",
			self.TypeDescriptor, col.TypeDescriptor)
	}

	return &Chain{Locator: col, Type: td, Hierarchy: chd, Array: bca, Self: self}, nil
}

func (v *Validator) checkTypeDescriptor(td *TypeDescriptor) error {
	const kind = "TypeDescriptor"
	if td.Spare != 0 {
		return invalid(kind, td.Address, "spare field %#x", td.Spare)
	}
	if !validTypeName(td.DecoratedName) {
		return invalid(kind, td.Address, "name %q is not a class name", td.DecoratedName)
	}
	if td.IsLambda() {
		return invalid(kind, td.Address, "lambda closure %q", td.DecoratedName)
	}
	if v.ti.Known && td.VFTable != v.ti.VFTable {
		return invalid(kind, td.Address, "vftable %#x is not type_info's %#x", td.VFTable, v.ti.VFTable)
	}
	return nil
}
