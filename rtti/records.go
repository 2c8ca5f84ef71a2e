package rtti

import (
	"fmt"
	"strings"
)

// Complete object locator signatures.
const (
	ColSigRev0 uint32 = 0 // 32-bit, absolute pointers
	ColSigRev1 uint32 = 1 // 64-bit, image-relative offsets with pSelf
)

// Limits applied while decoding and validating.
const (
	MaxNameLength     = 2047
	MaxBaseClasses    = 4096
	MaxVftableEntries = 4096
)

// TypeDescriptor is the std::type_info object emitted for a class.
type TypeDescriptor struct {
	Address       uint64
	VFTable       uint64 // type_info vftable
	Spare         uint64
	DecoratedName string
}

// IsLambda reports whether the descriptor names a lambda closure type.
func (td *TypeDescriptor) IsLambda() bool {
	return strings.HasPrefix(td.DecoratedName, ".?AV<lambda_")
}

// CompleteObjectLocator is the record a vftable's -1 slot points to.
type CompleteObjectLocator struct {
	Address         uint64
	Signature       uint32
	Offset          uint32 // offset of this vftable inside the complete object
	CDOffset        uint32 // constructor displacement offset
	TypeDescriptor  uint64
	ClassDescriptor uint64
	Self            uint64 // image-relative self reference, rev1 only
	HasSelf         bool
}

// Size returns the encoded size of the locator.
func (col *CompleteObjectLocator) Size() int {
	if col.HasSelf {
		return 24
	}
	return 20
}

// CHDAttributes are ClassHierarchyDescriptor attribute flags.
type CHDAttributes uint32

const (
	CHDMultipleInheritance CHDAttributes = 1 << iota
	CHDVirtualInheritance
	CHDAmbiguous
)

// Has reports whether all bits of f are set.
func (a CHDAttributes) Has(f CHDAttributes) bool { return a&f == f }

func (a CHDAttributes) String() string {
	return flagString(uint32(a), []string{"MULTINH", "VIRTINH", "AMBIGUOUS"})
}

// ClassHierarchyDescriptor describes the inheritance of one class.
type ClassHierarchyDescriptor struct {
	Address        uint64
	Signature      uint32
	Attributes     CHDAttributes
	NumBaseClasses uint32
	BaseClassArray uint64
}

// BaseClassArray lists the base class descriptors of a hierarchy, the class
// itself first, then its bases in pre-order.
type BaseClassArray struct {
	Address uint64
	Entries []uint64
}

// BCDAttributes are BaseClassDescriptor attribute flags.
type BCDAttributes uint32

const (
	BCDNotVisible BCDAttributes = 1 << iota
	BCDAmbiguous
	BCDPrivOrProtBase
	BCDPrivOrProtInCompObj
	BCDVBOfContObj
	BCDNonPolymorphic
	BCDHasPCHD
)

// Has reports whether all bits of f are set.
func (a BCDAttributes) Has(f BCDAttributes) bool { return a&f == f }

func (a BCDAttributes) String() string {
	return flagString(uint32(a), []string{
		"NOTVISIBLE", "AMBIGUOUS", "PRIVORPROTBASE", "PRIVORPROTINCOMPOBJ",
		"VBOFCONTOBJ", "NONPOLYMORPHIC", "HASPCHD",
	})
}

func (a BCDAttributes) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// PMD is a pointer-to-member displacement.
type PMD struct {
	MDisp int32 // member displacement
	PDisp int32 // vbtable displacement, -1 for non-virtual bases
	VDisp int32 // displacement inside the vbtable
}

// BaseClassDescriptor describes one base of a class.
type BaseClassDescriptor struct {
	Address           uint64
	TypeDescriptor    uint64
	NumContainedBases uint32
	Where             PMD
	Attributes        BCDAttributes
	ClassDescriptor   uint64 // only when Attributes has BCDHasPCHD
}

// IsVirtual reports whether the base is reached through a vbtable.
func (bcd *BaseClassDescriptor) IsVirtual() bool {
	return bcd.Attributes.Has(BCDVBOfContObj) || bcd.Where.PDisp >= 0
}

func flagString(v uint32, names []string) string {
	if v == 0 {
		return "NONE"
	}
	var parts []string
	for i, name := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, name)
			v &^= 1 << i
		}
	}
	if v != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", v))
	}
	return strings.Join(parts, "|")
}
