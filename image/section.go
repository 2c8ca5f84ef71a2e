package image

import (
	"debug/pe"
	"strings"

	"golang.org/x/exp/constraints"
)

// Characteristics holds IMAGE_SECTION_HEADER flags.
type Characteristics uint32

const (
	ScnCntCode              Characteristics = 0x00000020
	ScnCntInitializedData   Characteristics = 0x00000040
	ScnCntUninitializedData Characteristics = 0x00000080
	ScnMemDiscardable       Characteristics = 0x02000000
	ScnMemExecute           Characteristics = 0x20000000
	ScnMemRead              Characteristics = 0x40000000
	ScnMemWrite             Characteristics = 0x80000000
)

// Perm maps the section flags onto region permissions. Code sections are
// executable even when the execute bit is missing.
func (c Characteristics) Perm() Perm {
	var p Perm
	if c&ScnMemRead != 0 {
		p |= PermRead
	}
	if c&ScnMemWrite != 0 {
		p |= PermWrite
	}
	if c&(ScnMemExecute|ScnCntCode) != 0 {
		p |= PermExec | PermRead
	}
	return p
}

func (c Characteristics) String() string {
	var parts []string
	if c&ScnCntCode != 0 {
		parts = append(parts, "CODE")
	}
	if c&ScnCntInitializedData != 0 {
		parts = append(parts, "IDATA")
	}
	if c&ScnCntUninitializedData != 0 {
		parts = append(parts, "UDATA")
	}
	if c&ScnMemDiscardable != 0 {
		parts = append(parts, "DISCARD")
	}
	parts = append(parts, c.Perm().String())
	return strings.Join(parts, "|")
}

// SectionHeader describes one PE section.
type SectionHeader struct {
	Name             string
	VirtualSize      uint32
	VirtualAddress   uint32 // RVA of the section
	SizeOfRawData    uint32
	PointerToRawData uint32
	Characteristics  Characteristics
}

func newSectionHeader(s *pe.Section) SectionHeader {
	return SectionHeader{
		Name:             s.Name,
		VirtualSize:      s.VirtualSize,
		VirtualAddress:   s.VirtualAddress,
		SizeOfRawData:    s.Size,
		PointerToRawData: s.Offset,
		Characteristics:  Characteristics(s.Characteristics),
	}
}

// MappedSize returns the number of bytes the section occupies once loaded,
// rounded up to alignment.
func (s *SectionHeader) MappedSize(alignment uint32) uint32 {
	size := s.VirtualSize
	if size == 0 {
		size = s.SizeOfRawData
	}
	return alignUp(size, alignment)
}

func alignUp[V constraints.Integer](v, alignment V) V {
	if alignment <= 1 {
		return v
	}
	return (v + alignment - 1) / alignment * alignment
}
