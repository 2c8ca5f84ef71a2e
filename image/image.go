// Package image provides read-only, address-based access to a loaded
// executable image.
package image

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrOutOfRange indicates a read touched an address outside every
	// mapped region.
	ErrOutOfRange = errors.New("image: address out of range")

	// ErrClosed indicates the image has been closed.
	ErrClosed = errors.New("image: image is closed")

	// ErrNotPE indicates the file is not a PE image this package can map.
	ErrNotPE = errors.New("image: not a supported PE image")

	// ErrOverlap indicates two regions claim the same address.
	ErrOverlap = errors.New("image: overlapping regions")
)

// Accessor is the read-only view of a loaded image. Pointer width is fixed
// per image and values are little-endian.
type Accessor interface {
	// ReadBytes returns n bytes at addr, or an error wrapping ErrOutOfRange
	// when any byte is unmapped.
	ReadBytes(addr uint64, n int) ([]byte, error)
	IsExecutable(addr uint64) bool
	IsWritable(addr uint64) bool
	IsReadable(addr uint64) bool
	AddressToRVA(addr uint64) uint64
	RVAToAddress(rva uint64) uint64
	PointerSize() int
	Regions() []Region
}

// Perm is a set of region access permissions.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

// Has reports whether all bits of q are set.
func (p Perm) Has(q Perm) bool { return p&q == q }

func (p Perm) String() string {
	b := []byte("---")
	if p.Has(PermRead) {
		b[0] = 'r'
	}
	if p.Has(PermWrite) {
		b[1] = 'w'
	}
	if p.Has(PermExec) {
		b[2] = 'x'
	}
	return string(b)
}

// Region is a contiguous mapped address range [Start, End).
type Region struct {
	Name  string
	Start uint64
	End   uint64
	Perm  Perm
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

// Size returns the region length in bytes.
func (r Region) Size() uint64 {
	return r.End - r.Start
}

// IsData reports whether the region is readable and not executable.
func (r Region) IsData() bool {
	return r.Perm.Has(PermRead) && !r.Perm.Has(PermExec)
}

// IsConstData reports whether the region is readable, not writable and
// not executable.
func (r Region) IsConstData() bool {
	return r.IsData() && !r.Perm.Has(PermWrite)
}

func (r Region) String() string {
	return fmt.Sprintf("%-8s %#x-%#x %s", r.Name, r.Start, r.End, r.Perm)
}

// DataRegions returns the readable, non-executable regions of acc. When
// writable is false, writable regions are skipped.
func DataRegions(acc Accessor, writable bool) []Region {
	var out []Region
	for _, r := range acc.Regions() {
		if !r.IsData() {
			continue
		}
		if !writable && r.Perm.Has(PermWrite) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FindRegion returns the region containing addr.
func FindRegion(acc Accessor, addr uint64) (Region, bool) {
	for _, r := range acc.Regions() {
		if r.Contains(addr) {
			return r, true
		}
	}
	return Region{}, false
}
