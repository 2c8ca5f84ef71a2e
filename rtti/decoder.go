package rtti

import (
	"fmt"

	"github.com/skdltmxn/rtti-go/image"
	"github.com/skdltmxn/rtti-go/internal/stream"
)

// Mode selects pointer width and addressing for decoding. With 8-byte
// pointers, references inside RTTI records are offsets from ImageBase.
type Mode struct {
	PointerSize int
	ImageBase   uint64
}

// Relative reports whether record references are image-relative.
func (m Mode) Relative() bool {
	return m.PointerSize == 8
}

// Decoder reads individual RTTI records from an image. Each call decodes
// exactly one record and never follows references.
type Decoder struct {
	img     image.Accessor
	mode    Mode
	regions []image.Region
}

// NewDecoder creates a decoder over img.
func NewDecoder(img image.Accessor, mode Mode) *Decoder {
	return &Decoder{img: img, mode: mode, regions: img.Regions()}
}

// Mode returns the decoding mode.
func (d *Decoder) Mode() Mode {
	return d.mode
}

func (d *Decoder) read(kind string, addr uint64, n int) (*stream.Reader, error) {
	data, err := d.img.ReadBytes(addr, n)
	if err != nil {
		return nil, malformed(kind, addr, fmt.Sprintf("read %d bytes", n), err)
	}
	return stream.NewReaderAt(data, addr), nil
}

// reference resolves a 32-bit record reference to a virtual address.
func (d *Decoder) reference(v uint32) uint64 {
	if v == 0 {
		return 0
	}
	if d.mode.Relative() {
		return d.mode.ImageBase + uint64(v)
	}
	return uint64(v)
}

// ReadPointer reads one pointer-sized value at addr.
func (d *Decoder) ReadPointer(addr uint64) (uint64, error) {
	r, err := d.read("Pointer", addr, d.mode.PointerSize)
	if err != nil {
		return 0, err
	}
	return r.ReadPointer(d.mode.PointerSize)
}

// DecodeTypeDescriptor decodes the type descriptor at addr.
func (d *Decoder) DecodeTypeDescriptor(addr uint64) (*TypeDescriptor, error) {
	const kind = "TypeDescriptor"
	ps := d.mode.PointerSize

	r, err := d.read(kind, addr, 2*ps)
	if err != nil {
		return nil, err
	}
	td := &TypeDescriptor{Address: addr}
	if td.VFTable, err = r.ReadPointer(ps); err != nil {
		return nil, malformed(kind, addr, "pVFTable", err)
	}
	if td.Spare, err = r.ReadPointer(ps); err != nil {
		return nil, malformed(kind, addr, "spare", err)
	}

	nameAddr := addr + uint64(2*ps)
	n := MaxNameLength + 1
	for _, reg := range d.regions {
		if reg.Contains(nameAddr) {
			n = int(min(reg.End-nameAddr, uint64(n)))
			break
		}
	}
	r, err = d.read(kind, nameAddr, n)
	if err != nil {
		return nil, err
	}
	if td.DecoratedName, err = r.ReadCString(MaxNameLength); err != nil {
		return nil, malformed(kind, addr, "name", err)
	}
	return td, nil
}

// DecodeCompleteObjectLocator decodes the locator at addr. The pSelf field
// is read only when the signature says it is present.
func (d *Decoder) DecodeCompleteObjectLocator(addr uint64) (*CompleteObjectLocator, error) {
	const kind = "CompleteObjectLocator"

	r, err := d.read(kind, addr, 20)
	if err != nil {
		return nil, err
	}
	col := &CompleteObjectLocator{Address: addr}
	col.Signature, _ = r.ReadU32()
	col.Offset, _ = r.ReadU32()
	col.CDOffset, _ = r.ReadU32()
	td, _ := r.ReadU32()
	chd, _ := r.ReadU32()
	col.TypeDescriptor = d.reference(td)
	col.ClassDescriptor = d.reference(chd)

	if col.Signature == ColSigRev1 {
		r, err = d.read(kind, addr+20, 4)
		if err != nil {
			return nil, err
		}
		self, _ := r.ReadU32()
		col.Self = uint64(self)
		col.HasSelf = true
	}
	return col, nil
}

// DecodeClassHierarchyDescriptor decodes the hierarchy descriptor at addr.
func (d *Decoder) DecodeClassHierarchyDescriptor(addr uint64) (*ClassHierarchyDescriptor, error) {
	r, err := d.read("ClassHierarchyDescriptor", addr, 16)
	if err != nil {
		return nil, err
	}
	chd := &ClassHierarchyDescriptor{Address: addr}
	chd.Signature, _ = r.ReadU32()
	attrs, _ := r.ReadU32()
	chd.Attributes = CHDAttributes(attrs)
	chd.NumBaseClasses, _ = r.ReadU32()
	bca, _ := r.ReadU32()
	chd.BaseClassArray = d.reference(bca)
	return chd, nil
}

// DecodeBaseClassArray decodes count references at addr.
func (d *Decoder) DecodeBaseClassArray(addr uint64, count uint32) (*BaseClassArray, error) {
	const kind = "BaseClassArray"
	if count > MaxBaseClasses {
		return nil, malformed(kind, addr, fmt.Sprintf("%d entries", count), nil)
	}

	r, err := d.read(kind, addr, int(count)*4)
	if err != nil {
		return nil, err
	}
	bca := &BaseClassArray{Address: addr, Entries: make([]uint64, count)}
	for i := range bca.Entries {
		v, _ := r.ReadU32()
		bca.Entries[i] = d.reference(v)
	}
	return bca, nil
}

// DecodeBaseClassDescriptor decodes the base class descriptor at addr.
func (d *Decoder) DecodeBaseClassDescriptor(addr uint64) (*BaseClassDescriptor, error) {
	const kind = "BaseClassDescriptor"

	r, err := d.read(kind, addr, 24)
	if err != nil {
		return nil, err
	}
	bcd := &BaseClassDescriptor{Address: addr}
	td, _ := r.ReadU32()
	bcd.TypeDescriptor = d.reference(td)
	bcd.NumContainedBases, _ = r.ReadU32()
	bcd.Where.MDisp, _ = r.ReadI32()
	bcd.Where.PDisp, _ = r.ReadI32()
	bcd.Where.VDisp, _ = r.ReadI32()
	attrs, _ := r.ReadU32()
	bcd.Attributes = BCDAttributes(attrs)

	if bcd.Attributes.Has(BCDHasPCHD) {
		r, err = d.read(kind, addr+24, 4)
		if err != nil {
			return nil, err
		}
		chd, _ := r.ReadU32()
		bcd.ClassDescriptor = d.reference(chd)
	}
	return bcd, nil
}
