package image

import (
	"debug/pe"
	"fmt"
	"io"
	"os"
)

// File is a PE image mapped at its preferred base. Sections are placed at
// ImageBase+VirtualAddress and zero-filled past their raw data.
type File struct {
	*Memory

	machine   uint16
	sections  []SectionHeader
	alignment uint32
	closer    io.Closer
}

// Open maps the PE image at path.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("image: failed to open file: %w", err)
	}

	f, err := NewFile(fh)
	if err != nil {
		fh.Close()
		return nil, err
	}
	f.closer = fh
	return f, nil
}

// NewFile maps a PE image read from r.
func NewFile(r io.ReaderAt) (*File, error) {
	pf, err := pe.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotPE, err)
	}
	defer pf.Close()

	var (
		base      uint64
		ptrSize   int
		alignment uint32
	)
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		base, ptrSize, alignment = uint64(oh.ImageBase), 4, oh.SectionAlignment
	case *pe.OptionalHeader64:
		base, ptrSize, alignment = oh.ImageBase, 8, oh.SectionAlignment
	default:
		return nil, fmt.Errorf("%w: missing optional header", ErrNotPE)
	}

	f := &File{
		Memory:    NewMemory(base, ptrSize),
		machine:   pf.FileHeader.Machine,
		alignment: alignment,
	}

	for _, s := range pf.Sections {
		hdr := newSectionHeader(s)
		f.sections = append(f.sections, hdr)

		size := hdr.MappedSize(alignment)
		if size == 0 {
			continue
		}
		buf := make([]byte, size)
		if hdr.SizeOfRawData > 0 && hdr.Characteristics&ScnCntUninitializedData == 0 {
			raw, err := s.Data()
			if err != nil {
				return nil, fmt.Errorf("image: failed to read section %s: %w", hdr.Name, err)
			}
			copy(buf, raw)
		}

		start := base + uint64(hdr.VirtualAddress)
		if err := f.AddRegion(hdr.Name, start, hdr.Characteristics.Perm(), buf); err != nil {
			return nil, fmt.Errorf("image: failed to map section %s: %w", hdr.Name, err)
		}
	}

	return f, nil
}

// Close releases the mapped sections and the underlying file.
func (f *File) Close() error {
	f.Memory.Close()
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// Machine returns the IMAGE_FILE_HEADER machine type.
func (f *File) Machine() uint16 {
	return f.machine
}

// MachineName returns a short name for the machine type.
func (f *File) MachineName() string {
	switch f.machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return "x86"
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return "x64"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return "arm64"
	case pe.IMAGE_FILE_MACHINE_ARMNT:
		return "arm"
	default:
		return fmt.Sprintf("0x%04x", f.machine)
	}
}

// Sections returns the PE section headers in file order.
func (f *File) Sections() []SectionHeader {
	return f.sections
}

// SectionAlignment returns the optional header's section alignment.
func (f *File) SectionAlignment() uint32 {
	return f.alignment
}
