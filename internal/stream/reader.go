// Package stream provides little-endian binary reading over image bytes.
package stream

import (
	"encoding/binary"
	"errors"
)

// Errors returned by Reader
var (
	ErrUnexpectedEOF  = errors.New("stream: unexpected end of data")
	ErrNegativeOffset = errors.New("stream: negative offset")
	ErrPointerSize    = errors.New("stream: unsupported pointer size")
	ErrStringTooLong  = errors.New("stream: string exceeds length limit")
)

// Reader reads fixed-width values from a byte slice that was loaded from
// a virtual address. All multi-byte values are little-endian.
type Reader struct {
	data   []byte
	offset int
	base   uint64
}

// NewReader creates a Reader over data with a zero base address.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// NewReaderAt creates a Reader over data that was read from address base.
func NewReaderAt(data []byte, base uint64) *Reader {
	return &Reader{data: data, base: base}
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.offset
}

// Address returns the virtual address of the current read position.
func (r *Reader) Address() uint64 {
	return r.base + uint64(r.offset)
}

// SetOffset sets the read position.
func (r *Reader) SetOffset(offset int) error {
	if offset < 0 {
		return ErrNegativeOffset
	}
	r.offset = offset
	return nil
}

// Len returns the size of the underlying data.
func (r *Reader) Len() int {
	return len(r.data)
}

// Remaining returns the number of bytes remaining.
func (r *Reader) Remaining() int {
	if r.offset >= len(r.data) {
		return 0
	}
	return len(r.data) - r.offset
}

// ReadU32 reads an unsigned 32-bit integer.
func (r *Reader) ReadU32() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

// ReadU64 reads an unsigned 64-bit integer.
func (r *Reader) ReadU64() (uint64, error) {
	if r.offset+8 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return v, nil
}

// ReadI32 reads a signed 32-bit integer.
func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

// ReadPointer reads a pointer of the given width (4 or 8 bytes).
func (r *Reader) ReadPointer(size int) (uint64, error) {
	switch size {
	case 4:
		v, err := r.ReadU32()
		return uint64(v), err
	case 8:
		return r.ReadU64()
	default:
		return 0, ErrPointerSize
	}
}

// ReadBytes reads n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	v := make([]byte, n)
	copy(v, r.data[r.offset:r.offset+n])
	r.offset += n
	return v, nil
}

// ReadCString reads a null-terminated string of at most max bytes,
// not counting the terminator. A max of zero means no limit.
func (r *Reader) ReadCString(max int) (string, error) {
	start := r.offset
	for i := r.offset; i < len(r.data); i++ {
		if r.data[i] == 0 {
			s := string(r.data[start:i])
			r.offset = i + 1
			return s, nil
		}
		if max > 0 && i-start >= max {
			return "", ErrStringTooLong
		}
	}
	return "", ErrUnexpectedEOF
}

// Data returns the underlying byte slice.
func (r *Reader) Data() []byte {
	return r.data
}
