package stream

import (
	"errors"
	"testing"
)

func TestReaderFixedWidth(t *testing.T) {
	data := []byte{
		0x78, 0x56, 0x34, 0x12,
		0xff, 0xff, 0xff, 0xff,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
	}
	r := NewReaderAt(data, 0x400000)

	u, err := r.ReadU32()
	if err != nil || u != 0x12345678 {
		t.Fatalf("ReadU32 = %#x, %v", u, err)
	}
	i, err := r.ReadI32()
	if err != nil || i != -1 {
		t.Fatalf("ReadI32 = %d, %v", i, err)
	}
	if got := r.Address(); got != 0x400008 {
		t.Errorf("Address = %#x, want 0x400008", got)
	}
	p, err := r.ReadPointer(8)
	if err != nil || p != 0x0102030405060708 {
		t.Fatalf("ReadPointer(8) = %#x, %v", p, err)
	}
	if _, err := r.ReadU32(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("read past end: err = %v, want ErrUnexpectedEOF", err)
	}
}

func TestReadPointerWidth(t *testing.T) {
	r := NewReader([]byte{1, 0, 0, 0, 0, 0, 0, 0})
	if _, err := r.ReadPointer(2); !errors.Is(err, ErrPointerSize) {
		t.Errorf("ReadPointer(2) err = %v, want ErrPointerSize", err)
	}
	v, err := r.ReadPointer(4)
	if err != nil || v != 1 {
		t.Errorf("ReadPointer(4) = %d, %v", v, err)
	}
}

func TestReadCString(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		max     int
		want    string
		wantErr error
	}{
		{"terminated", ".?AVBase@@\x00rest", 0, ".?AVBase@@", nil},
		{"at limit", "abc\x00", 3, "abc", nil},
		{"over limit", "abcd\x00", 3, "", ErrStringTooLong},
		{"unterminated", "abc", 0, "", ErrUnexpectedEOF},
		{"empty", "\x00", 0, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader([]byte(tt.data))
			got, err := r.ReadCString(tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetOffsetAddress(t *testing.T) {
	r := NewReaderAt(make([]byte, 16), 0x1000)
	if err := r.SetOffset(8); err != nil {
		t.Fatal(err)
	}
	if r.Address() != 0x1008 {
		t.Errorf("Address = %#x, want 0x1008", r.Address())
	}
	if r.Remaining() != 8 {
		t.Errorf("Remaining = %d, want 8", r.Remaining())
	}
	if err := r.SetOffset(-1); !errors.Is(err, ErrNegativeOffset) {
		t.Errorf("SetOffset(-1) err = %v", err)
	}
	if r.Offset() != 8 {
		t.Errorf("Offset = %d after failed SetOffset, want 8", r.Offset())
	}
	if err := r.SetOffset(32); err != nil {
		t.Fatal(err)
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining past end = %d, want 0", r.Remaining())
	}
	if _, err := r.ReadU32(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("ReadU32 past end err = %v", err)
	}
}
