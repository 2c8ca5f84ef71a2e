package rtti

import (
	"encoding/binary"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/skdltmxn/rtti-go/image"
)

const (
	testBase32  = 0x400000
	testBase64  = 0x140000000
	sectionSize = 0x1000
)

type section struct {
	name  string
	start uint64
	perm  image.Perm
	buf   []byte
}

func (s *section) alloc(t testing.TB, n, align int) uint64 {
	t.Helper()
	for len(s.buf)%align != 0 {
		s.buf = append(s.buf, 0)
	}
	addr := s.start + uint64(len(s.buf))
	s.buf = append(s.buf, make([]byte, n)...)
	if len(s.buf) > sectionSize {
		t.Fatalf("section %s overflows %#x bytes", s.name, sectionSize)
	}
	return addr
}

func (s *section) put32(addr uint64, v uint32) {
	binary.LittleEndian.PutUint32(s.buf[addr-s.start:], v)
}

func (s *section) put64(addr uint64, v uint64) {
	binary.LittleEndian.PutUint64(s.buf[addr-s.start:], v)
}

// fixture lays out RTTI records the way MSVC does: code in .text, type
// descriptors in writable .data, everything else in .rdata.
type fixture struct {
	t        testing.TB
	ps       int
	base     uint64
	text     *section
	rdata    *section
	data     *section
	typeInfo uint64
}

// newBareFixture creates a fixture without a type_info descriptor.
func newBareFixture(t testing.TB, ps int) *fixture {
	base := uint64(testBase32)
	if ps == 8 {
		base = testBase64
	}
	f := &fixture{
		t:     t,
		ps:    ps,
		base:  base,
		text:  &section{name: ".text", start: base + 0x1000, perm: image.PermRead | image.PermExec},
		rdata: &section{name: ".rdata", start: base + 0x2000, perm: image.PermRead},
		data:  &section{name: ".data", start: base + 0x3000, perm: image.PermRead | image.PermWrite},
	}
	f.typeInfo = f.rdata.alloc(t, 2*ps, ps)
	return f
}

func newFixture(t testing.TB, ps int) *fixture {
	f := newBareFixture(t, ps)
	f.typeDescriptor(typeInfoName)
	return f
}

func (f *fixture) putPtr(s *section, addr, v uint64) {
	if f.ps == 8 {
		s.put64(addr, v)
	} else {
		s.put32(addr, uint32(v))
	}
}

// ref encodes a record reference for the fixture's pointer width.
func (f *fixture) ref(addr uint64) uint32 {
	if addr == 0 {
		return 0
	}
	if f.ps == 8 {
		return uint32(addr - f.base)
	}
	return uint32(addr)
}

// code returns the address of the i-th function in .text.
func (f *fixture) code(i int) uint64 {
	return f.text.start + 0x10*uint64(i)
}

func (f *fixture) codes(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = f.code(i + 1)
	}
	return out
}

func (f *fixture) typeDescriptor(name string) uint64 {
	return f.typeDescriptorWith(name, f.typeInfo)
}

func (f *fixture) typeDescriptorWith(name string, vftable uint64) uint64 {
	ps := uint64(f.ps)
	addr := f.data.alloc(f.t, int(2*ps)+len(name)+1, f.ps)
	f.putPtr(f.data, addr, vftable)
	copy(f.data.buf[addr+2*ps-f.data.start:], name)
	return addr
}

type bcdSpec struct {
	td        uint64
	contained uint32
	where     PMD
	attrs     BCDAttributes
}

func (f *fixture) bcd(s bcdSpec) uint64 {
	addr := f.rdata.alloc(f.t, 24, 4)
	f.rdata.put32(addr, f.ref(s.td))
	f.rdata.put32(addr+4, s.contained)
	f.rdata.put32(addr+8, uint32(s.where.MDisp))
	f.rdata.put32(addr+12, uint32(s.where.PDisp))
	f.rdata.put32(addr+16, uint32(s.where.VDisp))
	f.rdata.put32(addr+20, uint32(s.attrs))
	return addr
}

func (f *fixture) hierarchy(attrs CHDAttributes, bcds ...uint64) uint64 {
	bca := f.rdata.alloc(f.t, 4*len(bcds), 4)
	for i, b := range bcds {
		f.rdata.put32(bca+4*uint64(i), f.ref(b))
	}
	chd := f.rdata.alloc(f.t, 16, 4)
	f.rdata.put32(chd+4, uint32(attrs))
	f.rdata.put32(chd+8, uint32(len(bcds)))
	f.rdata.put32(chd+12, f.ref(bca))
	return chd
}

func (f *fixture) locator(offset, cdOffset uint32, td, chd uint64) uint64 {
	size, sig := 20, ColSigRev0
	if f.ps == 8 {
		size, sig = 24, ColSigRev1
	}
	addr := f.rdata.alloc(f.t, size, 4)
	f.rdata.put32(addr, sig)
	f.rdata.put32(addr+4, offset)
	f.rdata.put32(addr+8, cdOffset)
	f.rdata.put32(addr+12, f.ref(td))
	f.rdata.put32(addr+16, f.ref(chd))
	if f.ps == 8 {
		f.rdata.put32(addr+20, uint32(addr-f.base))
	}
	return addr
}

// vftable writes the locator slot followed by entries and a terminating
// null, returning the address of the first entry.
func (f *fixture) vftable(col uint64, entries ...uint64) uint64 {
	ps := uint64(f.ps)
	addr := f.rdata.alloc(f.t, (len(entries)+2)*f.ps, f.ps)
	f.putPtr(f.rdata, addr, col)
	for i, e := range entries {
		f.putPtr(f.rdata, addr+ps*uint64(i+1), e)
	}
	return addr + ps
}

// noise fills n bytes of .rdata with pseudo-random data.
func (f *fixture) noise(n int, seed uint64) {
	addr := f.rdata.alloc(f.t, n, 4)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := range n {
		f.rdata.buf[addr-f.rdata.start+uint64(i)] = byte(rng.Uint32())
	}
}

type baseRef struct {
	class *builtClass
	where PMD
	attrs BCDAttributes
}

func nonVirtual(c *builtClass, offset int32) baseRef {
	return baseRef{class: c, where: PMD{MDisp: offset, PDisp: -1}}
}

type builtClass struct {
	td    uint64
	chd   uint64
	self  uint64
	bases []bcdSpec // flattened pre-order, self excluded
}

// class lays out a type descriptor and hierarchy for decorated with the
// given direct bases; indirect bases are taken from each base's layout.
func (f *fixture) class(decorated string, attrs CHDAttributes, bases ...baseRef) *builtClass {
	var flat []bcdSpec
	for _, b := range bases {
		flat = append(flat, bcdSpec{
			td:        b.class.td,
			contained: uint32(len(b.class.bases)),
			where:     b.where,
			attrs:     b.attrs,
		})
		for _, inner := range b.class.bases {
			inner.where.MDisp += b.where.MDisp
			flat = append(flat, inner)
		}
	}

	c := &builtClass{td: f.typeDescriptor(decorated), bases: flat}
	c.self = f.bcd(bcdSpec{td: c.td, contained: uint32(len(flat)), where: PMD{PDisp: -1}})
	addrs := []uint64{c.self}
	for _, s := range flat {
		addrs = append(addrs, f.bcd(s))
	}
	c.chd = f.hierarchy(attrs, addrs...)
	return c
}

// object adds a locator at offset for c and its vftable, returning the
// locator address.
func (f *fixture) object(c *builtClass, offset uint32, entries ...uint64) uint64 {
	col := f.locator(offset, 0, c.td, c.chd)
	f.vftable(col, entries...)
	return col
}

func (f *fixture) imageAt(base uint64) *image.Memory {
	f.t.Helper()
	m := image.NewMemory(base, f.ps)

	text := make([]byte, sectionSize)
	for i := range text {
		text[i] = 0xcc
	}
	for _, s := range []*section{f.text, f.rdata, f.data} {
		data := make([]byte, sectionSize)
		copy(data, s.buf)
		if s == f.text {
			data = text
		}
		if err := m.AddRegion(s.name, s.start, s.perm, data); err != nil {
			f.t.Fatalf("AddRegion(%s): %v", s.name, err)
		}
	}
	return m
}

func (f *fixture) image() *image.Memory {
	return f.imageAt(f.base)
}

func hex(v uint64) string {
	return strconv.FormatUint(v, 16)
}
