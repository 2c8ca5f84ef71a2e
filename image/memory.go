package image

import (
	"fmt"
	"slices"
	"sync"
)

type mappedRegion struct {
	Region
	data []byte
}

// Memory is an Accessor over regions held in memory. It backs File and is
// also used directly to build synthetic images.
type Memory struct {
	mu      sync.RWMutex
	base    uint64
	ptrSize int
	regions []mappedRegion
	closed  bool
}

// NewMemory creates an empty image with the given image base and pointer
// width (4 or 8).
func NewMemory(base uint64, ptrSize int) *Memory {
	return &Memory{base: base, ptrSize: ptrSize}
}

// AddRegion maps data at start with the given permissions. Regions may not
// overlap.
func (m *Memory) AddRegion(name string, start uint64, perm Perm, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := mappedRegion{
		Region: Region{Name: name, Start: start, End: start + uint64(len(data)), Perm: perm},
		data:   data,
	}
	for _, o := range m.regions {
		if r.Start < o.End && o.Start < r.End {
			return fmt.Errorf("%w: %s and %s", ErrOverlap, r.Name, o.Name)
		}
	}

	i, _ := slices.BinarySearchFunc(m.regions, start, func(e mappedRegion, t uint64) int {
		switch {
		case e.Start < t:
			return -1
		case e.Start > t:
			return 1
		}
		return 0
	})
	m.regions = slices.Insert(m.regions, i, r)
	return nil
}

func (m *Memory) find(addr uint64) *mappedRegion {
	i, found := slices.BinarySearchFunc(m.regions, addr, func(e mappedRegion, t uint64) int {
		switch {
		case e.End <= t:
			return -1
		case e.Start > t:
			return 1
		}
		return 0
	})
	if !found {
		return nil
	}
	return &m.regions[i]
}

// ReadBytes returns a copy of n bytes at addr. The range must fall inside
// a single region.
func (m *Memory) ReadBytes(addr uint64, n int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrOutOfRange, n)
	}
	r := m.find(addr)
	if r == nil || addr+uint64(n) > r.End || addr+uint64(n) < addr {
		return nil, fmt.Errorf("%w: %#x+%d", ErrOutOfRange, addr, n)
	}
	off := addr - r.Start
	out := make([]byte, n)
	copy(out, r.data[off:off+uint64(n)])
	return out, nil
}

func (m *Memory) perm(addr uint64) Perm {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0
	}
	if r := m.find(addr); r != nil {
		return r.Perm
	}
	return 0
}

func (m *Memory) IsExecutable(addr uint64) bool { return m.perm(addr).Has(PermExec) }
func (m *Memory) IsWritable(addr uint64) bool   { return m.perm(addr).Has(PermWrite) }
func (m *Memory) IsReadable(addr uint64) bool   { return m.perm(addr).Has(PermRead) }

func (m *Memory) AddressToRVA(addr uint64) uint64 { return addr - m.base }
func (m *Memory) RVAToAddress(rva uint64) uint64  { return rva + m.base }

func (m *Memory) PointerSize() int { return m.ptrSize }

// ImageBase returns the preferred load address.
func (m *Memory) ImageBase() uint64 { return m.base }

// Regions returns the mapped regions in ascending address order.
func (m *Memory) Regions() []Region {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil
	}
	out := make([]Region, len(m.regions))
	for i, r := range m.regions {
		out[i] = r.Region
	}
	return out
}

// Close releases the mapped data. Subsequent reads fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.regions = nil
	return nil
}
