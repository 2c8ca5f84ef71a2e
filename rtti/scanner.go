package rtti

import (
	"encoding/binary"
	"iter"
	"slices"

	"github.com/apex/log"

	"github.com/skdltmxn/rtti-go/image"
)

const baseAlignment = 0x10000

// Scanner enumerates addresses that may hold a complete object locator.
type Scanner struct {
	img    image.Accessor
	cfg    Config
	ps     int
	base   uint64
	baseOK bool
}

// NewScanner creates a scanner over the data regions of img.
func NewScanner(img image.Accessor, cfg Config) *Scanner {
	s := &Scanner{img: img, cfg: cfg.withDefaults(), ps: img.PointerSize()}
	if s.ps == 4 {
		s.base, s.baseOK = img.RVAToAddress(0), true
	}
	return s
}

// ImageBase returns the image base the scanner works with. For 64-bit
// images it is hypothesized from the locators themselves.
func (s *Scanner) ImageBase() (uint64, bool) {
	if !s.baseOK {
		s.hypothesizeBase()
	}
	return s.base, s.baseOK
}

func (s *Scanner) regions() []image.Region {
	return image.DataRegions(s.img, s.cfg.ScanWritable)
}

// words calls fn for every 4-byte aligned offset of reg that leaves at
// least size bytes.
func (s *Scanner) words(reg image.Region, size int, fn func(addr uint64, b []byte) bool) bool {
	data, err := s.img.ReadBytes(reg.Start, int(reg.Size()))
	if err != nil {
		log.WithField("region", reg.Name).Debugf("skipping unreadable region: %v", err)
		return true
	}
	start := int((4 - reg.Start%4) % 4)
	for off := start; off+size <= len(data); off += 4 {
		if !fn(reg.Start+uint64(off), data[off:off+size]) {
			return false
		}
	}
	return true
}

// hypothesizeBase votes over the first BaseVotes rev1 locators for the
// most common 64 KiB aligned value of address minus pSelf.
func (s *Scanner) hypothesizeBase() {
	votes := make(map[uint64]int)
	hits := 0

	for _, reg := range s.regions() {
		done := !s.words(reg, 24, func(addr uint64, b []byte) bool {
			if binary.LittleEndian.Uint32(b) != ColSigRev1 {
				return true
			}
			self := uint64(binary.LittleEndian.Uint32(b[20:]))
			if self == 0 || self > addr {
				return true
			}
			base := addr - self
			if base%baseAlignment != 0 {
				return true
			}
			votes[base]++
			hits++
			return hits < s.cfg.BaseVotes
		})
		if done {
			break
		}
	}

	bases := make([]uint64, 0, len(votes))
	for b := range votes {
		bases = append(bases, b)
	}
	slices.Sort(bases)
	best := 0
	for _, b := range bases {
		if votes[b] > best {
			best = votes[b]
			s.base = b
		}
	}
	if best == 0 {
		log.Warn("no 64-bit locator found to derive the image base from")
		return
	}
	s.baseOK = true

	fields := log.Fields{"base": s.base, "votes": best, "hits": hits}
	if reported := s.img.RVAToAddress(0); reported != s.base {
		fields["reported"] = reported
		log.WithFields(fields).Warn("image base hypothesis differs from the loaded base")
		return
	}
	log.WithFields(fields).Debug("hypothesized image base")
}

func (s *Scanner) isDataPointer(addr uint64) bool {
	return addr != 0 && s.img.IsReadable(addr) && !s.img.IsExecutable(addr)
}

// Candidates returns a lazy sequence of candidate locator addresses in
// ascending order within each region. Every call restarts the walk.
func (s *Scanner) Candidates() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		if s.ps == 8 {
			if _, ok := s.ImageBase(); !ok {
				return
			}
		}

		for _, reg := range s.regions() {
			var cont bool
			if s.ps == 8 {
				cont = s.words(reg, 24, func(addr uint64, b []byte) bool {
					if binary.LittleEndian.Uint32(b) != ColSigRev1 {
						return true
					}
					if s.base+uint64(binary.LittleEndian.Uint32(b[20:])) != addr {
						return true
					}
					td := s.base + uint64(binary.LittleEndian.Uint32(b[12:]))
					chd := s.base + uint64(binary.LittleEndian.Uint32(b[16:]))
					if !s.isDataPointer(td) || !s.isDataPointer(chd) {
						return true
					}
					return yield(addr)
				})
			} else {
				cont = s.words(reg, 20, func(addr uint64, b []byte) bool {
					if binary.LittleEndian.Uint32(b) != ColSigRev0 {
						return true
					}
					td := uint64(binary.LittleEndian.Uint32(b[12:]))
					chd := uint64(binary.LittleEndian.Uint32(b[16:]))
					if !s.isDataPointer(td) || !s.isDataPointer(chd) {
						return true
					}
					return yield(addr)
				})
			}
			if !cont {
				return
			}
		}
	}
}
