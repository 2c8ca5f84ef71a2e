package rtti

import (
	"fmt"
	"slices"

	"github.com/apex/log"
	mapset "github.com/deckarep/golang-set"

	"github.com/skdltmxn/rtti-go/image"
	"github.com/skdltmxn/rtti-go/internal/stream"
)

// Vftable is a virtual function table found through its locator slot.
type Vftable struct {
	Address uint64 // first entry; the locator pointer sits just before it
	Locator *CompleteObjectLocator
	Entries []uint64
	// ForBase names the base whose subobject the table belongs to, empty
	// for the primary table.
	ForBase string
}

// VftableLocator finds the vftable of each validated locator.
type VftableLocator struct {
	img   image.Accessor
	dec   *Decoder
	cfg   Config
	slots map[uint64][]uint64 // locator -> slot addresses, ascending
	index mapset.Set          // every slot address
}

// NewVftableLocator creates a locator. Index must be called before Locate.
func NewVftableLocator(img image.Accessor, dec *Decoder, cfg Config) *VftableLocator {
	return &VftableLocator{
		img:   img,
		dec:   dec,
		cfg:   cfg.withDefaults(),
		slots: make(map[uint64][]uint64),
		index: mapset.NewThreadUnsafeSet(),
	}
}

// Index scans data regions once for pointer-aligned slots holding one of
// the given locator addresses and returns the number of slots found.
func (l *VftableLocator) Index(locators mapset.Set) int {
	ps := l.dec.Mode().PointerSize
	found := 0

	for _, reg := range image.DataRegions(l.img, l.cfg.ScanWritable) {
		data, err := l.img.ReadBytes(reg.Start, int(reg.Size()))
		if err != nil {
			log.WithField("region", reg.Name).Debugf("skipping unreadable region: %v", err)
			continue
		}
		r := stream.NewReaderAt(data, reg.Start)
		if err := r.SetOffset(int((uint64(ps) - reg.Start%uint64(ps)) % uint64(ps))); err != nil {
			log.WithField("region", reg.Name).Debugf("skipping region: %v", err)
			continue
		}
		for r.Remaining() >= ps {
			slot := r.Address()
			v, err := r.ReadPointer(ps)
			if err != nil {
				break
			}
			if !locators.Contains(v) {
				continue
			}
			l.slots[v] = append(l.slots[v], slot)
			l.index.Add(slot)
			found++
		}
	}
	return found
}

// Locate returns the vftable whose slot points at col. A locator with no
// slot or whose slots are followed by no code pointer yields an error
// wrapping ErrEmptyVftable.
func (l *VftableLocator) Locate(col *CompleteObjectLocator) (*Vftable, error) {
	var vft *Vftable
	for _, slot := range l.slots[col.Address] {
		entries := l.entries(slot)
		if len(entries) == 0 {
			continue
		}
		if vft != nil {
			log.WithFields(log.Fields{
				"locator": col.Address,
				"kept":    vft.Address,
				"other":   slot + uint64(l.dec.Mode().PointerSize),
			}).Debug("locator referenced by several vftables")
			continue
		}
		vft = &Vftable{
			Address: slot + uint64(l.dec.Mode().PointerSize),
			Locator: col,
			Entries: entries,
		}
	}
	if vft == nil {
		return nil, &StructureError{
			Kind:    "Vftable",
			Address: col.Address,
			Message: fmt.Sprintf("%d slots, no code pointers", len(l.slots[col.Address])),
			Err:     ErrEmptyVftable,
		}
	}
	return vft, nil
}

// entries reads code pointers following slot until a non-code value, the
// end of the slot's region, another locator slot or the entry limit.
func (l *VftableLocator) entries(slot uint64) []uint64 {
	ps := uint64(l.dec.Mode().PointerSize)
	reg, ok := image.FindRegion(l.img, slot)
	if !ok {
		return nil
	}

	var out []uint64
	for addr := slot + ps; len(out) < l.cfg.MaxVftableEntries; addr += ps {
		if addr+ps > reg.End || l.index.Contains(addr) {
			break
		}
		v, err := l.dec.ReadPointer(addr)
		if err != nil || !l.img.IsExecutable(v) {
			break
		}
		out = append(out, v)
	}
	return slices.Clip(out)
}
