package rtti

import (
	"bytes"
	"strings"

	"github.com/apex/log"

	"github.com/skdltmxn/rtti-go/image"
)

const typeInfoName = ".?AVtype_info@@"

// TypeInfo is the resolved address of the std::type_info vftable that
// every genuine type descriptor points at.
type TypeInfo struct {
	VFTable uint64 `json:"vftable"`
	// Known is false when no type descriptor could be found; the vftable
	// check is then skipped.
	Known bool `json:"known"`
	// Confirmed is true when the address came from type_info's own
	// descriptor rather than a vote.
	Confirmed   bool `json:"confirmed"`
	Descriptors int  `json:"descriptors"`
}

// validTypeName reports whether name has the shape of a class or struct
// type descriptor name.
func validTypeName(name string) bool {
	return (strings.HasPrefix(name, ".?AV") || strings.HasPrefix(name, ".?AU")) &&
		strings.HasSuffix(name, "@@") &&
		len(name) <= MaxNameLength
}

// ResolveTypeInfo finds the type_info vftable by scanning every data
// region, writable ones included, for type descriptor names.
func ResolveTypeInfo(img image.Accessor, dec *Decoder) TypeInfo {
	ps := uint64(dec.Mode().PointerSize)
	votes := make(map[uint64]int)
	var ti TypeInfo

	for _, reg := range image.DataRegions(img, true) {
		data, err := img.ReadBytes(reg.Start, int(reg.Size()))
		if err != nil {
			log.WithField("region", reg.Name).Debugf("skipping unreadable region: %v", err)
			continue
		}

		for off := 0; ; {
			i := bytes.Index(data[off:], []byte(".?A"))
			if i < 0 {
				break
			}
			hit := uint64(off + i)
			off += i + 1

			if hit < 2*ps {
				continue
			}
			addr := reg.Start + hit - 2*ps
			if addr%ps != 0 {
				continue
			}
			td, err := dec.DecodeTypeDescriptor(addr)
			if err != nil || td.Spare != 0 || td.VFTable == 0 || !validTypeName(td.DecoratedName) {
				continue
			}

			ti.Descriptors++
			if td.DecoratedName == typeInfoName {
				ti.VFTable = td.VFTable
				ti.Known = true
				ti.Confirmed = true
			}
			votes[td.VFTable]++
		}
	}

	if !ti.Confirmed {
		best := 0
		for vft, n := range votes {
			if n > best || n == best && vft < ti.VFTable {
				best = n
				ti.VFTable = vft
			}
		}
		ti.Known = best > 0
	}

	log.WithFields(log.Fields{
		"vftable":     ti.VFTable,
		"known":       ti.Known,
		"confirmed":   ti.Confirmed,
		"descriptors": ti.Descriptors,
	}).Debug("resolved type_info vftable")
	return ti
}
