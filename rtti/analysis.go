package rtti

import (
	"context"
	"errors"
	"fmt"

	"github.com/apex/log"
	mapset "github.com/deckarep/golang-set"

	"github.com/skdltmxn/rtti-go/image"
	"github.com/skdltmxn/rtti-go/typedb"
)

// Confidence grades how well the type_info anchor was established.
type Confidence int

const (
	High Confidence = iota
	Low
)

func (c Confidence) String() string {
	if c == High {
		return "high"
	}
	return "low"
}

func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// VftableReport summarizes one located vftable.
type VftableReport struct {
	Address  uint64   `json:"address"`
	Locator  uint64   `json:"locator"`
	Offset   uint32   `json:"offset"`
	CDOffset uint32   `json:"cdOffset"`
	Entries  []uint64 `json:"entries"`
	ForBase  string   `json:"forBase,omitempty"`
}

// ClassReport is one recovered class.
type ClassReport struct {
	Name         string          `json:"name"`
	Decorated    string          `json:"decorated"`
	Unparsed     bool            `json:"unparsed,omitempty"`
	Kind         string          `json:"kind"`
	Descriptor   uint64          `json:"descriptor"`
	Attributes   string          `json:"attributes"`
	Bases        []BaseEdge      `json:"bases"`
	VirtualBases []BaseEdge      `json:"virtualBases,omitempty"`
	Vftables     []VftableReport `json:"vftables"`
	StructType   *typedb.Handle  `json:"structType,omitempty"`
	VftableTypes []typedb.Handle `json:"vftableTypes,omitempty"`
	Confidence   Confidence      `json:"confidence"`
}

// Stats counts what happened to candidates during a run.
type Stats struct {
	Candidates    int `json:"candidates"`
	Validated     int `json:"validated"`
	Malformed     int `json:"malformed"`
	Rejected      int `json:"rejected"`
	EmptyVftables int `json:"emptyVftables"`
	Classes       int `json:"classes"`
	Emitted       int `json:"emitted"`
	Overwritten   int `json:"overwritten"`
	EmitFailures  int `json:"emitFailures"`
}

// AnalysisReport is the result of Analyze.
type AnalysisReport struct {
	PointerSize int           `json:"pointerSize"`
	ImageBase   uint64        `json:"imageBase"`
	TypeInfo    TypeInfo      `json:"typeInfo"`
	Classes     []ClassReport `json:"classes"`
	Stats       Stats         `json:"stats"`
}

func checkReadable(img image.Accessor) error {
	ps := img.PointerSize()
	if ps != 4 && ps != 8 {
		return fmt.Errorf("%w: pointer size %d", ErrImageUnreadable, ps)
	}
	regions := image.DataRegions(img, true)
	if len(regions) == 0 {
		return fmt.Errorf("%w: no readable data regions", ErrImageUnreadable)
	}
	for _, r := range regions {
		if r.Size() == 0 {
			continue
		}
		if _, err := img.ReadBytes(r.Start, 1); err != nil {
			return fmt.Errorf("%w: region %s: %w", ErrImageUnreadable, r.Name, err)
		}
	}
	return nil
}

// Analyze recovers every class with RTTI in img and, when db is not nil,
// writes its struct and vftable types. Only an unreadable image or a
// cancelled context fails the run; rejected candidates are counted in
// the report's stats.
func Analyze(ctx context.Context, img image.Accessor, db typedb.Database, cfg Config) (*AnalysisReport, error) {
	cfg = cfg.withDefaults()
	if err := checkReadable(img); err != nil {
		return nil, err
	}

	report := &AnalysisReport{PointerSize: img.PointerSize()}
	stats := &report.Stats

	scanner := NewScanner(img, cfg)
	base, ok := scanner.ImageBase()
	if !ok {
		return report, nil
	}
	report.ImageBase = base

	dec := NewDecoder(img, Mode{PointerSize: report.PointerSize, ImageBase: base})
	report.TypeInfo = ResolveTypeInfo(img, dec)
	if !report.TypeInfo.Known {
		log.Warn("type_info vftable not found, results are low confidence")
	}

	validator := NewValidator(img, dec, report.TypeInfo, cfg)
	arena := NewArena(dec)
	seen := mapset.NewThreadUnsafeSet()
	locators := mapset.NewThreadUnsafeSet()
	var chains []*Chain

	for addr := range scanner.Candidates() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats.Candidates++
		if !seen.Add(addr) {
			continue
		}

		chain, err := validator.Validate(addr)
		if err != nil {
			if errors.Is(err, ErrMalformedStructure) {
				stats.Malformed++
			} else {
				stats.Rejected++
			}
			log.WithField("address", addr).Debugf("candidate rejected: %v", err)
			continue
		}
		stats.Validated++
		arena.AddChain(chain)
		locators.Add(addr)
		chains = append(chains, chain)
	}

	vl := NewVftableLocator(img, dec, cfg)
	slots := vl.Index(locators)
	log.WithFields(log.Fields{
		"candidates": stats.Candidates,
		"validated":  stats.Validated,
		"slots":      slots,
	}).Info("scanned image")

	names, err := NewNameCache(cfg.NameCacheSize)
	if err != nil {
		return nil, err
	}
	builder := NewHierarchyBuilder(arena, names)

	for _, chain := range chains {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node, err := builder.Build(chain)
		if err != nil {
			stats.Malformed++
			log.WithField("locator", chain.Locator.Address).Debugf("dropping locator: %v", err)
			continue
		}
		vft, err := vl.Locate(chain.Locator)
		if err != nil {
			stats.EmptyVftables++
			log.WithField("locator", chain.Locator.Address).Debugf("dropping locator: %v", err)
			continue
		}
		vft.ForBase = node.ForBase(chain.Locator.Offset)
		node.Vftables = append(node.Vftables, vft)
	}

	confidence := High
	if !report.TypeInfo.Confirmed {
		confidence = Low
	}

	var em *Emitter
	if db != nil {
		em = NewEmitter(db, report.PointerSize)
	}

	for node := range arena.Nodes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// A class is kept only when one of its locators has a vftable.
		if len(node.Vftables) == 0 {
			log.WithField("class", node.Name.Display).Debug("dropping class without vftables")
			continue
		}
		cr := classReport(node, confidence)

		if em != nil {
			out, err := em.Emit(node)
			switch {
			case err != nil:
				stats.EmitFailures++
				log.WithField("class", node.Name.Display).Warnf("emission failed: %v", err)
			case out != nil:
				st := out.Struct
				cr.StructType = &st
				cr.VftableTypes = out.Vftables
				stats.Emitted += len(out.Vftables) + 1
				stats.Overwritten += out.Overwritten
			}
		}
		report.Classes = append(report.Classes, cr)
	}
	stats.Classes = len(report.Classes)

	log.WithFields(log.Fields{
		"classes":     stats.Classes,
		"emitted":     stats.Emitted,
		"overwritten": stats.Overwritten,
	}).Info("analysis complete")
	return report, nil
}

func classReport(n *HierarchyNode, confidence Confidence) ClassReport {
	cr := ClassReport{
		Name:         n.Name.Display,
		Decorated:    n.Name.Decorated,
		Unparsed:     n.Name.Unparsed,
		Kind:         n.Name.Kind,
		Descriptor:   n.Descriptor.Address,
		Attributes:   n.Attributes.String(),
		Bases:        n.Bases,
		VirtualBases: n.VirtualBases,
		Confidence:   confidence,
	}
	for _, v := range n.Vftables {
		cr.Vftables = append(cr.Vftables, VftableReport{
			Address:  v.Address,
			Locator:  v.Locator.Address,
			Offset:   v.Locator.Offset,
			CDOffset: v.Locator.CDOffset,
			Entries:  v.Entries,
			ForBase:  v.ForBase,
		})
	}
	return cr
}
