package rtti

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/skdltmxn/rtti-go/image"
	"github.com/skdltmxn/rtti-go/typedb"
)

func findClass(t *testing.T, r *AnalysisReport, name string) ClassReport {
	t.Helper()
	for _, c := range r.Classes {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("class %s not reported; have %v", name, classNames(r))
	return ClassReport{}
}

func classNames(r *AnalysisReport) []string {
	var names []string
	for _, c := range r.Classes {
		names = append(names, c.Name)
	}
	return names
}

func fieldNames(l typedb.Layout) []string {
	var names []string
	for _, f := range l.Fields {
		names = append(names, f.Name)
	}
	return names
}

func TestAnalyzeSingleInheritance32(t *testing.T) {
	f := newFixture(t, 4)
	base := f.class(".?AVBase@@", 0)
	f.object(base, 0, f.code(1), f.code(2))
	derived := f.class(".?AVDerived@@", 0, nonVirtual(base, 0))
	f.object(derived, 0, f.code(3), f.code(4), f.code(5))

	db := typedb.NewMemory()
	report, err := Analyze(context.Background(), f.image(), db, DefaultConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if report.PointerSize != 4 || report.ImageBase != testBase32 {
		t.Errorf("pointer size %d base %#x", report.PointerSize, report.ImageBase)
	}
	if !report.TypeInfo.Confirmed || report.TypeInfo.VFTable != f.typeInfo {
		t.Errorf("type_info = %+v, want confirmed %#x", report.TypeInfo, f.typeInfo)
	}
	if len(report.Classes) != 2 || report.Stats.Classes != 2 {
		t.Fatalf("classes = %v", classNames(report))
	}

	d := findClass(t, report, "Derived")
	if d.Confidence != High {
		t.Errorf("confidence = %v, want high", d.Confidence)
	}
	if len(d.Bases) != 1 || d.Bases[0].Name.Display != "Base" || d.Bases[0].Offset != 0 ||
		d.Bases[0].Parent != "Derived" || !d.Bases[0].Direct {
		t.Errorf("bases = %+v", d.Bases)
	}
	if len(d.Vftables) != 1 || len(d.Vftables[0].Entries) != 3 {
		t.Fatalf("vftables = %+v", d.Vftables)
	}
	if want := []uint64{f.code(3), f.code(4), f.code(5)}; !slices.Equal(d.Vftables[0].Entries, want) {
		t.Errorf("entries = %#x, want %#x", d.Vftables[0].Entries, want)
	}

	vt, ok := db.Lookup("Derived::vftable")
	if !ok {
		t.Fatal("Derived::vftable not emitted")
	}
	if want := []string{"vfunc_0", "vfunc_1", "vfunc_2"}; !slices.Equal(fieldNames(vt), want) {
		t.Errorf("vftable fields = %v, want %v", fieldNames(vt), want)
	}
	if vt.Size != 12 || vt.Fields[2].Offset != 8 || !vt.Fields[2].IsCodePointer() {
		t.Errorf("vftable layout = %+v", vt)
	}

	st, ok := db.Lookup("Derived")
	if !ok {
		t.Fatal("Derived not emitted")
	}
	if len(st.Fields) != 1 || st.Fields[0].Name != "__vftable" || st.Fields[0].Offset != 0 ||
		st.Fields[0].Type != "Derived::vftable" || st.Size != 4 {
		t.Errorf("struct layout = %+v", st)
	}
	if len(st.Bases) != 1 || st.Bases[0].Name != "Base" {
		t.Errorf("struct bases = %+v", st.Bases)
	}
	if st.Origin != d.Descriptor {
		t.Errorf("origin %#x, want %#x", st.Origin, d.Descriptor)
	}
	if db.Len() != 4 || report.Stats.Emitted != 4 {
		t.Errorf("db has %d types, stats emitted %d", db.Len(), report.Stats.Emitted)
	}
}

func TestAnalyzeMultipleInheritance64(t *testing.T) {
	f := newFixture(t, 8)
	a := f.class(".?AVA@@", 0)
	f.object(a, 0, f.codes(2)...)
	b := f.class(".?AVB@@", 0)
	f.object(b, 0, f.codes(2)...)
	multi := f.class(".?AVMulti@@", CHDMultipleInheritance, nonVirtual(a, 0), nonVirtual(b, 8))
	f.object(multi, 0, f.codes(3)...)
	f.object(multi, 8, f.codes(2)...)

	db := typedb.NewMemory()
	report, err := Analyze(context.Background(), f.image(), db, DefaultConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.ImageBase != testBase64 || report.PointerSize != 8 {
		t.Errorf("base %#x pointer size %d", report.ImageBase, report.PointerSize)
	}
	if len(report.Classes) != 3 {
		t.Fatalf("classes = %v", classNames(report))
	}

	m := findClass(t, report, "Multi")
	if m.Attributes != "MULTINH" {
		t.Errorf("attributes = %s", m.Attributes)
	}
	if len(m.Vftables) != 2 {
		t.Fatalf("vftables = %+v", m.Vftables)
	}

	st, ok := db.Lookup("Multi")
	if !ok {
		t.Fatal("Multi not emitted")
	}
	want := []typedb.Field{
		{Name: "__vftable", Offset: 0, Size: 8, Type: "Multi::vftable"},
		{Name: "__vftable_B", Offset: 8, Size: 8, Type: "Multi::vftable{for B}"},
	}
	if !slices.Equal(st.Fields, want) || st.Size != 16 {
		t.Errorf("struct layout = %+v", st)
	}

	secondary, ok := db.Lookup("Multi::vftable{for B}")
	if !ok {
		t.Fatal("secondary vftable not emitted")
	}
	if len(secondary.Fields) != 2 || secondary.Fields[1].Offset != 8 {
		t.Errorf("secondary layout = %+v", secondary)
	}
	if primary, _ := db.Lookup("Multi::vftable"); len(primary.Fields) != 3 {
		t.Errorf("primary layout = %+v", primary)
	}
	if db.Len() != 7 {
		t.Errorf("db has %d types, want 7", db.Len())
	}
}

func TestAnalyzeIgnoresNoise(t *testing.T) {
	for _, ps := range []int{4, 8} {
		f := newFixture(t, ps)
		f.noise(0x200, 1)
		root := f.class(".?AVRoot@@", 0)
		f.object(root, 0, f.codes(1)...)
		f.noise(0x100, 2)
		mid := f.class(".?AVMid@@", 0, nonVirtual(root, 0))
		f.object(mid, 0, f.codes(2)...)
		leaf := f.class(".?AULeaf@@", 0, nonVirtual(mid, 0))
		f.object(leaf, 0, f.codes(3)...)
		f.noise(0x100, 3)

		report, err := Analyze(context.Background(), f.image(), nil, DefaultConfig())
		if err != nil {
			t.Fatalf("ps=%d: Analyze: %v", ps, err)
		}
		if len(report.Classes) != 3 {
			t.Errorf("ps=%d: classes = %v, want 3", ps, classNames(report))
		}
		if report.Stats.Emitted != 0 {
			t.Errorf("ps=%d: emitted %d types without a database", ps, report.Stats.Emitted)
		}
		if l := findClass(t, report, "Leaf"); l.Kind != "struct" || len(l.Bases) != 2 {
			t.Errorf("ps=%d: Leaf = %+v", ps, l)
		}
	}
}

func TestAnalyzeEmptyVftable(t *testing.T) {
	f := newFixture(t, 4)
	a := f.class(".?AVA@@", 0)
	b := f.class(".?AVB@@", 0)
	multi := f.class(".?AVMulti@@", CHDMultipleInheritance, nonVirtual(a, 0), nonVirtual(b, 4))
	f.object(multi, 0, f.codes(2)...)
	f.object(multi, 4, f.typeInfo) // first entry is not code

	lonely := f.class(".?AVLonely@@", 0)
	f.locator(0, 0, lonely.td, lonely.chd) // no vftable references it
	ghost := f.class(".?AVGhost@@", 0)
	f.object(ghost, 0, f.typeInfo)

	db := typedb.NewMemory()
	report, err := Analyze(context.Background(), f.image(), db, DefaultConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Stats.EmptyVftables != 3 {
		t.Errorf("empty vftables = %d, want 3", report.Stats.EmptyVftables)
	}
	if want := []string{"Multi"}; !slices.Equal(classNames(report), want) {
		t.Fatalf("classes = %v, want %v", classNames(report), want)
	}
	for _, name := range []string{"Lonely", "Ghost"} {
		if _, ok := db.Lookup(name); ok {
			t.Errorf("type emitted for %s without vftables", name)
		}
	}

	m := report.Classes[0]
	if len(m.Vftables) != 1 || len(m.Bases) != 2 {
		t.Errorf("Multi = %+v", m)
	}
	st, _ := db.Lookup("Multi")
	if len(st.Fields) != 1 {
		t.Errorf("struct fields = %v, want only the primary vftable", fieldNames(st))
	}
	if _, ok := db.Lookup("Multi::vftable{for B}"); ok {
		t.Error("empty vftable emitted")
	}
}

func TestAnalyzeUnparsedName(t *testing.T) {
	const raw = ".?AVLocal@?1??func@@YAXXZ@@"
	f := newFixture(t, 4)
	c := f.class(raw, 0)
	f.object(c, 0, f.codes(1)...)

	db := typedb.NewMemory()
	report, err := Analyze(context.Background(), f.image(), db, DefaultConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	cr := findClass(t, report, raw)
	if !cr.Unparsed || cr.Decorated != raw {
		t.Errorf("class = %+v", cr)
	}
	if _, ok := db.Lookup(raw); !ok {
		t.Error("struct not emitted under the raw name")
	}
	if _, ok := db.Lookup(raw + "::vftable"); !ok {
		t.Error("vftable not emitted under the raw name")
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	f := newFixture(t, 4)
	base := f.class(".?AVBase@@", 0)
	f.object(base, 0, f.codes(2)...)
	derived := f.class(".?AVDerived@@", 0, nonVirtual(base, 0))
	f.object(derived, 0, f.codes(3)...)
	img := f.image()

	db := typedb.NewMemory()
	if _, err := Analyze(context.Background(), img, db, DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	first, _ := db.Lookup("Derived")
	firstHandle, _ := db.Handle("Derived")
	count := db.Len()

	report, err := Analyze(context.Background(), img, db, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	second, _ := db.Lookup("Derived")
	secondHandle, _ := db.Handle("Derived")

	if db.Len() != count {
		t.Errorf("second run changed type count from %d to %d", count, db.Len())
	}
	if !first.Equal(second) {
		t.Errorf("layout changed:\n%+v\n%+v", first, second)
	}
	if firstHandle != secondHandle {
		t.Errorf("handle changed: %v != %v", firstHandle, secondHandle)
	}
	if report.Stats.Overwritten != count {
		t.Errorf("overwritten = %d, want %d", report.Stats.Overwritten, count)
	}
}

func TestAnalyzeNameConflict(t *testing.T) {
	f := newFixture(t, 4)
	c := f.class(".?AVBase@@", 0)
	f.object(c, 0, f.codes(1)...)

	db := typedb.NewMemory()
	if _, err := db.DefineType("Base", typedb.Layout{Kind: typedb.KindStruct, Origin: 1}); err != nil {
		t.Fatal(err)
	}

	report, err := Analyze(context.Background(), f.image(), db, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	cr := findClass(t, report, "Base")
	if cr.StructType == nil {
		t.Fatal("struct not emitted")
	}
	want := "Base@" + hex(c.chd)
	if cr.StructType.Name != want {
		t.Errorf("struct emitted as %q, want %q", cr.StructType.Name, want)
	}
	if l, _ := db.Lookup("Base"); l.Origin != 1 {
		t.Error("unrelated type was overwritten")
	}
}

func TestAnalyzeUnconfirmedTypeInfo(t *testing.T) {
	f := newBareFixture(t, 4)
	c := f.class(".?AVBase@@", 0)
	f.object(c, 0, f.codes(1)...)
	other := f.class(".?AVOther@@", 0)
	f.object(other, 0, f.codes(1)...)

	report, err := Analyze(context.Background(), f.image(), nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !report.TypeInfo.Known || report.TypeInfo.Confirmed || report.TypeInfo.VFTable != f.typeInfo {
		t.Errorf("type_info = %+v", report.TypeInfo)
	}
	if len(report.Classes) != 2 {
		t.Fatalf("classes = %v", classNames(report))
	}
	for _, cr := range report.Classes {
		if cr.Confidence != Low {
			t.Errorf("%s confidence = %v, want low", cr.Name, cr.Confidence)
		}
	}
}

func TestAnalyzeRejectsForeignTypeDescriptor(t *testing.T) {
	f := newFixture(t, 4)
	good := f.class(".?AVGood@@", 0)
	f.object(good, 0, f.codes(1)...)

	td := f.typeDescriptorWith(".?AVFake@@", f.code(9))
	self := f.bcd(bcdSpec{td: td, where: PMD{PDisp: -1}})
	chd := f.hierarchy(0, self)
	col := f.locator(0, 0, td, chd)
	f.vftable(col, f.codes(2)...)

	lambda := f.class(".?AV<lambda_1>@@", 0)
	f.object(lambda, 0, f.codes(1)...)

	report, err := Analyze(context.Background(), f.image(), nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"Good"}; !slices.Equal(classNames(report), want) {
		t.Errorf("classes = %v, want %v", classNames(report), want)
	}
	if report.Stats.Rejected < 2 {
		t.Errorf("rejected = %d, want at least 2", report.Stats.Rejected)
	}
}

func TestAnalyzeCancelled(t *testing.T) {
	f := newFixture(t, 4)
	c := f.class(".?AVBase@@", 0)
	f.object(c, 0, f.codes(1)...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	db := typedb.NewMemory()
	if _, err := Analyze(ctx, f.image(), db, DefaultConfig()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if db.Len() != 0 {
		t.Errorf("cancelled run emitted %d types", db.Len())
	}
}

func TestAnalyzeUnreadableImage(t *testing.T) {
	tests := []struct {
		name string
		img  image.Accessor
	}{
		{"no regions", image.NewMemory(testBase32, 4)},
		{"bad pointer size", image.NewMemory(testBase32, 2)},
		{"closed", func() image.Accessor {
			m := newFixture(t, 4).image()
			m.Close()
			return m
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(context.Background(), tt.img, nil, DefaultConfig())
			if !errors.Is(err, ErrImageUnreadable) {
				t.Errorf("err = %v, want ErrImageUnreadable", err)
			}
		})
	}
}

func TestAnalyzeNoLocators64(t *testing.T) {
	f := newFixture(t, 8)
	f.noise(0x100, 7)

	report, err := Analyze(context.Background(), f.image(), typedb.NewMemory(), DefaultConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.Classes) != 0 {
		t.Errorf("classes = %v", classNames(report))
	}
}
