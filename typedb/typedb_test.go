package typedb

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"
)

func vftableLayout(origin uint64, slots int) Layout {
	l := Layout{Kind: KindVftable, Size: uint64(slots) * 4, Origin: origin}
	for i := range slots {
		l.Fields = append(l.Fields, Field{
			Name:   "vfunc_" + string(rune('0'+i)),
			Offset: uint64(i) * 4,
			Size:   4,
			Type:   CodePointer,
		})
	}
	return l
}

func TestMemoryDefineAndLookup(t *testing.T) {
	db := NewMemory()

	h, err := db.DefineType("Base_vtbl", vftableLayout(0x1000, 2))
	if err != nil {
		t.Fatalf("DefineType: %v", err)
	}
	if h.Name != "Base_vtbl" || h.ID == 0 {
		t.Errorf("unexpected handle %v", h)
	}

	l, ok := db.Lookup("Base_vtbl")
	if !ok {
		t.Fatal("Lookup did not find defined type")
	}
	if !l.Equal(vftableLayout(0x1000, 2)) {
		t.Errorf("stored layout differs: %+v", l)
	}

	if _, err := db.DefineType("Base_vtbl", vftableLayout(0x2000, 1)); !errors.Is(err, ErrNameConflict) {
		t.Errorf("redefine err = %v, want ErrNameConflict", err)
	}

	if _, ok := db.Lookup("Missing"); ok {
		t.Error("Lookup found a missing type")
	}
}

func TestMemoryOverwriteKeepsHandle(t *testing.T) {
	db := NewMemory()

	first, err := db.DefineType("Base", vftableLayout(0x1000, 1))
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.OverwriteType("Base", vftableLayout(0x1000, 3))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("handle changed across overwrite: %v != %v", first, second)
	}
	l, _ := db.Lookup("Base")
	if len(l.Fields) != 3 {
		t.Errorf("overwrite not applied, got %d fields", len(l.Fields))
	}
	if db.Len() != 1 {
		t.Errorf("Len = %d, want 1", db.Len())
	}

	created, err := db.OverwriteType("Fresh", vftableLayout(0x3000, 1))
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == first.ID {
		t.Error("new type reused an existing ID")
	}
}

func TestMemoryRemoveAndOrder(t *testing.T) {
	db := NewMemory()
	for _, name := range []string{"C", "A", "B"} {
		if _, err := db.DefineType(name, Layout{Kind: KindStruct}); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.RemoveType("A"); err != nil {
		t.Fatalf("RemoveType: %v", err)
	}
	if err := db.RemoveType("A"); !errors.Is(err, ErrTypeNotFound) {
		t.Errorf("second remove err = %v, want ErrTypeNotFound", err)
	}

	var names []string
	for e := range db.All() {
		names = append(names, e.Handle.Name)
	}
	if want := []string{"C", "B"}; !slices.Equal(names, want) {
		t.Errorf("All = %v, want %v", names, want)
	}
}

func TestLayoutValidate(t *testing.T) {
	tests := []struct {
		name    string
		layout  Layout
		wantErr bool
	}{
		{"empty", Layout{}, false},
		{"single", Layout{Size: 8, Fields: []Field{{Name: "a", Size: 8}}}, false},
		{"overlap", Layout{Size: 16, Fields: []Field{{Name: "a", Size: 8}, {Name: "b", Offset: 4, Size: 8}}}, true},
		{"past end", Layout{Size: 4, Fields: []Field{{Name: "a", Size: 8}}}, true},
		{"unnamed", Layout{Size: 8, Fields: []Field{{Size: 8}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.layout.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidLayout) {
				t.Errorf("err %v does not wrap ErrInvalidLayout", err)
			}
		})
	}

	db := NewMemory()
	bad := Layout{Size: 4, Fields: []Field{{Name: "a", Size: 8}}}
	if _, err := db.DefineType("Bad", bad); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("DefineType accepted invalid layout: %v", err)
	}
}

func TestCIdentifier(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Base", "Base"},
		{"app::ui::Widget", "app_ui_Widget"},
		{"Box<int>", "Box_int"},
		{"std::vector<int,class Pool<int> >", "std_vector_int_class_Pool_int"},
		{"`anonymous namespace'::Impl", "anonymous_namespace_Impl"},
		{"3d", "_3d"},
		{"<>", "_anon"},
	}
	for _, tt := range tests {
		if got := CIdentifier(tt.in); got != tt.want {
			t.Errorf("CIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteHeader(t *testing.T) {
	db := NewMemory()
	if _, err := db.DefineType("Base_vtbl", vftableLayout(0x1000, 2)); err != nil {
		t.Fatal(err)
	}
	_, err := db.DefineType("Base", Layout{
		Kind: KindStruct,
		Size: 8,
		Fields: []Field{
			{Name: "__vftable", Offset: 4, Size: 4, Type: "Base_vtbl"},
		},
		Bases:  []BaseRef{{Name: "Root", Offset: 0}},
		Origin: 0x1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := db.WriteHeader(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	for _, want := range []string{
		"struct Base_vtbl {",
		"void (*vfunc_0)(); // +0x0",
		"void (*vfunc_1)(); // +0x4",
		"//   base Root at 0",
		"char _pad0[0x4];",
		"struct Base_vtbl *__vftable; // +0x4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("header missing %q:\n%s", want, out)
		}
	}
}
