package typedb

import (
	"fmt"
	"io"
	"strings"
)

// CIdentifier turns a demangled C++ name into a valid C identifier.
func CIdentifier(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	underscore := false
	for _, r := range name {
		ok := r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
		if !ok {
			if !underscore && sb.Len() > 0 {
				sb.WriteByte('_')
				underscore = true
			}
			continue
		}
		sb.WriteRune(r)
		underscore = false
	}
	id := strings.TrimRight(sb.String(), "_")
	if id == "" {
		return "_anon"
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "_" + id
	}
	return id
}

// WriteHeader renders every stored type as a C declaration.
func (m *Memory) WriteHeader(w io.Writer) error {
	for e := range m.All() {
		if err := writeStruct(w, e); err != nil {
			return err
		}
	}
	return nil
}

func writeStruct(w io.Writer, e Entry) error {
	var sb strings.Builder
	l := e.Layout

	fmt.Fprintf(&sb, "// %s (%s, size %#x, origin %#x)\n", e.Handle.Name, l.Kind, l.Size, l.Origin)
	for _, b := range l.Bases {
		kind := "base"
		if b.Virtual {
			kind = "virtual base"
		}
		fmt.Fprintf(&sb, "//   %s %s at %d", kind, b.Name, b.Offset)
		if b.Flags != "" {
			fmt.Fprintf(&sb, " [%s]", b.Flags)
		}
		sb.WriteByte('\n')
	}

	fmt.Fprintf(&sb, "struct %s {\n", CIdentifier(e.Handle.Name))
	var cursor uint64
	pad := 0
	for _, f := range l.Fields {
		if f.Offset > cursor {
			fmt.Fprintf(&sb, "    char _pad%d[%#x];\n", pad, f.Offset-cursor)
			pad++
		}
		if f.IsCodePointer() {
			fmt.Fprintf(&sb, "    void (*%s)(); // +%#x\n", CIdentifier(f.Name), f.Offset)
		} else {
			fmt.Fprintf(&sb, "    struct %s *%s; // +%#x\n", CIdentifier(f.Type), CIdentifier(f.Name), f.Offset)
		}
		cursor = f.Offset + f.Size
	}
	if l.Size > cursor {
		fmt.Fprintf(&sb, "    char _pad%d[%#x];\n", pad, l.Size-cursor)
	}
	sb.WriteString("};\n\n")

	_, err := io.WriteString(w, sb.String())
	return err
}
