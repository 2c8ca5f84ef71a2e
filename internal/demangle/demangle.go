package demangle

import (
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrEmptyInput     = errors.New("demangle: empty input")
	ErrInvalidMangled = errors.New("demangle: invalid mangled name")
	ErrUnexpectedEnd  = errors.New("demangle: unexpected end of input")
	ErrInvalidBackref = errors.New("demangle: invalid back-reference")
	ErrUnsupported    = errors.New("demangle: unsupported production")
)

// typeDescriptorPrefix starts every RTTI type descriptor name of a
// user-defined type.
const typeDescriptorPrefix = ".?A"

// Result is a demangled type descriptor name.
type Result struct {
	Tag  TagKind
	Name *QualifiedName
}

// String returns the qualified name without the tag keyword.
func (r *Result) String() string {
	return r.Name.String()
}

// DemangleType parses a type descriptor name such as
// ".?AV?$vector@HV?$allocator@H@std@@@std@@". Errors wrap one of the
// package sentinels; ErrUnsupported marks valid input this parser does not
// cover.
func DemangleType(decorated string) (*Result, error) {
	if len(decorated) == 0 {
		return nil, ErrEmptyInput
	}
	if !strings.HasPrefix(decorated, typeDescriptorPrefix) {
		return nil, fmt.Errorf("%w: %q is not a type descriptor name", ErrUnsupported, decorated)
	}

	d := newDemangler(decorated)
	d.pos = len(typeDescriptorPrefix)

	res, err := d.parseTypeDescriptor()
	if err != nil {
		return nil, fmt.Errorf("%w at offset %d of %q", err, d.pos, decorated)
	}
	if d.pos != len(d.input) {
		return nil, fmt.Errorf("%w: trailing data at offset %d of %q", ErrInvalidMangled, d.pos, decorated)
	}
	return res, nil
}

// demangler holds parser state.
type demangler struct {
	input string
	pos   int

	// Back-reference tables
	names     [10]Node
	nameKeys  [10]string
	nameCount int
	types     [10]Node
	typeCount int
}

type backrefState struct {
	names     [10]Node
	nameKeys  [10]string
	nameCount int
	types     [10]Node
	typeCount int
}

func newDemangler(input string) *demangler {
	return &demangler{input: input}
}

func (d *demangler) parseTypeDescriptor() (*Result, error) {
	var tag TagKind
	switch d.consume() {
	case 'V':
		tag = TagClass
	case 'U':
		tag = TagStruct
	case 'T':
		tag = TagUnion
	case 'W':
		tag = TagEnum
		if c := d.consume(); c < '0' || c > '7' {
			return nil, ErrInvalidMangled
		}
	case 0:
		return nil, ErrUnexpectedEnd
	default:
		return nil, ErrUnsupported
	}

	name, err := d.parseFullyQualifiedName()
	if err != nil {
		return nil, err
	}
	return &Result{Tag: tag, Name: name}, nil
}

// parseFullyQualifiedName reads name fragments, innermost first, up to the
// terminating '@'.
func (d *demangler) parseFullyQualifiedName() (*QualifiedName, error) {
	var components []Node

	for {
		if d.pos >= len(d.input) {
			return nil, ErrUnexpectedEnd
		}
		if d.peek() == '@' {
			d.pos++
			break
		}

		part, err := d.parseNameFragment()
		if err != nil {
			return nil, err
		}
		components = append(components, part)
	}

	if len(components) == 0 {
		return nil, ErrInvalidMangled
	}

	// Reverse to get natural C++ order
	for i, j := 0, len(components)-1; i < j; i, j = i+1, j-1 {
		components[i], components[j] = components[j], components[i]
	}

	return &QualifiedName{Components: components}, nil
}

func (d *demangler) parseNameFragment() (Node, error) {
	c := d.peek()

	// Back-reference (digit)
	if c >= '0' && c <= '9' {
		d.pos++
		idx := int(c - '0')
		if idx >= d.nameCount {
			return nil, ErrInvalidBackref
		}
		return d.names[idx], nil
	}

	if c != '?' {
		return d.parseSimpleName()
	}

	switch d.peekAt(1) {
	case '$':
		return d.parseTemplateInstantiation()
	case 'A':
		// ?A0x1f2e3d4c@ names an anonymous namespace
		d.pos++
		raw, err := d.readIdentifier()
		if err != nil {
			return nil, err
		}
		id := &Identifier{Name: "`anonymous namespace'"}
		d.memorizeName(id, "?"+raw)
		return id, nil
	default:
		// nested function scopes and special names
		return nil, ErrUnsupported
	}
}

func (d *demangler) readIdentifier() (string, error) {
	end := strings.IndexByte(d.input[d.pos:], '@')
	if end < 0 {
		return "", ErrUnexpectedEnd
	}
	if end == 0 {
		return "", ErrInvalidMangled
	}
	s := d.input[d.pos : d.pos+end]
	d.pos += end + 1
	return s, nil
}

func (d *demangler) parseSimpleName() (Node, error) {
	name, err := d.readIdentifier()
	if err != nil {
		return nil, err
	}
	id := &Identifier{Name: name}
	d.memorizeName(id, name)
	return id, nil
}

func (d *demangler) parseTemplateInstantiation() (Node, error) {
	// Skip ?$
	d.pos += 2

	// Template arguments get a fresh back-reference scope
	outer := d.saveBackrefs()
	d.names, d.nameKeys, d.nameCount = [10]Node{}, [10]string{}, 0
	d.types, d.typeCount = [10]Node{}, 0

	name, err := d.parseSimpleName()
	if err != nil {
		return nil, err
	}

	var args []Node
	for {
		if d.pos >= len(d.input) {
			return nil, ErrUnexpectedEnd
		}
		if d.peek() == '@' {
			d.pos++
			break
		}
		arg, err := d.parseTemplateArg()
		if err != nil {
			return nil, err
		}
		if arg != nil {
			args = append(args, arg)
		}
	}

	d.restoreBackrefs(outer)

	ti := &TemplateInstantiation{Name: name, Arguments: args}
	d.memorizeName(ti, ti.String())
	return ti, nil
}

// parseTemplateArg returns a nil Node for empty parameter packs.
func (d *demangler) parseTemplateArg() (Node, error) {
	if d.peek() != '$' {
		return d.parseType()
	}

	switch d.peekAt(1) {
	case '0':
		d.pos += 2
		v, err := d.parseNumber()
		if err != nil {
			return nil, err
		}
		return &IntegerLiteral{Value: v}, nil
	case '$':
		switch d.peekAt(2) {
		case 'V', 'Z':
			d.pos += 3
			return nil, nil
		}
		return d.parseType()
	case 'S':
		d.pos += 2
		return nil, nil
	default:
		return nil, ErrUnsupported
	}
}

func (d *demangler) parseType() (Node, error) {
	if d.pos >= len(d.input) {
		return nil, ErrUnexpectedEnd
	}

	c := d.consume()

	// Type back-reference
	if c >= '0' && c <= '9' {
		idx := int(c - '0')
		if idx >= d.typeCount {
			return nil, ErrInvalidBackref
		}
		return d.types[idx], nil
	}

	if prim, ok := primitiveCodes[c]; ok {
		return &PrimitiveType{Type: prim}, nil
	}

	switch c {
	case '_':
		return d.parseExtendedType()

	case 'P':
		return d.parsePointerType(AffinityPointer, Qualifiers{})
	case 'Q':
		return d.parsePointerType(AffinityPointer, Qualifiers{IsConst: true})
	case 'R':
		return d.parsePointerType(AffinityPointer, Qualifiers{IsVolatile: true})
	case 'S':
		return d.parsePointerType(AffinityPointer, Qualifiers{IsConst: true, IsVolatile: true})
	case 'A':
		return d.parsePointerType(AffinityReference, Qualifiers{})
	case 'B':
		return d.parsePointerType(AffinityReference, Qualifiers{IsVolatile: true})

	case '$':
		return d.parseDollarType()

	case 'T':
		return d.parseTagType(TagUnion)
	case 'U':
		return d.parseTagType(TagStruct)
	case 'V':
		return d.parseTagType(TagClass)
	case 'W':
		if u := d.consume(); u < '0' || u > '7' {
			return nil, ErrInvalidMangled
		}
		return d.parseTagType(TagEnum)

	case 'Y':
		return d.parseArrayType()
	}

	return nil, ErrUnsupported
}

var primitiveCodes = map[byte]PrimitiveKind{
	'X': PrimVoid,
	'C': PrimSignedChar,
	'D': PrimChar,
	'E': PrimUnsignedChar,
	'F': PrimShort,
	'G': PrimUnsignedShort,
	'H': PrimInt,
	'I': PrimUnsignedInt,
	'J': PrimLong,
	'K': PrimUnsignedLong,
	'M': PrimFloat,
	'N': PrimDouble,
	'O': PrimLongDouble,
}

func (d *demangler) parseExtendedType() (Node, error) {
	switch d.consume() {
	case 'N':
		return &PrimitiveType{Type: PrimBool}, nil
	case 'J':
		return &PrimitiveType{Type: PrimInt64}, nil
	case 'K':
		return &PrimitiveType{Type: PrimUnsignedInt64}, nil
	case 'W':
		return &PrimitiveType{Type: PrimWChar}, nil
	case 'Q':
		return &PrimitiveType{Type: PrimChar8}, nil
	case 'S':
		return &PrimitiveType{Type: PrimChar16}, nil
	case 'U':
		return &PrimitiveType{Type: PrimChar32}, nil
	case 0:
		return nil, ErrUnexpectedEnd
	}
	return nil, ErrUnsupported
}

func (d *demangler) parsePointerType(affinity PointerAffinity, quals Qualifiers) (Node, error) {
	if d.peek() == '6' {
		d.pos++
		fn, err := d.parseFunctionType()
		if err != nil {
			return nil, err
		}
		return &PointerType{Pointee: fn, Affinity: affinity, Quals: quals}, nil
	}

	ptr := &PointerType{Affinity: affinity, Quals: quals}

	// __ptr64, __restrict and __unaligned modifiers precede the cv class
	for done := false; !done; {
		switch d.peek() {
		case 'E':
			ptr.Is64Bit = true
			d.pos++
		case 'I', 'F':
			d.pos++
		default:
			done = true
		}
	}

	pq, err := d.parseCVClass()
	if err != nil {
		return nil, err
	}
	ptr.PointeeQuals = pq

	ptr.Pointee, err = d.parseType()
	if err != nil {
		return nil, err
	}
	return ptr, nil
}

func (d *demangler) parseCVClass() (Qualifiers, error) {
	switch d.consume() {
	case 'A':
		return Qualifiers{}, nil
	case 'B':
		return Qualifiers{IsConst: true}, nil
	case 'C':
		return Qualifiers{IsVolatile: true}, nil
	case 'D':
		return Qualifiers{IsConst: true, IsVolatile: true}, nil
	case 0:
		return Qualifiers{}, ErrUnexpectedEnd
	}
	return Qualifiers{}, ErrInvalidMangled
}

func (d *demangler) parseDollarType() (Node, error) {
	if d.consume() != '$' {
		return nil, ErrUnsupported
	}

	switch d.consume() {
	case 'Q':
		return d.parsePointerType(AffinityRValueReference, Qualifiers{})
	case 'R':
		return d.parsePointerType(AffinityRValueReference, Qualifiers{IsVolatile: true})
	case 'A':
		if d.consume() != '6' {
			return nil, ErrUnsupported
		}
		return d.parseFunctionType()
	case 'B':
		return d.parseType()
	case 'C':
		quals, err := d.parseCVClass()
		if err != nil {
			return nil, err
		}
		t, err := d.parseType()
		if err != nil {
			return nil, err
		}
		return &QualifiedType{Type: t, Quals: quals}, nil
	case 'T':
		return &PrimitiveType{Type: PrimNullptr}, nil
	case 0:
		return nil, ErrUnexpectedEnd
	}
	return nil, ErrUnsupported
}

func (d *demangler) parseFunctionType() (*FunctionType, error) {
	ft := &FunctionType{}

	cc, err := d.parseCallingConvention()
	if err != nil {
		return nil, err
	}
	ft.CallingConv = cc

	if d.peek() == '@' {
		d.pos++
	} else {
		if d.peek() == '?' {
			// return type storage class
			d.pos++
			if _, err := d.parseCVClass(); err != nil {
				return nil, err
			}
		}
		ft.ReturnType, err = d.parseType()
		if err != nil {
			return nil, err
		}
	}

	if err := d.parseParameters(ft); err != nil {
		return nil, err
	}

	// throw specification, optionally noexcept
	if strings.HasPrefix(d.input[d.pos:], "_E") {
		d.pos += 2
	}
	if d.consume() != 'Z' {
		return nil, ErrInvalidMangled
	}
	return ft, nil
}

func (d *demangler) parseCallingConvention() (CallingConvention, error) {
	switch d.consume() {
	case 'A', 'B':
		return CallingConvCdecl, nil
	case 'C', 'D':
		return CallingConvPascal, nil
	case 'E', 'F':
		return CallingConvThiscall, nil
	case 'G', 'H':
		return CallingConvStdcall, nil
	case 'I', 'J':
		return CallingConvFastcall, nil
	case 'M', 'N':
		return CallingConvClrcall, nil
	case 'Q':
		return CallingConvVectorcall, nil
	case 0:
		return 0, ErrUnexpectedEnd
	}
	return 0, ErrUnsupported
}

func (d *demangler) parseParameters(ft *FunctionType) error {
	// Check for void (no parameters)
	if d.peek() == 'X' {
		d.pos++
		return nil
	}

	for {
		switch d.peek() {
		case '@':
			d.pos++
			return nil
		case 'Z':
			d.pos++
			ft.IsVariadic = true
			return nil
		case 0:
			return ErrUnexpectedEnd
		}

		start := d.pos
		param, err := d.parseType()
		if err != nil {
			return err
		}
		// single-character encodings are never memorized
		if d.pos-start > 1 {
			d.memorizeType(param)
		}
		ft.Parameters = append(ft.Parameters, param)
	}
}

func (d *demangler) parseTagType(tag TagKind) (Node, error) {
	name, err := d.parseFullyQualifiedName()
	if err != nil {
		return nil, err
	}
	return &TagType{Tag: tag, Name: name}, nil
}

func (d *demangler) parseArrayType() (Node, error) {
	count, err := d.parseNumber()
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, ErrInvalidMangled
	}

	dims := make([]int64, count)
	for i := range dims {
		if dims[i], err = d.parseNumber(); err != nil {
			return nil, err
		}
	}

	elem, err := d.parseType()
	if err != nil {
		return nil, err
	}
	return &ArrayType{ElementType: elem, Dimensions: dims}, nil
}

// parseNumber decodes the MSVC number encoding: a single digit d stands
// for d+1, otherwise hex digits A-P terminated by '@'. A leading '?'
// negates.
func (d *demangler) parseNumber() (int64, error) {
	negative := false
	if d.peek() == '?' {
		d.pos++
		negative = true
	}

	c := d.peek()
	if c >= '0' && c <= '9' {
		d.pos++
		v := int64(c-'0') + 1
		if negative {
			v = -v
		}
		return v, nil
	}

	var v int64
	for {
		c := d.consume()
		switch {
		case c == '@':
			if negative {
				v = -v
			}
			return v, nil
		case c >= 'A' && c <= 'P':
			v = v<<4 | int64(c-'A')
		case c == 0:
			return 0, ErrUnexpectedEnd
		default:
			return 0, ErrInvalidMangled
		}
	}
}

// Helper methods

func (d *demangler) peek() byte {
	return d.peekAt(0)
}

func (d *demangler) peekAt(n int) byte {
	if d.pos+n >= len(d.input) {
		return 0
	}
	return d.input[d.pos+n]
}

func (d *demangler) consume() byte {
	if d.pos >= len(d.input) {
		return 0
	}
	c := d.input[d.pos]
	d.pos++
	return c
}

// memorizeName records n under its mangled-form key unless an equal key
// is already present.
func (d *demangler) memorizeName(n Node, key string) {
	if d.nameCount >= len(d.names) {
		return
	}
	for i := 0; i < d.nameCount; i++ {
		if d.nameKeys[i] == key {
			return
		}
	}
	d.names[d.nameCount] = n
	d.nameKeys[d.nameCount] = key
	d.nameCount++
}

func (d *demangler) memorizeType(t Node) {
	if d.typeCount < len(d.types) {
		d.types[d.typeCount] = t
		d.typeCount++
	}
}

func (d *demangler) saveBackrefs() backrefState {
	return backrefState{
		names:     d.names,
		nameKeys:  d.nameKeys,
		nameCount: d.nameCount,
		types:     d.types,
		typeCount: d.typeCount,
	}
}

func (d *demangler) restoreBackrefs(s backrefState) {
	d.names, d.nameKeys, d.nameCount = s.names, s.nameKeys, s.nameCount
	d.types, d.typeCount = s.types, s.typeCount
}
