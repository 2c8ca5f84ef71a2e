// Package demangle decodes MSVC type descriptor names (".?AV...@@") into
// readable qualified type names.
package demangle

import (
	"strconv"
	"strings"
)

// NodeKind identifies the type of AST node.
type NodeKind int

const (
	NodeKindUnknown NodeKind = iota
	NodeKindIdentifier
	NodeKindTemplateInstantiation
	NodeKindQualifiedName
	NodeKindIntegerLiteral
	NodeKindPrimitiveType
	NodeKindPointerType
	NodeKindReferenceType
	NodeKindRValueReferenceType
	NodeKindArrayType
	NodeKindFunctionType
	NodeKindTagType
	NodeKindQualifiedType
)

// Node is the interface implemented by all AST nodes.
type Node interface {
	Kind() NodeKind
	String() string
}

// QualifiedName represents a fully-qualified C++ name, outermost scope first.
type QualifiedName struct {
	Components []Node
}

func (n *QualifiedName) Kind() NodeKind { return NodeKindQualifiedName }

func (n *QualifiedName) String() string {
	parts := make([]string, len(n.Components))
	for i, c := range n.Components {
		parts[i] = c.String()
	}
	return strings.Join(parts, "::")
}

// Identifier represents a simple name.
type Identifier struct {
	Name string
}

func (n *Identifier) Kind() NodeKind { return NodeKindIdentifier }
func (n *Identifier) String() string { return n.Name }

// TemplateInstantiation represents a template with arguments.
type TemplateInstantiation struct {
	Name      Node
	Arguments []Node
}

func (n *TemplateInstantiation) Kind() NodeKind { return NodeKindTemplateInstantiation }

func (n *TemplateInstantiation) String() string {
	args := make([]string, len(n.Arguments))
	for i, arg := range n.Arguments {
		args[i] = arg.String()
	}
	return renderTemplate(n.Name.String(), args...)
}

// renderTemplate formats a template name the way undname does: arguments
// joined without spaces and a space before a closing '>' that follows
// another '>'.
func renderTemplate(name string, args ...string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('<')
	b.WriteString(strings.Join(args, ","))
	if len(args) > 0 && strings.HasSuffix(args[len(args)-1], ">") {
		b.WriteByte(' ')
	}
	b.WriteByte('>')
	return b.String()
}

// IntegerLiteral represents a non-type template argument.
type IntegerLiteral struct {
	Value int64
}

func (n *IntegerLiteral) Kind() NodeKind { return NodeKindIntegerLiteral }
func (n *IntegerLiteral) String() string { return strconv.FormatInt(n.Value, 10) }

// PrimitiveKind identifies primitive types.
type PrimitiveKind int

const (
	PrimVoid PrimitiveKind = iota
	PrimBool
	PrimChar
	PrimSignedChar
	PrimUnsignedChar
	PrimShort
	PrimUnsignedShort
	PrimInt
	PrimUnsignedInt
	PrimLong
	PrimUnsignedLong
	PrimInt64
	PrimUnsignedInt64
	PrimFloat
	PrimDouble
	PrimLongDouble
	PrimWChar
	PrimChar8
	PrimChar16
	PrimChar32
	PrimNullptr
)

var primitiveNames = map[PrimitiveKind]string{
	PrimVoid:          "void",
	PrimBool:          "bool",
	PrimChar:          "char",
	PrimSignedChar:    "signed char",
	PrimUnsignedChar:  "unsigned char",
	PrimShort:         "short",
	PrimUnsignedShort: "unsigned short",
	PrimInt:           "int",
	PrimUnsignedInt:   "unsigned int",
	PrimLong:          "long",
	PrimUnsignedLong:  "unsigned long",
	PrimInt64:         "__int64",
	PrimUnsignedInt64: "unsigned __int64",
	PrimFloat:         "float",
	PrimDouble:        "double",
	PrimLongDouble:    "long double",
	PrimWChar:         "wchar_t",
	PrimChar8:         "char8_t",
	PrimChar16:        "char16_t",
	PrimChar32:        "char32_t",
	PrimNullptr:       "std::nullptr_t",
}

// PrimitiveType represents a fundamental C++ type.
type PrimitiveType struct {
	Type PrimitiveKind
}

func (n *PrimitiveType) Kind() NodeKind { return NodeKindPrimitiveType }

func (n *PrimitiveType) String() string {
	if name, ok := primitiveNames[n.Type]; ok {
		return name
	}
	return "?"
}

// Qualifiers represents CV-qualifiers.
type Qualifiers struct {
	IsConst    bool
	IsVolatile bool
}

func (q Qualifiers) String() string {
	switch {
	case q.IsConst && q.IsVolatile:
		return "const volatile"
	case q.IsConst:
		return "const"
	case q.IsVolatile:
		return "volatile"
	}
	return ""
}

func (q Qualifiers) IsEmpty() bool {
	return !q.IsConst && !q.IsVolatile
}

// QualifiedType represents a CV-qualified type, rendered with the
// qualifier after the type.
type QualifiedType struct {
	Type  Node
	Quals Qualifiers
}

func (n *QualifiedType) Kind() NodeKind { return NodeKindQualifiedType }

func (n *QualifiedType) String() string {
	if n.Quals.IsEmpty() {
		return n.Type.String()
	}
	return n.Type.String() + " " + n.Quals.String()
}

// PointerAffinity distinguishes pointer types.
type PointerAffinity int

const (
	AffinityPointer PointerAffinity = iota
	AffinityReference
	AffinityRValueReference
)

// PointerType represents a pointer, reference, or rvalue reference.
// PointeeQuals qualify the pointed-to type, Quals the pointer itself.
type PointerType struct {
	Pointee      Node
	PointeeQuals Qualifiers
	Quals        Qualifiers
	Affinity     PointerAffinity
	Is64Bit      bool
}

func (n *PointerType) Kind() NodeKind {
	switch n.Affinity {
	case AffinityReference:
		return NodeKindReferenceType
	case AffinityRValueReference:
		return NodeKindRValueReferenceType
	default:
		return NodeKindPointerType
	}
}

func (n *PointerType) sigil() string {
	switch n.Affinity {
	case AffinityReference:
		return "&"
	case AffinityRValueReference:
		return "&&"
	}
	return "*"
}

func (n *PointerType) String() string {
	if fn, ok := n.Pointee.(*FunctionType); ok {
		return fn.render("(" + fn.CallingConv.String() + n.sigil() + ")")
	}

	var b strings.Builder
	b.WriteString(n.Pointee.String())
	if !n.PointeeQuals.IsEmpty() {
		b.WriteString(" " + n.PointeeQuals.String())
	}
	b.WriteString(" " + n.sigil())
	if !n.Quals.IsEmpty() {
		b.WriteString(" " + n.Quals.String())
	}
	return b.String()
}

// ArrayType represents a C++ array type.
type ArrayType struct {
	ElementType Node
	Dimensions  []int64
}

func (n *ArrayType) Kind() NodeKind { return NodeKindArrayType }

func (n *ArrayType) String() string {
	var b strings.Builder
	b.WriteString(n.ElementType.String())
	for _, dim := range n.Dimensions {
		b.WriteString("[" + strconv.FormatInt(dim, 10) + "]")
	}
	return b.String()
}

// CallingConvention represents function calling conventions.
type CallingConvention int

const (
	CallingConvCdecl CallingConvention = iota
	CallingConvPascal
	CallingConvThiscall
	CallingConvStdcall
	CallingConvFastcall
	CallingConvVectorcall
	CallingConvClrcall
)

var callingConvNames = map[CallingConvention]string{
	CallingConvCdecl:      "__cdecl",
	CallingConvPascal:     "__pascal",
	CallingConvThiscall:   "__thiscall",
	CallingConvStdcall:    "__stdcall",
	CallingConvFastcall:   "__fastcall",
	CallingConvVectorcall: "__vectorcall",
	CallingConvClrcall:    "__clrcall",
}

func (c CallingConvention) String() string {
	return callingConvNames[c]
}

// FunctionType represents a function signature.
type FunctionType struct {
	CallingConv CallingConvention
	ReturnType  Node
	Parameters  []Node
	IsVariadic  bool
}

func (n *FunctionType) Kind() NodeKind { return NodeKindFunctionType }

func (n *FunctionType) String() string {
	return n.render(n.CallingConv.String())
}

// render formats the signature with declarator between the return type
// and the parameter list.
func (n *FunctionType) render(declarator string) string {
	var b strings.Builder
	if n.ReturnType != nil {
		b.WriteString(n.ReturnType.String())
		b.WriteByte(' ')
	}
	b.WriteString(declarator)
	b.WriteByte('(')
	params := make([]string, 0, len(n.Parameters)+1)
	for _, p := range n.Parameters {
		params = append(params, p.String())
	}
	if n.IsVariadic {
		params = append(params, "...")
	}
	if len(params) == 0 {
		params = append(params, "void")
	}
	b.WriteString(strings.Join(params, ","))
	b.WriteByte(')')
	return b.String()
}

// TagKind identifies class types.
type TagKind int

const (
	TagUnion TagKind = iota
	TagStruct
	TagClass
	TagEnum
)

var tagNames = map[TagKind]string{
	TagUnion:  "union",
	TagStruct: "struct",
	TagClass:  "class",
	TagEnum:   "enum",
}

func (k TagKind) String() string { return tagNames[k] }

// TagType represents class, struct, union, or enum types.
type TagType struct {
	Tag  TagKind
	Name *QualifiedName
}

func (n *TagType) Kind() NodeKind { return NodeKindTagType }

func (n *TagType) String() string {
	return n.Tag.String() + " " + n.Name.String()
}
