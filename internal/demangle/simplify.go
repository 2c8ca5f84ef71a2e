package demangle

// stdTypedefs maps fully spelled std template instantiations to the
// typedef names programmers write.
var stdTypedefs = map[string]string{
	"basic_string<char,struct std::char_traits<char>,class std::allocator<char> >":          "string",
	"basic_string<wchar_t,struct std::char_traits<wchar_t>,class std::allocator<wchar_t> >": "wstring",

	"basic_ios<char,struct std::char_traits<char> >":                                              "ios",
	"basic_streambuf<char,struct std::char_traits<char> >":                                        "streambuf",
	"basic_istream<char,struct std::char_traits<char> >":                                          "istream",
	"basic_iostream<char,struct std::char_traits<char> >":                                        "iostream",
	"basic_ostream<char,struct std::char_traits<char> >":                                          "ostream",
	"basic_filebuf<char,struct std::char_traits<char> >":                                          "filebuf",
	"basic_ifstream<char,struct std::char_traits<char> >":                                         "ifstream",
	"basic_ofstream<char,struct std::char_traits<char> >":                                         "ofstream",
	"basic_fstream<char,struct std::char_traits<char> >":                                          "fstream",
	"basic_stringbuf<char,struct std::char_traits<char>,class std::allocator<char> >":             "stringbuf",
	"basic_istringstream<char,struct std::char_traits<char>,class std::allocator<char> >":         "istringstream",
	"basic_ostringstream<char,struct std::char_traits<char>,class std::allocator<char> >":         "ostringstream",
	"basic_stringstream<char,struct std::char_traits<char>,class std::allocator<char> >":          "stringstream",
	"basic_ios<wchar_t,struct std::char_traits<wchar_t> >":                                        "wios",
	"basic_streambuf<wchar_t,struct std::char_traits<wchar_t> >":                                  "wstreambuf",
	"basic_istream<wchar_t,struct std::char_traits<wchar_t> >":                                    "wistream",
	"basic_iostream<wchar_t,struct std::char_traits<wchar_t> >":                                   "wiostream",
	"basic_ostream<wchar_t,struct std::char_traits<wchar_t> >":                                    "wostream",
	"basic_filebuf<wchar_t,struct std::char_traits<wchar_t> >":                                    "wfilebuf",
	"basic_ifstream<wchar_t,struct std::char_traits<wchar_t> >":                                   "wifstream",
	"basic_ofstream<wchar_t,struct std::char_traits<wchar_t> >":                                   "wofstream",
	"basic_fstream<wchar_t,struct std::char_traits<wchar_t> >":                                    "wfstream",
	"basic_stringbuf<wchar_t,struct std::char_traits<wchar_t>,class std::allocator<wchar_t> >":    "wstringbuf",
	"basic_istringstream<wchar_t,struct std::char_traits<wchar_t>,class std::allocator<wchar_t> >": "wistringstream",
	"basic_ostringstream<wchar_t,struct std::char_traits<wchar_t>,class std::allocator<wchar_t> >": "wostringstream",
	"basic_stringstream<wchar_t,struct std::char_traits<wchar_t>,class std::allocator<wchar_t> >":  "wstringstream",
}

// Simplify rewrites std template instantiations in place: well-known
// typedefs replace their expansions, default allocator and comparator
// arguments of vector and map are dropped, and trailing std::_Nil
// arguments are removed.
func Simplify(r *Result) {
	simplifyNode(r.Name)
}

func simplifyNode(n Node) Node {
	switch v := n.(type) {
	case *QualifiedName:
		for i, c := range v.Components {
			v.Components[i] = simplifyNode(c)
		}
		if len(v.Components) > 1 && v.Components[0].String() == "std" {
			for i := 1; i < len(v.Components); i++ {
				if ti, ok := v.Components[i].(*TemplateInstantiation); ok {
					v.Components[i] = simplifyStdTemplate(ti)
				}
			}
		}
	case *TemplateInstantiation:
		for i, arg := range v.Arguments {
			v.Arguments[i] = simplifyNode(arg)
		}
		for len(v.Arguments) > 0 && v.Arguments[len(v.Arguments)-1].String() == "struct std::_Nil" {
			v.Arguments = v.Arguments[:len(v.Arguments)-1]
		}
	case *TagType:
		simplifyNode(v.Name)
	case *QualifiedType:
		v.Type = simplifyNode(v.Type)
	case *PointerType:
		v.Pointee = simplifyNode(v.Pointee)
	case *ArrayType:
		v.ElementType = simplifyNode(v.ElementType)
	case *FunctionType:
		if v.ReturnType != nil {
			v.ReturnType = simplifyNode(v.ReturnType)
		}
		for i, p := range v.Parameters {
			v.Parameters[i] = simplifyNode(p)
		}
	}
	return n
}

func simplifyStdTemplate(ti *TemplateInstantiation) Node {
	if typedef, ok := stdTypedefs[ti.String()]; ok {
		return &Identifier{Name: typedef}
	}

	args := make([]string, len(ti.Arguments))
	for i, a := range ti.Arguments {
		args[i] = a.String()
	}

	switch ti.Name.String() {
	case "vector", "list", "deque":
		if len(args) == 2 && args[1] == "class std::"+renderTemplate("allocator", args[0]) {
			ti.Arguments = ti.Arguments[:1]
		}
	case "set", "multiset":
		if len(args) == 3 &&
			args[1] == "struct std::"+renderTemplate("less", args[0]) &&
			args[2] == "class std::"+renderTemplate("allocator", args[0]) {
			ti.Arguments = ti.Arguments[:1]
		}
	case "map", "multimap":
		if len(args) == 4 &&
			args[2] == "struct std::"+renderTemplate("less", args[0]) &&
			args[3] == "class std::"+renderTemplate("allocator",
				"struct std::"+renderTemplate("pair", args[0]+" const", args[1])) {
			ti.Arguments = ti.Arguments[:2]
		}
	}
	return ti
}
