package types

import (
	"fmt"
	"strings"
)

// Declname produces the C-style declarator for the type, e.g. "const int *"
// or "struct foo". Plugin callbacks receive this text verbatim.
func (t *Type) Declname() string {
	if t == nil {
		return "void"
	}
	switch t.kind {
	case Integer, Float:
		if t.name != "" {
			return t.name
		}
		return t.kind.String()
	case Struct:
		return "struct " + t.nameOrAnon()
	case Union:
		return "union " + t.nameOrAnon()
	case Enum:
		return "enum " + t.nameOrAnon()
	case Typedef:
		return t.name
	case Const:
		return "const " + t.target.Declname()
	case Volatile:
		return "volatile " + t.target.Declname()
	case Restrict:
		return t.target.Declname() + " restrict"
	case Pointer:
		if t.target != nil && t.target.kind == Function {
			return t.target.funcDecl("(*)")
		}
		inner := t.target.Declname()
		if strings.HasSuffix(inner, "*") {
			return inner + "*"
		}
		return inner + " *"
	case Array:
		return fmt.Sprintf("%s [%d]", t.arr.Contents.Declname(), t.arr.Nelems)
	case Function:
		return t.funcDecl("()")
	}
	return t.kind.String()
}

func (t *Type) nameOrAnon() string {
	if t.name == "" {
		return "<anon>"
	}
	return t.name
}

func (t *Type) funcDecl(subject string) string {
	var args []string
	for _, a := range t.fn.Args {
		args = append(args, a.Declname())
	}
	if t.fn.Variadic {
		args = append(args, "...")
	}
	return fmt.Sprintf("%s %s(%s)", t.fn.Rettype.Declname(), subject, strings.Join(args, ", "))
}
