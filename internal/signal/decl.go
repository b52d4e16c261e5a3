// Package signal implements named, declared signals dispatched synchronously
// to subscriber callbacks.
//
// Every managed object owns a Handler scoped to its lifetime; the Core owns one
// more for process-wide events. Signals are declared up front with a C-like
// prototype ("void rename(ptr stage, string new_name, string prev_name)") and
// emitted with a Calldata record carrying the named parameters.
package signal

import (
	"errors"
	"fmt"
	"strings"
)

// ParamType is the tag of a declared parameter.
type ParamType uint8

const (
	TypePtr ParamType = iota + 1
	TypeInt
	TypeFloat
	TypeBool
	TypeString
)

func (t ParamType) String() string {
	switch t {
	case TypePtr:
		return "ptr"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

func parseParamType(raw string) (ParamType, bool) {
	switch raw {
	case "ptr":
		return TypePtr, true
	case "int":
		return TypeInt, true
	case "float":
		return TypeFloat, true
	case "bool":
		return TypeBool, true
	case "string":
		return TypeString, true
	default:
		return 0, false
	}
}

// ErrInvalidDecl is returned when a declaration cannot be parsed.
var ErrInvalidDecl = errors.New("invalid signal declaration")

// Param is one named, typed parameter of a signal.
type Param struct {
	Name string
	Type ParamType
}

// Decl is a parsed signal declaration.
type Decl struct {
	Name   string
	Params []Param
}

// ParseDecl parses a prototype of the form "void name(type a, type b)".
// The return type must be void.
func ParseDecl(raw string) (Decl, error) {
	s := strings.TrimSpace(raw)
	ret, rest, ok := strings.Cut(s, " ")
	if !ok || ret != "void" {
		return Decl{}, fmt.Errorf("%w: %q: expected void return", ErrInvalidDecl, raw)
	}

	rest = strings.TrimSpace(rest)
	open := strings.IndexByte(rest, '(')
	if open <= 0 || !strings.HasSuffix(rest, ")") {
		return Decl{}, fmt.Errorf("%w: %q: expected name(params)", ErrInvalidDecl, raw)
	}

	d := Decl{Name: strings.TrimSpace(rest[:open])}
	if !validIdent(d.Name) {
		return Decl{}, fmt.Errorf("%w: %q: bad signal name", ErrInvalidDecl, raw)
	}

	body := strings.TrimSpace(rest[open+1 : len(rest)-1])
	if body == "" {
		return d, nil
	}

	seen := make(map[string]struct{})
	for _, part := range strings.Split(body, ",") {
		fields := strings.Fields(part)
		if len(fields) != 2 {
			return Decl{}, fmt.Errorf("%w: %q: bad parameter %q", ErrInvalidDecl, raw, strings.TrimSpace(part))
		}
		typ, ok := parseParamType(fields[0])
		if !ok {
			return Decl{}, fmt.Errorf("%w: %q: unknown type %q", ErrInvalidDecl, raw, fields[0])
		}
		if !validIdent(fields[1]) {
			return Decl{}, fmt.Errorf("%w: %q: bad parameter name %q", ErrInvalidDecl, raw, fields[1])
		}
		if _, dup := seen[fields[1]]; dup {
			return Decl{}, fmt.Errorf("%w: %q: duplicate parameter %q", ErrInvalidDecl, raw, fields[1])
		}
		seen[fields[1]] = struct{}{}
		d.Params = append(d.Params, Param{Name: fields[1], Type: typ})
	}
	return d, nil
}

// MustParseDecl is ParseDecl for package-level signal tables.
func MustParseDecl(raw string) Decl {
	d, err := ParseDecl(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// Equal reports whether two declarations have the same name and schema.
func (d Decl) Equal(o Decl) bool {
	if d.Name != o.Name || len(d.Params) != len(o.Params) {
		return false
	}
	for i := range d.Params {
		if d.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// String renders the declaration in prototype form.
func (d Decl) String() string {
	var b strings.Builder
	b.WriteString("void ")
	b.WriteString(d.Name)
	b.WriteByte('(')
	for i, p := range d.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Type.String())
		b.WriteByte(' ')
		b.WriteString(p.Name)
	}
	b.WriteByte(')')
	return b.String()
}

// Param returns the declared parameter with the given name.
func (d Decl) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
