package symtab

import (
	"strconv"
	"strings"
)

var builtinTypes = map[byte]string{
	'v': "void",
	'b': "bool",
	'c': "char",
	'a': "signed char",
	'h': "unsigned char",
	's': "short",
	't': "unsigned short",
	'i': "int",
	'j': "unsigned int",
	'l': "long",
	'm': "unsigned long",
	'x': "long long",
	'y': "unsigned long long",
	'f': "float",
	'd': "double",
	'e': "long double",
	'z': "...",
}

// Demangle renders an Itanium C++ mangled function name in readable form. It
// understands plain and nested names with builtin, pointer, reference and
// const parameter types; anything else is returned unchanged with ok false.
func Demangle(sym string) (string, bool) {
	if !strings.HasPrefix(sym, "_Z") {
		return sym, false
	}
	d := &demangler{s: sym, pos: 2}
	name, ok := d.name()
	if !ok {
		return sym, false
	}
	var params []string
	for d.pos < len(d.s) {
		p, ok := d.typ()
		if !ok {
			return sym, false
		}
		params = append(params, p)
	}
	if len(params) == 1 && params[0] == "void" {
		params = nil
	}
	return name + "(" + strings.Join(params, ", ") + ")", true
}

type demangler struct {
	s   string
	pos int
}

func (d *demangler) peek() byte {
	if d.pos >= len(d.s) {
		return 0
	}
	return d.s[d.pos]
}

func (d *demangler) name() (string, bool) {
	if d.peek() != 'N' {
		return d.source()
	}
	d.pos++
	var parts []string
	for d.peek() != 'E' {
		if d.pos >= len(d.s) {
			return "", false
		}
		// cv-qualifiers on member functions
		if c := d.peek(); c == 'K' || c == 'V' {
			d.pos++
			continue
		}
		p, ok := d.source()
		if !ok {
			return "", false
		}
		parts = append(parts, p)
	}
	d.pos++
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "::"), true
}

// source parses <length><identifier>.
func (d *demangler) source() (string, bool) {
	start := d.pos
	for d.pos < len(d.s) && d.s[d.pos] >= '0' && d.s[d.pos] <= '9' {
		d.pos++
	}
	n, err := strconv.Atoi(d.s[start:d.pos])
	if err != nil || n <= 0 || d.pos+n > len(d.s) {
		return "", false
	}
	id := d.s[d.pos : d.pos+n]
	d.pos += n
	return id, true
}

func (d *demangler) typ() (string, bool) {
	c := d.peek()
	d.pos++
	switch c {
	case 'P', 'R', 'K':
		inner, ok := d.typ()
		if !ok {
			return "", false
		}
		switch c {
		case 'P':
			return inner + "*", true
		case 'R':
			return inner + "&", true
		default:
			return inner + " const", true
		}
	}
	if name, ok := builtinTypes[c]; ok {
		return name, true
	}
	if c >= '1' && c <= '9' {
		d.pos--
		return d.source()
	}
	return "", false
}
