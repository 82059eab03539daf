package irtext

import "fmt"

// Kind classifies a token.
type Kind uint8

const (
	EOF Kind = iota
	Ident
	Local  // %name
	Global // @name
	Int
	Float
	Hex
	String
	Equal
	Comma
	Colon
	Plus
	LParen
	RParen
	LBrace
	RBrace
	LBracket
	RBracket
	Ellipsis
)

var kindNames = [...]string{
	EOF:      "end of file",
	Ident:    "identifier",
	Local:    "local name",
	Global:   "global name",
	Int:      "integer",
	Float:    "float",
	Hex:      "hex literal",
	String:   "string",
	Equal:    "'='",
	Comma:    "','",
	Colon:    "':'",
	Plus:     "'+'",
	LParen:   "'('",
	RParen:   "')'",
	LBrace:   "'{'",
	RBrace:   "'}'",
	LBracket: "'['",
	RBracket: "']'",
	Ellipsis: "'...'",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Pos is a 1-based line and column.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

// Token is one lexeme. Text holds the name without its sigil for Local and
// Global, and the decoded bytes for String.
type Token struct {
	Kind Kind
	Text string
	Pos  Pos
}

func (t Token) String() string {
	switch t.Kind {
	case EOF:
		return t.Kind.String()
	case Local:
		return "%" + t.Text
	case Global:
		return "@" + t.Text
	case String:
		return "string"
	}
	return fmt.Sprintf("%q", t.Text)
}

// SyntaxError reports malformed input.
type SyntaxError struct {
	File string
	Pos  Pos
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%s: %s", e.File, e.Pos, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}
