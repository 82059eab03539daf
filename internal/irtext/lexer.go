package irtext

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Lexer splits module text into tokens. Comments run from ';' to the end of
// the line.
type Lexer struct {
	src  string
	file string
	off  int
	line int
	col  int
	look *Token
}

// NewLexer creates a lexer over src. file is used in error positions.
func NewLexer(file string, src []byte) *Lexer {
	return &Lexer{src: string(src), file: file, line: 1, col: 1}
}

func (lx *Lexer) errorf(pos Pos, format string, args ...any) error {
	return &SyntaxError{File: lx.file, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (lx *Lexer) peekByte() byte {
	if lx.off >= len(lx.src) {
		return 0
	}
	return lx.src[lx.off]
}

func (lx *Lexer) advance() rune {
	r, n := utf8.DecodeRuneInString(lx.src[lx.off:])
	lx.off += n
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return r
}

func (lx *Lexer) skipTrivia() {
	for lx.off < len(lx.src) {
		switch c := lx.peekByte(); {
		case c == ';':
			for lx.off < len(lx.src) && lx.peekByte() != '\n' {
				lx.advance()
			}
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			lx.advance()
		default:
			return
		}
	}
}

// Peek returns the next token without consuming it.
func (lx *Lexer) Peek() (Token, error) {
	if lx.look == nil {
		tok, err := lx.scan()
		if err != nil {
			return tok, err
		}
		lx.look = &tok
	}
	return *lx.look, nil
}

// Next consumes and returns the next token. After EOF it keeps returning EOF.
func (lx *Lexer) Next() (Token, error) {
	if lx.look != nil {
		tok := *lx.look
		lx.look = nil
		return tok, nil
	}
	return lx.scan()
}

// All lexes the remaining input.
func (lx *Lexer) All() ([]Token, error) {
	var out []Token
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Kind == EOF {
			return out, nil
		}
	}
}

var punct = map[byte]Kind{
	'=': Equal,
	',': Comma,
	':': Colon,
	'+': Plus,
	'(': LParen,
	')': RParen,
	'{': LBrace,
	'}': RBrace,
	'[': LBracket,
	']': RBracket,
}

func (lx *Lexer) scan() (Token, error) {
	lx.skipTrivia()
	pos := Pos{Line: lx.line, Col: lx.col}
	if lx.off >= len(lx.src) {
		return Token{Kind: EOF, Pos: pos}, nil
	}
	c := lx.peekByte()
	switch {
	case c == '%' || c == '@':
		lx.advance()
		name := lx.scanName()
		if name == "" {
			return Token{}, lx.errorf(pos, "expected name after %q", c)
		}
		kind := Local
		if c == '@' {
			kind = Global
		}
		return Token{Kind: kind, Text: name, Pos: pos}, nil
	case c == '"':
		return lx.scanString(pos)
	case c == '-' || isDigit(c):
		return lx.scanNumber(pos)
	case c == '.':
		if strings.HasPrefix(lx.src[lx.off:], "...") {
			for range 3 {
				lx.advance()
			}
			return Token{Kind: Ellipsis, Text: "...", Pos: pos}, nil
		}
	}
	if k, ok := punct[c]; ok {
		lx.advance()
		return Token{Kind: k, Text: string(c), Pos: pos}, nil
	}
	if r, _ := utf8.DecodeRuneInString(lx.src[lx.off:]); r == '_' || unicode.IsLetter(r) {
		return Token{Kind: Ident, Text: lx.scanName(), Pos: pos}, nil
	}
	r, _ := utf8.DecodeRuneInString(lx.src[lx.off:])
	return Token{}, lx.errorf(pos, "unexpected character %q", r)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isNameRune(r rune) bool {
	return r == '_' || r == '.' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// scanName reads a run of name characters, NFC normalized.
func (lx *Lexer) scanName() string {
	start := lx.off
	for lx.off < len(lx.src) {
		r, _ := utf8.DecodeRuneInString(lx.src[lx.off:])
		if !isNameRune(r) {
			break
		}
		// "..." ends a name: f(i64 %x, ...)
		if r == '.' && strings.HasPrefix(lx.src[lx.off:], "...") {
			break
		}
		lx.advance()
	}
	return norm.NFC.String(lx.src[start:lx.off])
}

func (lx *Lexer) scanNumber(pos Pos) (Token, error) {
	start := lx.off
	if lx.peekByte() == '-' {
		lx.advance()
	}
	if strings.HasPrefix(lx.src[lx.off:], "0x") {
		lx.advance()
		lx.advance()
		digits := lx.off
		for lx.off < len(lx.src) && isHex(lx.peekByte()) {
			lx.advance()
		}
		if lx.off == digits {
			return Token{}, lx.errorf(pos, "malformed hex literal")
		}
		return Token{Kind: Hex, Text: lx.src[start:lx.off], Pos: pos}, nil
	}
	if !isDigit(lx.peekByte()) {
		return Token{}, lx.errorf(pos, "malformed number")
	}
	kind := Int
	for isDigit(lx.peekByte()) {
		lx.advance()
	}
	if lx.peekByte() == '.' && !strings.HasPrefix(lx.src[lx.off:], "...") {
		kind = Float
		lx.advance()
		for isDigit(lx.peekByte()) {
			lx.advance()
		}
	}
	if c := lx.peekByte(); c == 'e' || c == 'E' {
		kind = Float
		lx.advance()
		if c := lx.peekByte(); c == '+' || c == '-' {
			lx.advance()
		}
		if !isDigit(lx.peekByte()) {
			return Token{}, lx.errorf(pos, "malformed exponent")
		}
		for isDigit(lx.peekByte()) {
			lx.advance()
		}
	}
	return Token{Kind: kind, Text: lx.src[start:lx.off], Pos: pos}, nil
}

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// scanString decodes a double-quoted string with \HH byte escapes.
func (lx *Lexer) scanString(pos Pos) (Token, error) {
	lx.advance()
	var sb strings.Builder
	for {
		if lx.off >= len(lx.src) || lx.peekByte() == '\n' {
			return Token{}, lx.errorf(pos, "unterminated string")
		}
		c := lx.peekByte()
		switch c {
		case '"':
			lx.advance()
			return Token{Kind: String, Text: sb.String(), Pos: pos}, nil
		case '\\':
			if lx.off+3 > len(lx.src) {
				return Token{}, lx.errorf(pos, "truncated escape")
			}
			v, err := strconv.ParseUint(lx.src[lx.off+1:lx.off+3], 16, 8)
			if err != nil {
				return Token{}, lx.errorf(Pos{lx.line, lx.col}, "bad escape %q", lx.src[lx.off:lx.off+3])
			}
			sb.WriteByte(byte(v))
			for range 3 {
				lx.advance()
			}
		default:
			sb.WriteByte(c)
			lx.off++
			lx.col++
		}
	}
}
