package toolscript

import (
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokNumber
	tokString
	tokTemplate
	tokPunct
)

// Pos is a 1-based source position.
type Pos struct {
	Line int
	Col  int
}

type token struct {
	kind tokenKind
	text string  // identifier, keyword, punctuator, or cooked string value
	num  float64 // tokNumber
	pos  Pos
	nl   bool // a line break precedes this token

	// tokTemplate: len(parts) == len(exprs)+1.
	parts   []string
	exprs   []string
	exprPos []Pos
}

var keywords = map[string]bool{
	"var": true, "let": true, "const": true, "if": true, "else": true, "for": true,
	"while": true, "do": true, "break": true, "continue": true, "return": true,
	"switch": true, "case": true, "default": true, "function": true, "true": true,
	"false": true, "null": true, "new": true, "typeof": true, "throw": true, "try": true,
	"catch": true, "finally": true, "void": true, "delete": true, "in": true,
	"instanceof": true, "this": true, "await": true, "async": true,
}

// punctuators ordered longest first so the scanner can take the first match.
var punctuators = []string{
	">>>=", "...", "===", "!==", "**=", "&&=", "||=", "??=", ">>>", "<<=", ">>=",
	"=>", "==", "!=", "<=", ">=", "&&", "||", "??", "?.", "++", "--", "+=", "-=",
	"*=", "/=", "%=", "&=", "|=", "^=", "**", "<<", ">>",
	"{", "}", "(", ")", "[", "]", ";", ",", "<", ">", "+", "-", "*", "/", "%",
	"&", "|", "^", "!", "~", "?", ":", "=", ".",
}

// Lexer turns logic source into tokens.
type Lexer struct {
	input []rune
	pos   int
	line  int
	col   int
}

// NewLexer returns a lexer over src.
func NewLexer(src string) *Lexer {
	return &Lexer{input: []rune(src), line: 1, col: 1}
}

func newSubLexer(src string, at Pos) *Lexer {
	return &Lexer{input: []rune(src), line: at.Line, col: at.Col}
}

func (l *Lexer) peek() rune {
	return l.peekAt(0)
}

func (l *Lexer) peekAt(n int) rune {
	if l.pos+n >= len(l.input) {
		return 0
	}
	return l.input[l.pos+n]
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r := l.input[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *Lexer) here() Pos { return Pos{Line: l.line, Col: l.col} }

func (l *Lexer) errorf(at Pos, format string, args ...any) error {
	return newError(KindSyntax, at, format, args...)
}

// skipSpace skips whitespace and comments and reports whether a line break was seen.
func (l *Lexer) skipSpace() (bool, error) {
	nl := false
	for l.pos < len(l.input) {
		c := l.peek()
		switch {
		case c == '\n':
			nl = true
			l.advance()
		case unicode.IsSpace(c) || c == '\uFEFF':
			l.advance()
		case c == '/' && l.peekAt(1) == '/':
			for l.pos < len(l.input) && l.peek() != '\n' {
				l.advance()
			}
		case c == '/' && l.peekAt(1) == '*':
			start := l.here()
			l.advance()
			l.advance()
			for {
				if l.pos >= len(l.input) {
					return nl, l.errorf(start, "unterminated comment")
				}
				if l.peek() == '*' && l.peekAt(1) == '/' {
					l.advance()
					l.advance()
					break
				}
				if l.advance() == '\n' {
					nl = true
				}
			}
		default:
			return nl, nil
		}
	}
	return nl, nil
}

// Tokenize scans the whole input.
func (l *Lexer) Tokenize() ([]token, error) {
	var toks []token
	for {
		nl, err := l.skipSpace()
		if err != nil {
			return nil, err
		}
		tok, err := l.next(toks)
		if err != nil {
			return nil, err
		}
		tok.nl = nl
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

func (l *Lexer) next(prev []token) (token, error) {
	start := l.here()
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: start}, nil
	}
	c := l.peek()
	switch {
	case isIdentStart(c):
		var sb strings.Builder
		for l.pos < len(l.input) && isIdentPart(l.peek()) {
			sb.WriteRune(l.advance())
		}
		word := sb.String()
		if keywords[word] {
			return token{kind: tokKeyword, text: word, pos: start}, nil
		}
		return token{kind: tokIdent, text: word, pos: start}, nil
	case isDigit(c) || (c == '.' && isDigit(l.peekAt(1))):
		return l.number(start)
	case c == '"' || c == '\'':
		s, err := l.quoted(c, start)
		if err != nil {
			return token{}, err
		}
		return token{kind: tokString, text: s, pos: start}, nil
	case c == '`':
		return l.template(start)
	case c == '/' && regexAllowed(prev):
		return token{}, l.errorf(start, "regular expression literals are not supported")
	}
	for _, p := range punctuators {
		if l.hasPrefix(p) {
			if p == "?." && isDigit(l.peekAt(2)) {
				continue
			}
			for range p {
				l.advance()
			}
			return token{kind: tokPunct, text: p, pos: start}, nil
		}
	}
	return token{}, l.errorf(start, "unexpected character %q", c)
}

func (l *Lexer) hasPrefix(p string) bool {
	i := 0
	for _, r := range p {
		if l.peekAt(i) != r {
			return false
		}
		i++
	}
	return true
}

// regexAllowed reports whether a '/' at this point would start a regular
// expression rather than divide, judged by the previous token.
func regexAllowed(prev []token) bool {
	if len(prev) == 0 {
		return true
	}
	t := prev[len(prev)-1]
	switch t.kind {
	case tokIdent, tokNumber, tokString, tokTemplate:
		return false
	case tokKeyword:
		switch t.text {
		case "this", "true", "false", "null":
			return false
		}
		return true
	case tokPunct:
		switch t.text {
		case ")", "]", "}", "++", "--":
			return false
		}
	}
	return true
}

func (l *Lexer) number(start Pos) (token, error) {
	var sb strings.Builder
	if l.peek() == '0' {
		base := 0
		switch unicode.ToLower(l.peekAt(1)) {
		case 'x':
			base = 16
		case 'o':
			base = 8
		case 'b':
			base = 2
		}
		if base != 0 {
			l.advance()
			l.advance()
			for isHexDigit(l.peek()) || l.peek() == '_' {
				if r := l.advance(); r != '_' {
					sb.WriteRune(r)
				}
			}
			n, err := strconv.ParseUint(sb.String(), base, 64)
			if err != nil {
				return token{}, l.errorf(start, "invalid number literal")
			}
			return token{kind: tokNumber, num: float64(n), pos: start}, nil
		}
	}
	digits := func() {
		for isDigit(l.peek()) || (l.peek() == '_' && isDigit(l.peekAt(1))) {
			if r := l.advance(); r != '_' {
				sb.WriteRune(r)
			}
		}
	}
	digits()
	if l.peek() == '.' {
		sb.WriteRune(l.advance())
		digits()
	}
	if e := l.peek(); e == 'e' || e == 'E' {
		next := l.peekAt(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(l.peekAt(2))) {
			sb.WriteRune(l.advance())
			if next == '+' || next == '-' {
				sb.WriteRune(l.advance())
			}
			digits()
		}
	}
	if isIdentStart(l.peek()) {
		return token{}, l.errorf(start, "identifier starts immediately after number")
	}
	n, err := strconv.ParseFloat(sb.String(), 64)
	if err != nil {
		return token{}, l.errorf(start, "invalid number literal %q", sb.String())
	}
	return token{kind: tokNumber, num: n, pos: start}, nil
}

func (l *Lexer) quoted(q rune, start Pos) (string, error) {
	l.advance()
	var sb strings.Builder
	for {
		if l.pos >= len(l.input) || l.peek() == '\n' {
			return "", l.errorf(start, "unterminated string")
		}
		c := l.advance()
		if c == q {
			return sb.String(), nil
		}
		if c == '\\' {
			if err := l.escape(&sb, start); err != nil {
				return "", err
			}
			continue
		}
		sb.WriteRune(c)
	}
}

func (l *Lexer) escape(sb *strings.Builder, start Pos) error {
	c := l.advance()
	switch c {
	case 'n':
		sb.WriteRune('\n')
	case 't':
		sb.WriteRune('\t')
	case 'r':
		sb.WriteRune('\r')
	case 'b':
		sb.WriteRune('\b')
	case 'f':
		sb.WriteRune('\f')
	case 'v':
		sb.WriteRune('\v')
	case '0':
		sb.WriteRune(0)
	case '\n':
		// line continuation
	case 'x':
		r, err := l.hexRune(2, start)
		if err != nil {
			return err
		}
		sb.WriteRune(r)
	case 'u':
		if l.peek() == '{' {
			l.advance()
			var hex strings.Builder
			for l.peek() != '}' {
				if l.pos >= len(l.input) {
					return l.errorf(start, "invalid unicode escape")
				}
				hex.WriteRune(l.advance())
			}
			l.advance()
			n, err := strconv.ParseUint(hex.String(), 16, 32)
			if err != nil {
				return l.errorf(start, "invalid unicode escape")
			}
			sb.WriteRune(rune(n))
			return nil
		}
		r, err := l.hexRune(4, start)
		if err != nil {
			return err
		}
		sb.WriteRune(r)
	case 0:
		return l.errorf(start, "unterminated string")
	default:
		sb.WriteRune(c)
	}
	return nil
}

func (l *Lexer) hexRune(n int, start Pos) (rune, error) {
	var hex strings.Builder
	for i := 0; i < n; i++ {
		if !isHexDigit(l.peek()) {
			return 0, l.errorf(start, "invalid escape sequence")
		}
		hex.WriteRune(l.advance())
	}
	v, _ := strconv.ParseUint(hex.String(), 16, 32)
	return rune(v), nil
}

// template scans a backtick literal, splitting cooked text from the
// sources of its ${} expressions.
func (l *Lexer) template(start Pos) (token, error) {
	l.advance()
	tok := token{kind: tokTemplate, pos: start}
	var sb strings.Builder
	for {
		if l.pos >= len(l.input) {
			return token{}, l.errorf(start, "unterminated template literal")
		}
		c := l.advance()
		switch {
		case c == '`':
			tok.parts = append(tok.parts, sb.String())
			return tok, nil
		case c == '\\':
			if err := l.escape(&sb, start); err != nil {
				return token{}, err
			}
		case c == '$' && l.peek() == '{':
			l.advance()
			tok.parts = append(tok.parts, sb.String())
			sb.Reset()
			at := l.here()
			src, err := l.templateExpr(start)
			if err != nil {
				return token{}, err
			}
			tok.exprs = append(tok.exprs, src)
			tok.exprPos = append(tok.exprPos, at)
		default:
			sb.WriteRune(c)
		}
	}
}

// templateExpr returns the raw source up to the matching '}', skipping over
// nested braces, strings and templates.
func (l *Lexer) templateExpr(start Pos) (string, error) {
	var sb strings.Builder
	depth := 0
	for {
		if l.pos >= len(l.input) {
			return "", l.errorf(start, "unterminated template expression")
		}
		c := l.peek()
		switch c {
		case '{':
			depth++
		case '}':
			if depth == 0 {
				l.advance()
				return sb.String(), nil
			}
			depth--
		case '"', '\'', '`':
			begin := l.pos
			if c == '`' {
				if _, err := l.template(l.here()); err != nil {
					return "", err
				}
			} else if _, err := l.quoted(c, l.here()); err != nil {
				return "", err
			}
			sb.WriteString(string(l.input[begin:l.pos]))
			continue
		}
		sb.WriteRune(l.advance())
	}
}

func isIdentStart(c rune) bool {
	return c == '_' || c == '$' || unicode.IsLetter(c)
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || unicode.IsDigit(c)
}

func isDigit(c rune) bool { return c >= '0' && c <= '9' }

func isHexDigit(c rune) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
