package macro

import (
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokChar
	tokNumber
	tokPunct
)

type token struct {
	kind   tokenKind
	text   string
	start  Position
	end    Position
	off    int
	endOff int
}

func (t token) is(b byte) bool {
	return t.kind == tokPunct && t.text[0] == b
}

// lexer is a C-ish tokenizer that only cares about identifiers, literals and
// single punctuation bytes. Comments and preprocessor lines are dropped.
type lexer struct {
	src string
	off int
	pos Position
	// bol is true until a non-space character is seen on the current line.
	bol bool
}

func tokenize(src string) []token {
	l := &lexer{src: src, bol: true}
	var toks []token
	for {
		tok, ok := l.next()
		if !ok {
			return toks
		}
		toks = append(toks, tok)
	}
}

func (l *lexer) peek(n int) byte {
	if l.off+n < len(l.src) {
		return l.src[l.off+n]
	}
	return 0
}

func (l *lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(l.src[l.off:])
	l.off += size
	switch {
	case r == '\n':
		l.pos.Line++
		l.pos.Character = 0
		l.bol = true
	case r >= 0x10000:
		l.pos.Character += 2
		l.bol = false
	default:
		l.pos.Character++
		if !unicode.IsSpace(r) {
			l.bol = false
		}
	}
	return r
}

func (l *lexer) next() (token, bool) {
	for l.off < len(l.src) {
		c := l.src[l.off]
		switch {
		case c == '#' && l.bol:
			l.skipDirective()
		case c == '/' && l.peek(1) == '/':
			l.skipLine()
		case c == '/' && l.peek(1) == '*':
			l.skipBlockComment()
		case c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == '\v':
			l.advance()
		default:
			return l.lex(), true
		}
	}
	return token{}, false
}

func (l *lexer) lex() token {
	start, off := l.pos, l.off
	c := l.src[l.off]
	kind := tokPunct
	switch {
	case c == '"':
		kind = tokString
		l.skipQuoted('"')
	case c == '\'':
		kind = tokChar
		l.skipQuoted('\'')
	case isIdentStart(c):
		kind = tokIdent
		for l.off < len(l.src) && isIdentPart(l.src[l.off]) {
			l.advance()
		}
	case c >= '0' && c <= '9':
		kind = tokNumber
		for l.off < len(l.src) && (isIdentPart(l.src[l.off]) || l.src[l.off] == '.') {
			l.advance()
		}
	default:
		l.advance()
	}
	return token{
		kind:   kind,
		text:   l.src[off:l.off],
		start:  start,
		end:    l.pos,
		off:    off,
		endOff: l.off,
	}
}

// skipQuoted consumes a string or character literal. A literal never spans
// lines, so an unterminated one stops at the newline.
func (l *lexer) skipQuoted(quote byte) {
	l.advance()
	for l.off < len(l.src) {
		switch l.src[l.off] {
		case '\\':
			l.advance()
			if l.off < len(l.src) && l.src[l.off] != '\n' {
				l.advance()
			}
		case '\n':
			return
		case quote:
			l.advance()
			return
		default:
			l.advance()
		}
	}
}

func (l *lexer) skipLine() {
	for l.off < len(l.src) && l.src[l.off] != '\n' {
		l.advance()
	}
}

func (l *lexer) skipBlockComment() {
	l.advance()
	l.advance()
	for l.off < len(l.src) {
		if l.src[l.off] == '*' && l.peek(1) == '/' {
			l.advance()
			l.advance()
			return
		}
		l.advance()
	}
}

// skipDirective drops a preprocessor line including backslash continuations.
func (l *lexer) skipDirective() {
	for l.off < len(l.src) {
		c := l.src[l.off]
		if c == '\n' {
			return
		}
		if c == '\\' && (l.peek(1) == '\n' || (l.peek(1) == '\r' && l.peek(2) == '\n')) {
			l.advance()
			if l.src[l.off] == '\r' {
				l.advance()
			}
			l.advance()
			continue
		}
		if c == '/' && l.peek(1) == '*' {
			l.skipBlockComment()
			continue
		}
		l.advance()
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
