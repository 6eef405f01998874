package macro

import (
	"iter"
	"strings"
)

// Scanner finds invocations of a fixed set of macro shapes. It holds no
// mutable state and is safe for concurrent use.
type Scanner struct {
	shapes map[string]Shape
}

func NewScanner(shapes ...Shape) *Scanner {
	s := &Scanner{shapes: make(map[string]Shape, len(shapes))}
	for _, shape := range shapes {
		s.shapes[shape.Macro] = shape
	}
	return s
}

// Scan returns the invocations found in text. The sequence is lazy and every
// iteration rescans from the start. Anything that does not match a known
// shape, including unterminated argument lists and arity mismatches, is
// skipped.
func (s *Scanner) Scan(uri string, text string) iter.Seq[Invocation] {
	return func(yield func(Invocation) bool) {
		toks := tokenize(text)
		closing := matchParens(toks)
		for i := 0; i+1 < len(toks); i++ {
			tok := toks[i]
			if tok.kind != tokIdent {
				continue
			}
			shape, ok := s.shapes[tok.text]
			if !ok || !toks[i+1].is('(') {
				continue
			}
			end := closing[i+1]
			if end < 0 {
				// unterminated, look for later invocations inside it
				i++
				continue
			}
			inv, ok := build(uri, shape, toks, i, end)
			i = end
			if !ok {
				continue
			}
			if !yield(inv) {
				return
			}
		}
	}
}

// matchParens pairs every '(' with its ')' in one pass; unmatched ones map to -1.
func matchParens(toks []token) []int {
	closing := make([]int, len(toks))
	var stack []int
	for i, tok := range toks {
		closing[i] = -1
		switch {
		case tok.is('('):
			stack = append(stack, i)
		case tok.is(')') && len(stack) > 0:
			closing[stack[len(stack)-1]] = i
			stack = stack[:len(stack)-1]
		}
	}
	return closing
}

// build assembles the invocation whose identifier is toks[at] and whose
// closing parenthesis is toks[end].
func build(uri string, shape Shape, toks []token, at, end int) (Invocation, bool) {
	open := at + 1

	// split on top level commas; only parentheses nest
	delims := []int{open}
	depth := 0
	for i := open + 1; i < end; i++ {
		switch {
		case toks[i].is('('):
			depth++
		case toks[i].is(')'):
			depth--
		case toks[i].is(',') && depth == 0:
			delims = append(delims, i)
		}
	}
	delims = append(delims, end)

	argc := len(delims) - 1
	if !shape.accepts(argc) {
		return Invocation{}, false
	}

	args := make([]Argument, 0, argc)
	for n := 0; n < argc; n++ {
		slot, _ := shape.slot(n)
		before, after := toks[delims[n]], toks[delims[n+1]]
		args = append(args, argument(n, slot, before, after, toks[delims[n]+1:delims[n+1]]))
	}

	inv := Invocation{
		Macro:     shape.Macro,
		Kind:      shape.Kind,
		Document:  uri,
		Range:     Range{Start: toks[at].start, End: toks[end].end},
		Args:      args,
		StartByte: uint32(toks[at].off),
		EndByte:   uint32(toks[end].endOff),
	}
	if shape.Detail != nil {
		inv.Detail = shape.Detail(args)
	}
	return inv, true
}

func argument(index int, slot Slot, before, after token, toks []token) Argument {
	arg := Argument{
		Index:  index,
		Region: Range{Start: before.end, End: after.start},
		Role:   slot.Role,
	}
	if len(toks) == 0 {
		arg.Range = Range{Start: before.end, End: before.end}
		return arg
	}

	var text strings.Builder
	for _, tok := range toks {
		text.WriteString(tok.text)
	}
	arg.Text = text.String()
	arg.Range = Range{Start: toks[0].start, End: toks[len(toks)-1].end}

	if slot.Role == RoleNone {
		return arg
	}
	switch slot.Extract {
	case ExtractWhole:
		arg.Names = append(arg.Names, Name{Text: arg.Text, Range: arg.Range})
	case ExtractStrings:
		for _, tok := range toks {
			if tok.kind != tokString {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(tok.text, `"`), `"`)
			if name == "" {
				continue
			}
			arg.Names = append(arg.Names, Name{Text: name, Range: Range{Start: tok.start, End: tok.end}})
		}
	}
	return arg
}
