// Package syntax uses tree-sitter's C grammar to place macro invocations in
// their surrounding C code.
package syntax

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

var lang = c.GetLanguage()

const functionQuery = `(function_definition declarator: (_) @declarator) @function`

type Function struct {
	Name      string
	StartByte uint32
	EndByte   uint32
}

// Outline lists the function definitions of one document in source order.
type Outline struct {
	Functions []Function
}

// Enclosing returns the innermost function whose body spans offset.
func (o Outline) Enclosing(offset uint32) (Function, bool) {
	var found Function
	ok := false
	for _, fn := range o.Functions {
		if fn.StartByte <= offset && offset < fn.EndByte {
			if !ok || fn.EndByte-fn.StartByte < found.EndByte-found.StartByte {
				found, ok = fn, true
			}
		}
	}
	return found, ok
}

// ErrPoolClosed is returned by Outline once Close has been called.
var ErrPoolClosed = errors.New("parser pool closed")

// Pool maintains a fixed set of parsers for one-time parsing.
type Pool struct {
	size    int
	parsers chan *sitter.Parser
	query   *sitter.Query

	done      chan struct{}
	closeOnce sync.Once
}

func NewPool(n int) (*Pool, error) {
	query, err := sitter.NewQuery([]byte(functionQuery), lang)
	if err != nil {
		return nil, fmt.Errorf("failed to compile function query: %w", err)
	}
	p := &Pool{
		size:    n,
		parsers: make(chan *sitter.Parser, n),
		query:   query,
		done:    make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		parser := sitter.NewParser()
		parser.SetLanguage(lang)
		p.parsers <- parser
	}
	return p, nil
}

// Outline parses src with a parser from the pool.
func (p *Pool) Outline(ctx context.Context, src []byte) (Outline, error) {
	var parser *sitter.Parser
	select {
	case parser = <-p.parsers:
	case <-p.done:
		return Outline{}, ErrPoolClosed
	case <-ctx.Done():
		return Outline{}, ctx.Err()
	}
	defer func() { p.parsers <- parser }()

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return Outline{}, err
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(p.query, tree.RootNode())

	var outline Outline
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var fn Function
		for _, capture := range m.Captures {
			switch p.query.CaptureNameForId(capture.Index) {
			case "function":
				fn.StartByte = capture.Node.StartByte()
				fn.EndByte = capture.Node.EndByte()
			case "declarator":
				fn.Name = declaratorName(capture.Node, src)
			}
		}
		if fn.Name != "" {
			outline.Functions = append(outline.Functions, fn)
		}
	}
	return outline, nil
}

// declaratorName digs through pointer, function and parenthesized
// declarators down to the identifier.
func declaratorName(n *sitter.Node, src []byte) string {
	for n != nil {
		switch n.Type() {
		case "identifier", "field_identifier":
			return n.Content(src)
		case "parenthesized_declarator":
			n = n.NamedChild(0)
		default:
			next := n.ChildByFieldName("declarator")
			if next == nil {
				return ""
			}
			n = next
		}
	}
	return ""
}

// Close waits for parsers in use to come back and releases all of them.
// Later calls to Outline fail with ErrPoolClosed.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		for i := 0; i < p.size; i++ {
			(<-p.parsers).Close()
		}
		p.query.Close()
	})
}
