// Package macro recognizes the call shapes of the kernel's macro dialect
// (INIT_TARGET, HOOK, HOOK_RUN and friends) in C source text.
package macro

import "fmt"

// Position is a zero-based line and UTF-16 column, the unit LSP clients use.
type Position struct {
	Line      uint32
	Character uint32
}

// Before reports whether p sorts strictly before q.
func (p Position) Before(q Position) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Character < q.Character
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line+1, p.Character+1)
}

type Range struct {
	Start Position
	End   Position
}

// Contains is inclusive at both ends so a cursor sitting right after an
// opening delimiter or right before a closing one still counts.
func (r Range) Contains(p Position) bool {
	return !p.Before(r.Start) && !r.End.Before(p)
}

// Kind tags what an invocation means to the index.
type Kind int

const (
	KindDependencyDeclaration Kind = iota + 1
	KindHookDefinition
	KindHookReference
)

func (k Kind) String() string {
	switch k {
	case KindDependencyDeclaration:
		return "dependency-declaration"
	case KindHookDefinition:
		return "hook-definition"
	case KindHookReference:
		return "hook-reference"
	default:
		return "unknown"
	}
}

// Role is what the names captured by an argument slot do.
type Role int

const (
	RoleNone Role = iota
	RoleDefinition
	RoleReference
)

// Extract selects how names are pulled out of an argument.
type Extract int

const (
	// ExtractWhole takes the argument's tokens as one name.
	ExtractWhole Extract = iota
	// ExtractStrings takes every string literal in the argument, unquoted.
	ExtractStrings
)

type Slot struct {
	Role    Role
	Extract Extract
}

// Shape describes one recognized macro identifier. An invocation must
// have exactly len(Slots) arguments, or at least that many when Rest is set.
type Shape struct {
	Macro  string
	Kind   Kind
	Slots  []Slot
	Rest   *Slot
	Detail func(args []Argument) string
}

func (s Shape) slot(i int) (Slot, bool) {
	if i < len(s.Slots) {
		return s.Slots[i], true
	}
	if s.Rest != nil {
		return *s.Rest, true
	}
	return Slot{}, false
}

func (s Shape) accepts(argc int) bool {
	if s.Rest != nil {
		return argc >= len(s.Slots)
	}
	return argc == len(s.Slots)
}

type Name struct {
	Text  string
	Range Range
}

type Argument struct {
	Index int
	Text  string
	// Range covers the argument's tokens; Region runs from the preceding
	// delimiter to the following one and is what a cursor is matched against.
	Range  Range
	Region Range
	Role   Role
	Names  []Name
}

type Invocation struct {
	Macro    string
	Kind     Kind
	Document string
	Range    Range
	Args     []Argument
	Detail   string

	StartByte uint32
	EndByte   uint32
}

// Names returns every name the invocation captures in slots with the given role.
func (inv Invocation) Names(role Role) []Name {
	var names []Name
	for _, arg := range inv.Args {
		if arg.Role == role {
			names = append(names, arg.Names...)
		}
	}
	return names
}

// ArgumentAt returns the argument whose region contains pos.
func (inv Invocation) ArgumentAt(pos Position) (Argument, bool) {
	for _, arg := range inv.Args {
		if arg.Region.Contains(pos) {
			return arg, true
		}
	}
	return Argument{}, false
}
