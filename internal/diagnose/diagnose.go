// Package diagnose derives diagnostics for one document from an index snapshot.
package diagnose

import (
	"cmp"
	"fmt"
	"net/url"
	"path"
	"slices"

	"github.com/elysium-os/elysium-lsp/internal/index"
	"github.com/elysium-os/elysium-lsp/internal/macro"
)

// Severity values match the LSP DiagnosticSeverity enumeration.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

type Code string

const (
	CodeUnknownReference     Code = "unknown-reference"
	CodeDuplicateDeclaration Code = "duplicate-declaration"
	CodeDuplicateDependency  Code = "duplicate-dependency"
)

type Diagnostic struct {
	Range    macro.Range
	Severity Severity
	Code     Code
	Source   string
	Message  string
}

// Rules configure the checks of one plugin family.
type Rules struct {
	Source         string
	DefinitionNoun string
	ReferenceNoun  string
	// UniqueDefinitions flags every declaration of a name beyond the first.
	UniqueDefinitions bool
	// FlagRepeatedReferences warns about a known name listed more than once
	// in the same invocation.
	FlagRepeatedReferences bool
}

// For returns the diagnostics located in uri, computed from snap alone.
func For(uri string, snap *index.Snapshot, rules Rules) []Diagnostic {
	c, ok := snap.Contribution(uri)
	if !ok {
		return nil
	}

	var diags []Diagnostic
	defined := map[string]struct{}{}
	referenced := map[string]struct{}{}
	for _, inv := range c.Invocations {
		for _, name := range inv.Names(macro.RoleDefinition) {
			defined[name.Text] = struct{}{}
		}
		for _, name := range inv.Names(macro.RoleReference) {
			referenced[name.Text] = struct{}{}
		}
	}

	if rules.UniqueDefinitions {
		for name := range defined {
			locs := snap.Definitions(name)
			if len(locs) < 2 {
				continue
			}
			first := locs[0]
			for _, loc := range locs[1:] {
				if loc.Document != uri {
					continue
				}
				diags = append(diags, Diagnostic{
					Range:    loc.Range,
					Severity: SeverityError,
					Code:     CodeDuplicateDeclaration,
					Source:   rules.Source,
					Message: fmt.Sprintf("Duplicate %s '%s' (first declared in %s:%d)",
						rules.DefinitionNoun, name, fileName(first.Document), first.Range.Start.Line+1),
				})
			}
		}
	}

	for name := range referenced {
		if len(snap.Definitions(name)) > 0 {
			continue
		}
		for _, loc := range snap.References(name) {
			if loc.Document != uri {
				continue
			}
			diags = append(diags, Diagnostic{
				Range:    loc.Range,
				Severity: SeverityError,
				Code:     CodeUnknownReference,
				Source:   rules.Source,
				Message:  fmt.Sprintf("Unknown %s '%s'", rules.ReferenceNoun, name),
			})
		}
	}

	if rules.FlagRepeatedReferences {
		for _, inv := range c.Invocations {
			diags = append(diags, repeated(inv, snap, rules)...)
		}
	}

	slices.SortFunc(diags, func(a, b Diagnostic) int {
		if a.Range.Start.Before(b.Range.Start) {
			return -1
		}
		if b.Range.Start.Before(a.Range.Start) {
			return 1
		}
		if c := cmp.Compare(a.Code, b.Code); c != 0 {
			return c
		}
		return cmp.Compare(a.Message, b.Message)
	})
	return diags
}

func repeated(inv macro.Invocation, snap *index.Snapshot, rules Rules) []Diagnostic {
	refs := inv.Names(macro.RoleReference)
	counts := map[string]int{}
	for _, name := range refs {
		counts[name.Text]++
	}

	owner := inv.Macro
	if defs := inv.Names(macro.RoleDefinition); len(defs) > 0 {
		owner = defs[0].Text
	}

	var diags []Diagnostic
	for _, name := range refs {
		// unknown names are already reported as such
		if counts[name.Text] < 2 || len(snap.Definitions(name.Text)) == 0 {
			continue
		}
		diags = append(diags, Diagnostic{
			Range:    name.Range,
			Severity: SeverityWarning,
			Code:     CodeDuplicateDependency,
			Source:   rules.Source,
			Message:  fmt.Sprintf("Duplicate dependency '%s' in %s", name.Text, owner),
		})
	}
	return diags
}

// fileName is the last path element of a document URI, unescaped.
func fileName(uri string) string {
	base := path.Base(uri)
	if name, err := url.PathUnescape(base); err == nil {
		return name
	}
	return base
}
