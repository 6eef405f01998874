// Package complete derives completion candidates for macro argument slots.
package complete

import (
	"cmp"
	"slices"

	"github.com/elysium-os/elysium-lsp/internal/index"
	"github.com/elysium-os/elysium-lsp/internal/macro"
)

type Kind int

const (
	KindDependency Kind = iota + 1
	KindHook
)

type Candidate struct {
	Label  string
	Kind   Kind
	Detail string
	// Plugin is the name of the plugin that produced the candidate.
	Plugin string
}

// Slot returns the invocation and argument whose region encloses pos.
func Slot(invs []macro.Invocation, pos macro.Position) (macro.Invocation, macro.Argument, bool) {
	for _, inv := range invs {
		if !inv.Range.Contains(pos) {
			continue
		}
		if arg, ok := inv.ArgumentAt(pos); ok {
			return inv, arg, true
		}
	}
	return macro.Invocation{}, macro.Argument{}, false
}

// At returns every defined name of snap when pos lies in a reference slot of
// the last known contribution of uri, and nothing otherwise.
func At(uri string, pos macro.Position, snap *index.Snapshot, kind Kind, plugin string) []Candidate {
	c, ok := snap.Contribution(uri)
	if !ok {
		return nil
	}
	_, arg, ok := Slot(c.Invocations, pos)
	if !ok || arg.Role != macro.RoleReference {
		return nil
	}

	names := snap.DefinitionNames()
	candidates := make([]Candidate, 0, len(names))
	for _, name := range names {
		candidates = append(candidates, Candidate{
			Label:  name,
			Kind:   kind,
			Detail: snap.Definitions(name)[0].Detail,
			Plugin: plugin,
		})
	}
	return candidates
}

// Merge joins per-plugin results given in dispatch order. A label is kept
// once, from the first plugin that offered it, and the result is sorted by
// label.
func Merge(results ...[]Candidate) []Candidate {
	seen := map[string]struct{}{}
	var merged []Candidate
	for _, candidates := range results {
		for _, c := range candidates {
			if _, ok := seen[c.Label]; ok {
				continue
			}
			seen[c.Label] = struct{}{}
			merged = append(merged, c)
		}
	}
	slices.SortStableFunc(merged, func(a, b Candidate) int {
		return cmp.Compare(a.Label, b.Label)
	})
	return merged
}
