// Package index keeps one plugin's view of the project: the invocations each
// document contributes and the name tables aggregated from all of them.
package index

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/elysium-os/elysium-lsp/internal/macro"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("elysium.index")

type Location struct {
	Document string
	Range    macro.Range
	Macro    string
	Detail   string
}

// Contribution is what one version of one document put into the index.
type Contribution struct {
	Version     int32
	Invocations []macro.Invocation
}

// Index is safe for concurrent use. Writers are serialized; readers take a
// Snapshot and never block.
type Index struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func New() *Index {
	ix := &Index{}
	ix.current.Store(emptySnapshot())
	return ix
}

// Snapshot returns the most recently published state. It is immutable.
func (ix *Index) Snapshot() *Snapshot {
	return ix.current.Load()
}

// Apply replaces the contribution of uri with invs. An update older than
// the stored contribution is ignored and Apply returns false.
func (ix *Index) Apply(uri string, version int32, invs []macro.Invocation) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	old := ix.current.Load()
	if prev, ok := old.contributions[uri]; ok && version < prev.Version {
		log.Debugf("ignoring %s version %d, have %d", uri, version, prev.Version)
		return false
	}

	next := old.replace(uri, &Contribution{Version: version, Invocations: invs})
	ix.current.Store(next)
	return true
}

// Remove drops every trace of uri. It reports whether uri was indexed.
func (ix *Index) Remove(uri string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	old := ix.current.Load()
	if _, ok := old.contributions[uri]; !ok {
		return false
	}
	ix.current.Store(old.replace(uri, nil))
	return true
}

// Snapshot is a consistent view of an Index. Slices returned by its methods
// are shared and must not be modified.
type Snapshot struct {
	contributions map[string]*Contribution
	definitions   map[string][]Location
	references    map[string][]Location
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		contributions: map[string]*Contribution{},
		definitions:   map[string][]Location{},
		references:    map[string][]Location{},
	}
}

// Definitions returns the declarations of name ordered by document, then start.
func (s *Snapshot) Definitions(name string) []Location {
	return s.definitions[name]
}

// References returns the uses of name ordered by document, then start.
func (s *Snapshot) References(name string) []Location {
	return s.references[name]
}

func (s *Snapshot) DefinitionNames() []string {
	return slices.Sorted(maps.Keys(s.definitions))
}

func (s *Snapshot) ReferenceNames() []string {
	return slices.Sorted(maps.Keys(s.references))
}

func (s *Snapshot) Contribution(uri string) (*Contribution, bool) {
	c, ok := s.contributions[uri]
	return c, ok
}

func (s *Snapshot) Documents() []string {
	return slices.Sorted(maps.Keys(s.contributions))
}

// Locations returns every definition and reference table entry located in uri.
func (s *Snapshot) Locations(uri string) []Location {
	var locs []Location
	for _, table := range []map[string][]Location{s.definitions, s.references} {
		for _, entries := range table {
			for _, loc := range entries {
				if loc.Document == uri {
					locs = append(locs, loc)
				}
			}
		}
	}
	sortLocations(locs)
	return locs
}

// replace builds the snapshot that results from swapping the contribution of
// uri for c (nil removes it). Only table entries for names mentioned by the
// old or the new contribution are rebuilt; everything else is shared.
func (s *Snapshot) replace(uri string, c *Contribution) *Snapshot {
	next := &Snapshot{
		contributions: maps.Clone(s.contributions),
		definitions:   maps.Clone(s.definitions),
		references:    maps.Clone(s.references),
	}

	var prev []macro.Invocation
	if old, ok := s.contributions[uri]; ok {
		prev = old.Invocations
	}
	var invs []macro.Invocation
	if c != nil {
		invs = c.Invocations
		next.contributions[uri] = c
	} else {
		delete(next.contributions, uri)
	}

	rebuild(next.definitions, uri, prev, invs, macro.RoleDefinition)
	rebuild(next.references, uri, prev, invs, macro.RoleReference)
	return next
}

func rebuild(table map[string][]Location, uri string, prev, invs []macro.Invocation, role macro.Role) {
	touched := map[string]struct{}{}
	for _, inv := range prev {
		for _, name := range inv.Names(role) {
			touched[name.Text] = struct{}{}
		}
	}

	added := map[string][]Location{}
	for _, inv := range invs {
		for _, name := range inv.Names(role) {
			touched[name.Text] = struct{}{}
			added[name.Text] = append(added[name.Text], Location{
				Document: uri,
				Range:    name.Range,
				Macro:    inv.Macro,
				Detail:   inv.Detail,
			})
		}
	}

	for name := range touched {
		var entries []Location
		for _, loc := range table[name] {
			if loc.Document != uri {
				entries = append(entries, loc)
			}
		}
		entries = append(entries, added[name]...)
		if len(entries) == 0 {
			delete(table, name)
			continue
		}
		sortLocations(entries)
		table[name] = entries
	}
}

func sortLocations(locs []Location) {
	slices.SortStableFunc(locs, func(a, b Location) int {
		if c := cmp.Compare(a.Document, b.Document); c != 0 {
			return c
		}
		if a.Range.Start.Before(b.Range.Start) {
			return -1
		}
		if b.Range.Start.Before(a.Range.Start) {
			return 1
		}
		return 0
	})
}
