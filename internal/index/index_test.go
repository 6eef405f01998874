package index

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/elysium-os/elysium-lsp/internal/macro"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scanner = macro.NewScanner(
	macro.Shape{Macro: "HOOK", Kind: macro.KindHookDefinition, Slots: []macro.Slot{{Role: macro.RoleDefinition}}},
	macro.Shape{
		Macro: "HOOK_RUN",
		Kind:  macro.KindHookReference,
		Slots: []macro.Slot{{Role: macro.RoleReference}},
		Rest:  &macro.Slot{Role: macro.RoleReference},
	},
)

func scan(uri, text string) []macro.Invocation {
	return slices.Collect(scanner.Scan(uri, text))
}

func apply(t *testing.T, ix *Index, uri string, version int32, text string) {
	t.Helper()
	require.True(t, ix.Apply(uri, version, scan(uri, text)))
}

func names(locs []Location) []string {
	var out []string
	for _, loc := range locs {
		out = append(out, fmt.Sprintf("%s@%d", loc.Document, loc.Range.Start.Line))
	}
	return out
}

func TestApplyMatchesScan(t *testing.T) {
	ix := New()
	text := "HOOK(a)\nHOOK_RUN(b, a)\n"
	apply(t, ix, "a.c", 1, text)

	snap := ix.Snapshot()
	c, ok := snap.Contribution("a.c")
	require.True(t, ok)
	assert.Equal(t, int32(1), c.Version)
	assert.Equal(t, scan("a.c", text), c.Invocations)

	assert.Equal(t, []string{"a"}, snap.DefinitionNames())
	assert.Equal(t, []string{"a", "b"}, snap.ReferenceNames())
	assert.Equal(t, []string{"a.c@1"}, names(snap.References("b")))
	assert.Equal(t, "HOOK", snap.Definitions("a")[0].Macro)
}

func TestApplyDropsStaleEntries(t *testing.T) {
	ix := New()
	apply(t, ix, "a.c", 1, "HOOK(a)\nHOOK_RUN(x)\n")
	apply(t, ix, "a.c", 2, "HOOK(b)\n")

	snap := ix.Snapshot()
	assert.Empty(t, snap.Definitions("a"))
	assert.Empty(t, snap.References("x"))
	assert.Equal(t, []string{"b"}, snap.DefinitionNames())
	assert.Empty(t, snap.ReferenceNames())
}

func TestRemoveDocument(t *testing.T) {
	ix := New()
	apply(t, ix, "a.c", 1, "HOOK(a)\nHOOK_RUN(b)\n")
	apply(t, ix, "b.c", 1, "HOOK(b)\nHOOK_RUN(a)\n")

	require.True(t, ix.Remove("a.c"))
	assert.False(t, ix.Remove("a.c"))

	snap := ix.Snapshot()
	assert.Empty(t, snap.Locations("a.c"))
	assert.Equal(t, []string{"b.c"}, snap.Documents())
	assert.Equal(t, []string{"b"}, snap.DefinitionNames())
	assert.Equal(t, []string{"a"}, snap.ReferenceNames())
	_, ok := snap.Contribution("a.c")
	assert.False(t, ok)
}

func TestApplyIsIdempotent(t *testing.T) {
	ix := New()
	apply(t, ix, "b.c", 1, "HOOK(shared)\n")
	apply(t, ix, "a.c", 3, "HOOK(a)\nHOOK_RUN(shared)\n")
	once := ix.Snapshot()

	apply(t, ix, "a.c", 3, "HOOK(a)\nHOOK_RUN(shared)\n")
	twice := ix.Snapshot()

	assert.Equal(t, once.contributions, twice.contributions)
	assert.Equal(t, once.definitions, twice.definitions)
	assert.Equal(t, once.references, twice.references)
}

func TestApplyIgnoresOlderVersions(t *testing.T) {
	ix := New()
	apply(t, ix, "a.c", 5, "HOOK(new)\n")
	assert.False(t, ix.Apply("a.c", 4, scan("a.c", "HOOK(old)\n")))

	snap := ix.Snapshot()
	assert.Equal(t, []string{"new"}, snap.DefinitionNames())
}

func TestLocationsOrderedByDocumentThenStart(t *testing.T) {
	ix := New()
	apply(t, ix, "b.c", 1, "HOOK(x)\n")
	apply(t, ix, "a.c", 1, "\n\nHOOK(x)\nHOOK(x)\n")

	assert.Equal(t, []string{"a.c@2", "a.c@3", "b.c@0"}, names(ix.Snapshot().Definitions("x")))
}

func TestSnapshotIsImmutable(t *testing.T) {
	ix := New()
	apply(t, ix, "a.c", 1, "HOOK(a)\n")
	before := ix.Snapshot()

	apply(t, ix, "a.c", 2, "HOOK(b)\n")
	ix.Remove("a.c")

	assert.Equal(t, []string{"a"}, before.DefinitionNames())
	c, ok := before.Contribution("a.c")
	require.True(t, ok)
	assert.Equal(t, int32(1), c.Version)
}

func TestConcurrentReadersSeeWholeUpdates(t *testing.T) {
	ix := New()
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for v := int32(1); v <= 200; v++ {
			// version v declares v hooks
			var b strings.Builder
			for i := int32(0); i < v%17; i++ {
				fmt.Fprintf(&b, "HOOK(h%d_%d)\n", v, i)
			}
			ix.Apply("a.c", v, scan("a.c", b.String()))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := ix.Snapshot()
				c, ok := snap.Contribution("a.c")
				if !ok {
					continue
				}
				locs := snap.Locations("a.c")
				if len(locs) != len(c.Invocations) {
					t.Errorf("version %d: %d locations for %d invocations", c.Version, len(locs), len(c.Invocations))
					return
				}
				prefix := fmt.Sprintf("h%d_", c.Version)
				for _, name := range snap.DefinitionNames() {
					if !strings.HasPrefix(name, prefix) {
						t.Errorf("version %d: stale name %s", c.Version, name)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	c, ok := ix.Snapshot().Contribution("a.c")
	require.True(t, ok)
	assert.Equal(t, int32(200), c.Version)
}
