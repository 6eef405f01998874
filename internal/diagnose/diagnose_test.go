package diagnose

import (
	"slices"
	"testing"

	"github.com/elysium-os/elysium-lsp/internal/index"
	"github.com/elysium-os/elysium-lsp/internal/macro"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hookScanner = macro.NewScanner(
		macro.Shape{Macro: "HOOK", Kind: macro.KindHookDefinition, Slots: []macro.Slot{{Role: macro.RoleDefinition}}},
		macro.Shape{
			Macro: "HOOK_RUN",
			Kind:  macro.KindHookReference,
			Slots: []macro.Slot{{Role: macro.RoleReference}},
			Rest:  &macro.Slot{Role: macro.RoleReference},
		},
	)
	initScanner = macro.NewScanner(macro.Shape{
		Macro: "INIT_TARGET",
		Kind:  macro.KindDependencyDeclaration,
		Slots: []macro.Slot{
			{Role: macro.RoleDefinition},
			{},
			{},
			{Role: macro.RoleReference, Extract: macro.ExtractStrings},
		},
	})

	hookRules = Rules{Source: "cronus-hooks", DefinitionNoun: "hook", ReferenceNoun: "hook", UniqueDefinitions: true}
	initRules = Rules{
		Source:                 "cronus-init",
		DefinitionNoun:         "init target",
		ReferenceNoun:          "init dependency",
		UniqueDefinitions:      true,
		FlagRepeatedReferences: true,
	}
)

func build(t *testing.T, s *macro.Scanner, docs map[string]string) *index.Snapshot {
	t.Helper()
	ix := index.New()
	for uri, text := range docs {
		require.True(t, ix.Apply(uri, 1, slices.Collect(s.Scan(uri, text))))
	}
	return ix.Snapshot()
}

func rng(line, from, to uint32) macro.Range {
	return macro.Range{
		Start: macro.Position{Line: line, Character: from},
		End:   macro.Position{Line: line, Character: to},
	}
}

func TestDuplicateNamesUnescapedFile(t *testing.T) {
	snap := build(t, hookScanner, map[string]string{
		"file:///k/c%2B%2B/my%20hooks.c": "HOOK(X)\n",
		"file:///k/z.c":                  "HOOK(X)\n",
	})

	diags := For("file:///k/z.c", snap, hookRules)
	require.Len(t, diags, 1)
	assert.Equal(t, "Duplicate hook 'X' (first declared in my hooks.c:1)", diags[0].Message)
}

func TestDuplicateAcrossDocuments(t *testing.T) {
	snap := build(t, hookScanner, map[string]string{
		"file:///k/b.c": "HOOK(X)\n",
		"file:///k/a.c": "HOOK(X)\n",
	})

	assert.Empty(t, For("file:///k/a.c", snap, hookRules))

	diags := For("file:///k/b.c", snap, hookRules)
	require.Len(t, diags, 1)
	assert.Equal(t, Diagnostic{
		Range:    rng(0, 5, 6),
		Severity: SeverityError,
		Code:     CodeDuplicateDeclaration,
		Source:   "cronus-hooks",
		Message:  "Duplicate hook 'X' (first declared in a.c:1)",
	}, diags[0])
}

func TestDuplicateWithinDocument(t *testing.T) {
	snap := build(t, hookScanner, map[string]string{
		"a.c": "HOOK(X)\n\nHOOK(X)\nHOOK(X)\n",
	})

	diags := For("a.c", snap, hookRules)
	require.Len(t, diags, 2)
	assert.Equal(t, rng(2, 5, 6), diags[0].Range)
	assert.Equal(t, rng(3, 5, 6), diags[1].Range)
}

func TestDuplicatesAllowed(t *testing.T) {
	snap := build(t, hookScanner, map[string]string{
		"a.c": "HOOK(X)\nHOOK(X)\n",
	})

	rules := hookRules
	rules.UniqueDefinitions = false
	assert.Empty(t, For("a.c", snap, rules))
}

func TestUnknownReference(t *testing.T) {
	snap := build(t, hookScanner, map[string]string{
		"a.c": "void f(void) {\n  HOOK_RUN(Y);\n}\n",
	})

	diags := For("a.c", snap, hookRules)
	require.Len(t, diags, 1)
	assert.Equal(t, Diagnostic{
		Range:    rng(1, 11, 12),
		Severity: SeverityError,
		Code:     CodeUnknownReference,
		Source:   "cronus-hooks",
		Message:  "Unknown hook 'Y'",
	}, diags[0])
}

func TestReferenceResolvedFromOtherDocument(t *testing.T) {
	snap := build(t, hookScanner, map[string]string{
		"a.c": "HOOK_RUN(Y)\n",
		"b.c": "HOOK(Y)\n",
	})
	assert.Empty(t, For("a.c", snap, hookRules))
}

func TestEmptyReferenceIsIgnored(t *testing.T) {
	snap := build(t, hookScanner, map[string]string{"a.c": "HOOK_RUN()\n"})
	assert.Empty(t, For("a.c", snap, hookRules))
}

func TestRepeatedDependency(t *testing.T) {
	snap := build(t, initScanner, map[string]string{
		"a.c": "INIT_TARGET(a, S, C, D(\"b\", \"b\", \"zz\"))\n" +
			"INIT_TARGET(b, S, C, D())\n",
	})

	diags := For("a.c", snap, initRules)
	require.Len(t, diags, 3)

	assert.Equal(t, CodeDuplicateDependency, diags[0].Code)
	assert.Equal(t, SeverityWarning, diags[0].Severity)
	assert.Equal(t, "Duplicate dependency 'b' in a", diags[0].Message)
	assert.Equal(t, rng(0, 23, 26), diags[0].Range)

	assert.Equal(t, CodeDuplicateDependency, diags[1].Code)
	assert.Equal(t, rng(0, 28, 31), diags[1].Range)

	assert.Equal(t, CodeUnknownReference, diags[2].Code)
	assert.Equal(t, "Unknown init dependency 'zz'", diags[2].Message)
	assert.Equal(t, "cronus-init", diags[2].Source)
}

func TestUntrackedDocument(t *testing.T) {
	snap := build(t, hookScanner, map[string]string{"a.c": "HOOK_RUN(Y)\n"})
	assert.Nil(t, For("b.c", snap, hookRules))
}
