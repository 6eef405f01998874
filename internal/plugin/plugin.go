// Package plugin defines the macro families the server understands and the
// contract the dispatcher drives them through.
package plugin

import (
	"errors"
	"fmt"
	"iter"
	"path"
	"slices"

	"github.com/elysium-os/elysium-lsp/internal/complete"
	"github.com/elysium-os/elysium-lsp/internal/config"
	"github.com/elysium-os/elysium-lsp/internal/diagnose"
	"github.com/elysium-os/elysium-lsp/internal/index"
	"github.com/elysium-os/elysium-lsp/internal/macro"
)

// ErrStaleUpdate is returned by Apply when the index already holds a newer
// version of the document.
var ErrStaleUpdate = errors.New("stale update")

// Plugin is one macro family with its own index.
type Plugin interface {
	Name() string
	// Accepts reports whether documents at uri belong to the family.
	Accepts(uri string) bool
	Scan(uri string, text string) iter.Seq[macro.Invocation]
	// Apply rescans text and replaces the contribution of uri. An update
	// older than the indexed one fails with ErrStaleUpdate and changes
	// nothing.
	Apply(uri string, version int32, text string) error
	Remove(uri string)
	Snapshot() *index.Snapshot
	Diagnostics(uri string, snap *index.Snapshot) []diagnose.Diagnostic
	Completions(uri string, pos macro.Position, snap *index.Snapshot) []complete.Candidate
}

// Family is the Plugin implementation shared by every macro family; they
// differ only in shapes and rules.
type Family struct {
	name       string
	extensions []string
	scanner    *macro.Scanner
	index      *index.Index
	rules      diagnose.Rules
	kind       complete.Kind
}

func (f *Family) Name() string {
	return f.name
}

func (f *Family) Accepts(uri string) bool {
	return slices.Contains(f.extensions, path.Ext(uri))
}

func (f *Family) Scan(uri string, text string) iter.Seq[macro.Invocation] {
	return f.scanner.Scan(uri, text)
}

func (f *Family) Apply(uri string, version int32, text string) error {
	if !f.index.Apply(uri, version, slices.Collect(f.scanner.Scan(uri, text))) {
		return fmt.Errorf("%w: %s at version %d", ErrStaleUpdate, uri, version)
	}
	return nil
}

func (f *Family) Remove(uri string) {
	f.index.Remove(uri)
}

func (f *Family) Snapshot() *index.Snapshot {
	return f.index.Snapshot()
}

func (f *Family) Diagnostics(uri string, snap *index.Snapshot) []diagnose.Diagnostic {
	return diagnose.For(uri, snap, f.rules)
}

func (f *Family) Completions(uri string, pos macro.Position, snap *index.Snapshot) []complete.Candidate {
	return complete.At(uri, pos, snap, f.kind, f.name)
}

// NewInitDependencies recognizes INIT_TARGET(name, stage, scope, deps) where
// every string literal in deps names another target.
func NewInitDependencies(cfg config.Config) *Family {
	return &Family{
		name:       config.PluginInitDeps,
		extensions: cfg.Extensions,
		scanner: macro.NewScanner(macro.Shape{
			Macro: cfg.Macros.InitTarget,
			Kind:  macro.KindDependencyDeclaration,
			Slots: []macro.Slot{
				{Role: macro.RoleDefinition},
				{},
				{},
				{Role: macro.RoleReference, Extract: macro.ExtractStrings},
			},
			Detail: func(args []macro.Argument) string {
				return args[1].Text + "/" + args[2].Text
			},
		}),
		index: index.New(),
		rules: diagnose.Rules{
			Source:                 "cronus-init",
			DefinitionNoun:         "init target",
			ReferenceNoun:          "init dependency",
			UniqueDefinitions:      true,
			FlagRepeatedReferences: true,
		},
		kind: complete.KindDependency,
	}
}

// NewHooks recognizes HOOK(name) definitions and HOOK_RUN(name, ...) runs.
func NewHooks(cfg config.Config) *Family {
	hook := func([]macro.Argument) string { return "hook" }
	return &Family{
		name:       config.PluginHooks,
		extensions: cfg.Extensions,
		scanner: macro.NewScanner(
			macro.Shape{
				Macro:  cfg.Macros.Hook,
				Kind:   macro.KindHookDefinition,
				Slots:  []macro.Slot{{Role: macro.RoleDefinition}},
				Detail: hook,
			},
			macro.Shape{
				Macro:  cfg.Macros.HookRun,
				Kind:   macro.KindHookReference,
				Slots:  []macro.Slot{{Role: macro.RoleReference}},
				Rest:   &macro.Slot{Role: macro.RoleReference},
				Detail: hook,
			},
		),
		index: index.New(),
		rules: diagnose.Rules{
			Source:            "cronus-hooks",
			DefinitionNoun:    "hook",
			ReferenceNoun:     "hook",
			UniqueDefinitions: !cfg.Hooks.AllowMultipleDefinitions,
		},
		kind: complete.KindHook,
	}
}

// New builds the plugins named in cfg, in order.
func New(cfg config.Config) ([]Plugin, error) {
	plugins := make([]Plugin, 0, len(cfg.Plugins))
	for _, name := range cfg.Plugins {
		switch name {
		case config.PluginInitDeps:
			plugins = append(plugins, NewInitDependencies(cfg))
		case config.PluginHooks:
			plugins = append(plugins, NewHooks(cfg))
		default:
			return nil, fmt.Errorf("%w: %q", config.ErrUnknownPlugin, name)
		}
	}
	return plugins, nil
}
