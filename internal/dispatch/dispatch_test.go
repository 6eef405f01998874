package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/elysium-os/elysium-lsp/internal/complete"
	"github.com/elysium-os/elysium-lsp/internal/config"
	"github.com/elysium-os/elysium-lsp/internal/diagnose"
	"github.com/elysium-os/elysium-lsp/internal/document"
	"github.com/elysium-os/elysium-lsp/internal/index"
	"github.com/elysium-os/elysium-lsp/internal/macro"
	"github.com/elysium-os/elysium-lsp/internal/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatcher(t *testing.T, extra ...plugin.Plugin) *Dispatcher {
	t.Helper()
	plugins, err := plugin.New(config.Default())
	require.NoError(t, err)
	return New(document.NewStore(), append(extra, plugins...), 100)
}

func messages(diags []diagnose.Diagnostic) []string {
	var out []string
	for _, d := range diags {
		out = append(out, d.Message)
	}
	return out
}

func labels(cs []complete.Candidate) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.Label)
	}
	return out
}

func TestDiagnosticsAcrossPlugins(t *testing.T) {
	d := newDispatcher(t)
	d.DocumentOpened("file:///k/a.c", "INIT_TARGET(pmm, E, B, D(\"vmm\"))\nHOOK_RUN(tick)\n", 1)

	diags, ok := d.Diagnostics("file:///k/a.c")
	require.True(t, ok)
	assert.Equal(t, []string{"Unknown init dependency 'vmm'", "Unknown hook 'tick'"}, messages(diags))

	d.FileChanged("file:///k/b.c", "INIT_TARGET(vmm, E, B, D())\nHOOK(tick)\n")
	diags, ok = d.Diagnostics("file:///k/a.c")
	require.True(t, ok)
	assert.Empty(t, diags)
}

func TestCompletionsMergeAcrossPlugins(t *testing.T) {
	d := newDispatcher(t)
	d.FileChanged("file:///k/b.c", "INIT_TARGET(shared, E, B, D())\nHOOK(shared)\nHOOK(alpha)\n")
	d.DocumentOpened("file:///k/a.c", "HOOK_RUN()\n", 1)

	got, ok := d.Completions("file:///k/a.c", macro.Position{Line: 0, Character: 9})
	require.True(t, ok)
	assert.Equal(t, []string{"alpha", "shared"}, labels(got))
	assert.Equal(t, "hooks", got[1].Plugin)

	got, ok = d.Completions("file:///k/a.c", macro.Position{Line: 1, Character: 0})
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestCloseRemovesContribution(t *testing.T) {
	d := newDispatcher(t)
	d.DocumentOpened("file:///k/a.c", "HOOK(a)\n", 1)
	require.True(t, d.DocumentClosed("file:///k/a.c"))
	assert.False(t, d.DocumentClosed("file:///k/a.c"))

	for _, snap := range d.Snapshots() {
		assert.Empty(t, snap.Snapshot.Locations("file:///k/a.c"), snap.Plugin)
		assert.Empty(t, snap.Snapshot.Documents(), snap.Plugin)
	}
	_, ok := d.Diagnostics("file:///k/a.c")
	assert.False(t, ok)
}

func TestEditorOwnsOpenDocuments(t *testing.T) {
	d := newDispatcher(t)
	d.DocumentOpened("file:///k/a.c", "HOOK(editor)\n", 1)

	assert.False(t, d.FileChanged("file:///k/a.c", "HOOK(disk)\n"))
	assert.False(t, d.FileRemoved("file:///k/a.c"))
	assert.False(t, d.DocumentChanged("file:///k/a.c", "HOOK(old)\n", 1))

	invs := d.Invocations("file:///k/a.c")
	require.Len(t, invs, 1)
	assert.Equal(t, "editor", invs[0].Args[0].Text)
}

func TestFileRemoved(t *testing.T) {
	d := newDispatcher(t)
	d.FileChanged("file:///k/b.c", "HOOK(tick)\n")
	d.DocumentOpened("file:///k/a.c", "HOOK_RUN(tick)\n", 1)

	require.True(t, d.FileRemoved("file:///k/b.c"))
	diags, ok := d.Diagnostics("file:///k/a.c")
	require.True(t, ok)
	assert.Equal(t, []string{"Unknown hook 'tick'"}, messages(diags))
}

func TestNonMatchingExtensionIsIgnored(t *testing.T) {
	d := newDispatcher(t)
	d.DocumentOpened("file:///k/a.h", "HOOK_RUN(tick)\n", 1)

	diags, ok := d.Diagnostics("file:///k/a.h")
	require.True(t, ok)
	assert.Empty(t, diags)
	assert.Empty(t, d.Invocations("file:///k/a.h"))
}

// faulty wraps a working plugin and breaks selected operations.
type faulty struct {
	plugin.Plugin
	applyErr    error
	panicOnDiag bool
	onComplete  func()
}

func (f *faulty) Name() string {
	return "faulty"
}

func (f *faulty) Apply(uri string, version int32, text string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	return f.Plugin.Apply(uri, version, text)
}

func (f *faulty) Diagnostics(uri string, snap *index.Snapshot) []diagnose.Diagnostic {
	if f.panicOnDiag {
		panic("boom")
	}
	return f.Plugin.Diagnostics(uri, snap)
}

func (f *faulty) Completions(uri string, pos macro.Position, snap *index.Snapshot) []complete.Candidate {
	if f.onComplete != nil {
		f.onComplete()
	}
	return f.Plugin.Completions(uri, pos, snap)
}

func TestPanickingPluginIsIsolated(t *testing.T) {
	bad := &faulty{Plugin: plugin.NewHooks(config.Default()), panicOnDiag: true}
	d := newDispatcher(t, bad)
	d.DocumentOpened("file:///k/a.c", "HOOK_RUN(tick)\n", 1)

	diags, ok := d.Diagnostics("file:///k/a.c")
	require.True(t, ok)
	// only the healthy hooks plugin reports
	assert.Equal(t, []string{"Unknown hook 'tick'"}, messages(diags))
}

func TestFailedUpdateDropsStaleContribution(t *testing.T) {
	bad := &faulty{Plugin: plugin.NewHooks(config.Default())}
	d := newDispatcher(t, bad)
	d.DocumentOpened("file:///k/a.c", "HOOK(a)\n", 1)
	require.Equal(t, []string{"a"}, bad.Snapshot().DefinitionNames())

	bad.applyErr = errors.New("index full")
	require.True(t, d.DocumentChanged("file:///k/a.c", "HOOK(b)\n", 2))

	assert.Empty(t, bad.Snapshot().Documents())
	for _, snap := range d.Snapshots() {
		if snap.Plugin == "hooks" {
			assert.Equal(t, []string{"b"}, snap.Snapshot.DefinitionNames())
		}
	}
}

func TestStaleUpdateKeepsNewerContribution(t *testing.T) {
	ahead := &faulty{Plugin: plugin.NewHooks(config.Default())}
	require.NoError(t, ahead.Plugin.Apply("file:///k/a.c", 100, "HOOK(newer)\n"))
	d := newDispatcher(t, ahead)

	d.DocumentOpened("file:///k/a.c", "HOOK(older)\n", 1)

	assert.Equal(t, []string{"newer"}, ahead.Snapshot().DefinitionNames())
	for _, snap := range d.Snapshots() {
		if snap.Plugin == "hooks" {
			assert.Equal(t, []string{"older"}, snap.Snapshot.DefinitionNames())
		}
	}
}

func TestStaleCompletionIsDiscarded(t *testing.T) {
	var d *Dispatcher
	racer := &faulty{Plugin: plugin.NewHooks(config.Default())}
	racer.onComplete = func() {
		racer.onComplete = nil
		d.DocumentChanged("file:///k/a.c", "HOOK(a)\nHOOK_RUN(a, )\n", 2)
	}
	d = newDispatcher(t, racer)
	d.DocumentOpened("file:///k/a.c", "HOOK(a)\nHOOK_RUN()\n", 1)

	_, ok := d.Completions("file:///k/a.c", macro.Position{Line: 1, Character: 9})
	assert.False(t, ok)

	got, ok := d.Completions("file:///k/a.c", macro.Position{Line: 1, Character: 12})
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, labels(got))
}

func TestQueriesNeverSeePartialUpdates(t *testing.T) {
	d := newDispatcher(t)
	d.DocumentOpened("file:///k/a.c", "HOOK_RUN(u0)\n", 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := int32(2); v < 300; v++ {
			d.DocumentChanged("file:///k/a.c", fmt.Sprintf("HOOK_RUN(u%d)\n", v), v)
		}
	}()

	for i := 0; i < 300; i++ {
		diags, ok := d.Diagnostics("file:///k/a.c")
		if !ok {
			continue
		}
		require.Len(t, diags, 1)
	}
	wg.Wait()
}

func TestAllDiagnostics(t *testing.T) {
	d := newDispatcher(t)
	d.FileChanged("file:///k/a.c", "HOOK_RUN(x)\n")
	d.FileChanged("file:///k/b.c", "HOOK(y)\n")

	all := d.AllDiagnostics()
	assert.Len(t, all, 1)
	assert.Len(t, all["file:///k/a.c"], 1)
}

func TestMaxDiagnostics(t *testing.T) {
	plugins, err := plugin.New(config.Default())
	require.NoError(t, err)
	d := New(document.NewStore(), plugins, 2)
	d.DocumentOpened("file:///k/a.c", "HOOK_RUN(a, b, c, d)\n", 1)

	diags, ok := d.Diagnostics("file:///k/a.c")
	require.True(t, ok)
	assert.Equal(t, []string{"Unknown hook 'a'", "Unknown hook 'b'"}, messages(diags))
}
