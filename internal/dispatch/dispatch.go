// Package dispatch routes document events and queries to the enabled plugins.
package dispatch

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/elysium-os/elysium-lsp/internal/complete"
	"github.com/elysium-os/elysium-lsp/internal/diagnose"
	"github.com/elysium-os/elysium-lsp/internal/document"
	"github.com/elysium-os/elysium-lsp/internal/index"
	"github.com/elysium-os/elysium-lsp/internal/macro"
	"github.com/elysium-os/elysium-lsp/internal/metrics"
	"github.com/elysium-os/elysium-lsp/internal/plugin"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("elysium.dispatch")

// Dispatcher serializes updates and answers queries lock-free against
// per-plugin snapshots. A failing plugin only loses its own contribution.
type Dispatcher struct {
	// mu is held for writing during updates and for reading while a query
	// captures its document revision and snapshots.
	mu             sync.RWMutex
	store          *document.Store
	plugins        []plugin.Plugin
	maxDiagnostics int
}

// New creates a dispatcher over store. maxDiagnostics caps the diagnostics
// returned per document; 0 disables the cap.
func New(store *document.Store, plugins []plugin.Plugin, maxDiagnostics int) *Dispatcher {
	return &Dispatcher{
		store:          store,
		plugins:        plugins,
		maxDiagnostics: maxDiagnostics,
	}
}

func (d *Dispatcher) Plugins() []plugin.Plugin {
	return d.plugins
}

func (d *Dispatcher) Store() *document.Store {
	return d.store
}

func (d *Dispatcher) DocumentOpened(uri string, text string, version int32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.apply(d.store.Open(uri, text, version), "opened")
}

// DocumentChanged reports false when the change was rejected by the store.
func (d *Dispatcher) DocumentChanged(uri string, text string, version int32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.store.Change(uri, text, version)
	if err != nil {
		log.Warningf("ignoring change: %s", err)
		return false
	}
	d.apply(doc, "changed")
	return true
}

func (d *Dispatcher) DocumentClosed(uri string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.store.Close(uri); err != nil {
		log.Warningf("ignoring close: %s", err)
		return false
	}
	d.remove(uri)
	return true
}

// FileChanged indexes the disk content of uri unless the editor owns it.
func (d *Dispatcher) FileChanged(uri string, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.store.Track(uri, text)
	if !ok {
		return false
	}
	d.apply(doc, "disk")
	return true
}

// FileRemoved forgets a disk document unless the editor owns it.
func (d *Dispatcher) FileRemoved(uri string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.store.Untrack(uri) {
		return false
	}
	d.remove(uri)
	return true
}

func (d *Dispatcher) apply(doc document.Document, event string) {
	for _, p := range d.plugins {
		if !p.Accepts(doc.URI) {
			continue
		}
		start := time.Now()
		stale := false
		err := d.guard(p, "apply", func() error {
			err := p.Apply(doc.URI, doc.Revision, doc.Text)
			if errors.Is(err, plugin.ErrStaleUpdate) {
				stale = true
				return nil
			}
			return err
		})
		if stale {
			// the newer contribution stays
			log.Debugf("plugin %s skipped %s: %s", p.Name(), doc.URI, plugin.ErrStaleUpdate)
			continue
		}
		if err != nil {
			// an unusable update must not leave the previous contribution behind
			_ = d.guard(p, "remove", func() error {
				p.Remove(doc.URI)
				return nil
			})
			continue
		}
		metrics.ObserveUpdate(p.Name(), event, start)
	}
	metrics.TrackedDocuments.Set(float64(len(d.store.URIs())))
}

func (d *Dispatcher) remove(uri string) {
	for _, p := range d.plugins {
		_ = d.guard(p, "remove", func() error {
			p.Remove(uri)
			return nil
		})
	}
	metrics.TrackedDocuments.Set(float64(len(d.store.URIs())))
}

// guard runs fn on behalf of p, turning a panic into an error. Failures are
// logged and counted.
func (d *Dispatcher) guard(p plugin.Plugin, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			log.Errorf("plugin %s failed during %s: %s", p.Name(), op, err)
			metrics.PluginFailures.WithLabelValues(p.Name(), op).Inc()
		}
	}()
	return fn()
}

func (d *Dispatcher) snapshot(p plugin.Plugin) (*index.Snapshot, bool) {
	var snap *index.Snapshot
	err := d.guard(p, "snapshot", func() error {
		snap = p.Snapshot()
		return nil
	})
	return snap, err == nil && snap != nil
}

type capture struct {
	revision  int32
	plugins   []plugin.Plugin
	snapshots []*index.Snapshot
}

// capture records the state a query is answered against.
func (d *Dispatcher) capture(uri string) (capture, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rev, ok := d.store.Revision(uri)
	if !ok {
		return capture{}, false
	}
	c := capture{revision: rev}
	for _, p := range d.plugins {
		if !p.Accepts(uri) {
			continue
		}
		snap, ok := d.snapshot(p)
		if !ok {
			continue
		}
		c.plugins = append(c.plugins, p)
		c.snapshots = append(c.snapshots, snap)
	}
	return c, true
}

// current reports whether uri is still at the captured revision.
func (d *Dispatcher) current(uri string, c capture, query string) bool {
	rev, ok := d.store.Revision(uri)
	if ok && rev == c.revision {
		return true
	}
	log.Debugf("discarding %s result for %s", query, uri)
	metrics.StaleResults.WithLabelValues(query).Inc()
	return false
}

// Completions merges the candidates of every plugin. It reports false when
// uri is not tracked or changed before the answer was ready.
func (d *Dispatcher) Completions(uri string, pos macro.Position) ([]complete.Candidate, bool) {
	c, ok := d.capture(uri)
	if !ok {
		return nil, false
	}

	results := make([][]complete.Candidate, 0, len(c.plugins))
	for i, p := range c.plugins {
		snap := c.snapshots[i]
		var candidates []complete.Candidate
		_ = d.guard(p, "completion", func() error {
			candidates = p.Completions(uri, pos, snap)
			return nil
		})
		results = append(results, candidates)
	}
	merged := complete.Merge(results...)

	if !d.current(uri, c, "completion") {
		return nil, false
	}
	return merged, true
}

// Diagnostics merges the diagnostics of every plugin for uri, ordered by
// position. It reports false when uri is not tracked or changed before the
// answer was ready.
func (d *Dispatcher) Diagnostics(uri string) ([]diagnose.Diagnostic, bool) {
	c, ok := d.capture(uri)
	if !ok {
		return nil, false
	}

	var merged []diagnose.Diagnostic
	for i, p := range c.plugins {
		snap := c.snapshots[i]
		var diags []diagnose.Diagnostic
		_ = d.guard(p, "diagnostics", func() error {
			diags = p.Diagnostics(uri, snap)
			return nil
		})
		merged = append(merged, diags...)
	}
	slices.SortStableFunc(merged, func(a, b diagnose.Diagnostic) int {
		switch {
		case a.Range.Start.Before(b.Range.Start):
			return -1
		case b.Range.Start.Before(a.Range.Start):
			return 1
		default:
			return 0
		}
	})
	if d.maxDiagnostics > 0 && len(merged) > d.maxDiagnostics {
		merged = merged[:d.maxDiagnostics]
	}

	if !d.current(uri, c, "diagnostics") {
		return nil, false
	}
	return merged, true
}

// AllDiagnostics returns the diagnostics of every tracked document that has any.
func (d *Dispatcher) AllDiagnostics() map[string][]diagnose.Diagnostic {
	all := map[string][]diagnose.Diagnostic{}
	for _, uri := range d.store.URIs() {
		if diags, ok := d.Diagnostics(uri); ok && len(diags) > 0 {
			all[uri] = diags
		}
	}
	return all
}

// Invocations returns what every plugin last indexed for uri, in source order.
func (d *Dispatcher) Invocations(uri string) []macro.Invocation {
	c, ok := d.capture(uri)
	if !ok {
		return nil
	}

	var invs []macro.Invocation
	for _, snap := range c.snapshots {
		if contribution, ok := snap.Contribution(uri); ok {
			invs = append(invs, contribution.Invocations...)
		}
	}
	slices.SortStableFunc(invs, func(a, b macro.Invocation) int {
		switch {
		case a.Range.Start.Before(b.Range.Start):
			return -1
		case b.Range.Start.Before(a.Range.Start):
			return 1
		default:
			return 0
		}
	})
	return invs
}

type PluginSnapshot struct {
	Plugin   string
	Snapshot *index.Snapshot
}

// Snapshots returns a consistent snapshot of every plugin, in dispatch order.
func (d *Dispatcher) Snapshots() []PluginSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snaps := make([]PluginSnapshot, 0, len(d.plugins))
	for _, p := range d.plugins {
		if snap, ok := d.snapshot(p); ok {
			snaps = append(snaps, PluginSnapshot{Plugin: p.Name(), Snapshot: snap})
		}
	}
	return snaps
}
