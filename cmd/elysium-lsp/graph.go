package main

import (
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/elysium-os/elysium-lsp/internal/config"
	"github.com/elysium-os/elysium-lsp/internal/dispatch"
	"github.com/elysium-os/elysium-lsp/internal/graph"
	"github.com/elysium-os/elysium-lsp/internal/workspace"

	"github.com/spf13/cobra"
)

func runGraph(cmd *cobra.Command, args []string) error {
	root, err := batchRoot()
	if err != nil {
		return err
	}
	cfg, err := setup(root)
	if err != nil {
		return err
	}
	if !slices.Contains(cfg.Plugins, config.PluginInitDeps) {
		return fmt.Errorf("the %s plugin is disabled", config.PluginInitDeps)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := indexOnce(ctx, root, cfg)
	if err != nil {
		return err
	}
	hub := graph.NewHub()
	hub.Update(dependencyGraph(d))

	w, err := workspace.NewWatcher(root, workspace.OptionsFrom(cfg), 200*time.Millisecond,
		func(changes []workspace.Change) {
			for _, change := range changes {
				uri := workspace.URI(change.Path)
				if change.Removed {
					d.FileRemoved(uri)
					continue
				}
				content, err := os.ReadFile(change.Path)
				if err != nil {
					log.Warningf("failed to read %s: %s", change.Path, err)
					continue
				}
				d.FileChanged(uri, string(content))
			}
			hub.Update(dependencyGraph(d))
		})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	url, err := hub.Listen(ctx, graphAddr)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "serving the dependency graph on %s\n", url)

	<-ctx.Done()
	return nil
}

func dependencyGraph(d *dispatch.Dispatcher) graph.Data {
	for _, ps := range d.Snapshots() {
		if ps.Plugin == config.PluginInitDeps {
			return graph.Build(ps.Snapshot)
		}
	}
	return graph.Data{Nodes: []graph.Node{}, Links: []graph.Link{}}
}
