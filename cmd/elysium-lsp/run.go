package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/elysium-os/elysium-lsp/internal/config"
	"github.com/elysium-os/elysium-lsp/internal/diagnose"
	"github.com/elysium-os/elysium-lsp/internal/dispatch"
	"github.com/elysium-os/elysium-lsp/internal/document"
	"github.com/elysium-os/elysium-lsp/internal/export"
	"github.com/elysium-os/elysium-lsp/internal/metrics"
	"github.com/elysium-os/elysium-lsp/internal/plugin"
	"github.com/elysium-os/elysium-lsp/internal/server"
	"github.com/elysium-os/elysium-lsp/internal/workspace"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("elysium.cmd")

var verbosity = map[string]int{
	"none":    -1,
	"error":   0,
	"warning": 1,
	"notice":  2,
	"info":    3,
	"debug":   4,
}

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgBlue)
	pathColor    = color.New(color.Bold)
)

// loadConfig layers the config file and the command line flags over the
// defaults.
func loadConfig(root string) (config.Config, error) {
	cfg := config.Default()
	var err error
	switch {
	case configFile != "":
		cfg, err = cfg.LoadFile(configFile)
	case root != "":
		var found bool
		cfg, found, err = config.Discover(root)
		if found {
			log.Infof("using %s", filepath.Join(root, config.FileName))
		}
	}
	if err != nil {
		return config.Config{}, err
	}

	if len(plugins) > 0 {
		cfg.Plugins = slices.Clone(plugins)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func configureLogging(level string) error {
	v, ok := verbosity[level]
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}
	if logFile != "" {
		commonlog.Configure(v, &logFile)
	} else {
		commonlog.Configure(v, nil)
	}
	return nil
}

func setup(root string) (config.Config, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return config.Config{}, err
	}
	if err := configureLogging(cfg.LogLevel); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup(projectRoot)
	if err != nil {
		return err
	}
	log.Infof("starting %s %s", server.Name, Version)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr); err != nil {
				log.Errorf("metrics server: %s", err)
			}
		}()
	}

	srv := server.New(server.Options{ProjectRoot: projectRoot, Config: cfg, Version: Version})
	return srv.RunStdio()
}

// indexOnce scans root with a fresh set of plugins.
func indexOnce(ctx context.Context, root string, cfg config.Config) (*dispatch.Dispatcher, error) {
	ps, err := plugin.New(cfg)
	if err != nil {
		return nil, err
	}
	d := dispatch.New(document.NewStore(), ps, cfg.MaxDiagnostics)
	err = workspace.Scan(ctx, root, workspace.OptionsFrom(cfg), func(path string, content []byte) {
		d.FileChanged(workspace.URI(path), string(content))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return d, nil
}

func batchRoot() (string, error) {
	root := projectRoot
	if root == "" {
		root = "."
	}
	return filepath.Abs(root)
}

var errProblems = errors.New("problems found")

func runCheck(cmd *cobra.Command, args []string) error {
	root, err := batchRoot()
	if err != nil {
		return err
	}
	cfg, err := setup(root)
	if err != nil {
		return err
	}
	d, err := indexOnce(cmd.Context(), root, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	all := d.AllDiagnostics()
	uris := make([]string, 0, len(all))
	for uri := range all {
		uris = append(uris, uri)
	}
	slices.Sort(uris)

	var errs, warnings int
	for _, uri := range uris {
		name := uri
		if path, err := workspace.Path(uri); err == nil {
			if rel, err := filepath.Rel(root, path); err == nil {
				name = rel
			}
		}
		for _, diag := range all[uri] {
			sev := infoColor
			switch diag.Severity {
			case diagnose.SeverityError:
				sev = errorColor
				errs++
			case diagnose.SeverityWarning:
				sev = warningColor
				warnings++
			}
			fmt.Fprintf(out, "%s:%d:%d: %s: %s [%s]\n",
				pathColor.Sprint(name),
				diag.Range.Start.Line+1,
				diag.Range.Start.Character+1,
				sev.Sprint(diag.Severity),
				diag.Message,
				diag.Code,
			)
		}
	}
	fmt.Fprintf(out, "%d error(s), %d warning(s) in %d file(s)\n", errs, warnings, len(uris))

	if errs > 0 {
		return fmt.Errorf("%w: %d error(s)", errProblems, errs)
	}
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	root, err := batchRoot()
	if err != nil {
		return err
	}
	cfg, err := setup(root)
	if err != nil {
		return err
	}
	d, err := indexOnce(cmd.Context(), root, cfg)
	if err != nil {
		return err
	}

	path := outFile
	if path == "" {
		if path, err = export.DefaultPath(server.Name); err != nil {
			return err
		}
	}
	db, err := export.NewDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Write(d.Snapshots()); err != nil {
		return err
	}
	stats, err := db.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d documents, %d definitions, %d references\n",
		path, stats.Documents, stats.Definitions, stats.References)
	return nil
}
