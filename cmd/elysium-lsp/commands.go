package main

import (
	"github.com/spf13/cobra"
)

var (
	projectRoot string
	plugins     []string
	logLevel    string
	logFile     string
	configFile  string
	metricsAddr string
	outFile     string
	graphAddr   string

	rootCmd = &cobra.Command{
		Use:   "elysium-lsp",
		Short: "Language server for the Elysium kernel's init target and hook macros",
		// a bare invocation is what editors run
		RunE:          runServe,
		SilenceUsage:  true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the language server protocol over stdio",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Index the project once and print its diagnostics",
		Long: `Index every source file below the project root and print the
diagnostics of all plugins. Exits non-zero when any error is found.`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Index the project once and write the index to a SQLite file",
		Args:  cobra.NoArgs,
		RunE:  runDump,
	}

	graphCmd = &cobra.Command{
		Use:   "graph",
		Short: "Serve a live view of the init target dependency graph",
		Long: `Index the project, watch it for changes and serve the init target
dependency graph to a browser until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runGraph,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&projectRoot, "project-root", "", "Project root; defaults to the client's root for serve and . otherwise")
	flags.StringArrayVar(&plugins, "plugin", nil, "Enable only the named plugin (init-deps, hooks); repeatable")
	flags.StringVar(&logLevel, "log-level", "", "Log level: none, error, warning, notice, info, debug")
	flags.StringVar(&logFile, "logfile", "", "Path to log file")
	flags.StringVar(&configFile, "config", "", "Configuration file; defaults to .elysium.toml in the project root")

	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	dumpCmd.Flags().StringVar(&outFile, "out", "", "Output database; defaults to the user state directory")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(dumpCmd)
	graphCmd.Flags().StringVar(&graphAddr, "addr", "localhost:7878", "Address to serve the graph on")
	rootCmd.AddCommand(graphCmd)
}
