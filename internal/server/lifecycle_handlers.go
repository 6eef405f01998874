package server

import (
	"fmt"
	"os"
	"time"

	"github.com/elysium-os/elysium-lsp/internal/dispatch"
	"github.com/elysium-os/elysium-lsp/internal/document"
	"github.com/elysium-os/elysium-lsp/internal/plugin"
	"github.com/elysium-os/elysium-lsp/internal/syntax"
	"github.com/elysium-os/elysium-lsp/internal/workspace"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	// Config
	cfg, err := s.opts.Config.Overlay(params.InitializationOptions)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s.cfg = cfg
	log.Infof("config: %+v", cfg)

	// Root
	s.root = s.opts.ProjectRoot
	if s.root == "" && params.RootURI != nil {
		if s.root, err = workspace.Path(*params.RootURI); err != nil {
			return nil, err
		}
	}
	if s.root == "" && params.RootPath != nil {
		s.root = *params.RootPath
	}
	log.Infof("project root: %q", s.root)

	// Plugins
	plugins, err := plugin.New(cfg)
	if err != nil {
		return nil, err
	}
	s.dispatcher = dispatch.New(document.NewStore(), plugins, cfg.MaxDiagnostics)

	if s.outline, err = syntax.NewPool(2); err != nil {
		return nil, err
	}

	syncKind := protocol.TextDocumentSyncKindFull

	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"(", ",", "\"", " "},
	}

	version := s.opts.Version
	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    Name,
			Version: &version,
		},
	}, nil
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	log.Info("client initialized")
	go func() {
		defer close(s.ready)
		if err := s.indexProject(); err != nil {
			log.Errorf("project scan failed: %s", err)
		}
		s.publishAll(context.Notify)

		if s.cfg.Watch && s.root != "" {
			if err := s.watch(context.Notify); err != nil {
				log.Errorf("failed to watch %s: %s", s.root, err)
			}
		}
	}()
	return nil
}

// indexProject feeds every source file below the root to the dispatcher.
func (s *Server) indexProject() error {
	if s.root == "" {
		return nil
	}
	start := time.Now()
	count := 0
	err := workspace.Scan(s.ctx, s.root, workspace.OptionsFrom(s.cfg), func(path string, content []byte) {
		s.dispatcher.FileChanged(workspace.URI(path), string(content))
		count++
	})
	log.Infof("indexed %d files in %s", count, time.Since(start))
	return err
}

func (s *Server) watch(notify glsp.NotifyFunc) error {
	w, err := workspace.NewWatcher(s.root, workspace.OptionsFrom(s.cfg), 200*time.Millisecond,
		func(changes []workspace.Change) {
			for _, change := range changes {
				s.reloadFromDisk(workspace.URI(change.Path), change.Path)
			}
			s.publishAll(notify)
		})
	if err != nil {
		return err
	}
	s.watcher = w
	return w.Start(s.ctx)
}

// reloadFromDisk tracks the disk content of a file that the editor does not
// own, or forgets it once it is gone.
func (s *Server) reloadFromDisk(uri string, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.dispatcher.FileRemoved(uri)
			return
		}
		log.Warningf("failed to read %s: %s", path, err)
		return
	}
	s.dispatcher.FileChanged(uri, string(content))
}

func (s *Server) shutdown(context *glsp.Context) error {
	log.Info("shutting down")
	s.cancel()
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.outline != nil {
		s.outline.Close()
	}
	protocol.SetTraceValue(protocol.TraceValueOff)
	return nil
}

func (s *Server) setTrace(context *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}
