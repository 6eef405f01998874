package server

import (
	"context"
	"sync"

	"github.com/elysium-os/elysium-lsp/internal/config"
	"github.com/elysium-os/elysium-lsp/internal/dispatch"
	"github.com/elysium-os/elysium-lsp/internal/syntax"
	"github.com/elysium-os/elysium-lsp/internal/workspace"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"
)

const Name = "elysium-lsp"

var log = commonlog.GetLogger("elysium.server")

type Options struct {
	// ProjectRoot overrides the root announced by the client.
	ProjectRoot string
	// Config is the base the client's initializationOptions are laid over.
	Config  config.Config
	Version string
}

type Server struct {
	handler *protocol.Handler
	opts    Options

	cfg        config.Config
	root       string
	dispatcher *dispatch.Dispatcher
	outline    *syntax.Pool
	watcher    *workspace.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	// ready is closed once the initial project scan has been indexed.
	ready chan struct{}

	publishMu sync.Mutex
	published map[string]struct{}
}

func New(opts Options) *Server {
	s := &Server{
		opts:      opts,
		ready:     make(chan struct{}),
		published: map[string]struct{}{},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.handler = &protocol.Handler{
		Initialize:                     s.initialize,
		Initialized:                    s.initialized,
		Shutdown:                       s.shutdown,
		SetTrace:                       s.setTrace,
		TextDocumentDidOpen:            s.textDocumentDidOpen,
		TextDocumentDidChange:          s.textDocumentDidChange,
		TextDocumentDidClose:           s.textDocumentDidClose,
		TextDocumentCompletion:         s.textDocumentCompletion,
		TextDocumentDocumentSymbol:     s.textDocumentDocumentSymbol,
		WorkspaceSymbol:                s.workspaceSymbol,
		WorkspaceDidChangeWatchedFiles: s.workspaceDidChangeWatchedFiles,
	}
	return s
}

func (s *Server) Handler() *protocol.Handler {
	return s.handler
}

// RunStdio serves the protocol over stdin and stdout until the client exits.
func (s *Server) RunStdio() error {
	return glspserver.NewServer(s.handler, Name, false).RunStdio()
}

// Ready is closed once the initial project scan has been indexed.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}
