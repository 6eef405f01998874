package server

import (
	"os"

	"github.com/elysium-os/elysium-lsp/internal/complete"
	"github.com/elysium-os/elysium-lsp/internal/diagnose"
	"github.com/elysium-os/elysium-lsp/internal/macro"
	"github.com/elysium-os/elysium-lsp/internal/workspace"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	doc := params.TextDocument
	s.dispatcher.DocumentOpened(workspace.Normalize(doc.URI), doc.Text, doc.Version)
	s.publishAll(context.Notify)
	return nil
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	uri := workspace.Normalize(params.TextDocument.URI)
	current, ok := s.dispatcher.Store().Get(uri)
	if !ok {
		log.Warningf("change for unopened document %s", uri)
		return nil
	}
	text := applyChanges(current.Text, params.ContentChanges)
	if s.dispatcher.DocumentChanged(uri, text, params.TextDocument.Version) {
		s.publishAll(context.Notify)
	}
	return nil
}

func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	uri := workspace.Normalize(params.TextDocument.URI)
	if !s.dispatcher.DocumentClosed(uri) {
		return nil
	}
	// the file is still part of the project; go back to its saved content
	if path, err := workspace.Path(uri); err == nil {
		if _, err := os.Stat(path); err == nil {
			s.reloadFromDisk(uri, path)
		}
	}
	s.publishAll(context.Notify)
	return nil
}

func (s *Server) workspaceDidChangeWatchedFiles(
	context *glsp.Context,
	params *protocol.DidChangeWatchedFilesParams,
) error {
	for _, change := range params.Changes {
		path, err := workspace.Path(change.URI)
		if err != nil {
			log.Warningf("ignoring watched file %s: %s", change.URI, err)
			continue
		}
		uri := workspace.URI(path)
		if change.Type == protocol.FileChangeTypeDeleted {
			s.dispatcher.FileRemoved(uri)
			continue
		}
		s.reloadFromDisk(uri, path)
	}
	s.publishAll(context.Notify)
	return nil
}

func (s *Server) textDocumentCompletion(
	context *glsp.Context,
	params *protocol.CompletionParams,
) (any, error) {
	pos := macro.Position{Line: params.Position.Line, Character: params.Position.Character}
	candidates, ok := s.dispatcher.Completions(workspace.Normalize(params.TextDocument.URI), pos)
	if !ok {
		return nil, nil
	}

	items := make([]protocol.CompletionItem, 0, len(candidates))
	for _, c := range candidates {
		kind := protocol.CompletionItemKindFunction
		if c.Kind == complete.KindDependency {
			kind = protocol.CompletionItemKindConstant
		}
		item := protocol.CompletionItem{Label: c.Label, Kind: &kind}
		if c.Detail != "" {
			detail := c.Detail
			item.Detail = &detail
		}
		items = append(items, item)
	}
	return items, nil
}

// publishAll publishes the diagnostics of every document, and an empty list
// for documents that had diagnostics before and have none now.
func (s *Server) publishAll(notify glsp.NotifyFunc) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	all := s.dispatcher.AllDiagnostics()
	for uri, diags := range all {
		publishDiagnostics(notify, uri, toProtocol(diags))
	}
	for uri := range s.published {
		if _, ok := all[uri]; !ok {
			publishDiagnostics(notify, uri, []protocol.Diagnostic{})
			delete(s.published, uri)
		}
	}
	for uri := range all {
		s.published[uri] = struct{}{}
	}
}

func publishDiagnostics(
	notify glsp.NotifyFunc,
	uri string,
	diagnostics []protocol.Diagnostic,
) {
	notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func toProtocol(diags []diagnose.Diagnostic) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		severity := protocol.DiagnosticSeverity(d.Severity)
		source := d.Source
		out = append(out, protocol.Diagnostic{
			Range:    toRange(d.Range),
			Severity: &severity,
			Code:     &protocol.IntegerOrString{Value: string(d.Code)},
			Source:   &source,
			Message:  d.Message,
		})
	}
	return out
}

func toRange(r macro.Range) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: r.Start.Line, Character: r.Start.Character},
		End:   protocol.Position{Line: r.End.Line, Character: r.End.Character},
	}
}
