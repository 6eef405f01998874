package server

import (
	"slices"
	"strings"

	"github.com/elysium-os/elysium-lsp/internal/config"
	"github.com/elysium-os/elysium-lsp/internal/macro"
	"github.com/elysium-os/elysium-lsp/internal/syntax"
	"github.com/elysium-os/elysium-lsp/internal/workspace"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const (
	maxSymbols = 128
	// maxTypos is the most edits a workspace symbol query tolerates.
	maxTypos = 2
)

func (s *Server) textDocumentDocumentSymbol(
	context *glsp.Context,
	params *protocol.DocumentSymbolParams,
) (any, error) {
	uri := workspace.Normalize(params.TextDocument.URI)
	invs := s.dispatcher.Invocations(uri)
	if len(invs) == 0 {
		return []protocol.DocumentSymbol{}, nil
	}

	var outline syntax.Outline
	if doc, ok := s.dispatcher.Store().Get(uri); ok && s.outline != nil {
		var err error
		if outline, err = s.outline.Outline(s.ctx, []byte(doc.Text)); err != nil {
			log.Warningf("no outline for %s: %s", uri, err)
		}
	}

	symbols := make([]protocol.DocumentSymbol, 0, len(invs))
	for _, inv := range invs {
		symbol := protocol.DocumentSymbol{
			Name:           symbolName(inv),
			Kind:           symbolKind(inv.Kind),
			Range:          toRange(inv.Range),
			SelectionRange: toRange(inv.Range),
		}
		if fn, ok := outline.Enclosing(inv.StartByte); ok {
			detail := "in " + fn.Name
			symbol.Detail = &detail
		} else if inv.Detail != "" {
			detail := inv.Detail
			symbol.Detail = &detail
		}
		symbols = append(symbols, symbol)
	}
	return symbols, nil
}

func symbolName(inv macro.Invocation) string {
	names := inv.Names(macro.RoleDefinition)
	if len(names) == 0 {
		names = inv.Names(macro.RoleReference)
	}
	texts := make([]string, 0, len(names))
	for _, n := range names {
		texts = append(texts, n.Text)
	}
	return inv.Macro + "(" + strings.Join(texts, ", ") + ")"
}

func symbolKind(kind macro.Kind) protocol.SymbolKind {
	switch kind {
	case macro.KindDependencyDeclaration:
		return protocol.SymbolKindConstant
	case macro.KindHookDefinition:
		return protocol.SymbolKindEvent
	default:
		return protocol.SymbolKindFunction
	}
}

func (s *Server) workspaceSymbol(
	context *glsp.Context,
	params *protocol.WorkspaceSymbolParams,
) ([]protocol.SymbolInformation, error) {
	var symbols []protocol.SymbolInformation
	for _, ps := range s.dispatcher.Snapshots() {
		names := filterByBitap(params.Query, ps.Snapshot.DefinitionNames(), maxTypos, maxSymbols-len(symbols))
		for _, name := range names {
			container := ps.Plugin
			kind := protocol.SymbolKindEvent
			if ps.Plugin == config.PluginInitDeps {
				kind = protocol.SymbolKindConstant
			}
			for _, loc := range ps.Snapshot.Definitions(name) {
				symbols = append(symbols, protocol.SymbolInformation{
					Name:          name,
					Kind:          kind,
					Location:      protocol.Location{URI: loc.Document, Range: toRange(loc.Range)},
					ContainerName: &container,
				})
			}
		}
		if len(symbols) >= maxSymbols {
			return symbols[:maxSymbols], nil
		}
	}
	return symbols, nil
}

// filterByBitap keeps the names that contain pattern with at most k edits,
// ignoring case, in input order. Patterns shorter than four runes
// must match exactly.
func filterByBitap(pattern string, names []string, k, maxHits int) []string {
	if maxHits <= 0 {
		return nil
	}
	if pattern == "" {
		return names[:min(len(names), maxHits)]
	}

	runes := []rune(strings.ToLower(pattern))
	if len(runes) > 63 {
		runes = runes[:63]
	}
	m := len(runes)
	k = min(k, m/4)

	var masks [128]uint64
	for i, r := range runes {
		if r < 128 {
			masks[r] |= 1 << uint(i)
		}
	}
	highest := uint64(1) << uint(m-1)

	var hits []string
	for _, name := range names {
		if bitapMatch(strings.ToLower(name), &masks, highest, k) {
			hits = append(hits, name)
			if len(hits) == maxHits {
				break
			}
		}
	}
	return slices.Clip(hits)
}

// bitapMatch reports whether text contains the pattern encoded in masks
// with at most k insertions, deletions or substitutions.
func bitapMatch(text string, masks *[128]uint64, highest uint64, k int) bool {
	r := make([]uint64, k+1)
	for d := range r {
		// d leading pattern characters may be deleted outright
		r[d] = uint64(1)<<uint(d) - 1
	}
	if r[k]&highest != 0 {
		return true
	}

	for _, c := range text {
		var mask uint64
		if c < 128 {
			mask = masks[c]
		}

		prev := r[0]
		r[0] = ((r[0] << 1) | 1) & mask
		for d := 1; d <= k; d++ {
			old := r[d]
			r[d] = ((old<<1)|1)&mask | prev | (prev<<1 | 1) | (r[d-1]<<1 | 1)
			prev = old
		}
		if r[k]&highest != 0 {
			return true
		}
	}
	return false
}
