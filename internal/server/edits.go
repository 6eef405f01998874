package server

import (
	"strings"
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// positionToOffset computes the byte offset of an LSP position, whose
// character counts UTF-16 code units. Positions past the end are clamped.
func positionToOffset(document string, pos protocol.Position) int {
	lines := strings.Split(document, "\n")
	if int(pos.Line) >= len(lines) {
		return len(document)
	}

	offset := 0
	for i := uint32(0); i < pos.Line; i++ {
		offset += len(lines[i]) + 1
	}
	var units uint32
	for _, r := range lines[pos.Line] {
		n := uint32(1)
		if r > 0xFFFF {
			n = 2
		}
		if units+n > pos.Character {
			break
		}
		units += n
		offset += utf8.RuneLen(r)
	}
	return offset
}

// applyChanges folds the content changes of one didChange notification
// into document. Whole-document changes replace the text; ranged ones are
// spliced in at their byte offsets.
func applyChanges(document string, changes []any) string {
	for _, raw := range changes {
		switch change := raw.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			document = change.Text
		case protocol.TextDocumentContentChangeEvent:
			if change.Range == nil {
				document = change.Text
				continue
			}
			start := positionToOffset(document, change.Range.Start)
			end := max(positionToOffset(document, change.Range.End), start)
			document = document[:start] + change.Text + document[end:]
		default:
			log.Warningf("unexpected change event type %T", raw)
		}
	}
	return document
}
