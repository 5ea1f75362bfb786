package server

import (
	"errors"
	"fmt"

	"torii/internal/host"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	doc := params.TextDocument
	s.sched.Post("didOpen", func() error {
		s.setVersion(doc.URI, doc.Version)
		if _, err := s.workspace.Open(host.SurfaceID(doc.URI), doc.URI, doc.Text); err != nil {
			return err
		}
		// The new document may already be stale against the store.
		s.session.Resync()
		return nil
	})
	return nil
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	id := host.SurfaceID(params.TextDocument.URI)
	version := params.TextDocument.Version
	raw := params.ContentChanges
	s.sched.Post("didChange", func() error {
		changes, err := s.contentChanges(id, raw)
		if err != nil {
			return err
		}
		s.setVersion(params.TextDocument.URI, version)
		return s.workspace.Edit(id, changes...)
	})
	return nil
}

// contentChanges converts LSP change events. A whole-document event
// replaces the text the document had before the preceding changes.
func (s *Server) contentChanges(id host.SurfaceID, raw []any) ([]host.ContentChange, error) {
	doc, ok := s.workspace.Document(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", host.ErrNotOpen, id)
	}
	text := doc.Text()

	changes := make([]host.ContentChange, 0, len(raw))
	for _, r := range raw {
		switch change := r.(type) {
		case protocol.TextDocumentContentChangeEvent:
			if change.Range == nil {
				return nil, errors.New("incremental change without range")
			}
			changes = append(changes, host.ContentChange{Range: *change.Range, Text: change.Text})
			text = applyPreview(text, *change.Range, change.Text)
		case protocol.TextDocumentContentChangeEventWhole:
			changes = append(changes, host.ContentChange{Range: host.WholeRange(text), Text: change.Text})
			text = change.Text
		default:
			return nil, fmt.Errorf("unexpected change event type %T", r)
		}
	}
	return changes, nil
}

func applyPreview(text string, r protocol.Range, replacement string) string {
	start := r.Start.IndexIn(text)
	end := r.End.IndexIn(text)
	if end < start {
		start, end = end, start
	}
	return text[:start] + replacement + text[end:]
}

func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	id := host.SurfaceID(params.TextDocument.URI)
	uri := params.TextDocument.URI
	s.sched.Post("didClose", func() error {
		s.forgetVersion(uri)
		return s.workspace.Close(id)
	})
	return nil
}
