package server

import (
	"torii/internal/host"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// remote forwards writes on documents to the client. The client answers an
// applied edit with didChange, which is how the workspace copy catches up.
// Writes are computed against that copy, so when the client supports it they
// carry the document version and are refused rather than misapplied if the
// copy is behind.
type remote struct {
	server *Server
}

func (r remote) ReplaceText(doc *host.Document, text string) {
	uri := string(doc.ID())
	r.server.applyEdit(replaceEdit(r.server, uri, doc.Text(), text), func() {
		if r.server.session != nil {
			r.server.session.Propagator().Rejected(doc.ID())
		}
	})
}

func replaceEdit(s *Server, uri protocol.DocumentUri, current, text string) protocol.WorkspaceEdit {
	edit := protocol.TextEdit{Range: host.WholeRange(current), NewText: text}
	version, ok := s.documentVersion(uri)
	if !ok {
		return protocol.WorkspaceEdit{
			Changes: map[protocol.DocumentUri][]protocol.TextEdit{uri: {edit}},
		}
	}
	return protocol.WorkspaceEdit{
		DocumentChanges: []any{protocol.TextDocumentEdit{
			TextDocument: protocol.OptionalVersionedTextDocumentIdentifier{
				TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
				Version:                &version,
			},
			Edits: []any{edit},
		}},
	}
}

func (r remote) SetSelections(doc *host.Document, selections []host.Selection) {
	params := SetSelectionsParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: string(doc.ID())},
		Selections:   make([]Selection, 0, len(selections)),
	}
	for _, sel := range selections {
		params.Selections = append(params.Selections, Selection{Anchor: sel.Anchor, Active: sel.Active})
	}
	r.server.sendNotification(MethodSetSelections, params)
}
