package server

import (
	"encoding/json"
	"errors"

	"torii/internal/host"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Notifications outside of LSP. The client sends the first two; the server
// sends the last one to move selections on mirror documents.
const (
	MethodDidChangeSelection    = "$/torii/didChangeSelection"
	MethodDidChangeActiveEditor = "$/torii/didChangeActiveEditor"
	MethodSetSelections         = "$/torii/setSelections"
)

type Selection struct {
	Anchor protocol.Position `json:"anchor"`
	Active protocol.Position `json:"active"`
}

type DidChangeSelectionParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Selections   []Selection                     `json:"selections"`
}

// DidChangeActiveEditorParams names the focused document. A nil
// TextDocument means no document has focus.
type DidChangeActiveEditorParams struct {
	TextDocument *protocol.TextDocumentIdentifier `json:"textDocument,omitempty"`
}

type SetSelectionsParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Selections   []Selection                     `json:"selections"`
}

// Handle implements glsp.Handler. torii notifications are handled here and
// everything else goes to the protocol handler.
func (s *Server) Handle(ctx *glsp.Context) (r any, validMethod bool, validParams bool, err error) {
	s.client(ctx)

	switch ctx.Method {
	case MethodDidChangeSelection:
		if !s.handler.IsInitialized() {
			return nil, true, true, errors.New("server not initialized")
		}
		var params DidChangeSelectionParams
		if err := json.Unmarshal(ctx.Params, &params); err != nil {
			return nil, true, false, err
		}
		return nil, true, true, s.didChangeSelection(ctx, &params)

	case MethodDidChangeActiveEditor:
		if !s.handler.IsInitialized() {
			return nil, true, true, errors.New("server not initialized")
		}
		var params DidChangeActiveEditorParams
		if err := json.Unmarshal(ctx.Params, &params); err != nil {
			return nil, true, false, err
		}
		return nil, true, true, s.didChangeActiveEditor(ctx, &params)
	}

	return s.handler.Handle(ctx)
}

func (s *Server) didChangeSelection(_ *glsp.Context, params *DidChangeSelectionParams) error {
	id := host.SurfaceID(params.TextDocument.URI)
	selections := make([]host.Selection, 0, len(params.Selections))
	for _, sel := range params.Selections {
		selections = append(selections, host.Selection{Anchor: sel.Anchor, Active: sel.Active})
	}
	s.sched.Post("didChangeSelection", func() error {
		return s.workspace.Select(id, selections...)
	})
	return nil
}

func (s *Server) didChangeActiveEditor(_ *glsp.Context, params *DidChangeActiveEditorParams) error {
	s.sched.Post("didChangeActiveEditor", func() error {
		if params.TextDocument == nil {
			s.workspace.Blur()
			return nil
		}
		if err := s.workspace.Focus(host.SurfaceID(params.TextDocument.URI)); err != nil {
			return err
		}
		// The surface that lost focus is a mirror again.
		s.session.Resync()
		return nil
	})
	return nil
}
