package server

import (
	"fmt"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const (
	CommandShowPanel  = "torii.showPanel"
	CommandClosePanel = "torii.closePanel"
	CommandAddSnippet = "torii.addSnippet"
)

var Commands = []string{CommandShowPanel, CommandClosePanel, CommandAddSnippet}

func (s *Server) workspaceExecuteCommand(
	context *glsp.Context,
	params *protocol.ExecuteCommandParams,
) (any, error) {
	switch params.Command {
	case CommandShowPanel:
		var url string
		err := s.sched.Wait(params.Command, func() error {
			var err error
			url, err = s.showPanel()
			return err
		})
		if err != nil {
			return nil, err
		}
		if url != "" {
			context.Notify(protocol.ServerWindowShowDocument, protocol.ShowDocumentParams{
				URI:      protocol.URI(url),
				External: &protocol.True,
			})
		}
		return url, nil

	case CommandClosePanel:
		return nil, s.sched.Wait(params.Command, s.closePanel)

	case CommandAddSnippet:
		index, err := snippetIndex(params.Arguments)
		if err != nil {
			return nil, err
		}
		return nil, s.sched.Wait(params.Command, func() error {
			return s.addSnippet(index)
		})
	}
	return nil, fmt.Errorf("unknown command %q", params.Command)
}

func (s *Server) showPanel() (string, error) {
	p, err := s.panels.CreateOrShow()
	if err != nil {
		return "", err
	}
	return p.URL(), nil
}

func (s *Server) closePanel() error {
	p, ok := s.panels.Current()
	if !ok {
		return nil
	}
	s.session.Detach()
	return p.Dispose()
}

// addSnippet opens the panel if needed so the snippet has a store to go to.
func (s *Server) addSnippet(index int) error {
	if s.session.Store() == nil {
		if _, err := s.showPanel(); err != nil {
			return err
		}
	}
	if err := s.session.AddSnippet(index); err != nil {
		s.reportError(err)
		return err
	}
	return nil
}

// snippetIndex reads the optional insertion index. Without one, or with a
// negative one, the snippet is appended.
func snippetIndex(args []any) (int, error) {
	if len(args) == 0 || args[0] == nil {
		return -1, nil
	}
	switch v := args[0].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("snippet index must be a number, got %T", args[0])
	}
}
