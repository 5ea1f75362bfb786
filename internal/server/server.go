// Package server exposes the synchronization engine as a language server.
// Open documents become host surfaces; the client reports focus and
// selections through torii notifications.
package server

import (
	"sync"

	"torii/internal/config"
	"torii/internal/host"
	"torii/internal/mirror"
	"torii/internal/outline"
	"torii/internal/panel"
	"torii/internal/resolver"
	"torii/internal/scheduler"
	"torii/internal/store"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"
)

const Name = "torii"

var log = commonlog.GetLogger("torii.server")

type Server struct {
	version  string
	handler  *protocol.Handler
	sched    *scheduler.Scheduler
	override *config.Config

	config    config.Config
	resolver  *resolver.Resolver
	workspace *host.Workspace
	session   *mirror.Session
	panels    *panel.Manager
	journal   *store.Journal
	namer     *outline.Namer
	unsubs    []func()

	mu       sync.Mutex
	notify   glsp.NotifyFunc
	call     glsp.CallFunc
	versions map[protocol.DocumentUri]protocol.Integer
	// versioned is set when the client accepts documentChanges.
	versioned bool
}

type Option func(*Server)

// WithConfig replaces the defaults that initializationOptions overlay.
func WithConfig(cfg config.Config) Option {
	return func(s *Server) { s.override = &cfg }
}

func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// New creates the server state. All work it does runs on sched, which the
// caller starts and stops.
func New(sched *scheduler.Scheduler, opts ...Option) *Server {
	s := &Server{sched: sched, versions: make(map[protocol.DocumentUri]protocol.Integer)}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = &protocol.Handler{
		Initialize:              s.initialize,
		Initialized:             s.initialized,
		Shutdown:                s.shutdown,
		TextDocumentDidOpen:     s.textDocumentDidOpen,
		TextDocumentDidChange:   s.textDocumentDidChange,
		TextDocumentDidClose:    s.textDocumentDidClose,
		WorkspaceExecuteCommand: s.workspaceExecuteCommand,
	}
	return s
}

// NewServer wraps a new Server in a glsp server ready for RunStdio.
func NewServer(sched *scheduler.Scheduler, opts ...Option) (*server.Server, error) {
	s := New(sched, opts...)
	return server.NewServer(s, Name, false), nil
}

// client remembers the connection callbacks of ctx for writes that happen
// outside of a request.
func (s *Server) client(ctx *glsp.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Notify != nil {
		s.notify = ctx.Notify
	}
	if ctx.Call != nil {
		s.call = ctx.Call
	}
}

func (s *Server) sendNotification(method string, params any) {
	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()
	if notify == nil {
		log.Debugf("no client for %s", method)
		return
	}
	notify(method, params)
}

// applyEdit asks the client to apply edit without waiting for the answer.
// rejected runs on the scheduler when the client refuses it.
func (s *Server) applyEdit(edit protocol.WorkspaceEdit, rejected func()) {
	s.mu.Lock()
	call := s.call
	s.mu.Unlock()
	if call == nil {
		log.Debugf("no client for %s", protocol.ServerWorkspaceApplyEdit)
		return
	}
	label := Name
	go func() {
		var result protocol.ApplyWorkspaceEditResponse
		call(protocol.ServerWorkspaceApplyEdit, protocol.ApplyWorkspaceEditParams{Label: &label, Edit: edit}, &result)
		if result.Applied {
			return
		}
		reason := "no reason given"
		if result.FailureReason != nil {
			reason = *result.FailureReason
		}
		log.Warningf("client rejected edit: %s", reason)
		if rejected != nil {
			s.sched.Post("rejectedEdit", func() error {
				rejected()
				return nil
			})
		}
	}()
}

func (s *Server) setVersion(uri protocol.DocumentUri, version protocol.Integer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[uri] = version
}

func (s *Server) forgetVersion(uri protocol.DocumentUri) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.versions, uri)
}

// documentVersion returns the last version the client reported for uri, if
// the client accepts versioned edits.
func (s *Server) documentVersion(uri protocol.DocumentUri) (protocol.Integer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.versioned {
		return 0, false
	}
	v, ok := s.versions[uri]
	return v, ok
}

func (s *Server) showMessage(kind protocol.MessageType, message string) {
	s.sendNotification(protocol.ServerWindowShowMessage, protocol.ShowMessageParams{
		Type:    kind,
		Message: message,
	})
}

func (s *Server) reportError(err error) {
	s.showMessage(protocol.MessageTypeWarning, "torii: "+err.Error())
}
