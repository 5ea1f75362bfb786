package server

import (
	"fmt"
	"os"
	"path/filepath"

	"torii/internal/config"
	"torii/internal/host"
	"torii/internal/mirror"
	"torii/internal/outline"
	"torii/internal/panel"
	"torii/internal/resolver"
	"torii/internal/scheduler"
	"torii/internal/store"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	base := config.Default()
	if s.override != nil {
		base = *s.override
	}
	cfg, err := config.Overlay(base, params.InitializationOptions)
	if err != nil {
		return nil, err
	}

	// Root
	root := cfg.Root
	if params.RootURI != nil && *params.RootURI != "" {
		root = *params.RootURI
	} else if params.RootPath != nil && *params.RootPath != "" {
		root = *params.RootPath
	}

	if ws := params.Capabilities.Workspace; ws != nil && ws.WorkspaceEdit != nil && ws.WorkspaceEdit.DocumentChanges != nil {
		s.mu.Lock()
		s.versioned = *ws.WorkspaceEdit.DocumentChanges
		s.mu.Unlock()
	}

	err = s.sched.Wait("initialize", func() error {
		return s.setup(cfg, root)
	})
	if err != nil {
		return nil, err
	}

	syncKind := protocol.TextDocumentSyncKindIncremental

	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
	}
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: Commands,
	}

	version := s.version
	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    Name,
			Version: &version,
		},
	}, nil
}

// setup builds the engine for one workspace. It runs on the scheduler.
func (s *Server) setup(cfg config.Config, root string) error {
	s.config = cfg
	s.resolver = resolver.New(root)
	if s.resolver.Root() == "" {
		log.Warningf("no usable workspace root in %q, nothing will be synchronized", root)
	}

	namer, err := outline.NewNamer(cfg.SnippetQuery)
	if err != nil {
		return fmt.Errorf("invalid snippet query: %w", err)
	}
	s.namer = namer

	s.workspace = host.NewWorkspace(host.WithRemote(remote{server: s}))
	s.session = mirror.NewSession(s.workspace, s.resolver,
		mirror.WithNamer(namer),
		mirror.WithErrorReporter(s.reportError),
	)

	interval, err := cfg.CheckpointInterval()
	if err != nil {
		return err
	}

	opts := []panel.Option{
		panel.WithExecutor(func(name string, fn func() error) { s.sched.Post(name, fn) }),
	}
	if cfg.BridgeAddr != "" {
		opts = append(opts, panel.WithBridge(cfg.BridgeAddr))
	}
	if cfg.Persist {
		journal, err := s.openJournal(cfg)
		if err != nil {
			// Synchronization works without persistence.
			log.Errorf("%v", err)
		} else {
			s.journal = journal
			opts = append(opts, panel.WithJournal(journal, interval == 0))
		}
	}
	s.panels = panel.NewManager(opts...)

	s.unsubs = append(s.unsubs, s.panels.OnAdapterCreated(func(st store.Store) {
		// Panels are created on the scheduler, so the session is too.
		s.session.Attach(st)
	}))

	if s.journal != nil && interval > 0 {
		s.sched.SchedulePeriodicTask(interval, scheduler.Task{
			Name:    "checkpoint",
			Execute: s.checkpoint,
		})
	}
	return nil
}

func (s *Server) openJournal(cfg config.Config) (*store.Journal, error) {
	path, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	log.Infof("journal at %s", path)
	return store.OpenJournal(path)
}

func (s *Server) checkpoint() error {
	p, ok := s.panels.Current()
	if !ok {
		return nil
	}
	return p.Checkpoint()
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	log.Info("client initialized")
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	return s.sched.Wait("shutdown", func() error {
		s.teardown()
		return nil
	})
}

func (s *Server) teardown() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	if s.panels != nil {
		if p, ok := s.panels.Current(); ok {
			_ = p.Dispose()
		}
	}
	if s.session != nil {
		s.session.Close()
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			log.Warningf("closing journal: %v", err)
		}
		s.journal = nil
	}
	if s.namer != nil {
		s.namer.Close()
		s.namer = nil
	}
}
