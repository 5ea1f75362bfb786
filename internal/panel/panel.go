// Package panel owns the presentation panel: the store it edits, the bridge
// its client talks through, and the listeners waiting for either to exist.
// At most one panel is open at a time.
package panel

import (
	"errors"
	"fmt"
	"sync"

	"torii/internal/bridge"
	"torii/internal/state"
	"torii/internal/store"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("torii.panel")

var ErrDisposed = errors.New("panel disposed")

// Message types exchanged with the presentation client.
const (
	MessageState  = "state"  // engine to client, data is the full snapshot
	MessageAction = "action" // client to engine, data is an encoded state.Action
	MessageError  = "error"  // engine to client, data is the failure text
)

// Executor runs fn on behalf of the panel, such as on the sync loop.
type Executor func(name string, fn func() error)

func inline(name string, fn func() error) {
	if err := fn(); err != nil {
		log.Errorf("%s: %v", name, err)
	}
}

type listener struct {
	id int
	fn func(store.Store)
}

type Manager struct {
	addr         string
	journal      *store.Journal
	follow       bool
	storeOptions []store.Option
	execute      Executor

	mu        sync.Mutex
	current   *Panel
	listeners []listener
	nextID    int
}

type Option func(*Manager)

// WithBridge serves panels over WebSocket on addr. Without it panels have
// no presentation client.
func WithBridge(addr string) Option {
	return func(m *Manager) { m.addr = addr }
}

// WithJournal restores new panels from j. With follow set, every snapshot
// is saved as it is published; otherwise only Checkpoint writes.
func WithJournal(j *store.Journal, follow bool) Option {
	return func(m *Manager) {
		m.journal = j
		m.follow = follow
	}
}

func WithStoreOptions(opts ...store.Option) Option {
	return func(m *Manager) { m.storeOptions = opts }
}

// WithExecutor routes client actions through execute.
func WithExecutor(execute Executor) Option {
	return func(m *Manager) { m.execute = execute }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{execute: inline}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnAdapterCreated calls fn with the store of every panel created from now
// on. The returned func removes fn.
func (m *Manager) OnAdapterCreated(fn func(store.Store)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Current returns the open panel, if any.
func (m *Manager) Current() (*Panel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// CreateOrShow returns the open panel, creating it first if needed.
func (m *Manager) CreateOrShow() (*Panel, error) {
	m.mu.Lock()
	if m.current != nil {
		p := m.current
		m.mu.Unlock()
		log.Debug("panel already open")
		return p, nil
	}
	m.mu.Unlock()

	p, err := m.create()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.current != nil {
		// Lost a race with another CreateOrShow.
		existing := m.current
		m.mu.Unlock()
		p.teardown()
		return existing, nil
	}
	m.current = p
	listeners := append([]listener(nil), m.listeners...)
	m.mu.Unlock()

	log.Info("panel created")
	for _, l := range listeners {
		l.fn(p.store)
	}
	return p, nil
}

func (m *Manager) create() (*Panel, error) {
	opts := append([]store.Option(nil), m.storeOptions...)
	if m.journal != nil {
		restored, err := m.journal.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to restore panel: %w", err)
		}
		opts = append(opts, store.WithState(restored))
	}

	p := &Panel{manager: m, store: store.NewMemory(opts...), journal: m.journal}
	if m.journal != nil && m.follow {
		p.disposables = append(p.disposables, m.journal.Follow(p.store))
	}

	if m.addr != "" {
		p.bridge = bridge.New(bridge.WithGreeting(p.greeting))
		url, err := p.bridge.Listen(m.addr)
		if err != nil {
			p.teardown()
			return nil, fmt.Errorf("failed to open bridge: %w", err)
		}
		p.url = url
		p.disposables = append(p.disposables,
			p.store.Subscribe(p.publish),
			p.bridge.Subscribe(func(msg bridge.Message) { p.receive(m.execute, msg) }),
		)
	}
	return p, nil
}

// Panel is one open presentation panel.
type Panel struct {
	manager *Manager
	store   *store.Memory
	bridge  *bridge.Bridge
	journal *store.Journal
	url     string

	mu          sync.Mutex
	disposables []func()
	disposed    bool
}

func (p *Panel) Store() store.Store { return p.store }

// URL is where the presentation client connects, or "" without a bridge.
func (p *Panel) URL() string { return p.url }

func (p *Panel) greeting() []bridge.Message {
	st, ok := p.store.State()
	if !ok {
		return nil
	}
	msg, err := bridge.NewMessage(MessageState, st)
	if err != nil {
		log.Errorf("%v", err)
		return nil
	}
	return []bridge.Message{msg}
}

func (p *Panel) publish(st *state.State) {
	msg, err := bridge.NewMessage(MessageState, st)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	if err := p.bridge.Send(msg); err != nil && !errors.Is(err, bridge.ErrClosed) {
		log.Warningf("publish: %v", err)
	}
}

func (p *Panel) receive(execute Executor, msg bridge.Message) {
	if msg.Type != MessageAction {
		log.Debugf("ignoring %q message", msg.Type)
		return
	}
	execute("panel action", func() error {
		if p.Disposed() {
			return ErrDisposed
		}
		action, err := state.DecodeAction(msg.Data)
		if err == nil {
			err = p.store.Dispatch(action)
		}
		if err != nil {
			p.reportError(msg.ID, err)
			return err
		}
		return nil
	})
}

func (p *Panel) reportError(id string, err error) {
	reply, merr := bridge.NewMessage(MessageError, map[string]string{"id": id, "error": err.Error()})
	if merr != nil {
		return
	}
	_ = p.bridge.Send(reply)
}

// Checkpoint saves the current snapshot to the journal, if there is one.
func (p *Panel) Checkpoint() error {
	if p.Disposed() {
		return ErrDisposed
	}
	if p.journal == nil {
		return nil
	}
	st, ok := p.store.State()
	if !ok {
		return nil
	}
	return p.journal.Save(st)
}

func (p *Panel) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

// Dispose closes the panel and releases everything it registered. A later
// CreateOrShow opens a fresh panel.
func (p *Panel) Dispose() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return ErrDisposed
	}
	p.mu.Unlock()

	if p.journal != nil {
		if st, ok := p.store.State(); ok {
			if err := p.journal.Save(st); err != nil {
				log.Errorf("final checkpoint: %v", err)
			}
		}
	}

	m := p.manager
	m.mu.Lock()
	if m.current == p {
		m.current = nil
	}
	m.mu.Unlock()

	p.teardown()
	log.Info("panel disposed")
	return nil
}

func (p *Panel) teardown() {
	p.mu.Lock()
	p.disposed = true
	disposables := p.disposables
	p.disposables = nil
	p.mu.Unlock()

	for i := len(disposables) - 1; i >= 0; i-- {
		disposables[i]()
	}
	if p.bridge != nil {
		if err := p.bridge.Close(); err != nil {
			log.Warningf("closing bridge: %v", err)
		}
	}
}
