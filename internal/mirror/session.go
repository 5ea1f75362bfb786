// Package mirror keeps the surfaces of an editing host and a document store
// in agreement. The active surface feeds the store; every other surface is
// rewritten from store snapshots.
package mirror

import (
	"errors"
	"fmt"
	"sync"

	"torii/internal/host"
	"torii/internal/resolver"
	"torii/internal/state"
	"torii/internal/store"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("torii.mirror")

var (
	ErrNoStore         = errors.New("no store attached")
	ErrNoActiveSurface = errors.New("no active surface")
)

type adapterRef struct {
	mu    sync.RWMutex
	store store.Store
}

func (a *adapterRef) get() store.Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store
}

func (a *adapterRef) set(s store.Store) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.store = s
}

type options struct {
	namer  Namer
	report func(error)
}

type Option func(*options)

// WithNamer names extracted chunks. Without it chunks are named path:line.
func WithNamer(n Namer) Option {
	return func(o *options) { o.namer = n }
}

// WithErrorReporter receives dispatch failures.
func WithErrorReporter(report func(error)) Option {
	return func(o *options) { o.report = report }
}

// Session is one synchronization lifetime between a host and at most one
// attached store.
type Session struct {
	host       host.Host
	resolver   *resolver.Resolver
	tracker    *Tracker
	propagator *Propagator
	extractor  *Extractor
	adapter    *adapterRef

	mu          sync.Mutex
	previous    *state.State
	generation  int
	unsubscribe func()
	hostUnsubs  []func()
	closed      bool
}

// NewSession starts listening to h. Nothing reaches a store until Attach.
func NewSession(h host.Host, r *resolver.Resolver, opts ...Option) *Session {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		host:     h,
		resolver: r,
		tracker:  NewTracker(h),
		adapter: &adapterRef{},
	}
	s.propagator = newPropagator(h, r, s.tracker, s.adapter, o.report)
	s.extractor = newExtractor(r, s.adapter, o.namer)

	s.hostUnsubs = []func(){
		h.OnEdit(func(ev host.EditEvent) {
			if s.live() {
				s.propagator.HandleEdit(ev)
			}
		}),
		h.OnSelection(func(ev host.SelectionEvent) {
			if s.live() {
				s.propagator.HandleSelection(ev)
			}
		}),
		h.OnClose(func(surface host.Surface) {
			log.Debugf("surface closed: %s", surface.ID())
			s.propagator.forget(surface.ID())
		}),
	}
	return s
}

func (s *Session) Tracker() *Tracker       { return s.tracker }
func (s *Session) Propagator() *Propagator { return s.propagator }
func (s *Session) Extractor() *Extractor   { return s.extractor }

// Store returns the attached store, or nil.
func (s *Session) Store() store.Store {
	return s.adapter.get()
}

// Previous returns the last snapshot the session reconciled against.
func (s *Session) Previous() *state.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous
}

func (s *Session) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Attach makes st the session's store, replacing any earlier one, and
// reconciles the host against its current snapshot. Open files the store
// already holds are first uploaded from the host, so text the store kept
// from earlier never overwrites what the user has since typed.
func (s *Session) Attach(st store.Store) {
	if !s.live() {
		return
	}
	s.uploadLive(st)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.generation++
	gen := s.generation
	s.previous = nil
	s.adapter.set(st)
	s.unsubscribe = st.Subscribe(func(next *state.State) {
		s.observe(gen, next)
	})
	s.mu.Unlock()

	log.Info("store attached")
	if current, ok := st.State(); ok {
		s.observe(gen, current)
	}
}

// uploadLive dispatches the host text of every open file st tracks whose
// stored text differs. Where a file is open more than once the active
// surface wins, otherwise the first opened.
func (s *Session) uploadLive(st store.Store) {
	current, ok := st.State()
	if !ok {
		return
	}
	live := make(map[string]string)
	var paths []string
	for _, surface := range s.host.Surfaces() {
		path, err := s.resolver.Resolve(surface.FileName())
		if err != nil {
			continue
		}
		if _, tracked := current.Files[path]; !tracked {
			continue
		}
		if _, seen := live[path]; !seen {
			paths = append(paths, path)
		} else if !s.tracker.IsActive(surface) {
			continue
		}
		live[path] = surface.Text()
	}
	for _, path := range paths {
		text := live[path]
		if stored, _ := current.Text(path); stored == text {
			continue
		}
		log.Infof("store holds stale text for %s, uploading the open copy", path)
		if err := st.Dispatch(state.UploadFileContents{Path: path, Contents: text}); err != nil {
			log.Warningf("upload %s: %v", path, err)
		}
	}
}

// Detach drops the store. Notifications already on their way are ignored.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
}

func (s *Session) detachLocked() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
		log.Info("store detached")
	}
	s.generation++
	s.previous = nil
	s.adapter.set(nil)
}

// Close detaches and stops listening to the host.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.detachLocked()
	unsubs := s.hostUnsubs
	s.hostUnsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	s.propagator.forgetAll()
}

// Resync rewrites every mirror surface from the current snapshot, including
// selections. Used when surfaces appear that no notification has covered.
// Writes still in flight are kept; their surfaces catch up when they land.
func (s *Session) Resync() {
	st := s.adapter.get()
	if st == nil {
		return
	}
	current, ok := st.State()
	if !ok {
		return
	}
	s.mu.Lock()
	gen := s.generation
	s.previous = nil
	s.mu.Unlock()

	s.observe(gen, current)
}

func (s *Session) observe(gen int, next *state.State) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	prev := s.previous
	s.mu.Unlock()

	s.propagator.HandleState(prev, next)

	s.mu.Lock()
	if gen == s.generation {
		s.previous = next
	}
	s.mu.Unlock()
}

// AddSnippet extracts chunks from the active surface and inserts them as a
// snippet at index. A negative index appends.
func (s *Session) AddSnippet(index int) error {
	st := s.adapter.get()
	if st == nil {
		return ErrNoStore
	}
	active, ok := s.tracker.Active()
	if !ok {
		return ErrNoActiveSurface
	}
	requests, err := s.extractor.Extract(active)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		log.Debugf("nothing to extract from %s", active.FileName())
		return nil
	}
	if err := st.Dispatch(state.CreateSnippet{Index: index, Chunks: requests}); err != nil {
		return fmt.Errorf("failed to create snippet: %w", err)
	}
	return nil
}
