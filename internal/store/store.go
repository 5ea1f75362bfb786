// Package store provides the document-state store the editor is kept in
// agreement with: actions go in through Dispatch, immutable snapshots come
// out through State and Subscribe.
package store

import (
	"errors"
	"fmt"
	"sync"

	"torii/internal/state"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("torii.store")

// Store is the contract the synchronization engine relies on.
type Store interface {
	// Dispatch applies an action. Listeners see the resulting snapshot
	// before Dispatch returns.
	Dispatch(action state.Action) error

	// State returns the current snapshot, or false while the store has none.
	// Snapshots must not be modified.
	State() (*state.State, bool)

	// Subscribe registers a listener for new snapshots and returns a func
	// that removes it.
	Subscribe(listener func(*state.State)) func()
}

// Predefined errors returned by Dispatch.
var (
	ErrUnknownPath         = errors.New("store: path has no uploaded contents")
	ErrUnknownChunkVersion = errors.New("store: unknown chunk version")
	ErrEmptySnippet        = errors.New("store: snippet has no chunks")
)

type subscriber struct {
	id int
	fn func(*state.State)
}

// Memory is an in-process Store. Each dispatch produces a fresh snapshot,
// so snapshots handed to listeners never change underneath them.
type Memory struct {
	mu          sync.RWMutex
	state       *state.State
	subscribers []subscriber
	nextSubID   int
	newID       func() string
}

type Option func(*Memory)

// WithState starts the store from a restored snapshot.
func WithState(s *state.State) Option {
	return func(m *Memory) {
		m.state = s.Clone()
	}
}

// WithIDs replaces the ID generator for chunks, versions and snippets.
func WithIDs(gen func() string) Option {
	return func(m *Memory) {
		m.newID = gen
	}
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		state: state.New(),
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Dispatch(action state.Action) error {
	m.mu.Lock()
	next, changed, err := reduce(m.state, action, m.newID)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to apply %s: %w", action.Type(), err)
	}
	if !changed {
		m.mu.Unlock()
		return nil
	}
	m.state = next
	subs := append([]subscriber(nil), m.subscribers...)
	m.mu.Unlock()

	log.Debugf("applied %s", action.Type())
	for _, s := range subs {
		s.fn(next)
	}
	return nil
}

func (m *Memory) State() (*state.State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.state != nil
}

func (m *Memory) Subscribe(listener func(*state.State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: listener})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subscribers {
			if s.id == id {
				m.subscribers = append(m.subscribers[:i:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}

// reduce returns the snapshot that follows s under a. It reports false when
// a leaves s as it is.
func reduce(s *state.State, a state.Action, newID func() string) (*state.State, bool, error) {
	switch a := a.(type) {
	case state.SetSelections:
		next := s.Clone()
		next.Selections = append([]state.Selection(nil), a.Selections...)
		return next, true, nil

	case state.UploadFileContents:
		if current, ok := s.Text(a.Path); ok && current == a.Contents {
			return s, false, nil
		}
		next := s.Clone()
		next.Files[a.Path] = a.Contents
		return next, true, nil

	case state.Edit:
		return reduceEdit(s, a)

	case state.CreateSnippet:
		return reduceCreateSnippet(s, a, newID)

	default:
		return nil, false, fmt.Errorf("%w: %T", state.ErrUnknownAction, a)
	}
}

func reduceEdit(s *state.State, a state.Edit) (*state.State, bool, error) {
	switch a.RelativeTo.Kind {
	case state.RelativeToChunkVersion:
		v, ok := s.LookupChunkVersion(a.RelativeTo.ChunkVersionID)
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", ErrUnknownChunkVersion, a.RelativeTo.ChunkVersionID)
		}
		next := s.Clone()
		v.Text = state.ApplyEdit(v.Text, a.Range, a.Text)
		next.ChunkVersions[v.ID] = v
		return next, true, nil

	default:
		// Edits to files the store never received are not tracked.
		text, ok := s.Text(a.Path)
		if !ok {
			return s, false, nil
		}
		next := s.Clone()
		next.Files[a.Path] = state.ApplyEdit(text, a.Range, a.Text)
		return next, true, nil
	}
}

func reduceCreateSnippet(s *state.State, a state.CreateSnippet, newID func() string) (*state.State, bool, error) {
	if len(a.Chunks) == 0 {
		return nil, false, ErrEmptySnippet
	}
	for _, req := range a.Chunks {
		if !s.IsActive(req.Path) {
			return nil, false, fmt.Errorf("%w: %s", ErrUnknownPath, req.Path)
		}
	}

	next := s.Clone()
	snippet := state.Snippet{ID: newID()}
	for _, req := range a.Chunks {
		chunkID := newID()
		versionID := newID()
		next.Chunks[chunkID] = state.Chunk{
			ID:       chunkID,
			Path:     req.Path,
			Line:     req.Line,
			Name:     req.Name,
			Versions: []string{versionID},
		}
		next.ChunkVersions[versionID] = state.ChunkVersion{
			ID:      versionID,
			ChunkID: chunkID,
			Text:    req.Text,
		}
		snippet.ChunkVersionIDs = append(snippet.ChunkVersionIDs, versionID)
	}

	index := a.Index
	if index < 0 || index > len(next.Snippets) {
		index = len(next.Snippets)
	}
	next.Snippets = append(next.Snippets, state.Snippet{})
	copy(next.Snippets[index+1:], next.Snippets[index:])
	next.Snippets[index] = snippet
	return next, true, nil
}
