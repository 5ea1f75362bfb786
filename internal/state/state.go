// Package state holds the canonical document state shared with the store:
// one-based positions keyed by workspace-relative path, chunks anchored to a
// line, and the actions that change it.
package state

import (
	"sort"
)

// Position is a location in the canonical frame. Line is one-based.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Before reports whether p sorts strictly before q.
func (p Position) Before(q Position) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Character < q.Character
}

// Range is an ordered pair of positions in the same frame.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// NewRange orders a and b so that Start <= End.
func NewRange(a, b Position) Range {
	if b.Before(a) {
		return Range{Start: b, End: a}
	}
	return Range{Start: a, End: b}
}

type RelativityKind string

const (
	// RelativeToReference positions span the whole document.
	RelativeToReference RelativityKind = "reference"
	// RelativeToChunkVersion positions count lines from a chunk's anchor.
	RelativeToChunkVersion RelativityKind = "chunk-version"
)

// Relativity tags the frame a selection or edit is expressed in.
type Relativity struct {
	Kind           RelativityKind `json:"kind"`
	ChunkVersionID string         `json:"chunkVersionId,omitempty"`
}

func Reference() Relativity {
	return Relativity{Kind: RelativeToReference}
}

func ToChunkVersion(id string) Relativity {
	return Relativity{Kind: RelativeToChunkVersion, ChunkVersionID: id}
}

// Selection is a cursor or selected span. Anchor is where the selection
// began and Active is where the cursor is now.
type Selection struct {
	Anchor     Position   `json:"anchor"`
	Active     Position   `json:"active"`
	Path       string     `json:"path"`
	RelativeTo Relativity `json:"relativeTo"`
}

// Range returns the selection as an ordered range.
func (s Selection) Range() Range {
	return NewRange(s.Anchor, s.Active)
}

// Chunk is a named region of a file. Line is the one-based first line of the
// region when the chunk was created; it never moves afterwards.
type Chunk struct {
	ID       string   `json:"id"`
	Path     string   `json:"path"`
	Line     int      `json:"line"`
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
}

// ChunkVersion is one snapshot of a chunk's text.
type ChunkVersion struct {
	ID      string `json:"id"`
	ChunkID string `json:"chunk"`
	Text    string `json:"text"`
}

// Snippet groups chunk versions shown together at one position.
type Snippet struct {
	ID              string   `json:"id"`
	ChunkVersionIDs []string `json:"chunkVersions"`
}

// ChunkRequest asks the store to create a chunk.
type ChunkRequest struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
	Name string `json:"name,omitempty"`
}

// State is an immutable snapshot of the store. Files holds the reference
// text of every uploaded path; a path is active iff it has an entry.
type State struct {
	Selections    []Selection             `json:"selections"`
	Files         map[string]string       `json:"files"`
	Chunks        map[string]Chunk        `json:"chunks"`
	ChunkVersions map[string]ChunkVersion `json:"chunkVersions"`
	Snippets      []Snippet               `json:"snippets"`
}

func New() *State {
	return &State{
		Files:         make(map[string]string),
		Chunks:        make(map[string]Chunk),
		ChunkVersions: make(map[string]ChunkVersion),
	}
}

// ActivePaths returns the sorted set of paths the store tracks.
func (s *State) ActivePaths() []string {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (s *State) IsActive(path string) bool {
	_, ok := s.Files[path]
	return ok
}

// Text returns the reference text for path.
func (s *State) Text(path string) (string, bool) {
	t, ok := s.Files[path]
	return t, ok
}

// SelectionsFor returns the selections recorded for path, in order.
func (s *State) SelectionsFor(path string) []Selection {
	var out []Selection
	for _, sel := range s.Selections {
		if sel.Path == path {
			out = append(out, sel)
		}
	}
	return out
}

func (s *State) LookupChunkVersion(id string) (ChunkVersion, bool) {
	v, ok := s.ChunkVersions[id]
	return v, ok
}

func (s *State) LookupChunk(id string) (Chunk, bool) {
	c, ok := s.Chunks[id]
	return c, ok
}

// ResolveChunkVersion follows a chunk version to its owning chunk. It
// reports false when either link is missing.
func (s *State) ResolveChunkVersion(id string) (ChunkVersion, Chunk, bool) {
	v, ok := s.LookupChunkVersion(id)
	if !ok {
		return ChunkVersion{}, Chunk{}, false
	}
	c, ok := s.LookupChunk(v.ChunkID)
	if !ok {
		return ChunkVersion{}, Chunk{}, false
	}
	return v, c, true
}

// Clone returns a copy that shares no mutable containers with s.
func (s *State) Clone() *State {
	c := &State{
		Selections:    append([]Selection(nil), s.Selections...),
		Files:         make(map[string]string, len(s.Files)),
		Chunks:        make(map[string]Chunk, len(s.Chunks)),
		ChunkVersions: make(map[string]ChunkVersion, len(s.ChunkVersions)),
		Snippets:      make([]Snippet, len(s.Snippets)),
	}
	for k, v := range s.Files {
		c.Files[k] = v
	}
	for k, v := range s.Chunks {
		v.Versions = append([]string(nil), v.Versions...)
		c.Chunks[k] = v
	}
	for k, v := range s.ChunkVersions {
		c.ChunkVersions[k] = v
	}
	for i, sn := range s.Snippets {
		sn.ChunkVersionIDs = append([]string(nil), sn.ChunkVersionIDs...)
		c.Snippets[i] = sn
	}
	return c
}
