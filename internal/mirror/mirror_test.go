package mirror_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"torii/internal/host"
	"torii/internal/mirror"
	"torii/internal/outline"
	"torii/internal/resolver"
	"torii/internal/state"
	"torii/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const root = "/work"

var docLines = []string{
	"import os",
	"",
	"# loader",
	"def load(path):",
	"    data = open(path).read()",
	"    return data",
	"",
	"print(load('x'))",
}

var docText = strings.Join(docLines, "\n")

// recorder is a store that remembers every action it was asked to apply.
type recorder struct {
	*store.Memory
	actions []state.Action
}

func newRecorder(opts ...store.Option) *recorder {
	return &recorder{Memory: store.NewMemory(opts...)}
}

func (r *recorder) Dispatch(a state.Action) error {
	r.actions = append(r.actions, a)
	return r.Memory.Dispatch(a)
}

func (r *recorder) types() []state.ActionType {
	out := make([]state.ActionType, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a.Type())
	}
	return out
}

func hp(line, char int) protocol.Position {
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(char)}
}

func cp(line, char int) state.Position {
	return state.Position{Line: line, Character: char}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

// fixture opens doc.py twice: "a" is active, "b" mirrors it.
type fixture struct {
	ws      *host.Workspace
	a, b    *host.Document
	session *mirror.Session
}

func newFixture(t *testing.T, opts ...mirror.Option) *fixture {
	t.Helper()
	ws := host.NewWorkspace()
	a, err := ws.Open("a", root+"/doc.py", docText)
	require.NoError(t, err)
	b, err := ws.Open("b", root+"/doc.py", docText)
	require.NoError(t, err)
	s := mirror.NewSession(ws, resolver.New(root), opts...)
	t.Cleanup(s.Close)
	return &fixture{ws: ws, a: a, b: b, session: s}
}

func TestExtractFullLines(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	f.session.Attach(rec)

	require.NoError(t, f.ws.Select("a", host.Selection{Anchor: hp(5, 3), Active: hp(3, 4)}))
	rec.actions = nil

	requests, err := f.session.Extractor().Extract(f.a)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, state.ChunkRequest{
		Path: "doc.py",
		Line: 4,
		Text: strings.Join(docLines[3:6], "\n"),
		Name: "doc.py:4",
	}, requests[0])

	assert.Equal(t, []state.ActionType{state.UploadFileContentsType}, rec.types())
	assert.Equal(t, 0, f.b.Version(), "mirror holding the same text must not be rewritten")
}

func TestExtractUsesNamer(t *testing.T) {
	namer, err := outline.NewNamer(nil)
	require.NoError(t, err)
	defer namer.Close()

	f := newFixture(t, mirror.WithNamer(namer))
	f.session.Attach(newRecorder())
	require.NoError(t, f.ws.Select("a", host.Selection{Anchor: hp(2, 0), Active: hp(5, 0)}))

	requests, err := f.session.Extractor().Extract(f.a)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "load", requests[0].Name)
	assert.Equal(t, 3, requests[0].Line)
}

func TestExtractWithoutSelectionsOrPath(t *testing.T) {
	ws := host.NewWorkspace()
	inside, _ := ws.Open("in", root+"/doc.py", docText)
	outside, _ := ws.Open("out", "/elsewhere/doc.py", docText)
	s := mirror.NewSession(ws, resolver.New(root))
	defer s.Close()
	rec := newRecorder()
	s.Attach(rec)

	requests, err := s.Extractor().Extract(inside)
	require.NoError(t, err)
	assert.Empty(t, requests)

	require.NoError(t, ws.Select("out", host.Selection{Anchor: hp(0, 0), Active: hp(1, 0)}))
	requests, err = s.Extractor().Extract(outside)
	require.NoError(t, err)
	assert.Empty(t, requests)
	assert.Empty(t, rec.actions)
}

func TestAddSnippetUploadsFirst(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder(store.WithIDs(sequentialIDs()))
	f.session.Attach(rec)

	require.NoError(t, f.ws.Select("a", host.Selection{Anchor: hp(0, 0), Active: hp(0, 3)}))
	rec.actions = nil

	require.NoError(t, f.session.AddSnippet(-1))
	assert.Equal(t, []state.ActionType{state.UploadFileContentsType, state.CreateSnippetType}, rec.types())

	rec.actions = nil
	require.NoError(t, f.session.AddSnippet(0))
	assert.Equal(t, []state.ActionType{state.CreateSnippetType}, rec.types())

	st, _ := rec.State()
	require.Len(t, st.Snippets, 2)
}

func TestAddSnippetWithoutStore(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.session.AddSnippet(-1), mirror.ErrNoStore)

	f.session.Attach(newRecorder())
	f.ws.Blur()
	assert.ErrorIs(t, f.session.AddSnippet(-1), mirror.ErrNoActiveSurface)
}

func TestEditBecomesReferenceEdit(t *testing.T) {
	ws := host.NewWorkspace()
	lines := make([]string, 12)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	_, err := ws.Open("a", root+"/doc.py", strings.Join(lines, "\n"))
	require.NoError(t, err)
	s := mirror.NewSession(ws, resolver.New(root))
	defer s.Close()

	rec := newRecorder()
	require.NoError(t, rec.Dispatch(state.UploadFileContents{Path: "doc.py", Contents: strings.Join(lines, "\n")}))
	s.Attach(rec)
	rec.actions = nil

	require.NoError(t, ws.Edit("a", host.ContentChange{
		Range: protocol.Range{Start: hp(10, 0), End: hp(10, 0)},
		Text:  "x",
	}))

	require.Len(t, rec.actions, 1)
	assert.Equal(t, state.Edit{
		Path:       "doc.py",
		Range:      state.Range{Start: cp(11, 0), End: cp(11, 0)},
		Text:       "x",
		RelativeTo: state.Reference(),
	}, rec.actions[0])

	st, _ := rec.State()
	text, _ := st.Text("doc.py")
	assert.Contains(t, text, "xline 10")
}

func TestEditChangesKeepHostOrder(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	require.NoError(t, rec.Dispatch(state.UploadFileContents{Path: "doc.py", Contents: docText}))
	f.session.Attach(rec)
	rec.actions = nil

	require.NoError(t, f.ws.Edit("a",
		host.ContentChange{Range: protocol.Range{Start: hp(0, 0), End: hp(0, 0)}, Text: "1"},
		host.ContentChange{Range: protocol.Range{Start: hp(7, 0), End: hp(7, 0)}, Text: "2"},
	))

	require.Len(t, rec.actions, 2)
	assert.Equal(t, "1", rec.actions[0].(state.Edit).Text)
	assert.Equal(t, "2", rec.actions[1].(state.Edit).Text)
	assert.Equal(t, f.a.Text(), f.b.Text())
}

func TestOnlyActiveSurfaceDispatches(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	require.NoError(t, rec.Dispatch(state.UploadFileContents{Path: "doc.py", Contents: docText}))
	f.session.Attach(rec)
	rec.actions = nil

	// The mirror rewrite of "b" fires an edit event that must not dispatch.
	require.NoError(t, f.ws.Edit("a", host.ContentChange{Range: protocol.Range{Start: hp(0, 0), End: hp(0, 0)}, Text: "#"}))
	assert.Len(t, rec.actions, 1)
	assert.Equal(t, 1, f.b.Version())
	assert.Equal(t, "#"+docText, f.b.Text())

	rec.actions = nil
	require.NoError(t, f.ws.Edit("b", host.ContentChange{Range: protocol.Range{Start: hp(0, 0), End: hp(0, 0)}, Text: "?"}))
	require.NoError(t, f.ws.Select("b", host.Selection{Anchor: hp(1, 0), Active: hp(1, 0)}))
	assert.Empty(t, rec.actions)

	require.NoError(t, f.ws.Focus("b"))
	require.NoError(t, f.ws.Select("b", host.Selection{Anchor: hp(2, 0), Active: hp(2, 1)}))
	require.Len(t, rec.actions, 1)
	assert.Equal(t, state.SetSelections{Selections: []state.Selection{{
		Anchor:     cp(3, 0),
		Active:     cp(3, 1),
		Path:       "doc.py",
		RelativeTo: state.Reference(),
	}}}, rec.actions[0])
	assert.Equal(t, []host.Selection{{Anchor: hp(2, 0), Active: hp(2, 1)}}, f.a.Selections())
}

func TestMirrorUpdateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	st := state.New()
	st.Files["doc.py"] = "changed"

	f.session.Propagator().HandleState(nil, st)
	assert.Equal(t, "changed", f.b.Text())
	assert.Equal(t, 1, f.b.Version())
	assert.Equal(t, docText, f.a.Text(), "active surface is never written")

	f.session.Propagator().HandleState(nil, st)
	assert.Equal(t, 1, f.b.Version())
}

func TestMirrorSelections(t *testing.T) {
	base := state.New()
	base.Files["doc.py"] = docText
	base.Chunks["c1"] = state.Chunk{ID: "c1", Path: "doc.py", Line: 4, Versions: []string{"v1"}}
	base.ChunkVersions["v1"] = state.ChunkVersion{ID: "v1", ChunkID: "c1", Text: "def load(path):"}

	t.Run("unresolvable chunk is dropped", func(t *testing.T) {
		f := newFixture(t)
		st := base.Clone()
		st.Selections = []state.Selection{
			{Anchor: cp(1, 0), Active: cp(1, 1), Path: "doc.py", RelativeTo: state.ToChunkVersion("gone")},
			{Anchor: cp(2, 1), Active: cp(2, 3), Path: "doc.py", RelativeTo: state.Reference()},
		}
		f.session.Attach(newRecorder(store.WithState(st)))
		assert.Equal(t, []host.Selection{{Anchor: hp(1, 1), Active: hp(1, 3)}}, f.b.Selections())
	})

	t.Run("chunk relative selection is anchored", func(t *testing.T) {
		f := newFixture(t)
		st := base.Clone()
		st.Selections = []state.Selection{
			{Anchor: cp(1, 0), Active: cp(2, 4), Path: "doc.py", RelativeTo: state.ToChunkVersion("v1")},
		}
		f.session.Attach(newRecorder(store.WithState(st)))
		assert.Equal(t, []host.Selection{{Anchor: hp(3, 0), Active: hp(4, 4)}}, f.b.Selections())
	})

	t.Run("surface without selections for its path is untouched", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ws.Select("b", host.Selection{Anchor: hp(0, 1), Active: hp(0, 2)}))
		st := base.Clone()
		st.Selections = []state.Selection{
			{Anchor: cp(1, 0), Active: cp(1, 1), Path: "other.py", RelativeTo: state.Reference()},
		}
		f.session.Attach(newRecorder(store.WithState(st)))
		assert.Equal(t, []host.Selection{{Anchor: hp(0, 1), Active: hp(0, 2)}}, f.b.Selections())
	})
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	require.NoError(t, rec.Dispatch(state.UploadFileContents{Path: "doc.py", Contents: docText}))

	// Without a store every event is dropped.
	require.NoError(t, f.ws.Select("a", host.Selection{Anchor: hp(0, 0), Active: hp(0, 1)}))
	assert.Nil(t, f.session.Previous())

	f.session.Attach(rec)
	first := f.session.Previous()
	require.NotNil(t, first)

	require.NoError(t, f.ws.Select("a", host.Selection{Anchor: hp(0, 0), Active: hp(0, 2)}))
	assert.NotSame(t, first, f.session.Previous())

	f.session.Detach()
	assert.Nil(t, f.session.Store())
	require.NoError(t, rec.Dispatch(state.UploadFileContents{Path: "doc.py", Contents: "stale"}))
	assert.Equal(t, docText, f.b.Text(), "detached session ignores notifications")

	// The open copy wins over text the store kept while detached.
	f.session.Attach(rec)
	assert.Equal(t, docText, f.b.Text())
	st, _ := rec.State()
	stored, _ := st.Text("doc.py")
	assert.Equal(t, docText, stored)

	f.session.Close()
	rec.actions = nil
	require.NoError(t, f.ws.Edit("a", host.ContentChange{Range: protocol.Range{Start: hp(0, 0), End: hp(0, 0)}, Text: "z"}))
	assert.Empty(t, rec.actions)
	assert.ErrorIs(t, f.session.AddSnippet(-1), mirror.ErrNoStore)
}

func TestDispatchErrorsAreReported(t *testing.T) {
	var reported []error
	f := newFixture(t, mirror.WithErrorReporter(func(err error) { reported = append(reported, err) }))
	f.session.Attach(failing{newRecorder()})

	require.NoError(t, f.ws.Select("a", host.Selection{Anchor: hp(0, 0), Active: hp(0, 0)}))
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], errRejected)
}

var errRejected = errors.New("rejected")

type failing struct{ *recorder }

func (failing) Dispatch(state.Action) error { return errRejected }

func TestAttachKeepsEditsMadeWhileDetached(t *testing.T) {
	ws := host.NewWorkspace()
	_, err := ws.Open("other", root+"/other.py", "")
	require.NoError(t, err)
	doc, err := ws.Open("doc", root+"/doc.py", "v1")
	require.NoError(t, err)
	s := mirror.NewSession(ws, resolver.New(root))
	defer s.Close()

	restored := state.New()
	restored.Files["doc.py"] = "v1"
	restored.Files["gone.py"] = "kept"

	require.NoError(t, ws.Edit("doc", host.ContentChange{Range: host.WholeRange("v1"), Text: "v2"}))
	require.NoError(t, ws.Focus("other"))

	rec := newRecorder(store.WithState(restored))
	s.Attach(rec)

	assert.Equal(t, "v2", doc.Text())
	assert.Equal(t, 1, doc.Version())
	st, _ := rec.State()
	assert.Equal(t, map[string]string{"doc.py": "v2", "gone.py": "kept"}, st.Files)
	assert.Equal(t, []state.ActionType{state.UploadFileContentsType}, rec.types())
}

func TestSelectionsFollowSnapshotChanges(t *testing.T) {
	base := state.New()
	base.Files["doc.py"] = docText
	base.Chunks["c1"] = state.Chunk{ID: "c1", Path: "doc.py", Line: 4, Versions: []string{"v1"}}
	base.Chunks["c2"] = state.Chunk{ID: "c2", Path: "doc.py", Line: 2}
	base.ChunkVersions["v1"] = state.ChunkVersion{ID: "v1", ChunkID: "c1", Text: "def load(path):"}
	base.Selections = []state.Selection{
		{Anchor: cp(1, 0), Active: cp(1, 1), Path: "doc.py", RelativeTo: state.ToChunkVersion("v1")},
	}
	untouched := []host.Selection{{Anchor: hp(0, 0), Active: hp(0, 0)}}

	tests := []struct {
		name   string
		prev   *state.State
		change func(next *state.State)
		want   []host.Selection
	}{
		{
			name: "first snapshot",
			want: []host.Selection{{Anchor: hp(3, 0), Active: hp(3, 1)}},
		},
		{
			name: "nothing changed",
			prev: base,
			want: untouched,
		},
		{
			name:   "chunk moved",
			prev:   base,
			change: func(next *state.State) { next.Chunks["c1"] = state.Chunk{ID: "c1", Path: "doc.py", Line: 6, Versions: []string{"v1"}} },
			want:   []host.Selection{{Anchor: hp(5, 0), Active: hp(5, 1)}},
		},
		{
			name: "version changed owner",
			prev: base,
			change: func(next *state.State) {
				next.ChunkVersions["v1"] = state.ChunkVersion{ID: "v1", ChunkID: "c2", Text: "# loader"}
			},
			want: []host.Selection{{Anchor: hp(1, 0), Active: hp(1, 1)}},
		},
		{
			name: "selection moved",
			prev: base,
			change: func(next *state.State) {
				next.Selections = []state.Selection{{Anchor: cp(2, 0), Active: cp(2, 2), Path: "doc.py", RelativeTo: state.Reference()}}
			},
			want: []host.Selection{{Anchor: hp(1, 0), Active: hp(1, 2)}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.ws.Select("b", untouched...))
			next := base.Clone()
			if tt.change != nil {
				tt.change(next)
			}
			f.session.Propagator().HandleState(tt.prev, next)
			assert.Equal(t, tt.want, f.b.Selections())
		})
	}
}

// lateRemote holds writes until the test applies them, like an editor that
// answers some time after being asked.
type lateRemote struct {
	ws     *host.Workspace
	writes []lateWrite
}

type lateWrite struct {
	id    host.SurfaceID
	whole protocol.Range
	text  string
}

func (r *lateRemote) ReplaceText(doc *host.Document, text string) {
	r.writes = append(r.writes, lateWrite{id: doc.ID(), whole: host.WholeRange(doc.Text()), text: text})
}

func (r *lateRemote) SetSelections(doc *host.Document, selections []host.Selection) {}

func (r *lateRemote) apply(t *testing.T) {
	t.Helper()
	require.NotEmpty(t, r.writes)
	w := r.writes[0]
	r.writes = r.writes[1:]
	require.NoError(t, r.ws.Edit(w.id, host.ContentChange{Range: w.whole, Text: w.text}))
}

func newLateWorkspace(t *testing.T) (*lateRemote, *mirror.Session) {
	t.Helper()
	r := &lateRemote{}
	r.ws = host.NewWorkspace(host.WithRemote(r))
	_, err := r.ws.Open("a", root+"/doc.py", "a")
	require.NoError(t, err)
	_, err = r.ws.Open("b", root+"/other.py", "x")
	require.NoError(t, err)
	s := mirror.NewSession(r.ws, resolver.New(root))
	t.Cleanup(s.Close)
	return r, s
}

func otherText(text string) *state.State {
	st := state.New()
	st.Files["other.py"] = text
	return st
}

func TestOneWriteInFlightPerSurface(t *testing.T) {
	r, s := newLateWorkspace(t)
	b, _ := r.ws.Document("b")

	first, second := otherText("abc"), otherText("abcd")
	s.Propagator().HandleState(nil, first)
	s.Propagator().HandleState(first, second)
	s.Propagator().HandleState(nil, second)
	require.Len(t, r.writes, 1)
	assert.Equal(t, "abc", r.writes[0].text)

	r.apply(t)
	assert.Equal(t, "abc", b.Text())
	require.Len(t, r.writes, 1, "queued target follows once the first write lands")
	assert.Equal(t, "abcd", r.writes[0].text)
	assert.Equal(t, hp(0, 3), r.writes[0].whole.End)

	r.apply(t)
	assert.Equal(t, "abcd", b.Text())
	assert.Empty(t, r.writes)

	s.Propagator().HandleState(second, second)
	assert.Empty(t, r.writes)
}

func TestRejectedWriteIsRetried(t *testing.T) {
	r, s := newLateWorkspace(t)

	st := otherText("abc")
	s.Propagator().HandleState(nil, st)
	require.Len(t, r.writes, 1)
	r.writes = nil

	s.Propagator().HandleState(nil, st)
	assert.Empty(t, r.writes)

	s.Propagator().Rejected("b")
	s.Propagator().HandleState(nil, st)
	assert.Len(t, r.writes, 1)
}

func TestClosedSurfaceIsNotWritten(t *testing.T) {
	r, s := newLateWorkspace(t)

	s.Propagator().HandleState(nil, otherText("abc"))
	require.Len(t, r.writes, 1)
	require.NoError(t, r.ws.Close("b"))

	s.Propagator().HandleState(nil, otherText("abcd"))
	assert.Len(t, r.writes, 1)

	// A surface reopened under the same identifier starts without a write in flight.
	_, err := r.ws.Open("b", root+"/other.py", "x")
	require.NoError(t, err)
	s.Propagator().HandleState(nil, otherText("abcd"))
	require.Len(t, r.writes, 2)
	assert.Equal(t, "abcd", r.writes[1].text)
}
