package host

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("torii.host")

var (
	ErrAlreadyOpen = errors.New("host: surface already open")
	ErrNotOpen     = errors.New("host: surface not open")
)

// Remote receives writes for surfaces whose text lives elsewhere, such as
// in an LSP client. The remote applies them on its own schedule and reports
// the result back through Workspace.Edit and Workspace.Select.
type Remote interface {
	ReplaceText(doc *Document, text string)
	SetSelections(doc *Document, selections []Selection)
}

// Workspace is an in-memory Host. It keeps the text and selections of every
// open surface and fires events when they change.
type Workspace struct {
	mu     sync.Mutex
	docs   map[SurfaceID]*Document
	order  []SurfaceID
	active SurfaceID
	remote Remote

	edits      listeners[EditEvent]
	selections listeners[SelectionEvent]
	closes     listeners[Surface]
}

type Option func(*Workspace)

// WithRemote routes ReplaceText and SetSelections to r instead of applying
// them locally.
func WithRemote(r Remote) Option {
	return func(w *Workspace) {
		w.remote = r
	}
}

func NewWorkspace(opts ...Option) *Workspace {
	w := &Workspace{
		docs: make(map[SurfaceID]*Document),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Document is a surface held by a Workspace.
type Document struct {
	ws         *Workspace
	id         SurfaceID
	fileName   string
	text       string
	selections []Selection
	version    int
}

// Open registers a new surface. The first opened surface becomes active.
func (w *Workspace) Open(id SurfaceID, fileName string, text string) (*Document, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.docs[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, id)
	}
	doc := &Document{ws: w, id: id, fileName: fileName, text: text}
	w.docs[id] = doc
	w.order = append(w.order, id)
	if w.active == "" {
		w.active = id
	}
	return doc, nil
}

func (w *Workspace) Document(id SurfaceID) (*Document, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, ok := w.docs[id]
	return doc, ok
}

// Focus makes id the surface receiving direct input.
func (w *Workspace) Focus(id SurfaceID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, id)
	}
	w.active = id
	return nil
}

// Blur leaves the workspace without an active surface.
func (w *Workspace) Blur() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = ""
}

// Edit applies changes to id in order and fires one edit event.
func (w *Workspace) Edit(id SurfaceID, changes ...ContentChange) error {
	w.mu.Lock()
	doc, ok := w.docs[id]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotOpen, id)
	}
	for _, c := range changes {
		doc.text = applyChange(doc.text, c)
	}
	doc.version++
	w.mu.Unlock()

	w.edits.emit(EditEvent{Surface: doc, Changes: changes})
	return nil
}

// Select sets the selections of id and fires a selection event.
func (w *Workspace) Select(id SurfaceID, selections ...Selection) error {
	w.mu.Lock()
	doc, ok := w.docs[id]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotOpen, id)
	}
	doc.selections = append([]Selection(nil), selections...)
	w.mu.Unlock()

	w.selections.emit(SelectionEvent{Surface: doc, Selections: selections})
	return nil
}

// Close removes id and notifies close listeners.
func (w *Workspace) Close(id SurfaceID) error {
	w.mu.Lock()
	doc, ok := w.docs[id]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotOpen, id)
	}
	delete(w.docs, id)
	for i, o := range w.order {
		if o == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	if w.active == id {
		w.active = ""
	}
	w.mu.Unlock()

	w.closes.emit(doc)
	return nil
}

func (w *Workspace) Surfaces() []Surface {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Surface, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.docs[id])
	}
	return out
}

func (w *Workspace) ActiveSurface() (Surface, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, ok := w.docs[w.active]
	if !ok {
		return nil, false
	}
	return doc, true
}

func (w *Workspace) OnEdit(listener func(EditEvent)) func() {
	return w.edits.add(listener)
}

func (w *Workspace) OnSelection(listener func(SelectionEvent)) func() {
	return w.selections.add(listener)
}

func (w *Workspace) OnClose(listener func(Surface)) func() {
	return w.closes.add(listener)
}

func (d *Document) ID() SurfaceID    { return d.id }
func (d *Document) FileName() string { return d.fileName }

func (d *Document) Text() string {
	d.ws.mu.Lock()
	defer d.ws.mu.Unlock()
	return d.text
}

// Version counts the edits applied to the document.
func (d *Document) Version() int {
	d.ws.mu.Lock()
	defer d.ws.mu.Unlock()
	return d.version
}

func (d *Document) Selections() []Selection {
	d.ws.mu.Lock()
	defer d.ws.mu.Unlock()
	return append([]Selection(nil), d.selections...)
}

// ReplaceText swaps the whole text in one change.
func (d *Document) ReplaceText(text string) {
	if d.ws.remote != nil {
		d.ws.remote.ReplaceText(d, text)
		return
	}
	d.ws.mu.Lock()
	whole := WholeRange(d.text)
	d.ws.mu.Unlock()
	if err := d.ws.Edit(d.id, ContentChange{Range: whole, Text: text}); err != nil {
		log.Debugf("dropping text write: %v", err)
	}
}

func (d *Document) SetSelections(selections []Selection) {
	if d.ws.remote != nil {
		d.ws.remote.SetSelections(d, selections)
		return
	}
	if err := d.ws.Select(d.id, selections...); err != nil {
		log.Debugf("dropping selection write: %v", err)
	}
}

// WholeRange spans all of text.
func WholeRange(text string) protocol.Range {
	lines := strings.Split(text, "\n")
	last := lines[len(lines)-1]
	return protocol.Range{
		Start: protocol.Position{Line: 0, Character: 0},
		End: protocol.Position{
			Line:      protocol.UInteger(len(lines) - 1),
			Character: protocol.UInteger(utf16Len(last)),
		},
	}
}

func applyChange(text string, c ContentChange) string {
	start := c.Range.Start.IndexIn(text)
	end := c.Range.End.IndexIn(text)
	if end < start {
		start, end = end, start
	}
	return text[:start] + c.Text + text[end:]
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

type entry[T any] struct {
	id int
	fn func(T)
}

// listeners is an ordered listener registry. emit calls listeners without
// holding the lock so they may register, unregister or fire new events.
type listeners[T any] struct {
	mu      sync.Mutex
	nextID  int
	entries []entry[T]
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.entries = append(l.entries, entry[T]{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	snapshot := append([]entry[T](nil), l.entries...)
	l.mu.Unlock()
	for _, e := range snapshot {
		e.fn(v)
	}
}
