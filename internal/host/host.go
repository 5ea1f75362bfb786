// Package host describes the editing host: the open surfaces, which one has
// focus, and the edit and selection events they fire. Positions use the
// host's zero-based LSP frame.
package host

import (
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// SurfaceID identifies an open surface for as long as it stays open.
type SurfaceID string

// Selection is a host selection. Anchor is where it began, Active is the cursor.
type Selection struct {
	Anchor protocol.Position
	Active protocol.Position
}

// Range returns the selection as an ordered range.
func (s Selection) Range() protocol.Range {
	if before(s.Active, s.Anchor) {
		return protocol.Range{Start: s.Active, End: s.Anchor}
	}
	return protocol.Range{Start: s.Anchor, End: s.Active}
}

func before(a, b protocol.Position) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Character < b.Character
}

// ContentChange is one replaced range reported by an edit event. Range is
// expressed against the text before the change.
type ContentChange struct {
	Range protocol.Range
	Text  string
}

type EditEvent struct {
	Surface Surface
	Changes []ContentChange
}

type SelectionEvent struct {
	Surface    Surface
	Selections []Selection
}

// Surface is an open text view. Writes are fire-and-forget: the host may
// apply them later and reports them through the usual edit events.
type Surface interface {
	ID() SurfaceID
	FileName() string
	Text() string
	Selections() []Selection
	ReplaceText(text string)
	SetSelections(selections []Selection)
}

// Host enumerates surfaces and delivers their events. Every On* method
// returns a func that removes the listener.
type Host interface {
	Surfaces() []Surface
	ActiveSurface() (Surface, bool)
	OnEdit(listener func(EditEvent)) func()
	OnSelection(listener func(SelectionEvent)) func()
	OnClose(listener func(Surface)) func()
}
