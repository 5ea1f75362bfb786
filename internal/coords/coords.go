// Package coords converts positions between the host frame (zero-based
// lines, one frame per open surface) and the canonical frame (one-based
// lines, keyed by path), and between whole-document and chunk-relative
// canonical lines.
package coords

import (
	"torii/internal/host"
	"torii/internal/state"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// ToCanonical shifts a host position into the canonical frame.
func ToCanonical(p protocol.Position) state.Position {
	return state.Position{
		Line:      int(p.Line) + 1,
		Character: int(p.Character),
	}
}

// ToHost shifts a canonical position into the host frame. It reports false
// for positions that have no host equivalent.
func ToHost(p state.Position) (protocol.Position, bool) {
	if p.Line < 1 || p.Character < 0 {
		return protocol.Position{}, false
	}
	return protocol.Position{
		Line:      protocol.UInteger(p.Line - 1),
		Character: protocol.UInteger(p.Character),
	}, true
}

func RangeToCanonical(r protocol.Range) state.Range {
	return state.Range{Start: ToCanonical(r.Start), End: ToCanonical(r.End)}
}

func RangeToHost(r state.Range) (protocol.Range, bool) {
	start, ok := ToHost(r.Start)
	if !ok {
		return protocol.Range{}, false
	}
	end, ok := ToHost(r.End)
	if !ok {
		return protocol.Range{}, false
	}
	return protocol.Range{Start: start, End: end}, true
}

// SelectionToCanonical converts a selection made on a surface showing path.
// Local selections have no chunk association, so the result is always
// relative to the reference.
func SelectionToCanonical(path string, s host.Selection) state.Selection {
	return state.Selection{
		Anchor:     ToCanonical(s.Anchor),
		Active:     ToCanonical(s.Active),
		Path:       path,
		RelativeTo: state.Reference(),
	}
}

// SelectionToHost shifts a whole-document canonical selection into the host
// frame. Chunk-relative selections must go through Resolve first.
func SelectionToHost(s state.Selection) (host.Selection, bool) {
	anchor, ok := ToHost(s.Anchor)
	if !ok {
		return host.Selection{}, false
	}
	active, ok := ToHost(s.Active)
	if !ok {
		return host.Selection{}, false
	}
	return host.Selection{Anchor: anchor, Active: active}, true
}

// ToAbsolute maps a chunk-relative position to the whole document, given the
// chunk's one-based anchor line.
func ToAbsolute(anchor int, p state.Position) state.Position {
	return state.Position{Line: p.Line + anchor - 1, Character: p.Character}
}

// ToRelative is the inverse of ToAbsolute.
func ToRelative(anchor int, p state.Position) state.Position {
	return state.Position{Line: p.Line - anchor + 1, Character: p.Character}
}

// Resolve expresses s in the whole-document frame using the chunk tables of
// st. It reports false when s names a chunk version, or a version's chunk,
// that st does not hold; such a selection has no meaningful position.
func Resolve(st *state.State, s state.Selection) (state.Selection, bool) {
	switch s.RelativeTo.Kind {
	case state.RelativeToReference, "":
		s.RelativeTo = state.Reference()
		return s, true
	case state.RelativeToChunkVersion:
		_, chunk, ok := st.ResolveChunkVersion(s.RelativeTo.ChunkVersionID)
		if !ok {
			return state.Selection{}, false
		}
		return state.Selection{
			Anchor:     ToAbsolute(chunk.Line, s.Anchor),
			Active:     ToAbsolute(chunk.Line, s.Active),
			Path:       s.Path,
			RelativeTo: state.Reference(),
		}, true
	default:
		return state.Selection{}, false
	}
}
