package mirror

import (
	"fmt"
	"strings"

	"torii/internal/coords"
	"torii/internal/host"
	"torii/internal/resolver"
	"torii/internal/state"
)

// Namer picks a display name for the chunk spanning the zero-based lines
// first through last of text. An empty result means no name was found.
type Namer interface {
	Name(path string, text []byte, first, last int) string
}

// Extractor turns the selections of a surface into chunk requests.
type Extractor struct {
	resolver *resolver.Resolver
	adapter  *adapterRef
	namer    Namer
}

func newExtractor(r *resolver.Resolver, a *adapterRef, n Namer) *Extractor {
	return &Extractor{resolver: r, adapter: a, namer: n}
}

// Extract returns one request per selection of s. Each request covers the
// selected lines in full and is anchored at the one-based line of the
// selection start. If the store does not track the file yet, its contents
// are uploaded before anything is returned.
func (x *Extractor) Extract(s host.Surface) ([]state.ChunkRequest, error) {
	st := x.adapter.get()
	if st == nil || s == nil {
		return nil, nil
	}
	selections := s.Selections()
	if len(selections) == 0 {
		return nil, nil
	}
	path, err := x.resolver.Resolve(s.FileName())
	if err != nil {
		log.Debugf("not extracting from %s: %v", s.FileName(), err)
		return nil, nil
	}

	text := s.Text()
	if snapshot, ok := st.State(); !ok || !snapshot.IsActive(path) {
		log.Infof("uploading %s", path)
		if err := st.Dispatch(state.UploadFileContents{Path: path, Contents: text}); err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", path, err)
		}
	}

	lines := strings.Split(text, "\n")
	requests := make([]state.ChunkRequest, 0, len(selections))
	for _, sel := range selections {
		r := sel.Range()
		first, last := int(r.Start.Line), int(r.End.Line)
		if last >= len(lines) {
			last = len(lines) - 1
		}
		if first > last {
			continue
		}
		anchor := coords.ToCanonical(r.Start).Line
		requests = append(requests, state.ChunkRequest{
			Path: path,
			Line: anchor,
			Text: strings.Join(lines[first:last+1], "\n"),
			Name: x.name(path, text, first, last, anchor),
		})
	}
	return requests, nil
}

func (x *Extractor) name(path string, text string, first, last, anchor int) string {
	if x.namer != nil {
		if name := x.namer.Name(path, []byte(text), first, last); name != "" {
			return name
		}
	}
	return fmt.Sprintf("%s:%d", path, anchor)
}
