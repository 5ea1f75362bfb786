package mirror

import (
	"sync"

	"torii/internal/coords"
	"torii/internal/host"
	"torii/internal/resolver"
	"torii/internal/state"
	"torii/internal/store"
)

// Propagator moves changes across the editor/store boundary. Outbound, it
// turns edits and selections on the active surface into canonical actions.
// Inbound, it writes store snapshots onto every other surface. Because the
// active surface is skipped inbound and only the active surface is read
// outbound, a write made here never comes back as a dispatch.
type Propagator struct {
	resolver *resolver.Resolver
	tracker  *Tracker
	host     host.Host
	adapter  *adapterRef
	report   func(error)

	mu      sync.Mutex
	pending map[host.SurfaceID]*write
}

// write is a text replacement sent to a surface whose host has not yet
// reported it back. While it is in flight, later targets only replace queued.
type write struct {
	sent   string
	queued *string
}

func newPropagator(h host.Host, r *resolver.Resolver, t *Tracker, a *adapterRef, report func(error)) *Propagator {
	return &Propagator{
		resolver: r,
		tracker:  t,
		host:     h,
		adapter:  a,
		report:   report,
		pending:  make(map[host.SurfaceID]*write),
	}
}

// HandleEdit dispatches one edit per host change, in the order the host
// reported them. An edit that completes a write of ours is never dispatched.
func (p *Propagator) HandleEdit(ev host.EditEvent) {
	if p.settle(ev.Surface) {
		return
	}
	st := p.adapter.get()
	if st == nil {
		return
	}
	path, ok := p.source(ev.Surface)
	if !ok {
		return
	}
	for _, c := range ev.Changes {
		p.dispatch(st, state.Edit{
			Path:       path,
			Range:      coords.RangeToCanonical(c.Range),
			Text:       c.Text,
			RelativeTo: state.Reference(),
		})
	}
}

// HandleSelection dispatches the full selection set of the active surface.
func (p *Propagator) HandleSelection(ev host.SelectionEvent) {
	st := p.adapter.get()
	if st == nil {
		return
	}
	path, ok := p.source(ev.Surface)
	if !ok {
		return
	}
	selections := make([]state.Selection, 0, len(ev.Selections))
	for _, s := range ev.Selections {
		selections = append(selections, coords.SelectionToCanonical(path, s))
	}
	p.dispatch(st, state.SetSelections{Selections: selections})
}

// source returns the canonical path of s if s may feed the store.
func (p *Propagator) source(s host.Surface) (string, bool) {
	if !p.tracker.IsActive(s) {
		return "", false
	}
	path, err := p.resolver.Resolve(s.FileName())
	if err != nil {
		log.Debugf("skipping %s: %v", s.FileName(), err)
		return "", false
	}
	return path, true
}

func (p *Propagator) dispatch(st store.Store, a state.Action) {
	if err := st.Dispatch(a); err != nil {
		log.Warningf("dispatch %s: %v", a.Type(), err)
		if p.report != nil {
			p.report(err)
		}
	}
}

// HandleState writes next onto every mirror surface. prev is the snapshot
// observed before next, or nil to force a full pass; when the selection
// tables did not change between the two, selections are left alone.
func (p *Propagator) HandleState(prev, next *state.State) {
	if next == nil {
		return
	}
	updateSelections := prev == nil || selectionsChanged(prev, next)

	for _, s := range p.host.Surfaces() {
		if p.tracker.IsActive(s) {
			continue
		}
		path, err := p.resolver.Resolve(s.FileName())
		if err != nil {
			continue
		}
		p.applyText(s, path, next)
		if updateSelections {
			p.applySelections(s, path, next)
		}
	}
}

// applyText replaces the whole text of s when it differs from the store.
// At most one replacement per surface is in flight; a newer target waits
// until the host reports the previous one applied.
func (p *Propagator) applyText(s host.Surface, path string, next *state.State) {
	target, ok := next.Text(path)
	if !ok {
		return
	}
	current := s.Text()

	p.mu.Lock()
	if w, ok := p.pending[s.ID()]; ok {
		if current != w.sent {
			if target == w.sent {
				w.queued = nil
			} else {
				w.queued = &target
			}
			p.mu.Unlock()
			return
		}
		delete(p.pending, s.ID())
	}
	if current == target {
		p.mu.Unlock()
		return
	}
	p.pending[s.ID()] = &write{sent: target}
	p.mu.Unlock()

	log.Debugf("replacing text of %s", s.ID())
	s.ReplaceText(target)
}

// settle ends the write in flight on s: the host reported an edit, so it
// has moved past the text the write was computed against. The queued target,
// if any, is sent next. settle reports whether the edit was the write itself.
func (p *Propagator) settle(s host.Surface) bool {
	p.mu.Lock()
	w, ok := p.pending[s.ID()]
	if !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.pending, s.ID())
	current := s.Text()
	echo := current == w.sent
	if !echo {
		log.Debugf("%s changed while a write was in flight", s.ID())
	}
	var target string
	resend := w.queued != nil && *w.queued != current && !p.tracker.IsActive(s)
	if resend {
		target = *w.queued
		p.pending[s.ID()] = &write{sent: target}
	}
	p.mu.Unlock()

	if resend {
		log.Debugf("replacing text of %s with queued target", s.ID())
		s.ReplaceText(target)
	}
	return echo
}

// Rejected drops the write in flight on id after the host refused it. The
// next snapshot or Session.Resync tries again.
func (p *Propagator) Rejected(id host.SurfaceID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[id]; ok {
		log.Warningf("write to %s was rejected", id)
		delete(p.pending, id)
	}
}

func (p *Propagator) applySelections(s host.Surface, path string, next *state.State) {
	canonical := next.SelectionsFor(path)
	if len(canonical) == 0 {
		return
	}
	selections := make([]host.Selection, 0, len(canonical))
	for _, c := range canonical {
		resolved, ok := coords.Resolve(next, c)
		if !ok {
			log.Debugf("dropping selection on %s: unresolvable chunk version %q", path, c.RelativeTo.ChunkVersionID)
			continue
		}
		h, ok := coords.SelectionToHost(resolved)
		if !ok {
			continue
		}
		selections = append(selections, h)
	}
	if len(selections) == 0 || equalSelections(s.Selections(), selections) {
		return
	}
	s.SetSelections(selections)
}

// forget drops per-surface bookkeeping for a closed surface.
func (p *Propagator) forget(id host.SurfaceID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, id)
}

func (p *Propagator) forgetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = make(map[host.SurfaceID]*write)
}

func selectionsChanged(prev, next *state.State) bool {
	if len(prev.Selections) != len(next.Selections) {
		return true
	}
	for i := range prev.Selections {
		if prev.Selections[i] != next.Selections[i] {
			return true
		}
	}
	// Chunk-relative selections move when their chunk tables change.
	if len(prev.Chunks) != len(next.Chunks) || len(prev.ChunkVersions) != len(next.ChunkVersions) {
		return true
	}
	for id, c := range next.Chunks {
		if pc, ok := prev.Chunks[id]; !ok || pc.Line != c.Line {
			return true
		}
	}
	for id, v := range next.ChunkVersions {
		if pv, ok := prev.ChunkVersions[id]; !ok || pv.ChunkID != v.ChunkID {
			return true
		}
	}
	return false
}

func equalSelections(a, b []host.Selection) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
