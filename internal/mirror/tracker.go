package mirror

import (
	"torii/internal/host"
)

// Tracker decides whether a surface is the one receiving direct input.
// Only the active surface feeds the store; every other surface is a mirror.
// The answer is taken from the host at the time of the call: focus can move
// between any two events.
type Tracker struct {
	host host.Host
}

func NewTracker(h host.Host) *Tracker {
	return &Tracker{host: h}
}

// IsActive compares identifiers rather than surface values, since hosts may
// hand out distinct values for the same open surface.
func (t *Tracker) IsActive(s host.Surface) bool {
	if s == nil {
		return false
	}
	active, ok := t.host.ActiveSurface()
	if !ok || active == nil {
		return false
	}
	return active.ID() == s.ID()
}

// Active returns the active surface, if any.
func (t *Tracker) Active() (host.Surface, bool) {
	active, ok := t.host.ActiveSurface()
	if !ok || active == nil {
		return nil, false
	}
	return active, true
}
