package app

import "time"

// EditGuard enforces a minimum spacing between display edits.
// Not safe for concurrent use; callers hold the render lock.
type EditGuard struct {
	spacing time.Duration
	last    time.Time
}

func NewEditGuard(spacing time.Duration) *EditGuard {
	return &EditGuard{spacing: spacing}
}

func (g *EditGuard) Allow(now time.Time) bool {
	return g.last.IsZero() || now.Sub(g.last) >= g.spacing
}

func (g *EditGuard) Record(now time.Time) { g.last = now }

func (g *EditGuard) Last() time.Time { return g.last }

// RenameGuard is a sliding-window limiter: at most limit renames per
// window, and at least spacing between consecutive ones. History is pruned
// on every check, never pre-scheduled.
type RenameGuard struct {
	limit   int
	window  time.Duration
	spacing time.Duration
	history []time.Time
}

func NewRenameGuard(limit int, window, spacing time.Duration) *RenameGuard {
	return &RenameGuard{limit: limit, window: window, spacing: spacing}
}

func (g *RenameGuard) prune(now time.Time) {
	windowStart := now.Add(-g.window)
	fresh := g.history[:0]
	for _, t := range g.history {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	g.history = fresh
}

// Allow reports whether a rename at now stays within both limits.
// It does not record anything.
func (g *RenameGuard) Allow(now time.Time) bool {
	g.prune(now)
	if len(g.history) >= g.limit {
		return false
	}
	if n := len(g.history); n > 0 && now.Sub(g.history[n-1]) < g.spacing {
		return false
	}
	return true
}

// Record appends a successful rename.
func (g *RenameGuard) Record(now time.Time) {
	g.history = append(g.history, now)
}

// History returns a copy of the renames still inside the window.
func (g *RenameGuard) History() []time.Time {
	out := make([]time.Time, len(g.history))
	copy(out, g.history)
	return out
}
