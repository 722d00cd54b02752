package routes

import (
	"sync"

	"defencefield.ai/internal/sim/arena/geom"
)

// Route is the ordered list of voxels from an entrance to the shrine. A nil
// Route means no path exists (or none was computed yet).
type Route []geom.Vec3i

func (r Route) Exists() bool { return len(r) > 0 }

func (r Route) Clone() Route {
	if r == nil {
		return nil
	}
	out := make(Route, len(r))
	copy(out, r)
	return out
}

type Entry struct {
	Route    Route  `json:"route"`
	Epoch    uint64 `json:"epoch"`
	Resolved bool   `json:"resolved"`
}

// Table is the published per-entrance route snapshot. Only the Coordinator
// writes it, one entry at a time; entries not yet resolved by the current
// wave keep whatever an older wave left there.
type Table struct {
	mu      sync.RWMutex
	entries []Entry
}

func newTable(n int) *Table {
	return &Table{entries: make([]Entry, n)}
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Table) RouteFor(id int) Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id < 0 || id >= len(t.entries) {
		return nil
	}
	return t.entries[id].Route.Clone()
}

func (t *Table) Entry(id int) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id < 0 || id >= len(t.entries) {
		return Entry{}, false
	}
	e := t.entries[id]
	e.Route = e.Route.Clone()
	return e, true
}

// AllRoutes returns one route per entrance, indexed by entrance id.
func (t *Table) AllRoutes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Route.Clone()
	}
	return out
}

func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		e.Route = e.Route.Clone()
		out[i] = e
	}
	return out
}

func (t *Table) set(id int, r Route, epoch uint64) {
	t.mu.Lock()
	t.entries[id] = Entry{Route: r, Epoch: epoch, Resolved: true}
	t.mu.Unlock()
}
