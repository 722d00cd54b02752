package routes

import (
	"context"
	"log"
	"sync"
	"time"

	"defencefield.ai/internal/sim/arena/events"
	"defencefield.ai/internal/sim/arena/geom"
)

// Pathfinder computes routes asynchronously. The returned channel carries at
// most one value; a nil Route value means no route exists. Callers must not
// assume any ordering between calls.
type Pathfinder interface {
	FindRoute(ctx context.Context, from, to geom.Vec3i) <-chan Route
}

type PathfinderFunc func(ctx context.Context, from, to geom.Vec3i) <-chan Route

func (f PathfinderFunc) FindRoute(ctx context.Context, from, to geom.Vec3i) <-chan Route {
	return f(ctx, from, to)
}

type Options struct {
	// RequestTimeout bounds each route request. A request that times out
	// resolves as "no route". Zero waits indefinitely.
	RequestTimeout time.Duration

	Sink  events.Sink
	Log   *log.Logger
	Debug bool
}

type Stats struct {
	Waves      uint64 `json:"waves"`
	Completed  uint64 `json:"completed"`
	Superseded uint64 `json:"superseded"`
	Found      uint64 `json:"found"`
	Absent     uint64 `json:"absent"`
	Stale      uint64 `json:"stale"`
	Duplicates uint64 `json:"duplicates"`
	TimedOut   uint64 `json:"timed_out"`
}

// WaveHandle lets the starter of a wave observe how it ended. Exactly one of
// Done or Superseded is eventually closed, unless the pathfinder never
// answers and no further wave is started.
type WaveHandle struct {
	epoch      uint64
	done       chan struct{}
	superseded chan struct{}
}

func (h *WaveHandle) Epoch() uint64               { return h.epoch }
func (h *WaveHandle) Done() <-chan struct{}       { return h.done }
func (h *WaveHandle) Superseded() <-chan struct{} { return h.superseded }

type wave struct {
	epoch       uint64
	outstanding int
	resolved    []bool
	found       int
	absent      int
	onComplete  func()
	handle      *WaveHandle
}

// Coordinator recomputes one route per entrance whenever a wave is started
// and folds the asynchronous answers into its Table. Only the newest wave is
// live; answers for older epochs are discarded on arrival.
type Coordinator struct {
	geo   geom.Geometry
	pf    Pathfinder
	opts  Options
	sink  events.Sink
	table *Table

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	epoch  uint64
	cur    *wave
	closed bool
	stats  Stats
}

func NewCoordinator(g geom.Geometry, pf Pathfinder, opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	sink := opts.Sink
	if sink == nil {
		sink = events.Discard{}
	}
	return &Coordinator{
		geo:    g,
		pf:     pf,
		opts:   opts,
		sink:   sink,
		table:  newTable(g.NumEntrances()),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Coordinator) Table() *Table { return c.table }

func (c *Coordinator) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Outstanding is the number of entrances the live wave still waits on.
func (c *Coordinator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return 0
	}
	return c.cur.outstanding
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// StartWave supersedes any live wave and requests a fresh route for every
// entrance. It does not wait for the pathfinder. onComplete, if non-nil, runs
// once after every entrance of this wave has resolved, on the goroutine that
// delivered the last answer.
func (c *Coordinator) StartWave(onComplete func()) *WaveHandle {
	n := c.geo.NumEntrances()
	h := &WaveHandle{
		done:       make(chan struct{}),
		superseded: make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(h.superseded)
		return h
	}
	c.epoch++
	h.epoch = c.epoch
	if prev := c.cur; prev != nil && prev.outstanding > 0 {
		close(prev.handle.superseded)
		c.stats.Superseded++
	}
	c.cur = &wave{
		epoch:       h.epoch,
		outstanding: n,
		resolved:    make([]bool, n),
		onComplete:  onComplete,
		handle:      h,
	}
	c.stats.Waves++
	c.mu.Unlock()

	ev := events.New(events.WaveStarted)
	ev.Epoch = h.epoch
	ev.Entrances = n
	c.sink.Emit(ev)

	to := c.geo.Center()
	for id, from := range c.geo.Entrances() {
		go c.request(h.epoch, id, from, to)
	}
	return h
}

func (c *Coordinator) request(epoch uint64, id int, from, to geom.Vec3i) {
	ctx := c.ctx
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	var route Route
	select {
	case r, ok := <-c.pf.FindRoute(ctx, from, to):
		if !ok {
			// Closed without an answer: only a timeout turns that into a result.
			if !c.timedOut(ctx) {
				return
			}
			c.noteTimeout(epoch, id)
			break
		}
		route = r
	case <-ctx.Done():
		if !c.timedOut(ctx) {
			return
		}
		c.noteTimeout(epoch, id)
	}
	c.Complete(epoch, id, route)
}

func (c *Coordinator) timedOut(ctx context.Context) bool {
	return c.ctx.Err() == nil && ctx.Err() != nil
}

func (c *Coordinator) noteTimeout(epoch uint64, id int) {
	c.mu.Lock()
	c.stats.TimedOut++
	c.mu.Unlock()
	c.debugf("route request timed out epoch=%d entrance=%d; treating as no route", epoch, id)
}

// Complete folds one route answer into the table. It reports false when the
// answer was discarded: its epoch is no longer live, the id is unknown, or
// the entrance already resolved in this wave.
func (c *Coordinator) Complete(epoch uint64, id int, route Route) bool {
	c.mu.Lock()
	w := c.cur
	if w == nil || epoch != w.epoch {
		c.stats.Stale++
		c.mu.Unlock()
		c.debugf("discarding stale route epoch=%d entrance=%d", epoch, id)
		ev := events.New(events.RouteStale)
		ev.Epoch = epoch
		ev.Entrance = id
		c.sink.Emit(ev)
		return false
	}
	if id < 0 || id >= len(w.resolved) || w.resolved[id] {
		c.stats.Duplicates++
		c.mu.Unlock()
		c.debugf("discarding duplicate route epoch=%d entrance=%d", epoch, id)
		return false
	}

	route = route.Clone()
	w.resolved[id] = true
	c.table.set(id, route, epoch)
	w.outstanding--
	if route.Exists() {
		w.found++
		c.stats.Found++
	} else {
		w.absent++
		c.stats.Absent++
	}

	var (
		hook     func()
		finished bool
		found    = w.found
		absent   = w.absent
	)
	if w.outstanding == 0 {
		hook = w.onComplete
		w.onComplete = nil
		close(w.handle.done)
		c.stats.Completed++
		finished = true
	}
	c.mu.Unlock()

	ev := events.New(events.RouteUpdated)
	ev.Epoch = epoch
	ev.Entrance = id
	ev.Found = route.Exists()
	ev.Len = len(route)
	c.sink.Emit(ev)

	if finished {
		done := events.New(events.WaveCompleted)
		done.Epoch = epoch
		done.Entrances = found + absent
		done.Routes = found
		done.Missing = absent
		c.sink.Emit(done)
		if hook != nil {
			hook()
		}
	}
	return true
}

// Close stops accepting waves and releases goroutines waiting on the
// pathfinder. A live wave is reported as superseded.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cur != nil && c.cur.outstanding > 0 {
		close(c.cur.handle.superseded)
		c.cur.onComplete = nil
	}
	c.cur = nil
	c.mu.Unlock()
	c.cancel()
}

func (c *Coordinator) debugf(format string, args ...any) {
	if !c.opts.Debug || c.opts.Log == nil {
		return
	}
	c.opts.Log.Printf(format, args...)
}
