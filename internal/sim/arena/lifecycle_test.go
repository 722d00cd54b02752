package arena

import (
	"context"
	"sync"
	"testing"
	"time"

	"defencefield.ai/internal/sim/arena/events"
	"defencefield.ai/internal/sim/arena/geom"
	"defencefield.ai/internal/sim/arena/routes"
	"defencefield.ai/internal/sim/world/terrain/regen"
	"defencefield.ai/internal/sim/world/terrain/store"
)

type fakeTerrain struct {
	mu    sync.Mutex
	calls []string
	seeds []int64
}

func (f *fakeTerrain) Clear(geom.Geometry) regen.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "clear")
	return regen.Stats{Columns: 1, Cleared: 3}
}

func (f *fakeTerrain) Refill(_ geom.Geometry, seed int64) regen.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "refill")
	f.seeds = append(f.seeds, seed)
	return regen.Stats{Columns: 1, Filled: 2}
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Emit(ev events.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) count(k events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.evs {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

// silentPathfinder never answers; tests deliver completions directly.
var silentPathfinder = routes.PathfinderFunc(func(context.Context, geom.Vec3i, geom.Vec3i) <-chan routes.Route {
	return make(chan routes.Route)
})

type harness struct {
	geo     geom.Geometry
	coord   *routes.Coordinator
	terrain *fakeTerrain
	rec     *recorder
	life    *Lifecycle
}

func newHarness(t *testing.T, regenerate bool) *harness {
	t.Helper()
	g, err := geom.New(geom.Vec3i{}, 5, []geom.Vec3i{{X: 5}, {X: -5}})
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	rec := &recorder{}
	coord := routes.NewCoordinator(g, silentPathfinder, routes.Options{})
	t.Cleanup(coord.Close)
	terrain := &fakeTerrain{}
	life := NewLifecycle(LifecycleConfig{
		Geometry:             g,
		Terrain:              terrain,
		Waves:                coord,
		Sink:                 rec,
		Seed:                 100,
		RegenerateOnActivate: regenerate,
	})
	return &harness{geo: g, coord: coord, terrain: terrain, rec: rec, life: life}
}

func (h *harness) resolveWave(t *testing.T) {
	t.Helper()
	e := h.coord.Epoch()
	for id := 0; id < h.geo.NumEntrances(); id++ {
		if !h.coord.Complete(e, id, nil) {
			t.Fatalf("completion for entrance %d rejected", id)
		}
	}
}

func TestActivate_Transitions(t *testing.T) {
	h := newHarness(t, true)
	if h.life.State() != StateInactive {
		t.Fatalf("initial state: %s", h.life.State())
	}
	if !h.life.Activate() {
		t.Fatalf("activate from INACTIVE should succeed")
	}
	if h.life.State() != StateActivating {
		t.Fatalf("state after activate: %s", h.life.State())
	}
	if h.rec.count(events.ActivationBegun) != 1 {
		t.Fatalf("activation begun not emitted")
	}
	if got := h.terrain.calls; len(got) != 2 || got[0] != "clear" || got[1] != "refill" {
		t.Fatalf("terrain calls: %v", got)
	}
	if h.life.Activate() {
		t.Fatalf("second activate must be a no-op")
	}

	h.resolveWave(t)
	if h.life.State() != StateActive {
		t.Fatalf("state after wave: %s", h.life.State())
	}
	if h.rec.count(events.ActivationComplete) != 1 {
		t.Fatalf("activation complete emitted %d times", h.rec.count(events.ActivationComplete))
	}
	if h.life.Activate() {
		t.Fatalf("activate while ACTIVE must be a no-op")
	}
}

func TestActivate_WithoutRegeneration(t *testing.T) {
	h := newHarness(t, false)
	h.life.Activate()
	if len(h.terrain.calls) != 0 {
		t.Fatalf("terrain touched: %v", h.terrain.calls)
	}
	if h.coord.Epoch() != 1 {
		t.Fatalf("activation wave not started")
	}
}

func TestReset_OnlyFromActive(t *testing.T) {
	h := newHarness(t, false)
	if h.life.Reset() {
		t.Fatalf("reset while INACTIVE must be a no-op")
	}
	h.life.Activate()
	if h.life.Reset() {
		t.Fatalf("reset while ACTIVATING must be a no-op")
	}
	h.resolveWave(t)

	before := h.coord.Epoch()
	if !h.life.Reset() {
		t.Fatalf("reset while ACTIVE should succeed")
	}
	if h.life.State() != StateActive {
		t.Fatalf("state after reset: %s", h.life.State())
	}
	if h.coord.Epoch() != before+1 {
		t.Fatalf("reset did not start a wave")
	}
	if h.life.Seed() != 101 || h.life.Resets() != 1 {
		t.Fatalf("seed=%d resets=%d", h.life.Seed(), h.life.Resets())
	}
	h.life.Reset()
	if got := h.terrain.seeds; len(got) != 2 || got[0] != 101 || got[1] != 102 {
		t.Fatalf("refill seeds: %v", got)
	}
	if h.rec.count(events.FieldReset) != 2 {
		t.Fatalf("field reset events: %d", h.rec.count(events.FieldReset))
	}
	h.resolveWave(t)
	if h.rec.count(events.ActivationComplete) != 1 {
		t.Fatalf("reset wave must not re-run the activation hook")
	}
}

func TestTerrainChanged(t *testing.T) {
	h := newHarness(t, false)
	if h.life.TerrainChanged() {
		t.Fatalf("terrain change while INACTIVE must be a no-op")
	}
	if h.coord.Epoch() != 0 {
		t.Fatalf("wave started while INACTIVE")
	}

	h.life.Activate()
	first := h.coord.Epoch()
	if !h.life.TerrainChanged() {
		t.Fatalf("terrain change while ACTIVATING should restart the wave")
	}
	// Late answers for the first activation wave are stale.
	if h.coord.Complete(first, 0, nil) {
		t.Fatalf("completion for superseded activation wave accepted")
	}
	if h.life.State() != StateActivating {
		t.Fatalf("state: %s", h.life.State())
	}
	h.resolveWave(t)
	if h.life.State() != StateActive {
		t.Fatalf("restarted activation wave did not activate the field")
	}
	if h.rec.count(events.ActivationComplete) != 1 {
		t.Fatalf("activation complete emitted %d times", h.rec.count(events.ActivationComplete))
	}

	before := h.coord.Epoch()
	if !h.life.TerrainChanged() || h.coord.Epoch() != before+1 {
		t.Fatalf("terrain change while ACTIVE should start a wave")
	}
}

func TestLifecycle_EndToEndWithStore(t *testing.T) {
	const (
		air    = 0
		shrine = 1
		filler = 2
	)
	g, err := geom.New(geom.Vec3i{}, 4, []geom.Vec3i{{X: 4}, {X: -4}, {Z: 4}})
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	st := store.New(air)
	st.Set(g.Center(), shrine)
	st.Set(geom.Vec3i{X: 1, Y: 1}, 7)
	rg := regen.New(st, regen.Blocks{Air: air, Shrine: shrine, Filler: filler}, nil)

	pf := routes.PathfinderFunc(func(_ context.Context, from, to geom.Vec3i) <-chan routes.Route {
		out := make(chan routes.Route, 1)
		out <- routes.Route{from, to}
		return out
	})
	coord := routes.NewCoordinator(g, pf, routes.Options{})
	defer coord.Close()
	life := NewLifecycle(LifecycleConfig{Geometry: g, Terrain: rg, Waves: coord, RegenerateOnActivate: true})

	life.Activate()
	select {
	case <-life.Wave().Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("activation wave never completed")
	}
	if st.Get(geom.Vec3i{X: 1, Y: 1}) != air {
		t.Fatalf("activation did not clear the field")
	}
	if st.Get(g.Center()) != shrine {
		t.Fatalf("shrine removed")
	}
	deadline := time.Now().Add(2 * time.Second)
	for life.State() != StateActive {
		if time.Now().After(deadline) {
			t.Fatalf("field never became active")
		}
		time.Sleep(time.Millisecond)
	}
	for i, r := range coord.Table().AllRoutes() {
		if !r.Exists() {
			t.Fatalf("entrance %d has no route", i)
		}
	}
}

type hookSink struct {
	recorder
	onBegun func()
}

func (s *hookSink) Emit(ev events.Event) {
	s.recorder.Emit(ev)
	if ev.Kind == events.ActivationBegun && s.onBegun != nil {
		s.onBegun()
	}
}

func TestActivate_RegeneratesBeforeAnyoneSeesActivating(t *testing.T) {
	g, err := geom.New(geom.Vec3i{}, 5, []geom.Vec3i{{X: 5}, {X: -5}})
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	coord := routes.NewCoordinator(g, silentPathfinder, routes.Options{})
	defer coord.Close()
	terrain := &fakeTerrain{}
	sink := &hookSink{}
	life := NewLifecycle(LifecycleConfig{
		Geometry:             g,
		Terrain:              terrain,
		Waves:                coord,
		Sink:                 sink,
		RegenerateOnActivate: true,
	})

	var callsAtBegun int
	var restarted bool
	sink.onBegun = func() {
		terrain.mu.Lock()
		callsAtBegun = len(terrain.calls)
		terrain.mu.Unlock()
		restarted = life.TerrainChanged()
	}

	if !life.Activate() {
		t.Fatalf("activate from INACTIVE should succeed")
	}
	if callsAtBegun != 2 {
		t.Fatalf("terrain calls when activation was announced: %d, want clear+refill", callsAtBegun)
	}
	if !restarted || coord.Epoch() != 2 {
		t.Fatalf("terrain change during activation: restarted=%v epoch=%d", restarted, coord.Epoch())
	}
	if life.State() != StateActivating {
		t.Fatalf("state: %s", life.State())
	}
	sink.mu.Lock()
	var begunEpoch uint64
	for _, ev := range sink.evs {
		if ev.Kind == events.ActivationBegun {
			begunEpoch = ev.Epoch
		}
	}
	sink.mu.Unlock()
	if begunEpoch != 1 {
		t.Fatalf("activation begun epoch=%d, want 1", begunEpoch)
	}

	for id := 0; id < g.NumEntrances(); id++ {
		coord.Complete(2, id, nil)
	}
	if life.State() != StateActive {
		t.Fatalf("field not active after the restarted wave: %s", life.State())
	}
}
