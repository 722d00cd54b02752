package main

import (
	"fmt"
	"log"
	"time"

	"defencefield.ai/internal/persistence/snapshot"
	"defencefield.ai/internal/sim/arena"
	"defencefield.ai/internal/sim/arena/events"
	"defencefield.ai/internal/sim/arena/geom"
	"defencefield.ai/internal/sim/arena/routes"
	"defencefield.ai/internal/sim/tuning"
	"defencefield.ai/internal/sim/world/feature/navigation"
	"defencefield.ai/internal/sim/world/terrain/gen"
	"defencefield.ai/internal/sim/world/terrain/regen"
	"defencefield.ai/internal/sim/world/terrain/store"
)

// fieldRuntime is everything one defence field needs, wired together.
type fieldRuntime struct {
	tune   tuning.Tuning
	geo    geom.Geometry
	blocks regen.Blocks
	store  *store.Store
	nav    *navigation.Service
	coord  *routes.Coordinator
	life   *arena.Lifecycle
	bus    *events.Bus
}

func newFieldRuntime(tune tuning.Tuning, sink events.Sink, debug bool, logger *log.Logger) (*fieldRuntime, error) {
	g, err := tune.Geometry()
	if err != nil {
		return nil, err
	}
	blocks, err := tune.RegenBlocks()
	if err != nil {
		return nil, err
	}
	noise, err := gen.New(tune.NoiseParams())
	if err != nil {
		return nil, fmt.Errorf("noise: %w", err)
	}

	st := store.New(blocks.Air)
	st.Set(g.Center(), blocks.Shrine)

	bus := events.NewBus()
	sinks := events.Multi{bus}
	if sink != nil {
		sinks = append(sinks, sink)
	}

	nav := navigation.New(st, blocks.Air, g, navigation.Config{
		Workers:  tune.Pathfinding.Workers,
		Queue:    tune.Pathfinding.Queue,
		MaxNodes: tune.Pathfinding.MaxNodes,
		Margin:   tune.Pathfinding.Margin,
	}, logger)
	coord := routes.NewCoordinator(g, nav, routes.Options{
		RequestTimeout: tune.RequestTimeout(),
		Sink:           sinks,
		Log:            logger,
		Debug:          debug,
	})
	life := arena.NewLifecycle(arena.LifecycleConfig{
		Geometry:             g,
		Terrain:              regen.New(st, blocks, noise),
		Waves:                coord,
		Sink:                 sinks,
		Log:                  logger,
		Seed:                 tune.Noise.Seed,
		RegenerateOnActivate: tune.Lifecycle.RegenerateOnActivate,
	})

	return &fieldRuntime{
		tune:   tune,
		geo:    g,
		blocks: blocks,
		store:  st,
		nav:    nav,
		coord:  coord,
		life:   life,
		bus:    bus,
	}, nil
}

// setBlock writes one voxel and reports whether it changed. The shrine voxel
// is fixed.
func (f *fieldRuntime) setBlock(p geom.Vec3i, name string) (changed bool, err error) {
	id, ok := f.tune.BlockID(name)
	if !ok {
		return false, fmt.Errorf("unknown block %q", name)
	}
	if p == f.geo.Center() {
		return false, fmt.Errorf("shrine voxel %s is fixed", p)
	}
	if id == f.blocks.Shrine {
		return false, fmt.Errorf("only one shrine block is allowed")
	}
	if f.store.Get(p) == id {
		return false, nil
	}
	f.store.Set(p, id)
	return true, nil
}

// saveSnapshot writes the current terrain under dataDir and returns its path.
func (f *fieldRuntime) saveSnapshot(dataDir, runID string) (string, error) {
	c := f.geo.Center()
	snap := snapshot.TerrainV1{
		Header: snapshot.Header{
			RunID: runID,
			Epoch: f.coord.Epoch(),
			At:    time.Now().UTC().Format(time.RFC3339Nano),
		},
		Seed:    f.life.Seed(),
		Resets:  f.life.Resets(),
		Center:  c.Array(),
		Radius:  f.geo.Radius(),
		Palette: f.tune.Blocks.Palette,
	}
	snapshot.Capture(f.store, &snap)
	path := snapshot.PathFor(dataDir, snap.Header.Epoch)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", err
	}
	return path, nil
}

// loadSnapshot restores terrain written by saveSnapshot. The snapshot must
// describe the same field and palette.
func (f *fieldRuntime) loadSnapshot(path string) (snapshot.TerrainV1, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return snap, err
	}
	if snap.Center != f.geo.Center().Array() || snap.Radius != f.geo.Radius() {
		return snap, fmt.Errorf("snapshot field center=%v radius=%d does not match config", snap.Center, snap.Radius)
	}
	if len(snap.Palette) != len(f.tune.Blocks.Palette) {
		return snap, fmt.Errorf("snapshot palette has %d blocks, config has %d", len(snap.Palette), len(f.tune.Blocks.Palette))
	}
	for i, name := range snap.Palette {
		if f.tune.Blocks.Palette[i] != name {
			return snap, fmt.Errorf("snapshot palette[%d]=%s, config has %s", i, name, f.tune.Blocks.Palette[i])
		}
	}
	return snap, snapshot.Restore(f.store, snap)
}

func (f *fieldRuntime) Close() {
	f.coord.Close()
	f.nav.Close()
}
