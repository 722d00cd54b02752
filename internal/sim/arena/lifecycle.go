package arena

import (
	"log"
	"sync"

	"defencefield.ai/internal/sim/arena/events"
	"defencefield.ai/internal/sim/arena/geom"
	"defencefield.ai/internal/sim/arena/routes"
	"defencefield.ai/internal/sim/world/terrain/regen"
)

type State int

const (
	StateInactive State = iota
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StateActivating:
		return "ACTIVATING"
	case StateActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terrain rebuilds the field's voxels. *regen.Regenerator implements it.
type Terrain interface {
	Clear(g geom.Geometry) regen.Stats
	Refill(g geom.Geometry, seed int64) regen.Stats
}

// Waves starts route recomputation. *routes.Coordinator implements it.
type Waves interface {
	StartWave(onComplete func()) *routes.WaveHandle
}

type LifecycleConfig struct {
	Geometry geom.Geometry
	Terrain  Terrain
	Waves    Waves
	Sink     events.Sink
	Log      *log.Logger

	// Seed is the base noise seed; reset n refills with Seed+n.
	Seed int64
	// RegenerateOnActivate clears and refills the field before the first
	// wave. Leave it off when the world already contains the field.
	RegenerateOnActivate bool
}

// Lifecycle is the field's state machine. Every entry point is safe to call
// from any goroutine and redundant calls are no-ops.
type Lifecycle struct {
	cfg  LifecycleConfig
	sink events.Sink

	mu     sync.Mutex
	state  State
	resets int
	seed   int64
	wave   *routes.WaveHandle
}

func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	sink := cfg.Sink
	if sink == nil {
		sink = events.Discard{}
	}
	return &Lifecycle{cfg: cfg, sink: sink, seed: cfg.Seed}
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Seed is the noise seed the field was last refilled with.
func (l *Lifecycle) Seed() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seed
}

func (l *Lifecycle) Resets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resets
}

// Wave returns the handle of the most recently started wave, or nil.
func (l *Lifecycle) Wave() *routes.WaveHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wave
}

// Activate moves an inactive field to ACTIVATING and reports whether it did.
// The field becomes ACTIVE once the first wave resolves every entrance.
func (l *Lifecycle) Activate() bool {
	l.mu.Lock()
	if l.state != StateInactive {
		l.mu.Unlock()
		return false
	}
	l.state = StateActivating
	if l.cfg.RegenerateOnActivate {
		l.regenerateLocked()
	}
	l.startActivationWaveLocked()
	ev := events.New(events.ActivationBegun)
	ev.Epoch = l.wave.Epoch()
	l.mu.Unlock()

	l.sink.Emit(ev)
	l.logf("field activation begun epoch=%d", ev.Epoch)
	return true
}

// Reset regenerates an active field with the next seed and recomputes every
// route. It is a no-op unless the field is ACTIVE.
func (l *Lifecycle) Reset() bool {
	l.mu.Lock()
	if l.state != StateActive {
		l.mu.Unlock()
		return false
	}
	l.resets++
	l.seed = l.cfg.Seed + int64(l.resets)
	st := l.regenerateLocked()
	ev := events.New(events.FieldReset)
	ev.Seed = l.seed
	ev.Cleared = st.Cleared
	ev.Filled = st.Filled
	l.wave = l.cfg.Waves.StartWave(nil)
	ev.Epoch = l.wave.Epoch()
	resets := l.resets
	l.mu.Unlock()

	l.sink.Emit(ev)
	l.logf("field reset #%d seed=%d cleared=%d filled=%d", resets, ev.Seed, ev.Cleared, ev.Filled)
	return true
}

// TerrainChanged recomputes routes after a voxel inside the field changed.
// During activation the activation wave is restarted so the field turns
// ACTIVE on routes for the latest terrain.
func (l *Lifecycle) TerrainChanged() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateActive:
		l.wave = l.cfg.Waves.StartWave(nil)
		return true
	case StateActivating:
		l.startActivationWaveLocked()
		return true
	default:
		return false
	}
}

func (l *Lifecycle) startActivationWaveLocked() {
	l.wave = l.cfg.Waves.StartWave(l.activated)
}

func (l *Lifecycle) activated() {
	ev := events.New(events.ActivationComplete)
	l.mu.Lock()
	if l.state != StateActivating {
		l.mu.Unlock()
		return
	}
	l.state = StateActive
	if l.wave != nil {
		ev.Epoch = l.wave.Epoch()
	}
	l.mu.Unlock()

	l.sink.Emit(ev)
	l.logf("field active")
}

func (l *Lifecycle) regenerateLocked() regen.Stats {
	if l.cfg.Terrain == nil {
		return regen.Stats{}
	}
	cleared := l.cfg.Terrain.Clear(l.cfg.Geometry)
	filled := l.cfg.Terrain.Refill(l.cfg.Geometry, l.seed)
	return regen.Stats{
		Columns: cleared.Columns,
		Cleared: cleared.Cleared,
		Filled:  filled.Filled,
	}
}

func (l *Lifecycle) logf(format string, args ...any) {
	if l.cfg.Log == nil {
		return
	}
	l.cfg.Log.Printf(format, args...)
}
