package navigation

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"defencefield.ai/internal/sim/arena/geom"
	"defencefield.ai/internal/sim/arena/routes"
	"defencefield.ai/internal/sim/world/logic/movement"
)

// Voxels is the read side of the voxel world.
type Voxels interface {
	Get(p geom.Vec3i) uint16
}

type Config struct {
	Workers  int
	Queue    int
	MaxNodes int
	// Margin widens the search box around the field and its entrances.
	Margin int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Queue <= 0 {
		c.Queue = 64
	}
	if c.MaxNodes <= 0 {
		c.MaxNodes = 200_000
	}
	if c.Margin < 0 {
		c.Margin = 0
	}
	return c
}

type Stats struct {
	Requests uint64 `json:"requests"`
	Found    uint64 `json:"found"`
	NoRoute  uint64 `json:"no_route"`
	Dropped  uint64 `json:"dropped"`
}

type job struct {
	ctx      context.Context
	from, to geom.Vec3i
	out      chan routes.Route
}

// Service answers route requests on a fixed pool of worker goroutines. Only
// air voxels are walkable; the target voxel itself may be solid.
type Service struct {
	voxels Voxels
	air    uint16
	cfg    Config
	min    geom.Vec3i
	max    geom.Vec3i
	logger *log.Logger

	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	requests atomic.Uint64
	found    atomic.Uint64
	noRoute  atomic.Uint64
	dropped  atomic.Uint64
}

func New(voxels Voxels, air uint16, g geom.Geometry, cfg Config, logger *log.Logger) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		voxels: voxels,
		air:    air,
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan job, cfg.Queue),
		quit:   make(chan struct{}),
	}
	s.min, s.max = searchBox(g, cfg.Margin)
	s.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go func() {
			defer s.wg.Done()
			s.worker()
		}()
	}
	return s
}

func searchBox(g geom.Geometry, margin int) (geom.Vec3i, geom.Vec3i) {
	c, r := g.Center(), g.Radius()
	lo := geom.Vec3i{X: c.X - r, Y: c.Y - r, Z: c.Z - r}
	hi := geom.Vec3i{X: c.X + r, Y: c.Y + r, Z: c.Z + r}
	for _, e := range g.Entrances() {
		lo = geom.Vec3i{X: min(lo.X, e.X), Y: min(lo.Y, e.Y), Z: min(lo.Z, e.Z)}
		hi = geom.Vec3i{X: max(hi.X, e.X), Y: max(hi.Y, e.Y), Z: max(hi.Z, e.Z)}
	}
	m := geom.Vec3i{X: margin, Y: margin, Z: margin}
	return lo.Sub(m), hi.Add(m)
}

// FindRoute queues a search and returns a channel that receives exactly one
// route (nil when none exists). The channel is closed without a value when
// ctx ends first or the service is closed.
func (s *Service) FindRoute(ctx context.Context, from, to geom.Vec3i) <-chan routes.Route {
	s.requests.Add(1)
	out := make(chan routes.Route, 1)
	select {
	case <-s.quit:
		s.dropped.Add(1)
		close(out)
		return out
	default:
	}
	select {
	case s.jobs <- job{ctx: ctx, from: from, to: to, out: out}:
	case <-ctx.Done():
		s.dropped.Add(1)
		close(out)
	case <-s.quit:
		s.dropped.Add(1)
		close(out)
	}
	return out
}

func (s *Service) worker() {
	for {
		select {
		case <-s.quit:
			s.drain()
			return
		case j := <-s.jobs:
			s.run(j)
		}
	}
}

func (s *Service) drain() {
	for {
		select {
		case j := <-s.jobs:
			s.dropped.Add(1)
			close(j.out)
		default:
			return
		}
	}
}

func (s *Service) run(j job) {
	if j.ctx.Err() != nil {
		s.dropped.Add(1)
		close(j.out)
		return
	}
	path := movement.FindRoute(toPos(j.from), toPos(j.to), s.cfg.MaxNodes, s.inBounds, s.passable)
	if path == nil {
		s.noRoute.Add(1)
		j.out <- nil
		return
	}
	route := make(routes.Route, len(path))
	for i, p := range path {
		route[i] = geom.Vec3i{X: p.X, Y: p.Y, Z: p.Z}
	}
	s.found.Add(1)
	j.out <- route
}

func (s *Service) inBounds(p movement.Pos) bool {
	return p.X >= s.min.X && p.X <= s.max.X &&
		p.Y >= s.min.Y && p.Y <= s.max.Y &&
		p.Z >= s.min.Z && p.Z <= s.max.Z
}

func (s *Service) passable(p movement.Pos) bool {
	return s.voxels.Get(geom.Vec3i{X: p.X, Y: p.Y, Z: p.Z}) == s.air
}

func toPos(v geom.Vec3i) movement.Pos { return movement.Pos{X: v.X, Y: v.Y, Z: v.Z} }

func (s *Service) Stats() Stats {
	return Stats{
		Requests: s.requests.Load(),
		Found:    s.found.Load(),
		NoRoute:  s.noRoute.Load(),
		Dropped:  s.dropped.Load(),
	}
}

// Close stops the workers. Queued requests are answered by closing their
// channels.
func (s *Service) Close() {
	s.once.Do(func() {
		close(s.quit)
		s.wg.Wait()
		s.drain()
		if s.logger != nil {
			st := s.Stats()
			s.logger.Printf("navigation: closed requests=%d found=%d no_route=%d dropped=%d",
				st.Requests, st.Found, st.NoRoute, st.Dropped)
		}
	})
}
