package gen

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ojrac/opensimplex-go"

	"defencefield.ai/internal/sim/world/logic/mathx"
)

// Predicate decides whether the refill pass drops a filler block on the
// column at offset (x, z) from the field center. Implementations must be
// deterministic for a fixed seed.
type Predicate interface {
	ShouldPlace(seed int64, x, z int) bool
}

type PredicateFunc func(seed int64, x, z int) bool

func (f PredicateFunc) ShouldPlace(seed int64, x, z int) bool { return f(seed, x, z) }

func ClampPermille(v int) int {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return v
}

// WhiteNoise places a block with probability DensityPermille/1000 per column,
// independently of neighbouring columns.
type WhiteNoise struct {
	DensityPermille int
}

func (n WhiteNoise) ShouldPlace(seed int64, x, z int) bool {
	return Hash2Permille(seed, x, z) < uint64(ClampPermille(n.DensityPermille))
}

func Hash2Permille(seed int64, x, z int) uint64 {
	return mathx.Hash2(seed, x, z) % 1000
}

// SimplexNoise places blocks where normalized simplex noise sampled at
// (x*Scale, z*Scale) exceeds Threshold, producing clustered obstacles.
type SimplexNoise struct {
	Scale     float64
	Threshold float64

	// Only the latest seed's source is kept; each reset moves to a new seed.
	mu      sync.Mutex
	src     opensimplex.Noise
	srcSeed int64
}

func NewSimplexNoise(scale, threshold float64) *SimplexNoise {
	if scale <= 0 {
		scale = 0.15
	}
	return &SimplexNoise{
		Scale:     scale,
		Threshold: threshold,
	}
}

func (n *SimplexNoise) ShouldPlace(seed int64, x, z int) bool {
	v := n.source(seed).Eval2(float64(x)*n.Scale, float64(z)*n.Scale)
	return v > n.Threshold
}

func (n *SimplexNoise) source(seed int64) opensimplex.Noise {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.src == nil || n.srcSeed != seed {
		n.src = opensimplex.NewNormalized(seed)
		n.srcSeed = seed
	}
	return n.src
}

const (
	KindWhite   = "white"
	KindSimplex = "simplex"
)

type Params struct {
	Kind            string
	DensityPermille int
	Scale           float64
	Threshold       float64
}

func New(p Params) (Predicate, error) {
	switch strings.ToLower(strings.TrimSpace(p.Kind)) {
	case "", KindWhite:
		return WhiteNoise{DensityPermille: p.DensityPermille}, nil
	case KindSimplex:
		return NewSimplexNoise(p.Scale, p.Threshold), nil
	default:
		return nil, fmt.Errorf("unknown noise kind %q", p.Kind)
	}
}
