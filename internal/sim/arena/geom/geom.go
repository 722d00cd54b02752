package geom

import (
	"errors"
	"fmt"
)

var ErrInvalidGeometry = errors.New("invalid field geometry")

type Vec3i struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3i) Sub(o Vec3i) Vec3i { return Vec3i{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3i) Array() [3]int { return [3]int{v.X, v.Y, v.Z} }

func (v Vec3i) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// Geometry is the static description of the defence field: a sphere around
// the shrine plus the entrances enemies spawn from. Entrance ids are indexes
// into the entrance list. A Geometry is never mutated after New.
type Geometry struct {
	center    Vec3i
	radius    int
	entrances []Vec3i
}

func New(center Vec3i, radius int, entrances []Vec3i) (Geometry, error) {
	if radius <= 0 {
		return Geometry{}, fmt.Errorf("%w: radius must be > 0, got %d", ErrInvalidGeometry, radius)
	}
	if len(entrances) == 0 {
		return Geometry{}, fmt.Errorf("%w: at least one entrance required", ErrInvalidGeometry)
	}
	seen := make(map[Vec3i]int, len(entrances))
	r2 := int64(radius) * int64(radius)
	for i, e := range entrances {
		if j, ok := seen[e]; ok {
			return Geometry{}, fmt.Errorf("%w: entrance %d duplicates entrance %d at %s", ErrInvalidGeometry, i, j, e)
		}
		seen[e] = i
		if dist2(e, center) < r2 {
			return Geometry{}, fmt.Errorf("%w: entrance %d at %s lies inside the field", ErrInvalidGeometry, i, e)
		}
	}
	out := make([]Vec3i, len(entrances))
	copy(out, entrances)
	return Geometry{center: center, radius: radius, entrances: out}, nil
}

// Sphere builds a geometry without entrance validation. Terrain code only
// needs center and radius, and tests use it for degenerate radii.
func Sphere(center Vec3i, radius int) Geometry {
	return Geometry{center: center, radius: radius}
}

func (g Geometry) Center() Vec3i     { return g.center }
func (g Geometry) Radius() int       { return g.radius }
func (g Geometry) NumEntrances() int { return len(g.entrances) }

func (g Geometry) Entrances() []Vec3i {
	out := make([]Vec3i, len(g.entrances))
	copy(out, g.entrances)
	return out
}

func (g Geometry) Entrance(id int) (Vec3i, bool) {
	if id < 0 || id >= len(g.entrances) {
		return Vec3i{}, false
	}
	return g.entrances[id], true
}

// Contains reports whether p lies strictly inside the sphere.
func (g Geometry) Contains(p Vec3i) bool {
	r := int64(g.radius)
	return dist2(p, g.center) < r*r
}

// InColumnProjection reports whether the column at world (x, z) falls within
// the horizontal projection of the sphere.
func (g Geometry) InColumnProjection(x, z int) bool {
	if g.radius < 0 {
		return false
	}
	dx := int64(x - g.center.X)
	dz := int64(z - g.center.Z)
	r := int64(g.radius)
	return dx*dx+dz*dz <= r*r
}

func dist2(a, b Vec3i) int64 {
	dx := int64(a.X - b.X)
	dy := int64(a.Y - b.Y)
	dz := int64(a.Z - b.Z)
	return dx*dx + dy*dy + dz*dz
}
