package regen

import (
	"defencefield.ai/internal/sim/arena/geom"
	"defencefield.ai/internal/sim/world/logic/mathx"
	"defencefield.ai/internal/sim/world/terrain/gen"
)

// Voxels is the block read/write surface regeneration runs against. No
// transactional guarantee is assumed; every change is an individual Set.
type Voxels interface {
	Get(p geom.Vec3i) uint16
	Set(p geom.Vec3i, b uint16)
}

type Blocks struct {
	Air    uint16
	Shrine uint16
	Filler uint16
}

type Stats struct {
	Columns int `json:"columns"`
	Cleared int `json:"cleared"`
	Filled  int `json:"filled"`
}

type Regenerator struct {
	voxels Voxels
	blocks Blocks
	noise  gen.Predicate
}

func New(voxels Voxels, blocks Blocks, noise gen.Predicate) *Regenerator {
	return &Regenerator{voxels: voxels, blocks: blocks, noise: noise}
}

// Clear empties the dome above the field's center plane: every voxel inside
// the sphere that is neither air nor the shrine becomes air.
func (r *Regenerator) Clear(g geom.Geometry) Stats {
	var st Stats
	c := g.Center()
	rad := g.Radius()
	mathx.ForEachColumn(rad, func(x, z int) {
		st.Columns++
		h := mathx.ColumnHeight(rad, x, z)
		for y := 0; y <= h; y++ {
			p := geom.Vec3i{X: c.X + x, Y: c.Y + y, Z: c.Z + z}
			b := r.voxels.Get(p)
			if b == r.blocks.Air || b == r.blocks.Shrine {
				continue
			}
			r.voxels.Set(p, r.blocks.Air)
			st.Cleared++
		}
	})
	return st
}

// Refill asks the noise predicate about every column of the field and drops
// one filler block on the lowest free voxel of each selected column. Only
// voxels Clear owns are written, so rim columns with no voxel above the
// center plane are skipped.
func (r *Regenerator) Refill(g geom.Geometry, seed int64) Stats {
	var st Stats
	if r.noise == nil {
		return st
	}
	c := g.Center()
	rad := g.Radius()
	mathx.ForEachColumn(rad, func(x, z int) {
		st.Columns++
		if !r.noise.ShouldPlace(seed, x, z) {
			return
		}
		top := mathx.ColumnHeight(rad, x, z)
		for y := 0; y <= top; y++ {
			p := geom.Vec3i{X: c.X + x, Y: c.Y + y, Z: c.Z + z}
			if r.voxels.Get(p) != r.blocks.Air {
				continue
			}
			r.voxels.Set(p, r.blocks.Filler)
			st.Filled++
			return
		}
	})
	return st
}

func (r *Regenerator) Regenerate(g geom.Geometry, seed int64) Stats {
	cl := r.Clear(g)
	rf := r.Refill(g, seed)
	return Stats{Columns: cl.Columns, Cleared: cl.Cleared, Filled: rf.Filled}
}
