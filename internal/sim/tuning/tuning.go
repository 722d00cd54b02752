package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"defencefield.ai/internal/sim/arena/geom"
	"defencefield.ai/internal/sim/world/terrain/gen"
	"defencefield.ai/internal/sim/world/terrain/regen"
)

type Tuning struct {
	Field       Field       `yaml:"field"`
	Blocks      Blocks      `yaml:"blocks"`
	Noise       Noise       `yaml:"noise"`
	Pathfinding Pathfinding `yaml:"pathfinding"`
	Lifecycle   Lifecycle   `yaml:"lifecycle"`
}

type Field struct {
	Center    geom.Vec3i   `yaml:"center"`
	Radius    int          `yaml:"radius"`
	Entrances []geom.Vec3i `yaml:"entrances"`
}

// Blocks names the palette and the three kinds terrain regeneration uses.
// Palette index is the stored block id.
type Blocks struct {
	Palette []string `yaml:"palette"`
	Air     string   `yaml:"air"`
	Shrine  string   `yaml:"shrine"`
	Filler  string   `yaml:"filler"`
}

type Noise struct {
	Kind            string  `yaml:"kind"`
	Seed            int64   `yaml:"seed"`
	DensityPermille int     `yaml:"density_permille"`
	Scale           float64 `yaml:"scale"`
	Threshold       float64 `yaml:"threshold"`
}

type Pathfinding struct {
	Workers   int `yaml:"workers"`
	Queue     int `yaml:"queue"`
	MaxNodes  int `yaml:"max_nodes"`
	Margin    int `yaml:"margin"`
	TimeoutMs int `yaml:"timeout_ms"`
}

type Lifecycle struct {
	RegenerateOnActivate bool `yaml:"regenerate_on_activate"`
}

// Load reads an arena config. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, t.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("arena.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("arena.yaml: %w", err)
	}
	return t, nil
}

func Defaults() Tuning {
	return Tuning{
		Field: Field{
			Center: geom.Vec3i{X: 0, Y: 64, Z: 0},
			Radius: 24,
			Entrances: []geom.Vec3i{
				{X: 24, Y: 64, Z: 0},
				{X: -24, Y: 64, Z: 0},
				{X: 0, Y: 64, Z: 24},
				{X: 0, Y: 64, Z: -24},
			},
		},
		Blocks: Blocks{
			Palette: []string{"AIR", "SHRINE", "FIELD_STONE", "STONE"},
			Air:     "AIR",
			Shrine:  "SHRINE",
			Filler:  "FIELD_STONE",
		},
		Noise: Noise{
			Kind:            gen.KindWhite,
			Seed:            1337,
			DensityPermille: 120,
			Scale:           0.15,
			Threshold:       0.7,
		},
		Pathfinding: Pathfinding{
			Workers:  2,
			Queue:    64,
			MaxNodes: 200_000,
			Margin:   2,
		},
		Lifecycle: Lifecycle{RegenerateOnActivate: true},
	}
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.Noise.Kind = strings.ToLower(strings.TrimSpace(t.Noise.Kind))
	if t.Noise.Kind == "" {
		t.Noise.Kind = gen.KindWhite
	}
	for i, name := range t.Blocks.Palette {
		t.Blocks.Palette[i] = strings.ToUpper(strings.TrimSpace(name))
	}
	t.Blocks.Air = strings.ToUpper(strings.TrimSpace(t.Blocks.Air))
	t.Blocks.Shrine = strings.ToUpper(strings.TrimSpace(t.Blocks.Shrine))
	t.Blocks.Filler = strings.ToUpper(strings.TrimSpace(t.Blocks.Filler))
	if t.Pathfinding.Workers <= 0 {
		t.Pathfinding.Workers = 1
	}
}

func (t Tuning) Validate() error {
	if _, err := t.Geometry(); err != nil {
		return err
	}
	if _, err := t.RegenBlocks(); err != nil {
		return err
	}
	if _, err := gen.New(t.NoiseParams()); err != nil {
		return err
	}
	if t.Pathfinding.Queue < 0 || t.Pathfinding.MaxNodes < 0 || t.Pathfinding.TimeoutMs < 0 {
		return fmt.Errorf("pathfinding: queue, max_nodes and timeout_ms must be >= 0")
	}
	return nil
}

func (t Tuning) Geometry() (geom.Geometry, error) {
	return geom.New(t.Field.Center, t.Field.Radius, t.Field.Entrances)
}

// BlockID resolves a palette name to its stored id.
func (t Tuning) BlockID(name string) (uint16, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, p := range t.Blocks.Palette {
		if p == name {
			return uint16(i), true
		}
	}
	return 0, false
}

func (t Tuning) RegenBlocks() (regen.Blocks, error) {
	seen := map[string]bool{}
	for _, p := range t.Blocks.Palette {
		if p == "" {
			return regen.Blocks{}, fmt.Errorf("blocks: empty palette entry")
		}
		if seen[p] {
			return regen.Blocks{}, fmt.Errorf("blocks: duplicate palette entry %q", p)
		}
		seen[p] = true
	}
	var out regen.Blocks
	for _, b := range []struct {
		role string
		name string
		dst  *uint16
	}{
		{"air", t.Blocks.Air, &out.Air},
		{"shrine", t.Blocks.Shrine, &out.Shrine},
		{"filler", t.Blocks.Filler, &out.Filler},
	} {
		id, ok := t.BlockID(b.name)
		if !ok {
			return regen.Blocks{}, fmt.Errorf("blocks: %s block %q not in palette", b.role, b.name)
		}
		*b.dst = id
	}
	if out.Air == out.Shrine || out.Air == out.Filler || out.Shrine == out.Filler {
		return regen.Blocks{}, fmt.Errorf("blocks: air, shrine and filler must be distinct")
	}
	return out, nil
}

func (t Tuning) NoiseParams() gen.Params {
	return gen.Params{
		Kind:            t.Noise.Kind,
		DensityPermille: t.Noise.DensityPermille,
		Scale:           t.Noise.Scale,
		Threshold:       t.Noise.Threshold,
	}
}

func (t Tuning) RequestTimeout() time.Duration {
	return time.Duration(t.Pathfinding.TimeoutMs) * time.Millisecond
}

// PaletteDigest identifies the block palette in logs and the wave index.
func (t Tuning) PaletteDigest() string {
	h := sha256.New()
	for _, p := range t.Blocks.Palette {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
