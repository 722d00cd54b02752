package gen

import "testing"

func TestWhiteNoiseDeterministic(t *testing.T) {
	n := WhiteNoise{DensityPermille: 300}
	for x := -20; x <= 20; x++ {
		for z := -20; z <= 20; z++ {
			if n.ShouldPlace(42, x, z) != n.ShouldPlace(42, x, z) {
				t.Fatalf("column (%d,%d) not deterministic", x, z)
			}
		}
	}
}

func TestWhiteNoiseDensityBounds(t *testing.T) {
	none := WhiteNoise{DensityPermille: 0}
	all := WhiteNoise{DensityPermille: 5000}
	for x := -10; x <= 10; x++ {
		for z := -10; z <= 10; z++ {
			if none.ShouldPlace(1, x, z) {
				t.Fatalf("density 0 placed at (%d,%d)", x, z)
			}
			if !all.ShouldPlace(1, x, z) {
				t.Fatalf("clamped density 1000 skipped (%d,%d)", x, z)
			}
		}
	}
}

func TestWhiteNoiseRoughDensity(t *testing.T) {
	n := WhiteNoise{DensityPermille: 250}
	placed := 0
	total := 0
	for x := -50; x < 50; x++ {
		for z := -50; z < 50; z++ {
			total++
			if n.ShouldPlace(9, x, z) {
				placed++
			}
		}
	}
	ratio := float64(placed) / float64(total)
	if ratio < 0.2 || ratio > 0.3 {
		t.Fatalf("density ratio out of range: %.3f", ratio)
	}
}

func TestSimplexNoiseDeterministicAcrossInstances(t *testing.T) {
	a := NewSimplexNoise(0.2, 0.6)
	b := NewSimplexNoise(0.2, 0.6)
	for x := -15; x <= 15; x++ {
		for z := -15; z <= 15; z++ {
			if a.ShouldPlace(5, x, z) != b.ShouldPlace(5, x, z) {
				t.Fatalf("column (%d,%d) differs between instances", x, z)
			}
		}
	}
}

func TestSimplexNoiseKeepsOnlyLatestSeed(t *testing.T) {
	n := NewSimplexNoise(0.2, 0.6)
	for seed := int64(1); seed <= 50; seed++ {
		n.ShouldPlace(seed, 0, 0)
		if n.srcSeed != seed {
			t.Fatalf("cached seed=%d want %d", n.srcSeed, seed)
		}
	}

	// Returning to an earlier seed rebuilds the same field.
	fresh := NewSimplexNoise(0.2, 0.6)
	for x := -10; x <= 10; x++ {
		for z := -10; z <= 10; z++ {
			if n.ShouldPlace(3, x, z) != fresh.ShouldPlace(3, x, z) {
				t.Fatalf("column (%d,%d) differs after seed churn", x, z)
			}
		}
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New(Params{Kind: "perlin"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	p, err := New(Params{Kind: "SIMPLEX", Scale: 0.1, Threshold: 0.5})
	if err != nil {
		t.Fatalf("simplex: %v", err)
	}
	if _, ok := p.(*SimplexNoise); !ok {
		t.Fatalf("expected *SimplexNoise, got %T", p)
	}
}
