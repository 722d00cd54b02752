package geom

import (
	"errors"
	"testing"
)

func TestNew_Valid(t *testing.T) {
	g, err := New(Vec3i{}, 5, []Vec3i{{X: 5}, {X: -5}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if g.Radius() != 5 || g.NumEntrances() != 2 {
		t.Fatalf("unexpected geometry: r=%d n=%d", g.Radius(), g.NumEntrances())
	}
	e, ok := g.Entrance(1)
	if !ok || e != (Vec3i{X: -5}) {
		t.Fatalf("entrance 1: got %v ok=%v", e, ok)
	}
	if _, ok := g.Entrance(2); ok {
		t.Fatalf("expected out of range entrance to be missing")
	}
}

func TestNew_Rejects(t *testing.T) {
	cases := []struct {
		name      string
		radius    int
		entrances []Vec3i
	}{
		{"zero radius", 0, []Vec3i{{X: 5}}},
		{"negative radius", -3, []Vec3i{{X: 5}}},
		{"no entrances", 5, nil},
		{"duplicate entrances", 5, []Vec3i{{X: 5}, {X: 5}}},
		{"entrance inside", 5, []Vec3i{{X: 4}}},
	}
	for _, tc := range cases {
		_, err := New(Vec3i{}, tc.radius, tc.entrances)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !errors.Is(err, ErrInvalidGeometry) {
			t.Fatalf("%s: expected ErrInvalidGeometry, got %v", tc.name, err)
		}
	}
}

func TestEntrancesReturnsCopy(t *testing.T) {
	in := []Vec3i{{X: 5}, {Z: 5}}
	g, err := New(Vec3i{}, 5, in)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	in[0] = Vec3i{X: 99}
	out := g.Entrances()
	out[1] = Vec3i{X: 42}
	if e, _ := g.Entrance(0); e != (Vec3i{X: 5}) {
		t.Fatalf("geometry aliased caller slice: %v", e)
	}
	if e, _ := g.Entrance(1); e != (Vec3i{Z: 5}) {
		t.Fatalf("geometry aliased returned slice: %v", e)
	}
}

func TestContainsAndProjection(t *testing.T) {
	g := Sphere(Vec3i{X: 10, Y: 2, Z: -3}, 3)
	if !g.Contains(Vec3i{X: 10, Y: 2, Z: -3}) {
		t.Fatalf("center must be inside")
	}
	if g.Contains(Vec3i{X: 13, Y: 2, Z: -3}) {
		t.Fatalf("boundary point must not be strictly inside")
	}
	if !g.InColumnProjection(13, -3) {
		t.Fatalf("boundary column is part of the projection")
	}
	if g.InColumnProjection(13, -2) {
		t.Fatalf("column outside the circle reported inside")
	}
}
