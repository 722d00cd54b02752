package movement

import "testing"

func box(r int) func(Pos) bool {
	return func(p Pos) bool {
		return p.X >= -r && p.X <= r && p.Y >= 0 && p.Y <= r && p.Z >= -r && p.Z <= r
	}
}

func TestFindRouteStraightLine(t *testing.T) {
	open := func(Pos) bool { return true }
	got := FindRoute(Pos{X: 5}, Pos{}, 1000, box(6), open)
	if len(got) != 6 {
		t.Fatalf("route length: got %d want 6 (%v)", len(got), got)
	}
	if got[0] != (Pos{X: 5}) || got[len(got)-1] != (Pos{}) {
		t.Fatalf("route endpoints wrong: %v", got)
	}
	for i := 1; i < len(got); i++ {
		d := got[i].X - got[i-1].X
		if d != -1 || got[i].Y != 0 || got[i].Z != 0 {
			t.Fatalf("unexpected step %v -> %v", got[i-1], got[i])
		}
	}
}

func TestFindRouteSolidGoalReachable(t *testing.T) {
	goal := Pos{}
	passable := func(p Pos) bool { return p != goal }
	got := FindRoute(Pos{X: 2}, goal, 1000, box(3), passable)
	if got == nil || got[len(got)-1] != goal {
		t.Fatalf("expected route ending at solid goal, got %v", got)
	}
}

func TestFindRouteAroundWall(t *testing.T) {
	// Wall at x=2 spanning the whole box except z=3.
	passable := func(p Pos) bool { return !(p.X == 2 && p.Z != 3) }
	got := FindRoute(Pos{X: 4}, Pos{}, 10000, box(4), passable)
	if got == nil {
		t.Fatalf("expected a detour")
	}
	for _, p := range got {
		if !passable(p) && p != (Pos{}) {
			t.Fatalf("route crosses wall at %v", p)
		}
	}
}

func TestFindRouteNoPath(t *testing.T) {
	passable := func(p Pos) bool { return p.X != 2 }
	if got := FindRoute(Pos{X: 4}, Pos{}, 10000, box(4), passable); got != nil {
		t.Fatalf("expected nil route, got %v", got)
	}
}

func TestFindRouteRespectsNodeBudget(t *testing.T) {
	open := func(Pos) bool { return true }
	if got := FindRoute(Pos{X: 30}, Pos{}, 5, box(40), open); got != nil {
		t.Fatalf("expected budget exhaustion, got %d steps", len(got))
	}
}

func TestFindRouteDeterministic(t *testing.T) {
	passable := func(p Pos) bool { return !(p.X == 1 && p.Y == 0) }
	a := FindRoute(Pos{X: 3, Z: 2}, Pos{}, 10000, box(4), passable)
	b := FindRoute(Pos{X: 3, Z: 2}, Pos{}, 10000, box(4), passable)
	if len(a) != len(b) {
		t.Fatalf("routes differ in length")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("routes differ at %d: %v vs %v", i, a[i], b[i])
		}
	}
}
