package movement

type Pos struct {
	X int
	Y int
	Z int
}

// Fixed neighbor order keeps routes stable between runs with the same terrain.
var dirs = [6]Pos{{X: 1}, {X: -1}, {Z: 1}, {Z: -1}, {Y: 1}, {Y: -1}}

func add(a, b Pos) Pos { return Pos{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z} }

// FindRoute runs a breadth-first search from start to goal over passable
// voxels, 6-connected. The goal itself need not be passable (the shrine is a
// solid block); reaching any neighbour of it completes the route.
//
// The returned route begins with start and ends with goal. It is nil when no
// route exists within maxNodes expanded nodes.
func FindRoute(start, goal Pos, maxNodes int, inBounds func(Pos) bool, passable func(Pos) bool) []Pos {
	if start == goal {
		return []Pos{start}
	}
	if maxNodes <= 0 {
		return nil
	}

	parent := make(map[Pos]Pos, 256)
	parent[start] = start
	queue := make([]Pos, 0, 256)
	queue = append(queue, start)

	for head := 0; head < len(queue) && head < maxNodes; head++ {
		cur := queue[head]
		for _, d := range dirs {
			np := add(cur, d)
			if np == goal {
				parent[goal] = cur
				return unwind(parent, start, goal)
			}
			if _, seen := parent[np]; seen {
				continue
			}
			if !inBounds(np) || !passable(np) {
				continue
			}
			parent[np] = cur
			queue = append(queue, np)
		}
	}
	return nil
}

func unwind(parent map[Pos]Pos, start, goal Pos) []Pos {
	var rev []Pos
	for p := goal; ; p = parent[p] {
		rev = append(rev, p)
		if p == start {
			break
		}
	}
	out := make([]Pos, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}
