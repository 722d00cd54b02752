package mathx

import "math"

// SphereEpsilon biases column heights downward before flooring so a voxel
// whose height lands exactly on the sphere surface is left out.
const SphereEpsilon = 0.001

// ColumnHalfWidth returns the z half-extent of the circle x²+z²=r² at offset x,
// or -1 when x lies outside the circle.
func ColumnHalfWidth(r, x int) int {
	rem := r*r - x*x
	if r < 0 || rem < 0 {
		return -1
	}
	return int(math.Floor(math.Sqrt(float64(rem))))
}

// ColumnHeight returns the highest vertical offset inside the sphere at column
// offset (x, z), using the sphere equation solved for height. A negative result
// means the column holds no voxel above the center plane.
func ColumnHeight(r, x, z int) int {
	rem := r*r - x*x - z*z
	if r < 0 || rem < 0 {
		return -1
	}
	return int(math.Floor(math.Sqrt(float64(rem)) - SphereEpsilon))
}

// ForEachColumn visits every column offset (x, z) inside the horizontal
// projection of a sphere of radius r, x-major then z ascending.
func ForEachColumn(r int, fn func(x, z int)) {
	for x := -r; x <= r; x++ {
		w := ColumnHalfWidth(r, x)
		for z := -w; z <= w; z++ {
			fn(x, z)
		}
	}
}
