// Package bounds holds the scene box and per-ray interval computation.
package bounds

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Box is an axis-aligned scene box. Training and inference may use different boxes.
type Box struct {
	Min r3.Vec
	Max r3.Vec
}

// Cube returns the box [-bound, bound]^3.
func Cube(bound float64) Box {
	return Box{
		Min: r3.Vec{X: -bound, Y: -bound, Z: -bound},
		Max: r3.Vec{X: bound, Y: bound, Z: bound},
	}
}

// FromSlice builds a box from the 6-tuple (xmin, ymin, zmin, xmax, ymax, zmax).
func FromSlice(v []float64) (Box, error) {
	if len(v) != 6 {
		return Box{}, fmt.Errorf("box needs 6 values, got %d", len(v))
	}
	b := Box{
		Min: r3.Vec{X: v[0], Y: v[1], Z: v[2]},
		Max: r3.Vec{X: v[3], Y: v[4], Z: v[5]},
	}
	return b, b.Validate()
}

// Validate checks min < max on every axis.
func (b Box) Validate() error {
	if !(b.Min.X < b.Max.X) || !(b.Min.Y < b.Max.Y) || !(b.Min.Z < b.Max.Z) {
		return fmt.Errorf("box min must be < max on every axis, got min=%v max=%v", b.Min, b.Max)
	}
	return nil
}

// Contains reports whether p lies inside the box (inclusive).
func (b Box) Contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Interval is the [Near, Far] segment of a ray inside the box.
type Interval struct {
	Near float64
	Far  float64
}

// Length returns Far - Near, never negative.
func (iv Interval) Length() float64 {
	return math.Max(0, iv.Far-iv.Near)
}

// Empty reports a degenerate (zero length) interval.
func (iv Interval) Empty() bool { return !(iv.Far > iv.Near) }

// NearFar intersects one ray with the box using the slab method.
//
// Near is clamped to minNear. A ray that misses the box, or whose exit lies
// before minNear, gets Far == Near so downstream code sees a zero-length
// interval instead of an inverted one.
func (b Box) NearFar(origin, dir r3.Vec, minNear float64) Interval {
	tNear := math.Inf(-1)
	tFar := math.Inf(1)
	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	lo := [3]float64{b.Min.X, b.Min.Y, b.Min.Z}
	hi := [3]float64{b.Max.X, b.Max.Y, b.Max.Z}

	for axis := 0; axis < 3; axis++ {
		// Parallel to this slab: either always inside it or never.
		if math.Abs(d[axis]) < 1e-12 {
			if o[axis] < lo[axis] || o[axis] > hi[axis] {
				return Interval{Near: minNear, Far: minNear}
			}
			continue
		}
		inv := 1.0 / d[axis]
		t1 := (lo[axis] - o[axis]) * inv
		t2 := (hi[axis] - o[axis]) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tNear = math.Max(tNear, t1)
		tFar = math.Min(tFar, t2)
	}

	near := math.Max(tNear, minNear)
	far := tFar
	if !(far > near) {
		far = near
	}
	return Interval{Near: near, Far: far}
}

// NearFarBatch computes intervals for a batch of rays.
func (b Box) NearFarBatch(origins, dirs []r3.Vec, minNear float64) []Interval {
	out := make([]Interval, len(origins))
	for i := range origins {
		out[i] = b.NearFar(origins[i], dirs[i], minNear)
	}
	return out
}

// SphereFromRay maps the far intersection of a ray with the sphere of the
// given radius (centred at the origin) to spherical coordinates in [-1, 1]^2:
// (azimuth/π, polar/π*2-1). Rays starting outside the sphere without
// hitting it return (0, 0).
func SphereFromRay(origin, dir r3.Vec, radius float64) [2]float64 {
	a := r3.Dot(dir, dir)
	if a == 0 || radius <= 0 {
		return [2]float64{}
	}
	bHalf := r3.Dot(origin, dir)
	c := r3.Dot(origin, origin) - radius*radius
	disc := bHalf*bHalf - a*c
	if disc < 0 {
		return [2]float64{}
	}
	t := (-bHalf + math.Sqrt(disc)) / a
	p := r3.Add(origin, r3.Scale(t, dir))
	cosPolar := math.Max(-1, math.Min(1, p.Z/radius))
	return [2]float64{
		math.Atan2(p.Y, p.X) / math.Pi,
		math.Acos(cosPolar)/math.Pi*2 - 1,
	}
}
