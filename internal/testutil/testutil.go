// Package testutil provides shared fixtures for renderer tests: ray fans and
// trivial radiance fields.
package testutil

import (
	"context"

	"gonum.org/v1/gonum/spatial/r3"
)

// OrthoRays returns an n x n fan of parallel rays travelling +z from z=-2,
// spread evenly over [-extent, extent] in x and y. n must be at least 2.
func OrthoRays(n int, extent float64) (origins, dirs []r3.Vec) {
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			x := -extent + 2*extent*float64(i)/float64(n-1)
			y := -extent + 2*extent*float64(j)/float64(n-1)
			origins = append(origins, r3.Vec{X: x, Y: y, Z: -2})
			dirs = append(dirs, r3.Vec{Z: 1})
		}
	}
	return origins, dirs
}

// ConstField has density Sigma everywhere, grey colour and a uniform
// distribution over Classes classes.
type ConstField struct {
	Sigma   float64
	Classes int
}

// Density returns Sigma for every position.
func (f ConstField) Density(ctx context.Context, pos []r3.Vec) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float64, len(pos))
	for i := range out {
		out[i] = f.Sigma
	}
	return out, nil
}

// Query returns Sigma, grey and uniform class probabilities per sample.
func (f ConstField) Query(ctx context.Context, pos, _ []r3.Vec) (sigma, rgb, semantic []float64, err error) {
	sigma, err = f.Density(ctx, pos)
	if err != nil {
		return nil, nil, nil, err
	}
	rgb = make([]float64, 3*len(pos))
	for i := range rgb {
		rgb[i] = 0.5
	}
	semantic = make([]float64, f.Classes*len(pos))
	for i := range semantic {
		semantic[i] = 1 / float64(f.Classes)
	}
	return sigma, rgb, semantic, nil
}
