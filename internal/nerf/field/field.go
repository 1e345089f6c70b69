// Package field provides deterministic analytic radiance fields. They stand
// in for a learned field in tooling and tests.
package field

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Ball is a solid sphere of constant density, colour and class.
type Ball struct {
	Center  r3.Vec
	Radius  float64
	Density float64
	Color   [3]float64
	Class   int
}

// Scene is a set of balls over empty space. Where balls overlap the
// densities add and the first ball's colour and class win.
// A Scene is immutable after construction and safe for concurrent use.
type Scene struct {
	balls   []Ball
	classes int
	// Confidence is the probability mass put on the true class; the rest is
	// spread evenly over the other classes.
	confidence float64
}

// NewScene validates balls against the class count.
func NewScene(classes int, confidence float64, balls ...Ball) (*Scene, error) {
	if classes < 1 {
		return nil, fmt.Errorf("classes must be at least 1, got %d", classes)
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence must be in [0, 1], got %f", confidence)
	}
	for i, b := range balls {
		if b.Radius <= 0 {
			return nil, fmt.Errorf("ball %d: radius must be positive, got %f", i, b.Radius)
		}
		if b.Density < 0 {
			return nil, fmt.Errorf("ball %d: density must be non-negative, got %f", i, b.Density)
		}
		if b.Class < 0 || b.Class >= classes {
			return nil, fmt.Errorf("ball %d: class %d outside [0, %d)", i, b.Class, classes)
		}
	}
	return &Scene{balls: append([]Ball(nil), balls...), classes: classes, confidence: confidence}, nil
}

// DefaultScene is two overlapping balls of different classes inside the
// unit cube.
func DefaultScene() *Scene {
	s, err := NewScene(3, 0.9,
		Ball{Center: r3.Vec{X: -0.25}, Radius: 0.4, Density: 25, Color: [3]float64{0.9, 0.2, 0.1}, Class: 1},
		Ball{Center: r3.Vec{X: 0.35, Y: 0.2}, Radius: 0.3, Density: 10, Color: [3]float64{0.1, 0.4, 0.9}, Class: 2},
	)
	if err != nil {
		panic(err)
	}
	return s
}

// Classes returns the width of the semantic output.
func (s *Scene) Classes() int { return s.classes }

// Density returns the density at each position.
func (s *Scene) Density(ctx context.Context, pos []r3.Vec) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float64, len(pos))
	for i, p := range pos {
		out[i], _ = s.at(p)
	}
	return out, nil
}

// Query returns density, view-shaded colour (3 per sample) and class
// probabilities (Classes per sample). Empty space is black and class 0.
func (s *Scene) Query(ctx context.Context, pos, dirs []r3.Vec) (sigma, rgb, semantic []float64, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}
	if len(dirs) != len(pos) {
		return nil, nil, nil, fmt.Errorf("got %d directions for %d positions", len(dirs), len(pos))
	}
	k := s.classes
	sigma = make([]float64, len(pos))
	rgb = make([]float64, 3*len(pos))
	semantic = make([]float64, k*len(pos))
	for i, p := range pos {
		var owner int
		sigma[i], owner = s.at(p)
		class := 0
		if owner >= 0 {
			b := s.balls[owner]
			shade := 0.75 + 0.25*math.Abs(r3.Cos(r3.Sub(p, b.Center), dirs[i]))
			if math.IsNaN(shade) {
				shade = 1
			}
			for c := 0; c < 3; c++ {
				rgb[3*i+c] = b.Color[c] * shade
			}
			class = b.Class
		}
		s.classProbs(semantic[k*i:k*(i+1)], class)
	}
	return sigma, rgb, semantic, nil
}

// at returns the summed density at p and the index of the first ball
// containing it, or -1.
func (s *Scene) at(p r3.Vec) (float64, int) {
	sigma := 0.0
	owner := -1
	for j, b := range s.balls {
		if r3.Norm2(r3.Sub(p, b.Center)) < b.Radius*b.Radius {
			sigma += b.Density
			if owner < 0 {
				owner = j
			}
		}
	}
	return sigma, owner
}

func (s *Scene) classProbs(dst []float64, class int) {
	if len(dst) == 1 {
		dst[0] = 1
		return
	}
	rest := (1 - s.confidence) / float64(len(dst)-1)
	for c := range dst {
		dst[c] = rest
	}
	dst[class] = s.confidence
}

// Sky is a background model blending two colours by polar angle.
type Sky struct {
	Zenith  [3]float64
	Horizon [3]float64
}

// Color returns one colour per ray from its spherical coordinates, where
// sph[i][1] runs from -1 at the zenith to 1 at the nadir.
func (s Sky) Color(ctx context.Context, sph [][2]float64, dirs []r3.Vec) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(dirs) != len(sph) {
		return nil, fmt.Errorf("got %d directions for %d coordinates", len(dirs), len(sph))
	}
	out := make([]float64, 3*len(sph))
	for i, c := range sph {
		f := math.Abs(c[1])
		for ch := 0; ch < 3; ch++ {
			out[3*i+ch] = s.Zenith[ch]*f + s.Horizon[ch]*(1-f)
		}
	}
	return out, nil
}
