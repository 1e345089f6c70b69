// Package composite implements front-to-back alpha compositing of ray
// samples over a channel of arbitrary width. Colour uses width 3; class
// probabilities use the class count.
package composite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/volrender/internal/nerf/march"
)

// ErrInvalidWeights reports accumulated weights that are NaN, negative or
// above one. It points at a field producing negative or NaN density.
var ErrInvalidWeights = errors.New("invalid compositing weights")

// weightTolerance absorbs rounding in weight sums close to one.
const weightTolerance = 1e-6

// Accumulators holds the running state of n rays for a channel of Width
// values per ray. Transmittance starts at one.
type Accumulators struct {
	Width         int
	Transmittance []float64
	WeightSum     []float64
	DepthSum      []float64 // sum of weight * sample distance
	Channel       []float64 // n*Width
}

// NewAccumulators returns fresh accumulators for n rays.
func NewAccumulators(n, width int) *Accumulators {
	a := &Accumulators{
		Width:         width,
		Transmittance: make([]float64, n),
		WeightSum:     make([]float64, n),
		DepthSum:      make([]float64, n),
		Channel:       make([]float64, n*width),
	}
	for i := range a.Transmittance {
		a.Transmittance[i] = 1
	}
	return a
}

// Len returns the number of rays.
func (a *Accumulators) Len() int { return len(a.WeightSum) }

// Add composites one sample into ray i and reports whether the ray's
// transmittance has fallen below tThresh, after which no further samples
// should be added. Samples must arrive in increasing distance.
func (a *Accumulators) Add(i int, sigma, delta, t float64, value []float64, tThresh float64) bool {
	alpha := 1 - math.Exp(-sigma*delta)
	tr := a.Transmittance[i]
	w := alpha * tr
	ch := a.Channel[i*a.Width : (i+1)*a.Width]
	for c := range ch {
		ch[c] += w * value[c]
	}
	a.DepthSum[i] += w * t
	a.WeightSum[i] += w
	a.Transmittance[i] = tr * (1 - alpha)
	return a.Transmittance[i] < tThresh
}

// Span composites a run of samples into ray i and reports whether the ray
// terminated. sigma and values are indexed like samples; values holds Width
// entries per sample.
func (a *Accumulators) Span(i int, samples []march.Sample, sigma, values []float64, tThresh float64) bool {
	w := a.Width
	for j, s := range samples {
		if a.Add(i, sigma[j], s.Delta, s.T, values[j*w:(j+1)*w], tThresh) {
			return true
		}
	}
	return false
}

// Inputs is a flat sample batch with per-sample field outputs.
type Inputs struct {
	Width   int
	Samples []march.Sample
	Spans   []march.Span // one per ray
	Sigma   []float64    // len(Samples)
	Values  []float64    // len(Samples)*Width
}

func (in Inputs) validate() error {
	if in.Width <= 0 {
		return fmt.Errorf("channel width must be positive, got %d", in.Width)
	}
	if len(in.Sigma) != len(in.Samples) {
		return fmt.Errorf("got %d densities for %d samples", len(in.Sigma), len(in.Samples))
	}
	if len(in.Values) != len(in.Samples)*in.Width {
		return fmt.Errorf("got %d channel values for %d samples of width %d", len(in.Values), len(in.Samples), in.Width)
	}
	for i, s := range in.Spans {
		if s.Offset < 0 || s.Count < 0 || s.Offset+s.Count > len(in.Samples) {
			return fmt.Errorf("span %d [%d, +%d) outside %d samples", i, s.Offset, s.Count, len(in.Samples))
		}
	}
	return nil
}

// Rays composites every ray of in, in parallel across rays, and returns the
// accumulated state.
func Rays(ctx context.Context, in Inputs, tThresh float64, workers int) (*Accumulators, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	acc := NewAccumulators(len(in.Spans), in.Width)
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	const per = 512
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for lo := 0; lo < len(in.Spans); lo += per {
		hi := min(lo+per, len(in.Spans))
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			w := in.Width
			for i := lo; i < hi; i++ {
				s := in.Spans[i]
				end := s.Offset + s.Count
				acc.Span(i, in.Samples[s.Offset:end], in.Sigma[s.Offset:end], in.Values[s.Offset*w:end*w], tThresh)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return acc, nil
}

// Depth normalises the accumulated depth of each ray to [0, 1] over its
// [near, far] interval. Rays with far <= near get zero depth.
func (a *Accumulators) Depth(near, far []float64) []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = NormalizeDepth(a.DepthSum[i], near[i], far[i])
	}
	return out
}

// NormalizeDepth maps an accumulated depth sum to clamp(sum-near, 0)/(far-near),
// or zero for a degenerate interval.
func NormalizeDepth(depthSum, near, far float64) float64 {
	span := far - near
	if !(span > 0) {
		return 0
	}
	return math.Max(depthSum-near, 0) / span
}

// Blend returns channel + (1 - weight) * background for every ray.
// background holds either Width values shared by all rays or Width values
// per ray.
func (a *Accumulators) Blend(background []float64) ([]float64, error) {
	w := a.Width
	n := a.Len()
	perRay := len(background) == n*w && n > 1
	if len(background) != w && !perRay {
		return nil, fmt.Errorf("background has %d values, want %d or %d", len(background), w, n*w)
	}
	out := make([]float64, len(a.Channel))
	for i := 0; i < n; i++ {
		bg := background
		if perRay {
			bg = background[i*w : (i+1)*w]
		}
		rest := 1 - a.WeightSum[i]
		for c := 0; c < w; c++ {
			out[i*w+c] = a.Channel[i*w+c] + rest*bg[c]
		}
	}
	return out, nil
}

// CheckWeights returns ErrInvalidWeights for the first weight sum that is
// NaN, negative or greater than one.
func CheckWeights(weightSum []float64) error {
	for i, w := range weightSum {
		if math.IsNaN(w) || w < -weightTolerance || w > 1+weightTolerance {
			return fmt.Errorf("%w: ray %d has weight sum %v", ErrInvalidWeights, i, w)
		}
	}
	return nil
}
