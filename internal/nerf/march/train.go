package march

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volrender/internal/nerf/occupancy"
)

// Span locates one ray's samples in a flat sample buffer.
type Span struct {
	Offset int
	Count  int
}

// Batch is the output of Train.
type Batch struct {
	Samples []Sample
	Spans   []Span // one per ray, in ray order
	// Steps is the number of samples the rays asked for before the budget
	// was applied. It feeds the step counter that sizes the next budget.
	Steps   int
	Dropped int // samples cut by the budget
}

// Train marches every ray in two passes. The first counts the occupied steps
// of each ray (capped at MaxSamplesPerRay); an exclusive prefix sum in ray
// order then assigns offsets, and the second pass writes the samples.
//
// budget caps the total number of samples; a non-positive budget disables the
// cap. The ray that crosses the budget is truncated to what remains and every
// later ray gets no samples.
func Train(ctx context.Context, view occupancy.View, p Params, origins, dirs []r3.Vec, near, far []float64, budget, rayOffset int) (*Batch, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("march params: %w", err)
	}
	if p.MaxSamplesPerRay <= 0 {
		return nil, fmt.Errorf("max samples per ray must be positive, got %d", p.MaxSamplesPerRay)
	}
	if err := checkRays(origins, dirs, near, far); err != nil {
		return nil, err
	}
	k := newKernel(view, p)
	n := len(origins)

	counts := make([]int, n)
	err := forRanges(ctx, n, p.Workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			t0 := k.start(near[i], p.Perturb, p.Seed, rayOffset+i)
			_, counts[i] = k.walk(origins[i], dirs[i], t0, far[i], p.MaxSamplesPerRay, nil)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("count pass: %w", err)
	}

	b := &Batch{Spans: make([]Span, n)}
	offset := 0
	for i, c := range counts {
		b.Steps += c
		if budget > 0 && offset+c > budget {
			c = max(0, budget-offset)
		}
		b.Spans[i] = Span{Offset: offset, Count: c}
		offset += c
	}
	b.Dropped = b.Steps - offset
	b.Samples = make([]Sample, offset)

	err = forRanges(ctx, n, p.Workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			span := b.Spans[i]
			if span.Count == 0 {
				continue
			}
			out := b.Samples[span.Offset : span.Offset+span.Count]
			j := 0
			t0 := k.start(near[i], p.Perturb, p.Seed, rayOffset+i)
			k.walk(origins[i], dirs[i], t0, far[i], span.Count, func(pos r3.Vec, t, dt float64) {
				out[j] = Sample{Pos: pos, Dir: dirs[i], T: t, Delta: dt, Ray: i}
				j++
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("fill pass: %w", err)
	}
	return b, nil
}

// Range returns the samples of ray i.
func (b *Batch) Range(i int) []Sample {
	s := b.Spans[i]
	return b.Samples[s.Offset : s.Offset+s.Count]
}
