package render

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volrender/internal/nerf/composite"
	"github.com/banshee-data/volrender/internal/nerf/march"
	"github.com/banshee-data/volrender/internal/nerf/occupancy"
)

// TrainResult is the output of one training launch.
type TrainResult struct {
	Result
	WeightSumSemantic []float64
	Samples           int // samples evaluated
	Budget            int // sample cap applied to the launch
	Dropped           int // samples cut by the budget
}

// budget sizes a launch of n rays: every ray at full length when forced or
// before any history exists, otherwise the recent mean rounded up to Align.
func (r *Renderer) budget(n int, opts Options) int {
	full := n * opts.MaxSamplesPerRay
	r.mu.Lock()
	mean := r.meanCount
	r.mu.Unlock()
	if opts.ForceAllRays || mean <= 0 {
		return full
	}
	align := r.settings.Align
	return (mean + align - 1) / align * align
}

// RenderTrain renders rays with the training marcher in a single launch over
// the training box. The launch's sample total is recorded in the step counter.
func (r *Renderer) RenderTrain(ctx context.Context, origins, dirs []r3.Vec, opts Options) (*TrainResult, error) {
	if err := r.checkRequest(origins, dirs, opts); err != nil {
		return nil, err
	}
	n := len(origins)
	k := opts.Classes
	box := r.settings.AABBTrain
	near, far := r.nearFar(box, origins, dirs)
	budget := r.budget(n, opts)

	r.mu.Lock()
	launch := r.trainLaunch
	r.trainLaunch++
	r.mu.Unlock()
	seed := r.settings.Seed + launch*0x9E3779B97F4A7C15

	var batch *march.Batch
	err := r.grid.Read(func(view occupancy.View) error {
		var err error
		batch, err = march.Train(ctx, view, r.marchParams(opts, box, seed), origins, dirs, near, far, budget, 0)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("march: %w", err)
	}
	r.counter.Record(batch.Steps, n)
	if batch.Dropped > 0 {
		opsf("training launch %d: budget %d dropped %d of %d samples", launch, budget, batch.Dropped, batch.Steps)
	}

	sigma, colors, classes, err := r.query(ctx, batch.Samples, k)
	if err != nil {
		return nil, err
	}
	rgb, err := composite.Rays(ctx, composite.Inputs{
		Width: 3, Samples: batch.Samples, Spans: batch.Spans, Sigma: sigma, Values: colors,
	}, opts.TerminationThreshold, r.settings.Workers)
	if err != nil {
		return nil, fmt.Errorf("composite rgb: %w", err)
	}
	sem, err := composite.Rays(ctx, composite.Inputs{
		Width: k, Samples: batch.Samples, Spans: batch.Spans, Sigma: sigma, Values: classes,
	}, opts.TerminationThreshold, r.settings.Workers)
	if err != nil {
		return nil, fmt.Errorf("composite semantic: %w", err)
	}

	out := &TrainResult{
		Result:            *newResult(n, k),
		WeightSumSemantic: sem.WeightSum,
		Samples:           len(batch.Samples),
		Budget:            budget,
		Dropped:           batch.Dropped,
	}
	if err := composite.CheckWeights(sem.WeightSum); err != nil {
		return nil, err
	}
	if err := r.finish(ctx, origins, dirs, near, far, rgb, sem, opts, &out.Result, 0); err != nil {
		return nil, err
	}
	diagf("training launch %d: rays=%d samples=%d budget=%d steps=%d", launch, n, out.Samples, budget, batch.Steps)
	return out, nil
}
