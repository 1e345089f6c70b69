// Package render orchestrates occupancy-gated volume rendering: it owns the
// occupancy grid and step counter of one scene, marches rays against the
// grid, queries the field, and composites colour and class channels.
package render

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volrender/internal/nerf/bounds"
	"github.com/banshee-data/volrender/internal/nerf/composite"
	"github.com/banshee-data/volrender/internal/nerf/march"
	"github.com/banshee-data/volrender/internal/nerf/occupancy"
)

// Field is the radiance field being rendered. Query returns per sample one
// density, three colour values and Classes class probabilities. Both methods
// must be safe for concurrent use and deterministic.
type Field interface {
	occupancy.DensityField
	Query(ctx context.Context, positions, dirs []r3.Vec) (sigma, rgb, semantic []float64, err error)
}

// ClassCounter is implemented by fields that know their semantic width.
// Render and RenderTrain reject Options.Classes that disagree with it before
// any sampling, so a mismatch is caught even when no ray hits the scene.
type ClassCounter interface {
	Classes() int
}

// Background colours rays that leave the scene. sph holds the spherical
// coordinates of each ray's exit through the background sphere.
type Background interface {
	Color(ctx context.Context, sph [][2]float64, dirs []r3.Vec) ([]float64, error)
}

// Result holds per-ray outputs in input ray order.
type Result struct {
	Depth     []float64 // normalised to [0, 1] over each ray's [near, far]
	Image     []float64 // 3 per ray
	Semantic  []float64 // Classes per ray; uncovered mass is not filled with background
	WeightSum []float64 // accumulated opacity per ray
}

func newResult(n, classes int) *Result {
	return &Result{
		Depth:     make([]float64, n),
		Image:     make([]float64, 3*n),
		Semantic:  make([]float64, classes*n),
		WeightSum: make([]float64, n),
	}
}

// Renderer holds the occupancy state of one scene. Render calls may run
// concurrently with each other; grid mutations wait for them to finish.
type Renderer struct {
	settings Settings
	field    Field
	bg       Background
	grid     *occupancy.Grid
	counter  *StepCounter
	scale    float64

	mu          sync.Mutex
	meanCount   int
	trainLaunch uint64
	recorder    UpdateRecorder
	sceneID     string
}

// New builds a renderer with an empty occupancy grid. bg may be nil.
func New(s Settings, field Field, bg Background) (*Renderer, error) {
	if field == nil {
		return nil, fmt.Errorf("field is required")
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	grid, err := occupancy.NewGrid(s.Grid)
	if err != nil {
		return nil, err
	}
	return &Renderer{
		settings: s,
		field:    field,
		bg:       bg,
		grid:     grid,
		counter:  NewStepCounter(s.StepCounterSlots),
		scale:    s.Grid.DensityScale,
	}, nil
}

// Grid returns the renderer's occupancy grid.
func (r *Renderer) Grid() *occupancy.Grid { return r.grid }

// StepCounter returns the renderer's step counter.
func (r *Renderer) StepCounter() *StepCounter { return r.counter }

// MeanCount returns the per-launch sample estimate that sizes training budgets.
func (r *Renderer) MeanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meanCount
}

func (r *Renderer) marchParams(opts Options, box bounds.Box, seed uint64) march.Params {
	return march.Params{
		Box:              box,
		DtGamma:          opts.DtGamma,
		MaxSteps:         opts.MaxSteps,
		MaxSamplesPerRay: opts.MaxSamplesPerRay,
		Perturb:          opts.Perturb,
		Seed:             seed,
		Workers:          r.settings.Workers,
	}
}

// checkRequest validates opts and the ray batch shape against the field.
func (r *Renderer) checkRequest(origins, dirs []r3.Vec, opts Options) error {
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	if cc, ok := r.field.(ClassCounter); ok && cc.Classes() != opts.Classes {
		return fmt.Errorf("field has %d classes, options ask for %d", cc.Classes(), opts.Classes)
	}
	if len(origins) != len(dirs) {
		return fmt.Errorf("got %d origins and %d directions", len(origins), len(dirs))
	}
	return nil
}

// Render renders rays with the round-based inference marcher. Rays are
// processed in chunks of MaxRaysPerChunk; chunking does not change results.
func (r *Renderer) Render(ctx context.Context, origins, dirs []r3.Vec, opts Options) (*Result, error) {
	if err := r.checkRequest(origins, dirs, opts); err != nil {
		return nil, err
	}
	n := len(origins)
	out := newResult(n, opts.Classes)
	chunk := opts.MaxRaysPerChunk
	if chunk <= 0 || chunk > n {
		chunk = n
	}
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		if err := r.renderChunk(ctx, origins[lo:hi], dirs[lo:hi], lo, opts, out); err != nil {
			return nil, fmt.Errorf("rays [%d, %d): %w", lo, hi, err)
		}
	}
	diagf("rendered %d rays in %d chunk(s)", n, (n+max(chunk, 1)-1)/max(chunk, 1))
	return out, nil
}

// renderChunk marches, shades and composites one chunk, writing into out at
// ray offset lo.
func (r *Renderer) renderChunk(ctx context.Context, origins, dirs []r3.Vec, lo int, opts Options, out *Result) error {
	n := len(origins)
	k := opts.Classes
	near, far := r.nearFar(r.settings.AABBInfer, origins, dirs)
	rgb := composite.NewAccumulators(n, 3)
	sem := composite.NewAccumulators(n, k)

	err := r.grid.Read(func(view occupancy.View) error {
		st, err := march.NewStepper(view, r.marchParams(opts, r.settings.AABBInfer, r.settings.Seed), origins, dirs, near, far, lo)
		if err != nil {
			return err
		}
		for !st.Done() {
			round, err := st.Next(ctx)
			if err != nil {
				return err
			}
			var terminated []bool
			if len(round.Samples) > 0 {
				sigma, colors, classes, err := r.query(ctx, round.Samples, k)
				if err != nil {
					return fmt.Errorf("round %d: %w", round.Index, err)
				}
				terminated = make([]bool, len(round.Rays))
				err = parallel(ctx, len(round.Rays), r.settings.Workers, func(i int) {
					ray := round.Rays[i]
					sp := round.Spans[i]
					samples := round.Range(i)
					end := sp.Offset + sp.Count
					terminated[i] = rgb.Span(ray, samples, sigma[sp.Offset:end], colors[3*sp.Offset:3*end], opts.TerminationThreshold)
					sem.Span(ray, samples, sigma[sp.Offset:end], classes[k*sp.Offset:k*end], opts.TerminationThreshold)
				})
				if err != nil {
					return err
				}
			}
			alive := st.Compact(round, terminated)
			tracef("chunk@%d round %d: n_step=%d rays=%d samples=%d alive=%d",
				lo, round.Index, round.NStep, len(round.Rays), len(round.Samples), alive)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.finish(ctx, origins, dirs, near, far, rgb, sem, opts, out, lo)
}

// finish checks weights, normalises depth and blends the colour background
// for rays [lo, lo+n) of out.
func (r *Renderer) finish(ctx context.Context, origins, dirs []r3.Vec, near, far []float64, rgb, sem *composite.Accumulators, opts Options, out *Result, lo int) error {
	if err := composite.CheckWeights(rgb.WeightSum); err != nil {
		return err
	}
	bg, err := r.background(ctx, origins, dirs, opts)
	if err != nil {
		return err
	}
	img, err := rgb.Blend(bg)
	if err != nil {
		return err
	}
	n := len(origins)
	k := opts.Classes
	copy(out.Depth[lo:lo+n], rgb.Depth(near, far))
	copy(out.Image[3*lo:3*(lo+n)], img)
	copy(out.Semantic[k*lo:k*(lo+n)], sem.Channel)
	copy(out.WeightSum[lo:lo+n], rgb.WeightSum)
	return nil
}

// background returns either one colour per ray from the background model or
// the constant background colour.
func (r *Renderer) background(ctx context.Context, origins, dirs []r3.Vec, opts Options) ([]float64, error) {
	if r.bg == nil || r.settings.BgRadius <= 0 || len(origins) == 0 {
		return opts.BackgroundColor[:], nil
	}
	sph := make([][2]float64, len(origins))
	for i := range origins {
		sph[i] = bounds.SphereFromRay(origins[i], dirs[i], r.settings.BgRadius)
	}
	colors, err := r.bg.Color(ctx, sph, dirs)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	if len(colors) != 3*len(origins) {
		return nil, fmt.Errorf("background returned %d values for %d rays", len(colors), len(origins))
	}
	return colors, nil
}

// query evaluates the field at samples and applies the density scale.
func (r *Renderer) query(ctx context.Context, samples []march.Sample, classes int) (sigma, rgb, sem []float64, err error) {
	pos := make([]r3.Vec, len(samples))
	dirs := make([]r3.Vec, len(samples))
	for i, s := range samples {
		pos[i] = s.Pos
		dirs[i] = s.Dir
	}
	sigma, rgb, sem, err = r.field.Query(ctx, pos, dirs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("field query: %w", err)
	}
	m := len(samples)
	if len(sigma) != m || len(rgb) != 3*m || len(sem) != classes*m {
		return nil, nil, nil, fmt.Errorf("field returned %d/%d/%d values for %d samples with %d classes",
			len(sigma), len(rgb), len(sem), m, classes)
	}
	if r.scale != 1 {
		for i := range sigma {
			sigma[i] *= r.scale
		}
	}
	return sigma, rgb, sem, nil
}

func (r *Renderer) nearFar(box bounds.Box, origins, dirs []r3.Vec) (near, far []float64) {
	near = make([]float64, len(origins))
	far = make([]float64, len(origins))
	for i, iv := range box.NearFarBatch(origins, dirs, r.settings.MinNear) {
		near[i], far[i] = iv.Near, iv.Far
	}
	return near, far
}

// parallel runs fn for every i in [0, n) on a bounded worker group.
func parallel(ctx context.Context, n, workers int, fn func(i int)) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	const per = 256
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for lo := 0; lo < n; lo += per {
		hi := min(lo+per, n)
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				fn(i)
			}
			return nil
		})
	}
	return eg.Wait()
}
