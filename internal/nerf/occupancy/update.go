package occupancy

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volrender/internal/nerf/morton"
)

// DensityField evaluates scalar density at world positions. Implementations
// must be safe for concurrent use and deterministic for identical input.
type DensityField interface {
	Density(ctx context.Context, positions []r3.Vec) ([]float64, error)
}

// UpdateStats summarises one grid update.
type UpdateStats struct {
	Iteration     int // iteration count after the update
	FullSweep     bool
	Samples       int // positions queried
	MeanDensity   float64
	Threshold     float64
	Occupied      int
	OccupancyRate float64
	Duration      time.Duration
}

// Update re-estimates the grid against field. While fewer than
// ColdStartIterations updates have run every voxel of every cascade is
// queried; afterwards each cascade queries Resolution^3/4 uniformly drawn
// voxels plus as many drawn from currently non-empty voxels.
//
// Cells where both the old and the fresh estimate are valid become
// max(old*decay, fresh). Untrained cells are never touched. The threshold is
// then min(mean of the clamped grid, DensityThreshold) and the bitfield is
// rebuilt. chunkSize bounds each field query to chunkSize^3 positions.
func (g *Grid) Update(ctx context.Context, field DensityField, decay float64, chunkSize int) (UpdateStats, error) {
	if field == nil {
		return UpdateStats{}, fmt.Errorf("nil density field")
	}
	if !(decay >= 0 && decay <= 1) {
		return UpdateStats{}, fmt.Errorf("decay must be in [0, 1], got %f", decay)
	}
	if chunkSize <= 0 {
		return UpdateStats{}, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	start := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	fresh := make([]float64, len(g.density))
	for i := range fresh {
		fresh[i] = Untrained
	}

	full := g.iteration < g.cfg.ColdStartIterations
	var (
		samples int
		err     error
	)
	if full {
		samples, err = g.fullSweep(ctx, field, fresh, chunkSize)
	} else {
		samples, err = g.stochasticSweep(ctx, field, fresh, chunkSize)
	}
	if err != nil {
		return UpdateStats{}, fmt.Errorf("occupancy update %d: %w", g.iteration, err)
	}

	for i, old := range g.density {
		if v := fresh[i]; old >= 0 && v >= 0 {
			g.density[i] = math.Max(old*decay, v)
		}
	}
	g.iteration++
	g.meanDensity = clampedMean(g.density)
	g.threshold = math.Min(g.meanDensity, g.cfg.DensityThreshold)
	pack(g.bits, g.density, g.threshold)

	occupied := g.bits.Count()
	g.lastUpdate = UpdateStats{
		Iteration:     g.iteration,
		FullSweep:     full,
		Samples:       samples,
		MeanDensity:   g.meanDensity,
		Threshold:     g.threshold,
		Occupied:      occupied,
		OccupancyRate: float64(occupied) / float64(len(g.density)),
		Duration:      time.Since(start),
	}
	diagf("update %d: full=%v samples=%d mean=%.6f thresh=%.6f occupied=%d/%d (%.2f%%) took=%v",
		g.iteration, full, samples, g.meanDensity, g.threshold, occupied, len(g.density),
		100*g.lastUpdate.OccupancyRate, g.lastUpdate.Duration)
	return g.lastUpdate, nil
}

type sweepBlock struct {
	level      int
	x0, y0, z0 int
}

// fullSweep queries every voxel, blockwise, writing scaled densities into fresh.
func (g *Grid) fullSweep(ctx context.Context, field DensityField, fresh []float64, chunkSize int) (int, error) {
	res := g.cfg.Resolution
	s := chunkSize
	if s > res {
		s = res
	}
	var blocks []sweepBlock
	for level := 0; level < g.cascades; level++ {
		for x0 := 0; x0 < res; x0 += s {
			for y0 := 0; y0 < res; y0 += s {
				for z0 := 0; z0 < res; z0 += s {
					blocks = append(blocks, sweepBlock{level, x0, y0, z0})
				}
			}
		}
	}

	iter := uint64(g.iteration)
	err := g.parallel(ctx, len(blocks), func(ctx context.Context, bi int) error {
		b := blocks[bi]
		rng := rand.New(rand.NewPCG(g.cfg.Seed, streamID(iter, uint64(bi))))
		hgs := g.halfVoxel(b.level)
		x1, y1, z1 := min(b.x0+s, res), min(b.y0+s, res), min(b.z0+s, res)

		n := (x1 - b.x0) * (y1 - b.y0) * (z1 - b.z0)
		idx := make([]int, 0, n)
		pos := make([]r3.Vec, 0, n)
		for x := b.x0; x < x1; x++ {
			for y := b.y0; y < y1; y++ {
				for z := b.z0; z < z1; z++ {
					ux, uy, uz := uint32(x), uint32(y), uint32(z)
					p := CellCenter(b.level, res, g.cfg.Bound, ux, uy, uz)
					if g.cfg.Jitter {
						p = jitter(rng, p, hgs)
					}
					idx = append(idx, b.level*g.cells+int(morton.Encode(ux, uy, uz)))
					pos = append(pos, p)
				}
			}
		}
		sigma, err := queryDensity(ctx, field, pos)
		if err != nil {
			return err
		}
		for i, cell := range idx {
			fresh[cell] = sigma[i] * g.cfg.DensityScale
		}
		tracef("full sweep block %d/%d: level=%d origin=(%d,%d,%d) voxels=%d", bi+1, len(blocks), b.level, b.x0, b.y0, b.z0, n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return g.cascades * g.cells, nil
}

// stochasticSweep queries uniformly drawn voxels plus voxels resampled from
// the currently non-empty set of each cascade. When a voxel is drawn more than
// once the last draw in list order wins.
func (g *Grid) stochasticSweep(ctx context.Context, field DensityField, fresh []float64, chunkSize int) (int, error) {
	res := g.cfg.Resolution
	n := g.cells / 4
	iter := uint64(g.iteration)

	var (
		cells []int
		pos   []r3.Vec
	)
	for level := 0; level < g.cascades; level++ {
		rng := rand.New(rand.NewPCG(g.cfg.Seed, streamID(iter, uint64(1<<32+level))))
		base := level * g.cells
		picks := make([]int, 0, 2*n)
		for i := 0; i < n; i++ {
			picks = append(picks, rng.IntN(g.cells))
		}
		var occupied []int
		for i, v := range g.density[base : base+g.cells] {
			if v > 0 {
				occupied = append(occupied, i)
			}
		}
		if len(occupied) > 0 {
			for i := 0; i < n; i++ {
				picks = append(picks, occupied[rng.IntN(len(occupied))])
			}
		}

		hgs := g.halfVoxel(level)
		for _, m := range picks {
			x, y, z := morton.Decode(uint32(m))
			p := CellCenter(level, res, g.cfg.Bound, x, y, z)
			if g.cfg.Jitter {
				p = jitter(rng, p, hgs)
			}
			cells = append(cells, base+m)
			pos = append(pos, p)
		}
		tracef("stochastic sweep level %d: uniform=%d resampled=%d occupied=%d", level, n, len(picks)-n, len(occupied))
	}

	batch := chunkSize * chunkSize * chunkSize
	if batch > g.cells || batch <= 0 {
		batch = g.cells
	}
	sigma := make([]float64, len(pos))
	chunks := (len(pos) + batch - 1) / batch
	err := g.parallel(ctx, chunks, func(ctx context.Context, ci int) error {
		lo := ci * batch
		hi := min(lo+batch, len(pos))
		out, err := queryDensity(ctx, field, pos[lo:hi])
		if err != nil {
			return err
		}
		copy(sigma[lo:hi], out)
		return nil
	})
	if err != nil {
		return 0, err
	}
	for i, cell := range cells {
		fresh[cell] = sigma[i] * g.cfg.DensityScale
	}
	return len(pos), nil
}

// parallel runs fn for i in [0, n) on a bounded worker group, stopping at the
// first error or when ctx is cancelled.
func (g *Grid) parallel(ctx context.Context, n int, fn func(context.Context, int) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workerCount(g.cfg.Workers))
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i)
		})
	}
	return eg.Wait()
}

func queryDensity(ctx context.Context, field DensityField, pos []r3.Vec) ([]float64, error) {
	sigma, err := field.Density(ctx, pos)
	if err != nil {
		return nil, fmt.Errorf("density query: %w", err)
	}
	if len(sigma) != len(pos) {
		return nil, fmt.Errorf("density query returned %d values for %d positions", len(sigma), len(pos))
	}
	return sigma, nil
}

func jitter(rng *rand.Rand, p r3.Vec, hgs float64) r3.Vec {
	return r3.Vec{
		X: p.X + (rng.Float64()*2-1)*hgs,
		Y: p.Y + (rng.Float64()*2-1)*hgs,
		Z: p.Z + (rng.Float64()*2-1)*hgs,
	}
}

// clampedMean is the mean of max(v, 0) over the grid. Values are summed as
// offsets from the first cell with Neumaier compensation, so a uniform grid
// yields exactly its cell value and the threshold never lands an ulp below it.
func clampedMean(density []float64) float64 {
	if len(density) == 0 {
		return 0
	}
	ref := math.Max(density[0], 0)
	var sum, comp float64
	for _, v := range density {
		d := math.Max(v, 0) - ref
		t := sum + d
		if math.Abs(sum) >= math.Abs(d) {
			comp += (sum - t) + d
		} else {
			comp += (d - t) + sum
		}
		sum = t
	}
	return ref + (sum+comp)/float64(len(density))
}

// streamID derives a PCG stream from an update iteration and a work item so
// random draws do not depend on worker scheduling.
func streamID(iteration, item uint64) uint64 {
	z := iteration*0x9E3779B97F4A7C15 + item + 1
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func workerCount(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}
