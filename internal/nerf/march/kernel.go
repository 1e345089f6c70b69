// Package march generates ray samples gated by the occupancy bitfield.
//
// Train produces a flat, budgeted sample buffer for a batch of rays in two
// passes (count, then fill). Stepper is the round-based inference marcher
// that advances only the rays still alive.
package march

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volrender/internal/nerf/bounds"
	"github.com/banshee-data/volrender/internal/nerf/occupancy"
)

const sqrt3 = 1.7320508075688772

// raysPerTask is the number of rays one parallel task walks.
const raysPerTask = 256

// Sample is one point along a ray.
type Sample struct {
	Pos   r3.Vec
	Dir   r3.Vec
	T     float64 // distance from the ray origin
	Delta float64 // step length the sample represents
	Ray   int     // index of the owning ray within the batch
}

// Params controls stepping.
type Params struct {
	Box              bounds.Box // sample positions are clamped into Box
	DtGamma          float64    // step grows as t*DtGamma between the min and max step
	MaxSteps         int        // sets the minimum step 2*sqrt(3)/MaxSteps; caps inference rounds
	MaxSamplesPerRay int        // per-ray cap for Train
	Perturb          bool       // jitter each ray's start by up to one step
	Seed             uint64
	Workers          int // 0 means GOMAXPROCS
}

// Validate checks that the parameters can drive a march.
func (p Params) Validate() error {
	if err := p.Box.Validate(); err != nil {
		return err
	}
	if p.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be positive, got %d", p.MaxSteps)
	}
	if p.DtGamma < 0 {
		return fmt.Errorf("dt gamma must be non-negative, got %f", p.DtGamma)
	}
	if p.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", p.Workers)
	}
	return nil
}

// kernel is the bitfield-gated stepping shared by both marchers.
type kernel struct {
	view    occupancy.View
	box     bounds.Box
	dtGamma float64
	dtMin   float64
	dtMax   float64
}

func newKernel(view occupancy.View, p Params) kernel {
	return kernel{
		view:    view,
		box:     p.Box,
		dtGamma: p.DtGamma,
		dtMin:   2 * sqrt3 / float64(p.MaxSteps),
		dtMax:   2 * sqrt3 * math.Ldexp(1, view.Cascades-1) / float64(view.Resolution),
	}
}

// stepSize grows linearly with t, clamped to [dtMin, dtMax].
func (k kernel) stepSize(t float64) float64 {
	dt := t * k.dtGamma
	if dt < k.dtMin {
		return k.dtMin
	}
	if dt > k.dtMax {
		return k.dtMax
	}
	return dt
}

// start returns the first distance for a ray, perturbed by up to one step.
func (k kernel) start(near float64, perturb bool, seed uint64, ray int) float64 {
	if !perturb {
		return near
	}
	return near + k.stepSize(near)*uniform(seed, ray)
}

// walk steps from t toward far. Occupied steps call emit (when non-nil) with
// the sample position, distance and step length; empty voxels are skipped to
// their far face. At most limit samples are taken. It returns the distance
// after the last step and the number of samples taken.
func (k kernel) walk(o, d r3.Vec, t, far float64, limit int, emit func(p r3.Vec, t, dt float64)) (float64, int) {
	n := 0
	h := float64(k.view.Resolution)
	for t < far && n < limit {
		p := k.clamp(r3.Add(o, r3.Scale(t, d)))
		dt := k.stepSize(t)
		level := k.view.Level(p, dt)
		x, y, z := k.view.Voxel(level, p)
		if k.view.Bits.Get(k.view.Index(level, x, y, z)) {
			if emit != nil {
				emit(p, t, dt)
			}
			n++
			t += dt
			continue
		}

		mb := k.view.MipBound(level)
		tx := faceDistance(float64(x), p.X, d.X, mb, h)
		ty := faceDistance(float64(y), p.Y, d.Y, mb, h)
		tz := faceDistance(float64(z), p.Z, d.Z, mb, h)
		target := t + math.Max(0, math.Min(tx, math.Min(ty, tz)))
		for {
			t += k.stepSize(t)
			if t >= target {
				break
			}
		}
	}
	return t, n
}

func (k kernel) clamp(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: math.Min(math.Max(p.X, k.box.Min.X), k.box.Max.X),
		Y: math.Min(math.Max(p.Y, k.box.Min.Y), k.box.Max.Y),
		Z: math.Min(math.Max(p.Z, k.box.Min.Z), k.box.Max.Z),
	}
}

// faceDistance is the ray distance from p to the voxel face it exits through
// along one axis.
func faceDistance(n, p, d, mipBound, h float64) float64 {
	if d == 0 {
		return math.Inf(1)
	}
	face := ((n+0.5+0.5*math.Copysign(1, d))/h*2 - 1) * mipBound
	return (face - p) / d
}

// uniform returns a value in [0, 1) that depends only on seed and ray, so
// jitter is unaffected by chunking or worker scheduling.
func uniform(seed uint64, ray int) float64 {
	src := rand.NewPCG(seed, uint64(ray))
	return float64(src.Uint64()>>11) / (1 << 53)
}

// forRanges calls fn over [0, n) split into contiguous ranges on a bounded
// worker group.
func forRanges(ctx context.Context, n, workers int, fn func(lo, hi int)) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for lo := 0; lo < n; lo += raysPerTask {
		hi := min(lo+raysPerTask, n)
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(lo, hi)
			return nil
		})
	}
	return eg.Wait()
}

func checkRays(origins, dirs []r3.Vec, near, far []float64) error {
	n := len(origins)
	if len(dirs) != n || len(near) != n || len(far) != n {
		return fmt.Errorf("ray slices differ in length: origins=%d dirs=%d near=%d far=%d",
			len(origins), len(dirs), len(near), len(far))
	}
	return nil
}
