package occupancy

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volrender/internal/nerf/morton"
)

// Intrinsics are pinhole camera parameters in pixels.
type Intrinsics struct {
	Fx, Fy float64
	Cx, Cy float64
}

// Camera is a camera-to-world pose: world = Rotation*cam + Translation.
type Camera struct {
	Rotation    *r3.Mat
	Translation r3.Vec
}

// NewCamera builds a Camera from a row-major 3x4 camera-to-world matrix.
func NewCamera(pose [12]float64) Camera {
	return Camera{
		Rotation: r3.NewMat([]float64{
			pose[0], pose[1], pose[2],
			pose[4], pose[5], pose[6],
			pose[8], pose[9], pose[10],
		}),
		Translation: r3.Vec{X: pose[3], Y: pose[7], Z: pose[11]},
	}
}

// ToCamera maps a world point into the camera frame.
func (c Camera) ToCamera(p r3.Vec) r3.Vec {
	return c.Rotation.MulVecTrans(r3.Sub(p, c.Translation))
}

// MarkUntrained flags every voxel that lies outside all camera frusta as
// Untrained. A voxel counts as seen when its center is in front of a camera
// and within the image plane widened by one voxel. Cells already seen keep
// their value; the pass is meant to run once before training.
// It returns the number of cells marked.
func (g *Grid) MarkUntrained(ctx context.Context, cams []Camera, intr Intrinsics, chunkSize int) (int, error) {
	if len(cams) == 0 {
		return 0, fmt.Errorf("no cameras given")
	}
	if intr.Fx == 0 || intr.Fy == 0 {
		return 0, fmt.Errorf("focal length must be non-zero, got fx=%f fy=%f", intr.Fx, intr.Fy)
	}
	if chunkSize <= 0 {
		return 0, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	for i, c := range cams {
		if c.Rotation == nil {
			return 0, fmt.Errorf("camera %d has no rotation", i)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	res := g.cfg.Resolution
	s := min(chunkSize, res)
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

	unseen := make([]bool, len(g.density))
	err := g.parallel(ctx, len(blocks), func(ctx context.Context, bi int) error {
		b := blocks[bi]
		margin := 2 * g.halfVoxel(b.level)
		for x := b.x0; x < min(b.x0+s, res); x++ {
			for y := b.y0; y < min(b.y0+s, res); y++ {
				for z := b.z0; z < min(b.z0+s, res); z++ {
					ux, uy, uz := uint32(x), uint32(y), uint32(z)
					p := CellCenter(b.level, res, g.cfg.Bound, ux, uy, uz)
					if !seenByAny(cams, intr, p, margin) {
						unseen[b.level*g.cells+int(morton.Encode(ux, uy, uz))] = true
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark untrained: %w", err)
	}

	marked := 0
	for i, u := range unseen {
		if u {
			g.density[i] = Untrained
			marked++
		}
	}
	pack(g.bits, g.density, g.threshold)
	diagf("marked %d/%d cells untrained from %d cameras", marked, len(g.density), len(cams))
	return marked, nil
}

func seenByAny(cams []Camera, intr Intrinsics, p r3.Vec, margin float64) bool {
	for _, c := range cams {
		q := c.ToCamera(p)
		if q.Z <= 0 {
			continue
		}
		if math.Abs(q.X) < intr.Cx/intr.Fx*q.Z+margin && math.Abs(q.Y) < intr.Cy/intr.Fy*q.Z+margin {
			return true
		}
	}
	return false
}
