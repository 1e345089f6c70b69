package occupancy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volrender/internal/nerf/morton"
)

// ErrGridMismatch reports a grid whose dimensions disagree with its bound or
// with a snapshot being restored into it.
var ErrGridMismatch = errors.New("occupancy grid mismatch")

// Untrained marks a cell no training camera can see. Such cells are never
// density-updated and never occupied.
const Untrained = -1.0

// Grid is the cascaded occupancy grid. Level k covers the cube of half-extent
// min(2^k, bound) at Resolution^3 voxels; cells are stored cascade-major with
// Morton order inside each cascade.
//
// Marchers read the grid through Read, which holds a shared lock; Update,
// MarkUntrained, Reset and Restore take the exclusive lock and run to
// completion before readers resume.
type Grid struct {
	mu sync.RWMutex

	cfg      GridConfig
	cascades int
	cells    int // per cascade

	density     []float64
	bits        Bitfield
	meanDensity float64
	threshold   float64
	iteration   int
	lastUpdate  UpdateStats
}

// NewGrid validates cfg and allocates an all-zero grid with an empty bitfield.
func NewGrid(cfg *GridConfig) (*Grid, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil grid config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid config: %w", err)
	}
	c := *cfg
	c.Cascades = CascadeCount(c.Bound)
	cells := c.Resolution * c.Resolution * c.Resolution
	g := &Grid{
		cfg:      c,
		cascades: c.Cascades,
		cells:    cells,
		density:  make([]float64, c.Cascades*cells),
		bits:     NewBitfield(c.Cascades * cells),
	}
	diagf("grid created: bound=%.3f cascades=%d resolution=%d cells=%d",
		c.Bound, g.cascades, c.Resolution, len(g.density))
	return g, nil
}

// Config returns a copy of the grid's configuration with Cascades resolved.
func (g *Grid) Config() GridConfig { return g.cfg }

// Cascades returns the number of cascade levels.
func (g *Grid) Cascades() int { return g.cascades }

// Resolution returns the per-axis voxel count of each cascade.
func (g *Grid) Resolution() int { return g.cfg.Resolution }

// Bound returns the scene bound the grid was built for.
func (g *Grid) Bound() float64 { return g.cfg.Bound }

// Iteration returns how many updates have been applied.
func (g *Grid) Iteration() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.iteration
}

// MeanDensity returns the mean of the non-negative grid after the last update.
func (g *Grid) MeanDensity() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.meanDensity
}

// Threshold returns the occupancy threshold used for the current bitfield.
func (g *Grid) Threshold() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.threshold
}

// LastUpdate returns the statistics of the most recent update.
func (g *Grid) LastUpdate() UpdateStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastUpdate
}

// DensityCopy returns a copy of the dense grid.
func (g *Grid) DensityCopy() []float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]float64, len(g.density))
	copy(out, g.density)
	return out
}

// Read calls fn with a read-only view of the bitfield while holding the
// shared lock. The view must not be retained after fn returns.
func (g *Grid) Read(fn func(View) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.view())
}

func (g *Grid) view() View {
	return View{
		Bits:       g.bits,
		Cascades:   g.cascades,
		Resolution: g.cfg.Resolution,
		Bound:      g.cfg.Bound,
	}
}

// Reset zeroes the grid, the bitfield and the update counters. Untrained
// markings are cleared as well.
func (g *Grid) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.density {
		g.density[i] = 0
	}
	for i := range g.bits {
		g.bits[i] = 0
	}
	g.meanDensity = 0
	g.threshold = 0
	g.iteration = 0
	g.lastUpdate = UpdateStats{}
	opsf("grid reset: cascades=%d resolution=%d", g.cascades, g.cfg.Resolution)
}

// View is a read-only handle on the occupancy bitfield and its geometry.
type View struct {
	Bits       Bitfield
	Cascades   int
	Resolution int
	Bound      float64
}

// MipBound returns the half-extent of cascade level.
func (v View) MipBound(level int) float64 {
	return math.Min(math.Ldexp(1, level), v.Bound)
}

// Level picks the cascade for a sample at p taken with step dt: the coarsest
// of the level containing p and the level whose voxels match dt.
func (v View) Level(p r3.Vec, dt float64) int {
	mx := math.Max(math.Abs(p.X), math.Max(math.Abs(p.Y), math.Abs(p.Z)))
	_, posExp := math.Frexp(mx)
	_, dtExp := math.Frexp(dt * float64(v.Resolution) * 0.5)
	level := posExp
	if dtExp > level {
		level = dtExp
	}
	if level < 0 {
		level = 0
	}
	if level > v.Cascades-1 {
		level = v.Cascades - 1
	}
	return level
}

// Voxel returns the integer voxel coordinates of p within cascade level.
func (v View) Voxel(level int, p r3.Vec) (x, y, z uint32) {
	inv := 1 / v.MipBound(level)
	h := float64(v.Resolution)
	return voxelAxis(p.X*inv, h), voxelAxis(p.Y*inv, h), voxelAxis(p.Z*inv, h)
}

func voxelAxis(u, h float64) uint32 {
	n := 0.5 * (u + 1) * h
	if n < 0 || math.IsNaN(n) {
		return 0
	}
	if n > h-1 {
		n = h - 1
	}
	return uint32(n)
}

// Index returns the flat cell index of a voxel in cascade level.
func (v View) Index(level int, x, y, z uint32) int {
	return level*v.Resolution*v.Resolution*v.Resolution + int(morton.Encode(x, y, z))
}

// Occupied reports whether the voxel containing p at cascade level is occupied.
func (v View) Occupied(level int, p r3.Vec) bool {
	x, y, z := v.Voxel(level, p)
	return v.Bits.Get(v.Index(level, x, y, z))
}

// CellCenter returns the world position sampled for voxel (x, y, z) of
// cascade level. Centers span [-(b-h), b-h] so the outermost samples sit half
// a voxel inside the cascade, where b is the mip bound and h its half voxel.
func CellCenter(level, resolution int, bound float64, x, y, z uint32) r3.Vec {
	b := math.Min(math.Ldexp(1, level), bound)
	hgs := b / float64(resolution)
	scale := b - hgs
	n := float64(resolution - 1)
	return r3.Vec{
		X: (2*float64(x)/n - 1) * scale,
		Y: (2*float64(y)/n - 1) * scale,
		Z: (2*float64(z)/n - 1) * scale,
	}
}

// halfVoxel returns half the voxel size at cascade level.
func (g *Grid) halfVoxel(level int) float64 {
	return math.Min(math.Ldexp(1, level), g.cfg.Bound) / float64(g.cfg.Resolution)
}
