package occupancy

import (
	"fmt"
	"math"

	"github.com/banshee-data/volrender/internal/config"
	"github.com/banshee-data/volrender/internal/nerf/morton"
)

// GridConfig provides a configuration builder for a Grid. It allows setting
// parameters with defaults and validation before calling NewGrid.
type GridConfig struct {
	Bound            float64 // Half-extent of the outermost cascade's finest box (default: 1)
	Resolution       int     // Voxels per axis per cascade, power of two (default: 128)
	Cascades         int     // 0 derives 1 + ceil(log2(Bound)); any other value must match it
	DensityThreshold float64 // Upper bound on the occupancy threshold (default: 0.01)
	DensityScale     float64 // Multiplier applied to queried densities (default: 1)

	// Update schedule
	ColdStartIterations int  // Full sweeps before switching to stochastic sweeps (default: 16)
	Jitter              bool // Jitter query positions within each voxel (default: true)

	Workers int    // Parallel chunk workers; 0 means GOMAXPROCS
	Seed    uint64 // Seed for jitter and stochastic voxel selection
}

// DefaultGridConfig returns a GridConfig loaded from the canonical defaults file.
// Panics if the file cannot be found; intended for tests and binaries that have
// already validated config availability.
func DefaultGridConfig() *GridConfig {
	return GridConfigFromRender(config.MustLoadDefaultConfig())
}

// GridConfigFromRender builds a GridConfig from a loaded RenderConfig.
func GridConfigFromRender(cfg *config.RenderConfig) *GridConfig {
	return &GridConfig{
		Bound:               cfg.GetBound(),
		Resolution:          cfg.GetGridSize(),
		DensityThreshold:    cfg.GetDensityThresh(),
		DensityScale:        cfg.GetDensityScale(),
		ColdStartIterations: cfg.GetColdStartIterations(),
		Jitter:              cfg.GetJitterGrid(),
		Workers:             cfg.GetWorkers(),
		Seed:                cfg.GetSeed(),
	}
}

// CascadeCount returns 1 + ceil(log2(bound)), the number of nested levels needed
// so the outermost level covers [-bound, bound]^3.
func CascadeCount(bound float64) int {
	return 1 + int(math.Ceil(math.Log2(bound)))
}

// Validate checks if the configuration is valid.
// A cascade count that disagrees with the bound is a configuration error.
func (c *GridConfig) Validate() error {
	if !(c.Bound > 0) || math.IsInf(c.Bound, 0) {
		return fmt.Errorf("Bound must be positive and finite, got %f", c.Bound)
	}
	want := CascadeCount(c.Bound)
	if want < 1 {
		return fmt.Errorf("%w: bound %f yields %d cascades", ErrGridMismatch, c.Bound, want)
	}
	if c.Cascades != 0 && c.Cascades != want {
		return fmt.Errorf("%w: %d cascades configured, bound %f needs %d", ErrGridMismatch, c.Cascades, c.Bound, want)
	}
	if !morton.IsPowerOfTwo(c.Resolution) || c.Resolution < 2 || c.Resolution > morton.MaxResolution {
		return fmt.Errorf("Resolution must be a power of two in [2, %d], got %d", morton.MaxResolution, c.Resolution)
	}
	if c.DensityThreshold < 0 {
		return fmt.Errorf("DensityThreshold must be non-negative, got %f", c.DensityThreshold)
	}
	if c.DensityScale <= 0 {
		return fmt.Errorf("DensityScale must be positive, got %f", c.DensityScale)
	}
	if c.ColdStartIterations < 0 {
		return fmt.Errorf("ColdStartIterations must be non-negative, got %d", c.ColdStartIterations)
	}
	if c.Workers < 0 {
		return fmt.Errorf("Workers must be non-negative, got %d", c.Workers)
	}
	return nil
}

// WithBound sets the scene bound.
func (c *GridConfig) WithBound(b float64) *GridConfig {
	c.Bound = b
	return c
}

// WithResolution sets the per-axis resolution.
func (c *GridConfig) WithResolution(n int) *GridConfig {
	c.Resolution = n
	return c
}

// WithCascades pins the cascade count; it must agree with the bound.
func (c *GridConfig) WithCascades(n int) *GridConfig {
	c.Cascades = n
	return c
}

// WithDensityThreshold sets the fixed density threshold.
func (c *GridConfig) WithDensityThreshold(t float64) *GridConfig {
	c.DensityThreshold = t
	return c
}

// WithDensityScale sets the density multiplier.
func (c *GridConfig) WithDensityScale(s float64) *GridConfig {
	c.DensityScale = s
	return c
}

// WithColdStartIterations sets how many updates use the full sweep.
func (c *GridConfig) WithColdStartIterations(n int) *GridConfig {
	c.ColdStartIterations = n
	return c
}

// WithJitter enables or disables in-voxel jitter of query positions.
func (c *GridConfig) WithJitter(enabled bool) *GridConfig {
	c.Jitter = enabled
	return c
}

// WithWorkers sets the number of parallel chunk workers.
func (c *GridConfig) WithWorkers(n int) *GridConfig {
	c.Workers = n
	return c
}

// WithSeed sets the random seed.
func (c *GridConfig) WithSeed(s uint64) *GridConfig {
	c.Seed = s
	return c
}
