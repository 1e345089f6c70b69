package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical render defaults file.
// This is the single source of truth for all default render values.
const DefaultConfigPath = "config/render.defaults.json"

// RenderConfig represents the root configuration for the renderer, the
// occupancy grid and the per-call render options. Every recognised key is
// listed here; unknown keys are rejected at load time.
type RenderConfig struct {
	// Scene and grid
	Bound         *float64  `json:"bound,omitempty"`
	GridSize      *int      `json:"grid_size,omitempty"`
	DensityScale  *float64  `json:"density_scale,omitempty"`
	MinNear       *float64  `json:"min_near,omitempty"`
	DensityThresh *float64  `json:"density_thresh,omitempty"`
	BgRadius      *float64  `json:"bg_radius,omitempty"`
	AABBTrain     []float64 `json:"aabb_train,omitempty"` // xmin, ymin, zmin, xmax, ymax, zmax
	AABBInfer     []float64 `json:"aabb_infer,omitempty"`

	// Per-call render options
	DtGamma              *float64  `json:"dt_gamma,omitempty"`
	BackgroundColor      []float64 `json:"background_color,omitempty"`
	Perturb              *bool     `json:"perturb,omitempty"`
	ForceAllRays         *bool     `json:"force_all_rays,omitempty"`
	MaxSteps             *int      `json:"max_steps,omitempty"`
	MaxSamplesPerRay     *int      `json:"max_samples_per_ray,omitempty"`
	TerminationThreshold *float64  `json:"termination_threshold,omitempty"`
	MaxRaysPerChunk      *int      `json:"max_rays_per_chunk,omitempty"`
	Classes              *int      `json:"classes,omitempty"`

	// Grid update
	UpdateDecay         *float64 `json:"update_decay,omitempty"`
	UpdateChunkSize     *int     `json:"update_chunk_size,omitempty"`
	ColdStartIterations *int     `json:"cold_start_iterations,omitempty"`
	StepCounterSlots    *int     `json:"step_counter_slots,omitempty"`
	Align               *int     `json:"align,omitempty"`
	JitterGrid          *bool    `json:"jitter_grid,omitempty"`

	// Execution
	Workers *int    `json:"workers,omitempty"`
	Seed    *uint64 `json:"seed,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyRenderConfig returns a RenderConfig with all fields unset.
func EmptyRenderConfig() *RenderConfig {
	return &RenderConfig{}
}

// DefaultRenderConfig returns a RenderConfig with every field populated with
// its default value.
func DefaultRenderConfig() *RenderConfig {
	return &RenderConfig{
		Bound:                ptrFloat64(1),
		GridSize:             ptrInt(128),
		DensityScale:         ptrFloat64(1),
		MinNear:              ptrFloat64(0.2),
		DensityThresh:        ptrFloat64(0.01),
		BgRadius:             ptrFloat64(-1),
		DtGamma:              ptrFloat64(0),
		BackgroundColor:      []float64{1, 1, 1},
		Perturb:              ptrBool(false),
		ForceAllRays:         ptrBool(false),
		MaxSteps:             ptrInt(1024),
		MaxSamplesPerRay:     ptrInt(1024),
		TerminationThreshold: ptrFloat64(1e-4),
		MaxRaysPerChunk:      ptrInt(4096),
		Classes:              ptrInt(1),
		UpdateDecay:          ptrFloat64(0.95),
		UpdateChunkSize:      ptrInt(128),
		ColdStartIterations:  ptrInt(16),
		StepCounterSlots:     ptrInt(16),
		Align:                ptrInt(128),
		JitterGrid:           ptrBool(true),
		Workers:              ptrInt(0),
		Seed:                 ptrUint64(0),
	}
}

// LoadRenderConfig loads a RenderConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file fall back to the Get* defaults; unknown fields are an error.
func LoadRenderConfig(path string) (*RenderConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseRenderConfig(data)
}

// ParseRenderConfig decodes and validates a JSON document.
func ParseRenderConfig(data []byte) (*RenderConfig, error) {
	cfg := EmptyRenderConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	// Trailing garbage after the object is also rejected.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config JSON: unexpected data after object")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *RenderConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/nerf/render/
		"../../../../" + DefaultConfigPath, // from internal/nerf/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadRenderConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *RenderConfig) Validate() error {
	if c.Bound != nil && *c.Bound <= 0 {
		return fmt.Errorf("bound must be positive, got %f", *c.Bound)
	}
	if c.GridSize != nil {
		g := *c.GridSize
		if g < 2 || g > 1024 || g&(g-1) != 0 {
			return fmt.Errorf("grid_size must be a power of two in [2, 1024], got %d", g)
		}
	}
	if c.DensityScale != nil && *c.DensityScale <= 0 {
		return fmt.Errorf("density_scale must be positive, got %f", *c.DensityScale)
	}
	if c.MinNear != nil && *c.MinNear < 0 {
		return fmt.Errorf("min_near must be non-negative, got %f", *c.MinNear)
	}
	if c.DensityThresh != nil && *c.DensityThresh < 0 {
		return fmt.Errorf("density_thresh must be non-negative, got %f", *c.DensityThresh)
	}
	for name, box := range map[string][]float64{"aabb_train": c.AABBTrain, "aabb_infer": c.AABBInfer} {
		if box == nil {
			continue
		}
		if len(box) != 6 {
			return fmt.Errorf("%s must have 6 values, got %d", name, len(box))
		}
		for i := 0; i < 3; i++ {
			if !(box[i] < box[i+3]) {
				return fmt.Errorf("%s min must be < max on axis %d", name, i)
			}
		}
	}
	if c.DtGamma != nil && *c.DtGamma < 0 {
		return fmt.Errorf("dt_gamma must be non-negative, got %f", *c.DtGamma)
	}
	if c.BackgroundColor != nil && len(c.BackgroundColor) != 3 {
		return fmt.Errorf("background_color must have 3 values, got %d", len(c.BackgroundColor))
	}
	if c.MaxSteps != nil && *c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", *c.MaxSteps)
	}
	if c.MaxSamplesPerRay != nil && *c.MaxSamplesPerRay <= 0 {
		return fmt.Errorf("max_samples_per_ray must be positive, got %d", *c.MaxSamplesPerRay)
	}
	if c.TerminationThreshold != nil && (*c.TerminationThreshold < 0 || *c.TerminationThreshold >= 1) {
		return fmt.Errorf("termination_threshold must be in [0, 1), got %f", *c.TerminationThreshold)
	}
	if c.MaxRaysPerChunk != nil && *c.MaxRaysPerChunk < 0 {
		return fmt.Errorf("max_rays_per_chunk must be non-negative, got %d", *c.MaxRaysPerChunk)
	}
	if c.Classes != nil && *c.Classes < 0 {
		return fmt.Errorf("classes must be non-negative, got %d", *c.Classes)
	}
	if c.UpdateDecay != nil && (*c.UpdateDecay < 0 || *c.UpdateDecay > 1) {
		return fmt.Errorf("update_decay must be in [0, 1], got %f", *c.UpdateDecay)
	}
	if c.UpdateChunkSize != nil && *c.UpdateChunkSize <= 0 {
		return fmt.Errorf("update_chunk_size must be positive, got %d", *c.UpdateChunkSize)
	}
	if c.ColdStartIterations != nil && *c.ColdStartIterations < 0 {
		return fmt.Errorf("cold_start_iterations must be non-negative, got %d", *c.ColdStartIterations)
	}
	if c.StepCounterSlots != nil && *c.StepCounterSlots <= 0 {
		return fmt.Errorf("step_counter_slots must be positive, got %d", *c.StepCounterSlots)
	}
	if c.Align != nil && *c.Align < 0 {
		return fmt.Errorf("align must be non-negative, got %d", *c.Align)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// GetBound returns the bound value or the default.
func (c *RenderConfig) GetBound() float64 {
	if c.Bound == nil {
		return 1
	}
	return *c.Bound
}

// GetGridSize returns the grid_size value or the default.
func (c *RenderConfig) GetGridSize() int {
	if c.GridSize == nil {
		return 128
	}
	return *c.GridSize
}

// GetDensityScale returns the density_scale value or the default.
func (c *RenderConfig) GetDensityScale() float64 {
	if c.DensityScale == nil {
		return 1
	}
	return *c.DensityScale
}

// GetMinNear returns the min_near value or the default.
func (c *RenderConfig) GetMinNear() float64 {
	if c.MinNear == nil {
		return 0.2
	}
	return *c.MinNear
}

// GetDensityThresh returns the density_thresh value or the default.
func (c *RenderConfig) GetDensityThresh() float64 {
	if c.DensityThresh == nil {
		return 0.01
	}
	return *c.DensityThresh
}

// GetBgRadius returns the bg_radius value or the default (disabled).
func (c *RenderConfig) GetBgRadius() float64 {
	if c.BgRadius == nil {
		return -1
	}
	return *c.BgRadius
}

// GetAABBTrain returns the training box, defaulting to the bound cube.
func (c *RenderConfig) GetAABBTrain() []float64 {
	if c.AABBTrain == nil {
		return cube(c.GetBound())
	}
	return append([]float64(nil), c.AABBTrain...)
}

// GetAABBInfer returns the inference box, defaulting to the bound cube.
func (c *RenderConfig) GetAABBInfer() []float64 {
	if c.AABBInfer == nil {
		return cube(c.GetBound())
	}
	return append([]float64(nil), c.AABBInfer...)
}

func cube(b float64) []float64 { return []float64{-b, -b, -b, b, b, b} }

// GetDtGamma returns the dt_gamma value or the default.
func (c *RenderConfig) GetDtGamma() float64 {
	if c.DtGamma == nil {
		return 0
	}
	return *c.DtGamma
}

// GetBackgroundColor returns the background colour or the default white.
func (c *RenderConfig) GetBackgroundColor() [3]float64 {
	if len(c.BackgroundColor) != 3 {
		return [3]float64{1, 1, 1}
	}
	return [3]float64{c.BackgroundColor[0], c.BackgroundColor[1], c.BackgroundColor[2]}
}

// GetPerturb returns the perturb value or the default.
func (c *RenderConfig) GetPerturb() bool {
	if c.Perturb == nil {
		return false
	}
	return *c.Perturb
}

// GetForceAllRays returns the force_all_rays value or the default.
func (c *RenderConfig) GetForceAllRays() bool {
	if c.ForceAllRays == nil {
		return false
	}
	return *c.ForceAllRays
}

// GetMaxSteps returns the max_steps value or the default.
func (c *RenderConfig) GetMaxSteps() int {
	if c.MaxSteps == nil {
		return 1024
	}
	return *c.MaxSteps
}

// GetMaxSamplesPerRay returns the max_samples_per_ray value or the default.
func (c *RenderConfig) GetMaxSamplesPerRay() int {
	if c.MaxSamplesPerRay == nil {
		return 1024
	}
	return *c.MaxSamplesPerRay
}

// GetTerminationThreshold returns the termination_threshold value or the default.
func (c *RenderConfig) GetTerminationThreshold() float64 {
	if c.TerminationThreshold == nil {
		return 1e-4
	}
	return *c.TerminationThreshold
}

// GetMaxRaysPerChunk returns the max_rays_per_chunk value or the default.
func (c *RenderConfig) GetMaxRaysPerChunk() int {
	if c.MaxRaysPerChunk == nil {
		return 4096
	}
	return *c.MaxRaysPerChunk
}

// GetClasses returns the classes value or the default.
func (c *RenderConfig) GetClasses() int {
	if c.Classes == nil {
		return 1
	}
	return *c.Classes
}

// GetUpdateDecay returns the update_decay value or the default.
func (c *RenderConfig) GetUpdateDecay() float64 {
	if c.UpdateDecay == nil {
		return 0.95
	}
	return *c.UpdateDecay
}

// GetUpdateChunkSize returns the update_chunk_size value or the default.
func (c *RenderConfig) GetUpdateChunkSize() int {
	if c.UpdateChunkSize == nil {
		return 128
	}
	return *c.UpdateChunkSize
}

// GetColdStartIterations returns the cold_start_iterations value or the default.
func (c *RenderConfig) GetColdStartIterations() int {
	if c.ColdStartIterations == nil {
		return 16
	}
	return *c.ColdStartIterations
}

// GetStepCounterSlots returns the step_counter_slots value or the default.
func (c *RenderConfig) GetStepCounterSlots() int {
	if c.StepCounterSlots == nil {
		return 16
	}
	return *c.StepCounterSlots
}

// GetAlign returns the align value or the default.
func (c *RenderConfig) GetAlign() int {
	if c.Align == nil {
		return 128
	}
	return *c.Align
}

// GetJitterGrid returns the jitter_grid value or the default.
func (c *RenderConfig) GetJitterGrid() bool {
	if c.JitterGrid == nil {
		return true
	}
	return *c.JitterGrid
}

// GetWorkers returns the workers value or the default (0 = GOMAXPROCS).
func (c *RenderConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetSeed returns the seed value or the default.
func (c *RenderConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}
