package render

import (
	"fmt"

	"github.com/banshee-data/volrender/internal/config"
	"github.com/banshee-data/volrender/internal/nerf/bounds"
	"github.com/banshee-data/volrender/internal/nerf/occupancy"
)

// Options are the per-call render settings.
type Options struct {
	Classes              int        // width of the semantic output
	DtGamma              float64    // step growth with distance; 0 keeps the minimum step
	BackgroundColor      [3]float64 // used when no background model applies
	Perturb              bool       // jitter ray starts
	ForceAllRays         bool       // training: size the budget for every ray at full length
	MaxSteps             int
	MaxSamplesPerRay     int     // training per-ray cap
	TerminationThreshold float64 // transmittance below which a ray stops
	MaxRaysPerChunk      int     // inference chunk size; 0 renders in one launch
}

// OptionsFromConfig builds Options from a loaded RenderConfig.
func OptionsFromConfig(cfg *config.RenderConfig) Options {
	return Options{
		Classes:              cfg.GetClasses(),
		DtGamma:              cfg.GetDtGamma(),
		BackgroundColor:      cfg.GetBackgroundColor(),
		Perturb:              cfg.GetPerturb(),
		ForceAllRays:         cfg.GetForceAllRays(),
		MaxSteps:             cfg.GetMaxSteps(),
		MaxSamplesPerRay:     cfg.GetMaxSamplesPerRay(),
		TerminationThreshold: cfg.GetTerminationThreshold(),
		MaxRaysPerChunk:      cfg.GetMaxRaysPerChunk(),
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.Classes < 1 {
		return fmt.Errorf("classes must be at least 1, got %d", o.Classes)
	}
	if o.DtGamma < 0 {
		return fmt.Errorf("dt_gamma must be non-negative, got %f", o.DtGamma)
	}
	if o.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", o.MaxSteps)
	}
	if o.MaxSamplesPerRay <= 0 {
		return fmt.Errorf("max_samples_per_ray must be positive, got %d", o.MaxSamplesPerRay)
	}
	if o.TerminationThreshold < 0 || o.TerminationThreshold >= 1 {
		return fmt.Errorf("termination_threshold must be in [0, 1), got %f", o.TerminationThreshold)
	}
	if o.MaxRaysPerChunk < 0 {
		return fmt.Errorf("max_rays_per_chunk must be non-negative, got %d", o.MaxRaysPerChunk)
	}
	return nil
}

// Settings fix a Renderer for its lifetime.
type Settings struct {
	Grid      *occupancy.GridConfig
	MinNear   float64
	BgRadius  float64 // > 0 enables the background model
	AABBTrain bounds.Box
	AABBInfer bounds.Box

	UpdateDecay      float64
	UpdateChunkSize  int
	StepCounterSlots int
	Align            int // training budget granularity
	Workers          int
	Seed             uint64
}

// SettingsFromConfig builds Settings from a loaded RenderConfig.
func SettingsFromConfig(cfg *config.RenderConfig) (Settings, error) {
	train, err := bounds.FromSlice(cfg.GetAABBTrain())
	if err != nil {
		return Settings{}, fmt.Errorf("aabb_train: %w", err)
	}
	infer, err := bounds.FromSlice(cfg.GetAABBInfer())
	if err != nil {
		return Settings{}, fmt.Errorf("aabb_infer: %w", err)
	}
	return Settings{
		Grid:             occupancy.GridConfigFromRender(cfg),
		MinNear:          cfg.GetMinNear(),
		BgRadius:         cfg.GetBgRadius(),
		AABBTrain:        train,
		AABBInfer:        infer,
		UpdateDecay:      cfg.GetUpdateDecay(),
		UpdateChunkSize:  cfg.GetUpdateChunkSize(),
		StepCounterSlots: cfg.GetStepCounterSlots(),
		Align:            cfg.GetAlign(),
		Workers:          cfg.GetWorkers(),
		Seed:             cfg.GetSeed(),
	}, nil
}

// Validate checks the settings.
func (s Settings) Validate() error {
	if s.Grid == nil {
		return fmt.Errorf("grid config is required")
	}
	if err := s.Grid.Validate(); err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	if s.MinNear < 0 {
		return fmt.Errorf("min_near must be non-negative, got %f", s.MinNear)
	}
	if err := s.AABBTrain.Validate(); err != nil {
		return fmt.Errorf("aabb_train: %w", err)
	}
	if err := s.AABBInfer.Validate(); err != nil {
		return fmt.Errorf("aabb_infer: %w", err)
	}
	if !(s.UpdateDecay >= 0 && s.UpdateDecay <= 1) {
		return fmt.Errorf("update_decay must be in [0, 1], got %f", s.UpdateDecay)
	}
	if s.UpdateChunkSize <= 0 {
		return fmt.Errorf("update_chunk_size must be positive, got %d", s.UpdateChunkSize)
	}
	if s.StepCounterSlots <= 0 {
		return fmt.Errorf("step_counter_slots must be positive, got %d", s.StepCounterSlots)
	}
	if s.Align <= 0 {
		return fmt.Errorf("align must be positive, got %d", s.Align)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", s.Workers)
	}
	return nil
}
