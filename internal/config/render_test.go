package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultRenderConfig(t *testing.T) {
	cfg := DefaultRenderConfig()

	if cfg.GridSize == nil || *cfg.GridSize != 128 {
		t.Errorf("Expected GridSize 128, got %v", cfg.GridSize)
	}
	if cfg.MinNear == nil || *cfg.MinNear != 0.2 {
		t.Errorf("Expected MinNear 0.2, got %v", cfg.MinNear)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	// Getters on an empty config agree with the populated defaults.
	empty := EmptyRenderConfig()
	if empty.GetGridSize() != cfg.GetGridSize() {
		t.Errorf("GetGridSize() = %d, want %d", empty.GetGridSize(), cfg.GetGridSize())
	}
	if empty.GetTerminationThreshold() != 1e-4 {
		t.Errorf("GetTerminationThreshold() = %f, want 1e-4", empty.GetTerminationThreshold())
	}
	if empty.GetBackgroundColor() != [3]float64{1, 1, 1} {
		t.Errorf("GetBackgroundColor() = %v, want white", empty.GetBackgroundColor())
	}
	if !empty.GetJitterGrid() {
		t.Error("GetJitterGrid() = false, want true")
	}
	if got := empty.GetAABBInfer(); len(got) != 6 || got[0] != -1 || got[5] != 1 {
		t.Errorf("GetAABBInfer() = %v, want unit cube", got)
	}
}

func TestLoadRenderConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "render.json")

	testJSON := `{
  "bound": 4,
  "grid_size": 64,
  "perturb": true,
  "max_rays_per_chunk": 0,
  "background_color": [0, 0, 0],
  "aabb_train": [-4, -4, -2, 4, 4, 2]
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadRenderConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetBound() != 4 {
		t.Errorf("GetBound() = %f, want 4", cfg.GetBound())
	}
	if cfg.GetGridSize() != 64 {
		t.Errorf("GetGridSize() = %d, want 64", cfg.GetGridSize())
	}
	if !cfg.GetPerturb() {
		t.Error("GetPerturb() = false, want true")
	}
	if cfg.GetMaxRaysPerChunk() != 0 {
		t.Errorf("GetMaxRaysPerChunk() = %d, want 0", cfg.GetMaxRaysPerChunk())
	}
	if cfg.GetBackgroundColor() != [3]float64{} {
		t.Errorf("GetBackgroundColor() = %v, want black", cfg.GetBackgroundColor())
	}
	// Unset fields keep their defaults; the inference box follows the bound.
	if cfg.GetMaxSteps() != 1024 {
		t.Errorf("GetMaxSteps() = %d, want 1024", cfg.GetMaxSteps())
	}
	if got := cfg.GetAABBInfer(); got[0] != -4 || got[5] != 4 {
		t.Errorf("GetAABBInfer() = %v, want bound 4 cube", got)
	}
	if got := cfg.GetAABBTrain(); got[2] != -2 {
		t.Errorf("GetAABBTrain() = %v, want explicit box", got)
	}
}

func TestLoadRenderConfig_RejectsUnknownKeys(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "render.json")
	if err := os.WriteFile(configPath, []byte(`{"bound": 2, "dt_gama": 0.1}`), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadRenderConfig(configPath)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "dt_gama") {
		t.Errorf("error should name the unknown key, got %v", err)
	}
}

func TestLoadRenderConfig_BadInputs(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadRenderConfig(filepath.Join(tmpDir, "render.yaml")); err == nil {
		t.Error("expected error for non-json extension")
	}
	if _, err := LoadRenderConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	trailing := filepath.Join(tmpDir, "trailing.json")
	if err := os.WriteFile(trailing, []byte(`{"bound": 2} {"bound": 3}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRenderConfig(trailing); err == nil {
		t.Error("expected error for trailing data")
	}
}

func TestRenderConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"negative bound", `{"bound": -1}`},
		{"grid size not power of two", `{"grid_size": 96}`},
		{"grid size too large", `{"grid_size": 2048}`},
		{"short background", `{"background_color": [1, 1]}`},
		{"bad box", `{"aabb_infer": [1, 0, 0, 0, 1, 1]}`},
		{"threshold out of range", `{"termination_threshold": 1.5}`},
		{"decay out of range", `{"update_decay": 1.2}`},
		{"zero max steps", `{"max_steps": 0}`},
		{"zero step counter slots", `{"step_counter_slots": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRenderConfig([]byte(tt.json)); err == nil {
				t.Errorf("expected validation error for %s", tt.json)
			}
		})
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetGridSize() != 128 {
		t.Errorf("GetGridSize() = %d, want 128", cfg.GetGridSize())
	}
	if cfg.GetColdStartIterations() != 16 {
		t.Errorf("cold start iterations = %d, want 16", cfg.GetColdStartIterations())
	}
}
