package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/volrender/internal/config"
)

func TestStepCounter_MeanTruncates(t *testing.T) {
	c := NewStepCounter(4)
	_, ok := c.Mean()
	assert.False(t, ok, "empty counter has no mean")

	c.Record(10, 2)
	c.Record(15, 2)
	mean, ok := c.Mean()
	require.True(t, ok)
	assert.Equal(t, 12, mean)
	assert.Equal(t, 2, c.Launches())
}

func TestStepCounter_RingOverwritesOldest(t *testing.T) {
	c := NewStepCounter(2)
	c.Record(10, 1)
	c.Record(20, 1)
	c.Record(30, 1)
	mean, ok := c.Mean()
	require.True(t, ok)
	assert.Equal(t, 25, mean)
	assert.Equal(t, 2, c.Launches())

	c.Reset()
	assert.Zero(t, c.Launches())
	_, ok = c.Mean()
	assert.False(t, ok)

	c.Record(7, 1)
	mean, _ = c.Mean()
	assert.Equal(t, 7, mean)
}

func TestOptions_Validate(t *testing.T) {
	valid := testOptions(2)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero classes", func(o *Options) { o.Classes = 0 }},
		{"negative dt_gamma", func(o *Options) { o.DtGamma = -0.1 }},
		{"zero max_steps", func(o *Options) { o.MaxSteps = 0 }},
		{"zero max_samples_per_ray", func(o *Options) { o.MaxSamplesPerRay = 0 }},
		{"termination threshold of one", func(o *Options) { o.TerminationThreshold = 1 }},
		{"negative termination threshold", func(o *Options) { o.TerminationThreshold = -1e-4 }},
		{"negative chunk", func(o *Options) { o.MaxRaysPerChunk = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.mutate(&o)
			assert.Error(t, o.Validate())
		})
	}
}

func TestSettings_Validate(t *testing.T) {
	require.NoError(t, testSettings().Validate())

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"negative min_near", func(s *Settings) { s.MinNear = -1 }},
		{"decay above one", func(s *Settings) { s.UpdateDecay = 1.5 }},
		{"zero chunk size", func(s *Settings) { s.UpdateChunkSize = 0 }},
		{"zero counter slots", func(s *Settings) { s.StepCounterSlots = 0 }},
		{"negative workers", func(s *Settings) { s.Workers = -1 }},
		{"bad resolution", func(s *Settings) { s.Grid.Resolution = 12 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestFromConfig_Defaults(t *testing.T) {
	cfg := config.MustLoadDefaultConfig()

	opts := OptionsFromConfig(cfg)
	require.NoError(t, opts.Validate())
	assert.Equal(t, 1, opts.Classes)
	assert.Equal(t, 1024, opts.MaxSteps)
	assert.Equal(t, 4096, opts.MaxRaysPerChunk)
	assert.Equal(t, [3]float64{1, 1, 1}, opts.BackgroundColor)

	s, err := SettingsFromConfig(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	assert.Equal(t, 128, s.Align)
	assert.Equal(t, 16, s.StepCounterSlots)
	assert.Equal(t, 128, s.Grid.Resolution)
	assert.InDelta(t, 0.95, s.UpdateDecay, 1e-12)
}
