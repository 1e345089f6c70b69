package march

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volrender/internal/nerf/bounds"
)

// drain runs a stepper to completion without termination and collects the
// samples of every ray in order.
func drain(t *testing.T, s *Stepper, n int) ([][]Sample, []int) {
	t.Helper()
	perRay := make([][]Sample, n)
	var nSteps []int
	for !s.Done() {
		r, err := s.Next(context.Background())
		require.NoError(t, err)
		nSteps = append(nSteps, r.NStep)
		for i, ray := range r.Rays {
			perRay[ray] = append(perRay[ray], r.Range(i)...)
		}
		s.Compact(r, nil)
	}
	return perRay, nSteps
}

func TestStepper_MatchesTrainSampling(t *testing.T) {
	t.Parallel()
	o, d, near, far := raysAlongX(3)
	for _, perturb := range []bool{false, true} {
		p := testParams()
		p.Perturb = perturb

		train, err := Train(context.Background(), halfView(), p, o, d, near, far, 0, 0)
		require.NoError(t, err)

		s, err := NewStepper(halfView(), p, o, d, near, far, 0)
		require.NoError(t, err)
		got, _ := drain(t, s, len(o))

		for i := range o {
			want := train.Range(i)
			require.Len(t, got[i], len(want), "ray %d perturb=%v", i, perturb)
			for j := range want {
				require.Equal(t, want[j], got[i][j])
			}
		}
		assert.Zero(t, s.Alive(), "every ray leaves the box before the step cap")
	}
}

func TestStepper_StepCountGrowsAsRaysDie(t *testing.T) {
	t.Parallel()
	// Two rays cross the box, fourteen miss it.
	box := bounds.Cube(1)
	var o, d []r3.Vec
	var near, far []float64
	for i := 0; i < 16; i++ {
		orig := r3.Vec{X: -2, Y: 5, Z: 0}
		if i < 2 {
			orig.Y = 0.25 * float64(i)
		}
		iv := box.NearFar(orig, r3.Vec{X: 1}, 0.2)
		o = append(o, orig)
		d = append(d, r3.Vec{X: 1})
		near = append(near, iv.Near)
		far = append(far, iv.Far)
	}

	s, err := NewStepper(fullView(), testParams(), o, d, near, far, 0)
	require.NoError(t, err)

	r, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.NStep)
	assert.Len(t, r.Rays, 16)
	assert.Len(t, r.Samples, 2)
	assert.Equal(t, 2, s.Compact(r, nil), "missed rays produce no samples and die")

	r, err = s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MaxStepsPerRound, r.NStep, "16/2 rays alive")
	assert.Equal(t, 0, r.Spans[0].Offset)
	assert.Equal(t, 8, r.Spans[1].Offset)

	// Terminating one ray leaves the other with the whole per-round budget.
	assert.Equal(t, 1, s.Compact(r, []bool{true, false}))
	r, err = s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, r.Rays)
	assert.Equal(t, MaxStepsPerRound, r.NStep)
}

func TestStepper_HardStepCap(t *testing.T) {
	t.Parallel()
	// A path of length 8 at the minimum step 2*sqrt(3)/64 needs ~148 steps.
	p := testParams()
	p.MaxSteps = 64
	p.Box = bounds.Cube(4)
	o := []r3.Vec{{X: -8, Y: 0.1, Z: 0.1}}
	d := []r3.Vec{{X: 1}}
	iv := p.Box.NearFar(o[0], d[0], 0.2)
	near, far := []float64{iv.Near}, []float64{iv.Far}

	s, err := NewStepper(fullView(), p, o, d, near, far, 0)
	require.NoError(t, err)
	samples, nSteps := drain(t, s, 1)

	assert.True(t, s.Done())
	assert.Equal(t, 1, s.Alive(), "the ray is still inside when the cap hits")
	assert.Equal(t, 64, s.Steps())
	assert.Len(t, nSteps, 64, "one ray alive means one step per round")
	assert.Len(t, samples[0], 64)
	assert.Less(t, s.T(0), far[0])

	_, err = s.Next(context.Background())
	assert.Error(t, err)
}

func TestStepper_Errors(t *testing.T) {
	t.Parallel()
	o, d, near, far := raysAlongX(2)
	_, err := NewStepper(fullView(), testParams(), o, d, near[:1], far, 0)
	assert.Error(t, err)

	p := testParams()
	p.Box = bounds.Box{}
	_, err = NewStepper(fullView(), p, o, d, near, far, 0)
	assert.Error(t, err)

	s, err := NewStepper(fullView(), testParams(), nil, nil, nil, nil, 0)
	require.NoError(t, err)
	assert.True(t, s.Done(), "no rays means nothing to do")
}
