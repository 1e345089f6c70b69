package occupancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var narrowLens = Intrinsics{Fx: 100, Fy: 100, Cx: 10, Cy: 10}

func identityCamera(t r3.Vec) Camera {
	return NewCamera([12]float64{
		1, 0, 0, t.X,
		0, 1, 0, t.Y,
		0, 0, 1, t.Z,
	})
}

func TestCamera_ToCamera(t *testing.T) {
	t.Parallel()
	c := identityCamera(r3.Vec{X: 1, Y: 2, Z: 3})
	assert.Equal(t, r3.Vec{Z: 1}, c.ToCamera(r3.Vec{X: 1, Y: 2, Z: 4}))

	// Quarter turn about z: the camera's x axis points along world y.
	rot := NewCamera([12]float64{
		0, -1, 0, 0,
		1, 0, 0, 0,
		0, 0, 1, 0,
	})
	got := rot.ToCamera(r3.Vec{Y: 1})
	assert.InDelta(t, 1.0, got.X, 1e-12)
	assert.InDelta(t, 0.0, got.Y, 1e-12)
}

func TestMarkUntrained_CellsNeverUpdated(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig())
	ctx := context.Background()
	total := 2 * 16 * 16 * 16

	marked, err := g.MarkUntrained(ctx, []Camera{identityCamera(r3.Vec{Z: -3})}, narrowLens, 8)
	require.NoError(t, err)
	require.Greater(t, marked, 0)
	require.Less(t, marked, total)

	for i := 0; i < 3; i++ {
		_, err = g.Update(ctx, constantField(5), 0.95, 16)
		require.NoError(t, err)
	}
	untrained := 0
	for _, v := range g.DensityCopy() {
		switch v {
		case Untrained:
			untrained++
		case 5:
		default:
			t.Fatalf("unexpected cell value %v", v)
		}
	}
	assert.Equal(t, marked, untrained)
	assert.Equal(t, total-marked, bitsOf(t, g).Count())
	assert.Equal(t, marked, g.GridStatus()["untrained_cells"])

	require.NoError(t, g.Read(func(v View) error {
		assert.True(t, v.Occupied(0, r3.Vec{X: 0.05, Y: 0.05, Z: 0.05}), "on-axis cell is seen")
		assert.False(t, v.Occupied(0, r3.Vec{X: 0.9, Y: 0.9}))
		return nil
	}))
}

func TestMarkUntrained_CameraFacingAway(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig())
	ctx := context.Background()

	marked, err := g.MarkUntrained(ctx, []Camera{identityCamera(r3.Vec{Z: 10})}, narrowLens, 16)
	require.NoError(t, err)
	assert.Equal(t, 2*16*16*16, marked)

	stats, err := g.Update(ctx, constantField(5), 0.95, 16)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Occupied)
	assert.Equal(t, 0.0, stats.MeanDensity, "untrained cells count as zero in the mean")
}

func TestMarkUntrained_AnyCameraSuffices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	one := newTestGrid(t, testConfig())
	m1, err := one.MarkUntrained(ctx, []Camera{identityCamera(r3.Vec{Z: -3})}, narrowLens, 16)
	require.NoError(t, err)

	two := newTestGrid(t, testConfig())
	m2, err := two.MarkUntrained(ctx, []Camera{
		identityCamera(r3.Vec{Z: -3}),
		identityCamera(r3.Vec{X: 1, Z: -3}),
	}, narrowLens, 16)
	require.NoError(t, err)
	assert.Less(t, m2, m1)
}

func TestMarkUntrained_Errors(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig())
	ctx := context.Background()

	_, err := g.MarkUntrained(ctx, nil, narrowLens, 16)
	assert.Error(t, err)
	_, err = g.MarkUntrained(ctx, []Camera{identityCamera(r3.Vec{})}, Intrinsics{}, 16)
	assert.Error(t, err)
	_, err = g.MarkUntrained(ctx, []Camera{{}}, narrowLens, 16)
	assert.Error(t, err)
	_, err = g.MarkUntrained(ctx, []Camera{identityCamera(r3.Vec{})}, narrowLens, 0)
	assert.Error(t, err)
}
