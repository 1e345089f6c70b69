package main

import (
	"bytes"
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volrender/internal/nerf/occupancy"
)

func TestLookAt(t *testing.T) {
	cam := lookAt(r3.Vec{Z: -3}, r3.Vec{}, r3.Vec{Y: 1})

	p := cam.ToCamera(r3.Vec{})
	assert.InDelta(t, 0, p.X, 1e-12)
	assert.InDelta(t, 0, p.Y, 1e-12)
	assert.InDelta(t, 3, p.Z, 1e-12)

	// World up is camera -y.
	up := cam.ToCamera(r3.Vec{Y: 1, Z: 0})
	assert.Less(t, up.Y, 0.0)
}

func TestOrbit(t *testing.T) {
	cams := orbit(6, 3, 0.5)
	require.Len(t, cams, 6)
	for _, c := range cams {
		assert.InDelta(t, 3, math.Hypot(c.Translation.X, c.Translation.Z), 1e-12)
		assert.InDelta(t, 0.5, c.Translation.Y, 1e-12)
		p := c.ToCamera(r3.Vec{})
		assert.Positive(t, p.Z, "origin in front of camera")
		assert.InDelta(t, 0, p.X, 1e-9)
	}
}

func TestPixelRays(t *testing.T) {
	intr := intrinsicsFor(64, 64, 90)
	assert.InDelta(t, 32, intr.Fx, 1e-9)
	assert.Equal(t, occupancy.Intrinsics{Fx: intr.Fx, Fy: intr.Fx, Cx: 32, Cy: 32}, intr)

	cam := lookAt(r3.Vec{Z: -3}, r3.Vec{}, r3.Vec{Y: 1})
	origins, dirs := pixelRays(cam, intrinsicsFor(2, 2, 90), 2, 2)
	require.Len(t, origins, 4)
	require.Len(t, dirs, 4)
	for i := range dirs {
		assert.Equal(t, cam.Translation, origins[i])
		assert.InDelta(t, 1, r3.Norm(dirs[i]), 1e-12)
		assert.Positive(t, dirs[i].Z)
	}
	// Top row looks up, bottom row looks down.
	assert.Greater(t, dirs[0].Y, 0.0)
	assert.Less(t, dirs[2].Y, 0.0)
	assert.InDelta(t, dirs[0].Y, -dirs[3].Y, 1e-12)
}

func TestImages(t *testing.T) {
	img, err := toImage([]float64{1, 0, 0.5, -1, 2, 0}, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, [4]uint8{255, 0, 128, 255}, [4]uint8(img.Pix[0:4]))
	assert.Equal(t, [4]uint8{0, 255, 0, 255}, [4]uint8(img.Pix[4:8]))

	_, err = toImage([]float64{1}, 2, 1)
	assert.Error(t, err)

	depth, err := depthImage([]float64{0, 0.25, 1}, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 191, 0}, depth.Pix)

	_, err = depthImage([]float64{0}, 3, 1)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "x.png")
	require.NoError(t, writePNG(path, depth))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "render.json")
	cfg := `{
  "grid_size": 16,
  "cold_start_iterations": 1,
  "align": 16,
  "workers": 2,
  "seed": 5,
  "update_chunk_size": 64
}`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	bc := benchConfig{
		ConfigPath:     writeConfig(t),
		DBPath:         filepath.Join(dir, "bench.db"),
		SceneID:        "balls",
		Iterations:     4,
		UpdateInterval: 2,
		TrainSize:      8,
		RenderSize:     8,
		Cameras:        4,
		FOV:            50,
		MarkUntrained:  true,
		OutDir:         filepath.Join(dir, "out"),
		Plots:          true,
	}

	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), bc, &stdout, io.Discard))
	assert.Contains(t, stdout.String(), "render: rays=64")
	assert.Contains(t, stdout.String(), "train: launches=4 rays=256")

	for _, name := range []string{"render.png", "depth.png", "plots/occupancy.png"} {
		_, err := os.Stat(filepath.Join(bc.OutDir, name))
		assert.NoError(t, err, name)
	}

	// A second run restores the persisted grid.
	bc.Restore = true
	bc.Iterations = 0
	bc.OutDir = ""
	stdout.Reset()
	require.NoError(t, run(context.Background(), bc, &stdout, io.Discard))
	assert.Contains(t, stdout.String(), "iteration=2")
}

func TestRun_BadFlags(t *testing.T) {
	bc := benchConfig{Iterations: 1, UpdateInterval: 0, TrainSize: 8, RenderSize: 8, Cameras: 1}
	assert.Error(t, run(context.Background(), bc, io.Discard, io.Discard))

	bc.UpdateInterval = 1
	bc.ConfigPath = filepath.Join(t.TempDir(), "missing.json")
	assert.Error(t, run(context.Background(), bc, io.Discard, io.Discard))
}
