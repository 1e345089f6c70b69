// Package monitor provides debugging views of an occupancy grid: PNG time
// series of per-cascade statistics written after a run, and an HTTP server
// with JSON status endpoints and ECharts pages.
package monitor

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/volrender/internal/nerf/occupancy"
)

// GridPlotter records per-cascade grid statistics after each update for
// plotting once a run finishes.
type GridPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	sceneID   string

	samples   []GridSample
	threshold []plotter.XY
}

// GridSample is the state of one cascade after one update.
type GridSample struct {
	Iteration     int
	Level         int
	OccupancyRate float64
	MeanDensity   float64
	MaxDensity    float64
	Untrained     int
}

// NewGridPlotter creates a disabled plotter for sceneID.
func NewGridPlotter(sceneID string) *GridPlotter {
	return &GridPlotter{sceneID: sceneID}
}

// Start clears recorded samples and begins recording. outputDir is created
// if missing.
func (gp *GridPlotter) Start(outputDir string) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	gp.outputDir = outputDir
	gp.enabled = true
	gp.samples = nil
	gp.threshold = nil
	return nil
}

// Stop disables sampling. Call GeneratePlots to produce output files.
func (gp *GridPlotter) Stop() {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.enabled = false
}

// IsEnabled reports whether the plotter is recording.
func (gp *GridPlotter) IsEnabled() bool {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.enabled
}

// Sample records the current per-cascade statistics of g. Call it after each
// grid update.
func (gp *GridPlotter) Sample(g *occupancy.Grid) {
	if g == nil {
		return
	}
	gp.mu.Lock()
	defer gp.mu.Unlock()
	if !gp.enabled {
		return
	}

	iter := g.Iteration()
	for _, cs := range g.CascadeStats() {
		rate := 0.0
		if cs.TotalCells > 0 {
			rate = float64(cs.OccupiedCells) / float64(cs.TotalCells)
		}
		gp.samples = append(gp.samples, GridSample{
			Iteration:     iter,
			Level:         cs.Level,
			OccupancyRate: rate,
			MeanDensity:   cs.MeanDensity,
			MaxDensity:    cs.MaxDensity,
			Untrained:     cs.UntrainedCells,
		})
	}
	gp.threshold = append(gp.threshold, plotter.XY{X: float64(iter), Y: g.Threshold()})
}

// Samples returns a copy of the recorded samples.
func (gp *GridPlotter) Samples() []GridSample {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return append([]GridSample(nil), gp.samples...)
}

// GeneratePlots writes occupancy, density and threshold PNGs into the output
// directory and returns how many files it wrote.
func (gp *GridPlotter) GeneratePlots() (int, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(gp.samples) == 0 {
		return 0, nil
	}

	byLevel := make(map[int][]GridSample)
	levels := 0
	for _, s := range gp.samples {
		byLevel[s.Level] = append(byLevel[s.Level], s)
		levels = max(levels, s.Level+1)
	}
	colors := generateColors(levels)

	pOcc := newPlot(fmt.Sprintf("%s - Occupancy per Cascade", gp.sceneID), "Occupied fraction")
	pMean := newPlot(fmt.Sprintf("%s - Mean Density per Cascade", gp.sceneID), "Density")
	pMax := newPlot(fmt.Sprintf("%s - Max Density per Cascade", gp.sceneID), "Density")

	for level := 0; level < levels; level++ {
		samples := byLevel[level]
		if len(samples) == 0 {
			continue
		}
		occPts := make(plotter.XYs, len(samples))
		meanPts := make(plotter.XYs, len(samples))
		maxPts := make(plotter.XYs, len(samples))
		for i, s := range samples {
			x := float64(s.Iteration)
			occPts[i] = plotter.XY{X: x, Y: s.OccupancyRate}
			meanPts[i] = plotter.XY{X: x, Y: s.MeanDensity}
			maxPts[i] = plotter.XY{X: x, Y: finiteOrZero(s.MaxDensity)}
		}
		label := fmt.Sprintf("cascade %d", level)
		for _, pair := range []struct {
			p   *plot.Plot
			pts plotter.XYs
		}{{pOcc, occPts}, {pMean, meanPts}, {pMax, maxPts}} {
			line, err := plotter.NewLine(pair.pts)
			if err != nil {
				return 0, fmt.Errorf("cascade %d: %w", level, err)
			}
			line.Color = colors[level]
			line.Width = vg.Points(1)
			pair.p.Add(line)
			pair.p.Legend.Add(label, line)
		}
	}

	pThresh := newPlot(fmt.Sprintf("%s - Occupancy Threshold", gp.sceneID), "Density")
	thresh, err := plotter.NewLine(plotter.XYs(gp.threshold))
	if err != nil {
		return 0, fmt.Errorf("threshold: %w", err)
	}
	thresh.Width = vg.Points(1)
	pThresh.Add(thresh)

	files := []struct {
		p    *plot.Plot
		name string
	}{
		{pOcc, "occupancy.png"},
		{pMean, "mean_density.png"},
		{pMax, "max_density.png"},
		{pThresh, "threshold.png"},
	}
	for i, f := range files {
		path := filepath.Join(gp.outputDir, f.name)
		if err := f.p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
			return i, fmt.Errorf("save %s: %w", f.name, err)
		}
	}
	return len(files), nil
}

func newPlot(title, yLabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Update iteration"
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// generateColors creates a palette of n distinct colours.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
