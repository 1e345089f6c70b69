package occupancy

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/volrender/internal/nerf/morton"
)

// CascadeStats aggregates one cascade level of the grid.
type CascadeStats struct {
	Level          int     `json:"level"`
	MipBound       float64 `json:"mip_bound"`
	TotalCells     int     `json:"total_cells"`
	OccupiedCells  int     `json:"occupied_cells"`
	UntrainedCells int     `json:"untrained_cells"`
	MeanDensity    float64 `json:"mean_density"`
	StdDensity     float64 `json:"std_density"`
	MaxDensity     float64 `json:"max_density"`
}

// GridStatus returns a snapshot of grid-level statistics for debugging
// convergence: dimensions, iteration, threshold, and occupancy counters.
func (g *Grid) GridStatus() map[string]interface{} {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	occupied := g.bits.Count()
	untrained := floats.Count(func(v float64) bool { return v < 0 }, g.density)
	return map[string]interface{}{
		"cascades":        g.cascades,
		"resolution":      g.cfg.Resolution,
		"total_cells":     len(g.density),
		"occupied_cells":  occupied,
		"untrained_cells": untrained,
		"iteration":       g.iteration,
		"mean_density":    g.meanDensity,
		"threshold":       g.threshold,
		"bitfield_bytes":  len(g.bits),
	}
}

// CascadeStats computes per-level statistics over cells that are not
// Untrained. Mean and standard deviation are unweighted.
func (g *Grid) CascadeStats() []CascadeStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]CascadeStats, g.cascades)
	view := g.view()
	for level := range out {
		base := level * g.cells
		cells := g.density[base : base+g.cells]
		valid := make([]float64, 0, len(cells))
		occupied := 0
		for i, v := range cells {
			if v >= 0 {
				valid = append(valid, v)
			}
			if g.bits.Get(base + i) {
				occupied++
			}
		}
		cs := CascadeStats{
			Level:          level,
			MipBound:       view.MipBound(level),
			TotalCells:     g.cells,
			OccupiedCells:  occupied,
			UntrainedCells: len(cells) - len(valid),
		}
		switch {
		case len(valid) > 1:
			cs.MeanDensity, cs.StdDensity = stat.MeanStdDev(valid, nil)
			cs.MaxDensity = floats.Max(valid)
		case len(valid) == 1:
			cs.MeanDensity, cs.MaxDensity = valid[0], valid[0]
		}
		out[level] = cs
	}
	return out
}

// Slice returns the density of the z-th voxel plane of a cascade as rows
// indexed [y][x]. Untrained cells are reported as Untrained.
func (g *Grid) Slice(level, z int) ([][]float64, error) {
	res := g.cfg.Resolution
	if level < 0 || level >= g.cascades {
		return nil, fmt.Errorf("cascade %d out of range [0, %d)", level, g.cascades)
	}
	if z < 0 || z >= res {
		return nil, fmt.Errorf("slice %d out of range [0, %d)", z, res)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	rows := make([][]float64, res)
	for y := range rows {
		rows[y] = make([]float64, res)
		for x := range rows[y] {
			rows[y][x] = g.density[level*g.cells+int(morton.Encode(uint32(x), uint32(y), uint32(z)))]
		}
	}
	return rows, nil
}
