package render

import (
	"context"
	"fmt"

	"github.com/banshee-data/volrender/internal/nerf/occupancy"
)

// UpdateRecorder stores per-update grid statistics. Implemented by
// storage/sqlite.Store.
type UpdateRecorder interface {
	RecordUpdate(sceneID string, stats occupancy.UpdateStats, cascades []occupancy.CascadeStats) error
}

// SetRecorder makes every UpdateExtraState call record its statistics under
// sceneID. A nil recorder disables recording.
func (r *Renderer) SetRecorder(rec UpdateRecorder, sceneID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = rec
	r.sceneID = sceneID
}

// UpdateExtraState re-estimates the occupancy grid against the field, then
// refreshes the training budget estimate from the step counter and clears it.
func (r *Renderer) UpdateExtraState(ctx context.Context) (occupancy.UpdateStats, error) {
	stats, err := r.grid.Update(ctx, r.field, r.settings.UpdateDecay, r.settings.UpdateChunkSize)
	if err != nil {
		return occupancy.UpdateStats{}, err
	}

	r.mu.Lock()
	launches := r.counter.Launches()
	if mean, ok := r.counter.Mean(); ok {
		r.meanCount = mean
	}
	meanCount := r.meanCount
	r.counter.Reset()
	rec, sceneID := r.recorder, r.sceneID
	r.mu.Unlock()

	diagf("extra state %d: mean_count=%d from %d launch(es), occupancy=%.2f%%",
		stats.Iteration, meanCount, launches, 100*stats.OccupancyRate)
	if rec != nil {
		if err := rec.RecordUpdate(sceneID, stats, r.grid.CascadeStats()); err != nil {
			opsf("failed to record update %d for scene %s: %v", stats.Iteration, sceneID, err)
		}
	}
	return stats, nil
}

// ResetExtraState clears the grid, the step counter and the budget estimate.
func (r *Renderer) ResetExtraState() {
	r.grid.Reset()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter.Reset()
	r.meanCount = 0
}

// MarkUntrained flags voxels no camera sees as permanently empty. Run it once
// before training.
func (r *Renderer) MarkUntrained(ctx context.Context, cams []occupancy.Camera, intr occupancy.Intrinsics) (int, error) {
	marked, err := r.grid.MarkUntrained(ctx, cams, intr, r.settings.UpdateChunkSize)
	if err != nil {
		return 0, fmt.Errorf("mark untrained: %w", err)
	}
	return marked, nil
}
