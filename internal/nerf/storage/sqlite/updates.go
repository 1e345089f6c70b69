package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/volrender/internal/nerf/occupancy"
)

// UpdateRecord is one stored grid update.
type UpdateRecord struct {
	ID                string                   `json:"update_id"`
	SceneID           string                   `json:"scene_id"`
	RecordedUnixNanos int64                    `json:"recorded_unix_nanos"`
	Stats             occupancy.UpdateStats    `json:"stats"`
	Cascades          []occupancy.CascadeStats `json:"cascades"`
}

// RecordUpdate stores the statistics of one grid update.
func (s *Store) RecordUpdate(sceneID string, stats occupancy.UpdateStats, cascades []occupancy.CascadeStats) error {
	cascadesJSON, err := json.Marshal(cascades)
	if err != nil {
		return fmt.Errorf("marshal cascade stats: %w", err)
	}
	fullSweep := 0
	if stats.FullSweep {
		fullSweep = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO grid_updates (
			update_id, scene_id, recorded_unix_nanos, iteration, full_sweep, samples,
			mean_density, threshold, occupied, occupancy_rate, duration_ns, cascades_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		sceneID,
		time.Now().UnixNano(),
		stats.Iteration,
		fullSweep,
		stats.Samples,
		stats.MeanDensity,
		stats.Threshold,
		stats.Occupied,
		stats.OccupancyRate,
		int64(stats.Duration),
		string(cascadesJSON),
	)
	if err != nil {
		return fmt.Errorf("insert grid update: %w", err)
	}
	return nil
}

// ListUpdates returns the most recent limit updates for sceneID in
// ascending iteration order.
func (s *Store) ListUpdates(sceneID string, limit int) ([]*UpdateRecord, error) {
	rows, err := s.db.Query(`
		SELECT update_id, scene_id, recorded_unix_nanos, iteration, full_sweep, samples,
		       mean_density, threshold, occupied, occupancy_rate, duration_ns, cascades_json
		FROM (
			SELECT *, rowid AS rid FROM grid_updates
			WHERE scene_id = ?
			ORDER BY iteration DESC, rid DESC
			LIMIT ?
		)
		ORDER BY iteration ASC, rid ASC`, sceneID, limit)
	if err != nil {
		return nil, fmt.Errorf("list grid updates: %w", err)
	}
	defer rows.Close()

	var out []*UpdateRecord
	for rows.Next() {
		r := &UpdateRecord{}
		var fullSweep int
		var durationNs int64
		var cascadesJSON string
		if err := rows.Scan(
			&r.ID, &r.SceneID, &r.RecordedUnixNanos, &r.Stats.Iteration, &fullSweep, &r.Stats.Samples,
			&r.Stats.MeanDensity, &r.Stats.Threshold, &r.Stats.Occupied, &r.Stats.OccupancyRate,
			&durationNs, &cascadesJSON,
		); err != nil {
			return nil, fmt.Errorf("scan grid update: %w", err)
		}
		r.Stats.FullSweep = fullSweep != 0
		r.Stats.Duration = time.Duration(durationNs)
		if err := json.Unmarshal([]byte(cascadesJSON), &r.Cascades); err != nil {
			return nil, fmt.Errorf("decode cascade stats for update %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
