package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/volrender/internal/nerf/occupancy"
)

const snapshotColumns = `snapshot_id, scene_id, taken_unix_nanos, cascades, resolution, bound,
		       iteration, mean_density, threshold, grid_blob, reason`

// InsertSnapshot stores snap and returns its ID.
// If snap.ID is empty, a new UUID is generated.
func (s *Store) InsertSnapshot(snap *occupancy.Snapshot) (string, error) {
	if snap == nil {
		return "", fmt.Errorf("nil snapshot")
	}
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.TakenUnixNanos == 0 {
		snap.TakenUnixNanos = time.Now().UnixNano()
	}

	_, err := s.db.Exec(`
		INSERT INTO grid_snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID,
		snap.SceneID,
		snap.TakenUnixNanos,
		snap.Cascades,
		snap.Resolution,
		snap.Bound,
		snap.Iteration,
		snap.MeanDensity,
		snap.Threshold,
		snap.GridBlob,
		nullString(snap.Reason),
	)
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return snap.ID, nil
}

// LatestSnapshot returns the most recent snapshot for sceneID, or nil if the
// scene has none.
func (s *Store) LatestSnapshot(sceneID string) (*occupancy.Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT `+snapshotColumns+`
		FROM grid_snapshots
		WHERE scene_id = ?
		ORDER BY taken_unix_nanos DESC, rowid DESC
		LIMIT 1`, sceneID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

// GetSnapshot returns the snapshot with the given ID, or sql.ErrNoRows.
func (s *Store) GetSnapshot(id string) (*occupancy.Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT `+snapshotColumns+`
		FROM grid_snapshots
		WHERE snapshot_id = ?`, id)
	snap, err := scanSnapshot(row)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return snap, nil
}

// ListSnapshots returns up to limit snapshots for sceneID, newest first,
// without their grid blobs.
func (s *Store) ListSnapshots(sceneID string, limit int) ([]*occupancy.Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT snapshot_id, scene_id, taken_unix_nanos, cascades, resolution, bound,
		       iteration, mean_density, threshold, reason
		FROM grid_snapshots
		WHERE scene_id = ?
		ORDER BY taken_unix_nanos DESC, rowid DESC
		LIMIT ?`, sceneID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*occupancy.Snapshot
	for rows.Next() {
		snap := &occupancy.Snapshot{}
		var reason sql.NullString
		if err := rows.Scan(
			&snap.ID, &snap.SceneID, &snap.TakenUnixNanos, &snap.Cascades, &snap.Resolution, &snap.Bound,
			&snap.Iteration, &snap.MeanDensity, &snap.Threshold, &reason,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Reason = reason.String
		out = append(out, snap)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes a snapshot by ID.
func (s *Store) DeleteSnapshot(id string) error {
	result, err := s.db.Exec("DELETE FROM grid_snapshots WHERE snapshot_id = ?", id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanSnapshot(row *sql.Row) (*occupancy.Snapshot, error) {
	snap := &occupancy.Snapshot{}
	var reason sql.NullString
	err := row.Scan(
		&snap.ID, &snap.SceneID, &snap.TakenUnixNanos, &snap.Cascades, &snap.Resolution, &snap.Bound,
		&snap.Iteration, &snap.MeanDensity, &snap.Threshold, &snap.GridBlob, &reason,
	)
	if err != nil {
		return nil, err
	}
	snap.Reason = reason.String
	return snap, nil
}
