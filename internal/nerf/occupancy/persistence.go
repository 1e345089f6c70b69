package occupancy

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"time"
)

// Snapshot is a persisted copy of a grid's density estimates and counters.
type Snapshot struct {
	ID             string
	SceneID        string
	TakenUnixNanos int64
	Cascades       int
	Resolution     int
	Bound          float64
	Iteration      int
	MeanDensity    float64
	Threshold      float64
	GridBlob       []byte // gob+gzip encoded []float64
	Reason         string
}

// SnapshotStore persists Snapshot records. Implemented by storage/sqlite.Store.
type SnapshotStore interface {
	InsertSnapshot(s *Snapshot) (string, error)
	LatestSnapshot(sceneID string) (*Snapshot, error)
}

// serializeDensity compresses the grid using gob encoding and gzip compression.
func serializeDensity(density []float64) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(density); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// deserializeDensity decodes a gob+gzip blob produced by serializeDensity.
func deserializeDensity(blob []byte) ([]float64, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty grid blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var density []float64
	if err := gob.NewDecoder(gz).Decode(&density); err != nil {
		return nil, fmt.Errorf("failed to decode grid: %w", err)
	}
	return density, nil
}

// Snapshot copies the grid under the read lock and encodes it.
func (g *Grid) Snapshot(sceneID, reason string) (*Snapshot, error) {
	g.mu.RLock()
	density := make([]float64, len(g.density))
	copy(density, g.density)
	snap := &Snapshot{
		SceneID:     sceneID,
		Cascades:    g.cascades,
		Resolution:  g.cfg.Resolution,
		Bound:       g.cfg.Bound,
		Iteration:   g.iteration,
		MeanDensity: g.meanDensity,
		Threshold:   g.threshold,
		Reason:      reason,
	}
	g.mu.RUnlock()

	blob, err := serializeDensity(density)
	if err != nil {
		return nil, fmt.Errorf("serialize grid: %w", err)
	}
	snap.GridBlob = blob
	snap.TakenUnixNanos = time.Now().UnixNano()
	return snap, nil
}

// Persist writes a snapshot of the grid to store and returns its ID.
func (g *Grid) Persist(store SnapshotStore, sceneID, reason string) (string, error) {
	if store == nil {
		return "", fmt.Errorf("nil snapshot store")
	}
	snap, err := g.Snapshot(sceneID, reason)
	if err != nil {
		return "", err
	}
	id, err := store.InsertSnapshot(snap)
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	diagf("persisted snapshot %s: scene=%s reason=%s iteration=%d blob=%d bytes",
		id, sceneID, reason, snap.Iteration, len(snap.GridBlob))
	return id, nil
}

// Restore replaces the grid contents with snap. A snapshot taken from a grid
// with different dimensions or bound is rejected with ErrGridMismatch.
func (g *Grid) Restore(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	if snap.Cascades != g.cascades || snap.Resolution != g.cfg.Resolution || snap.Bound != g.cfg.Bound {
		opsf("rejected snapshot %s: cascades=%d resolution=%d bound=%.3f, grid has %d/%d/%.3f",
			snap.ID, snap.Cascades, snap.Resolution, snap.Bound, g.cascades, g.cfg.Resolution, g.cfg.Bound)
		return fmt.Errorf("%w: snapshot %dx%d^3 bound %.3f, grid %dx%d^3 bound %.3f", ErrGridMismatch,
			snap.Cascades, snap.Resolution, snap.Bound, g.cascades, g.cfg.Resolution, g.cfg.Bound)
	}
	density, err := deserializeDensity(snap.GridBlob)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(density) != len(g.density) {
		return fmt.Errorf("%w: snapshot holds %d cells, grid has %d", ErrGridMismatch, len(density), len(g.density))
	}
	copy(g.density, density)
	g.iteration = snap.Iteration
	g.meanDensity = snap.MeanDensity
	g.threshold = snap.Threshold
	pack(g.bits, g.density, g.threshold)
	g.lastUpdate = UpdateStats{}
	diagf("restored snapshot %s: iteration=%d occupied=%d", snap.ID, g.iteration, g.bits.Count())
	return nil
}

// RestoreLatest loads the most recent snapshot for sceneID, if any. It
// reports whether a snapshot was applied.
func (g *Grid) RestoreLatest(store SnapshotStore, sceneID string) (bool, error) {
	if store == nil {
		return false, fmt.Errorf("nil snapshot store")
	}
	snap, err := store.LatestSnapshot(sceneID)
	if err != nil {
		return false, fmt.Errorf("latest snapshot: %w", err)
	}
	if snap == nil {
		return false, nil
	}
	if err := g.Restore(snap); err != nil {
		return false, err
	}
	return true, nil
}
