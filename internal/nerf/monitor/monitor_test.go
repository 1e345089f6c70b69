package monitor

import (
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/volrender/internal/nerf/field"
	"github.com/banshee-data/volrender/internal/nerf/occupancy"
	"github.com/banshee-data/volrender/internal/nerf/storage/sqlite"
)

func testGrid(t *testing.T) *occupancy.Grid {
	t.Helper()
	g, err := occupancy.NewGrid(&occupancy.GridConfig{
		Bound:               2,
		Resolution:          8,
		DensityThreshold:    0.01,
		DensityScale:        1,
		ColdStartIterations: 1,
		Workers:             2,
		Seed:                1,
	})
	require.NoError(t, err)
	return g
}

func update(t *testing.T, g *occupancy.Grid) occupancy.UpdateStats {
	t.Helper()
	stats, err := g.Update(context.Background(), field.DefaultScene(), 0.95, 64)
	require.NoError(t, err)
	return stats
}

func TestGridPlotter_SampleAndGenerate(t *testing.T) {
	g := testGrid(t)
	gp := NewGridPlotter("balls")
	assert.False(t, gp.IsEnabled())

	// Not recording yet.
	gp.Sample(g)
	assert.Empty(t, gp.Samples())

	_, err := gp.GeneratePlots()
	assert.Error(t, err, "no output directory")

	dir := filepath.Join(t.TempDir(), "nested", "plots")
	require.NoError(t, gp.Start(dir))
	assert.True(t, gp.IsEnabled())

	for i := 0; i < 3; i++ {
		update(t, g)
		gp.Sample(g)
	}
	gp.Sample(nil)
	gp.Stop()
	assert.False(t, gp.IsEnabled())

	samples := gp.Samples()
	require.Len(t, samples, 3*g.Cascades())
	assert.Equal(t, 1, samples[0].Iteration)
	assert.Equal(t, 3, samples[len(samples)-1].Iteration)
	for _, s := range samples {
		assert.GreaterOrEqual(t, s.OccupancyRate, 0.0)
		assert.LessOrEqual(t, s.OccupancyRate, 1.0)
	}

	n, err := gp.GeneratePlots()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	for _, name := range []string{"occupancy.png", "mean_density.png", "max_density.png", "threshold.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}

	// Restarting clears history.
	require.NoError(t, gp.Start(dir))
	assert.Empty(t, gp.Samples())
	n, err = gp.GeneratePlots()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGenerateColors(t *testing.T) {
	assert.Nil(t, generateColors(0))
	colors := generateColors(3)
	require.Len(t, colors, 3)
	assert.NotEqual(t, colors[0], colors[1])
	assert.Equal(t, color.RGBA{R: 216, G: 38, B: 38, A: 255}, colors[0])

	r, g, b := hslToRGB(0, 0, 0.5)
	assert.Equal(t, [3]uint8{127, 127, 127}, [3]uint8{r, g, b})
}

func newTestServer(t *testing.T, withStore bool) (*WebServer, *occupancy.Grid, *sqlite.Store) {
	t.Helper()
	g := testGrid(t)
	var store *sqlite.Store
	cfg := WebServerConfig{Address: "127.0.0.1:0", Grid: g, SceneID: "balls"}
	if withStore {
		var err error
		store, err = sqlite.Open(filepath.Join(t.TempDir(), "grid.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		cfg.Store = store
	}
	return NewWebServer(cfg), g, store
}

func get(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestWebServer_StatusEndpoints(t *testing.T) {
	ws, g, _ := newTestServer(t, false)
	update(t, g)
	h := ws.Handler()

	rec := get(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, http.MethodGet, "/api/grid/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "balls", status["scene_id"])
	assert.EqualValues(t, 2, status["cascades"])
	assert.EqualValues(t, 1, status["iteration"])

	rec = get(t, h, http.MethodGet, "/api/grid/cascades")
	require.Equal(t, http.StatusOK, rec.Code)
	var cascades []occupancy.CascadeStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cascades))
	require.Len(t, cascades, 2)
	assert.Equal(t, 512, cascades[1].TotalCells)

	// Store-backed endpoints report the missing store.
	for _, path := range []string{"/api/grid/updates", "/api/grid/snapshots", "/debug/grid/occupancy"} {
		assert.Equal(t, http.StatusNotFound, get(t, h, http.MethodGet, path).Code, path)
	}
	assert.Equal(t, http.StatusNotFound, get(t, h, http.MethodPost, "/api/grid/persist").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, get(t, h, http.MethodGet, "/api/grid/persist").Code)
}

func TestWebServer_SliceHeatmap(t *testing.T) {
	ws, g, _ := newTestServer(t, false)
	update(t, g)
	h := ws.Handler()

	rec := get(t, h, http.MethodGet, "/debug/grid/slice?level=0&z=4")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Occupancy Grid Slice")
	assert.Contains(t, rec.Body.String(), "heatmap")

	for _, q := range []string{"level=2", "level=-1", "z=8", "z=abc"} {
		rec := get(t, h, http.MethodGet, "/debug/grid/slice?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestWebServer_StoreEndpoints(t *testing.T) {
	ws, g, store := newTestServer(t, true)
	h := ws.Handler()

	assert.Equal(t, http.StatusNotFound, get(t, h, http.MethodGet, "/debug/grid/occupancy").Code, "no updates yet")

	for i := 0; i < 2; i++ {
		stats := update(t, g)
		require.NoError(t, store.RecordUpdate("balls", stats, g.CascadeStats()))
	}

	rec := get(t, h, http.MethodGet, "/api/grid/updates?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var updates []sqlite.UpdateRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updates))
	require.Len(t, updates, 1)
	assert.Equal(t, 2, updates[0].Stats.Iteration)

	assert.Equal(t, http.StatusBadRequest, get(t, h, http.MethodGet, "/api/grid/updates?limit=0").Code)

	rec = get(t, h, http.MethodGet, "/debug/grid/occupancy")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cascade 1")

	rec = get(t, h, http.MethodPost, "/api/grid/persist?reason=test")
	require.Equal(t, http.StatusOK, rec.Code)
	var persisted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &persisted))
	require.NotEmpty(t, persisted["snapshot_id"])

	rec = get(t, h, http.MethodGet, "/api/grid/snapshots")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), persisted["snapshot_id"])
	assert.True(t, strings.Contains(rec.Body.String(), `"reason":"test"`))

	latest, err := store.LatestSnapshot("balls")
	require.NoError(t, err)
	assert.Equal(t, persisted["snapshot_id"], latest.ID)
	assert.Equal(t, 2, latest.Iteration)
}

func TestWebServer_StartStops(t *testing.T) {
	ws, _, _ := newTestServer(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Start(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
