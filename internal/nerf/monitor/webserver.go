package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/volrender/internal/monitoring"
	"github.com/banshee-data/volrender/internal/nerf/occupancy"
	"github.com/banshee-data/volrender/internal/nerf/storage/sqlite"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// Store is the persistence the server reads update history and snapshots
// from. Implemented by sqlite.Store.
type Store interface {
	occupancy.SnapshotStore
	ListSnapshots(sceneID string, limit int) ([]*occupancy.Snapshot, error)
	ListUpdates(sceneID string, limit int) ([]*sqlite.UpdateRecord, error)
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Grid    *occupancy.Grid
	Store   Store // optional
	SceneID string
}

// WebServer serves grid status and debug charts for one scene.
type WebServer struct {
	address string
	grid    *occupancy.Grid
	store   Store
	sceneID string
	server  *http.Server
}

// NewWebServer creates a web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		grid:    config.Grid,
		store:   config.Store,
		sceneID: config.SceneID,
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Start serves until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("[monitor] starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	monitoring.Logf("[monitor] shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("[monitor] HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("[monitor] HTTP server force close error: %v", err)
		}
	}
	return nil
}

// Handler returns the route table.
func (ws *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", ws.handleHealth)
	mux.HandleFunc("GET /api/grid/status", ws.handleGridStatus)
	mux.HandleFunc("GET /api/grid/cascades", ws.handleCascades)
	mux.HandleFunc("GET /api/grid/updates", ws.handleUpdates)
	mux.HandleFunc("GET /api/grid/snapshots", ws.handleSnapshots)
	mux.HandleFunc("POST /api/grid/persist", ws.handlePersist)
	mux.HandleFunc("GET /debug/grid/slice", ws.handleSliceHeatmap)
	mux.HandleFunc("GET /debug/grid/occupancy", ws.handleOccupancyChart)
	return mux
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("[monitor] failed to encode response: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeHTML(w http.ResponseWriter, render func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// queryInt parses an integer parameter, falling back to def when absent.
func queryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("'%s' must be an integer in [%d, %d]", key, lo, hi)
	}
	return v, nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, map[string]string{"status": "ok", "scene_id": ws.sceneID})
}

func (ws *WebServer) handleGridStatus(w http.ResponseWriter, r *http.Request) {
	status := ws.grid.GridStatus()
	status["scene_id"] = ws.sceneID
	ws.writeJSON(w, status)
}

func (ws *WebServer) handleCascades(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, ws.grid.CascadeStats())
}

func (ws *WebServer) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no store configured")
		return
	}
	limit, err := queryInt(r, "limit", 100, 1, 10000)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := ws.store.ListUpdates(ws.sceneID, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSON(w, recs)
}

// snapshotSummary is a snapshot without its blob.
type snapshotSummary struct {
	ID             string  `json:"snapshot_id"`
	TakenUnixNanos int64   `json:"taken_unix_nanos"`
	Iteration      int     `json:"iteration"`
	MeanDensity    float64 `json:"mean_density"`
	Threshold      float64 `json:"threshold"`
	Reason         string  `json:"reason,omitempty"`
}

func (ws *WebServer) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no store configured")
		return
	}
	limit, err := queryInt(r, "limit", 10, 1, 100)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	snaps, err := ws.store.ListSnapshots(ws.sceneID, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]snapshotSummary, len(snaps))
	for i, s := range snaps {
		out[i] = snapshotSummary{
			ID: s.ID, TakenUnixNanos: s.TakenUnixNanos, Iteration: s.Iteration,
			MeanDensity: s.MeanDensity, Threshold: s.Threshold, Reason: s.Reason,
		}
	}
	ws.writeJSON(w, out)
}

func (ws *WebServer) handlePersist(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no store configured")
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual"
	}
	id, err := ws.grid.Persist(ws.store, ws.sceneID, reason)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	monitoring.Logf("[monitor] persisted snapshot %s for scene %s (%s)", id, ws.sceneID, reason)
	ws.writeJSON(w, map[string]string{"snapshot_id": id})
}

// handleSliceHeatmap renders one z-plane of a cascade as a heatmap.
// Query params:
//   - level (optional; default 0)
//   - z (optional; default the middle plane)
func (ws *WebServer) handleSliceHeatmap(w http.ResponseWriter, r *http.Request) {
	res := ws.grid.Resolution()
	level, err := queryInt(r, "level", 0, 0, ws.grid.Cascades()-1)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	z, err := queryInt(r, "z", res/2, 0, res-1)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := ws.grid.Slice(level, z)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	axis := make([]string, res)
	for i := range axis {
		axis[i] = strconv.Itoa(i)
	}
	data := make([]opts.HeatMapData, 0, res*res)
	maxDensity := 0.0
	for y, row := range rows {
		for x, v := range row {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{x, y, v}})
			maxDensity = math.Max(maxDensity, v)
		}
	}
	if maxDensity == 0 {
		maxDensity = 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Occupancy Grid Slice", Width: "800px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Occupancy Grid Slice",
			Subtitle: fmt.Sprintf("scene=%s cascade=%d z=%d threshold=%.4g", ws.sceneID, level, z, ws.grid.Threshold()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: axis, Name: "x", SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: axis, Name: "y", SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxDensity),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.AddSeries("density", data)
	ws.writeHTML(w, func(buf *bytes.Buffer) error { return hm.Render(buf) })
}

// handleOccupancyChart renders the stored occupancy rate of every cascade
// against update iteration.
func (ws *WebServer) handleOccupancyChart(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no store configured")
		return
	}
	limit, err := queryInt(r, "limit", 500, 1, 10000)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := ws.store.ListUpdates(ws.sceneID, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(recs) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no updates recorded")
		return
	}

	iterations := make([]int, len(recs))
	series := make(map[int][]opts.LineData)
	levels := 0
	for i, rec := range recs {
		iterations[i] = rec.Stats.Iteration
		for _, cs := range rec.Cascades {
			rate := 0.0
			if cs.TotalCells > 0 {
				rate = float64(cs.OccupiedCells) / float64(cs.TotalCells)
			}
			series[cs.Level] = append(series[cs.Level], opts.LineData{Value: rate})
			levels = max(levels, cs.Level+1)
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Grid Occupancy", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Grid Occupancy", Subtitle: fmt.Sprintf("scene=%s updates=%d", ws.sceneID, len(recs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "iteration"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "occupied fraction", Min: 0, Max: 1}),
	)
	line.SetXAxis(iterations)
	for level := 0; level < levels; level++ {
		line.AddSeries(fmt.Sprintf("cascade %d", level), series[level])
	}
	ws.writeHTML(w, func(buf *bytes.Buffer) error { return line.Render(buf) })
}
