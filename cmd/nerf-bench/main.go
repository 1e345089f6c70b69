// Command nerf-bench trains the occupancy grid of an analytic scene from an
// orbit of cameras, renders a final view and reports sampling statistics.
// Grid updates and snapshots can be stored in SQLite, plotted, and browsed
// through the debug server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volrender/internal/config"
	"github.com/banshee-data/volrender/internal/monitoring"
	"github.com/banshee-data/volrender/internal/nerf/field"
	"github.com/banshee-data/volrender/internal/nerf/monitor"
	"github.com/banshee-data/volrender/internal/nerf/occupancy"
	"github.com/banshee-data/volrender/internal/nerf/render"
	"github.com/banshee-data/volrender/internal/nerf/storage/sqlite"
	"github.com/banshee-data/volrender/internal/version"
)

type benchConfig struct {
	ConfigPath     string
	DBPath         string
	SceneID        string
	Iterations     int
	UpdateInterval int
	TrainSize      int
	RenderSize     int
	Cameras        int
	FOV            float64
	Restore        bool
	MarkUntrained  bool
	OutDir         string
	Plots          bool
	Serve          string
	Verbose        bool
	Trace          bool
}

func main() {
	var bc benchConfig
	flag.StringVar(&bc.ConfigPath, "config", "", "Render config JSON (default: built-in defaults)")
	flag.StringVar(&bc.DBPath, "db", "", "SQLite database for update history and snapshots (empty disables)")
	flag.StringVar(&bc.SceneID, "scene", "balls", "Scene ID used for stored records")
	flag.IntVar(&bc.Iterations, "iterations", 256, "Training launches")
	flag.IntVar(&bc.UpdateInterval, "update-interval", 16, "Training launches between grid updates")
	flag.IntVar(&bc.TrainSize, "train-size", 32, "Training image width and height in pixels")
	flag.IntVar(&bc.RenderSize, "render-size", 128, "Final render width and height in pixels")
	flag.IntVar(&bc.Cameras, "cameras", 8, "Cameras on the training orbit")
	flag.Float64Var(&bc.FOV, "fov", 50, "Horizontal field of view in degrees")
	flag.BoolVar(&bc.Restore, "restore", false, "Restore the latest stored snapshot before training")
	flag.BoolVar(&bc.MarkUntrained, "mark-untrained", true, "Mark voxels outside every camera frustum before training")
	flag.StringVar(&bc.OutDir, "out", "", "Directory for render and plot output (empty disables)")
	flag.BoolVar(&bc.Plots, "plots", false, "Write per-cascade grid plots into -out")
	flag.StringVar(&bc.Serve, "serve", "", "Serve the debug monitor on this address after the run, e.g. :8082")
	flag.BoolVar(&bc.Verbose, "v", false, "Log per-launch diagnostics")
	flag.BoolVar(&bc.Trace, "trace", false, "Log per-round inference telemetry")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("nerf-bench"))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, bc, os.Stdout, os.Stderr); err != nil {
		log.Fatalf("nerf-bench: %v", err)
	}
}

func loadConfig(path string) (*config.RenderConfig, error) {
	if path == "" {
		return config.DefaultRenderConfig(), nil
	}
	return config.LoadRenderConfig(path)
}

func run(ctx context.Context, bc benchConfig, stdout, stderr io.Writer) error {
	var diag, trace io.Writer
	if bc.Verbose {
		diag = stderr
	}
	if bc.Trace {
		trace = stderr
	}
	render.SetLogWriters(stderr, diag, trace)
	occupancy.SetLogWriters(stderr, diag, trace)
	monitoring.SetOutput(stderr)
	logf := monitoring.Prefixed("[bench] ")
	logf("%s", version.String("nerf-bench"))

	if bc.Iterations < 0 || bc.UpdateInterval <= 0 || bc.TrainSize < 1 || bc.RenderSize < 1 || bc.Cameras < 1 {
		return fmt.Errorf("iterations must be non-negative and update-interval, sizes and cameras positive")
	}

	cfg, err := loadConfig(bc.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	settings, err := render.SettingsFromConfig(cfg)
	if err != nil {
		return err
	}
	opts := render.OptionsFromConfig(cfg)

	scene := field.DefaultScene()
	opts.Classes = scene.Classes()
	var bg render.Background
	if settings.BgRadius > 0 {
		bg = field.Sky{Zenith: [3]float64{0.3, 0.5, 0.9}, Horizon: [3]float64{0.9, 0.9, 0.8}}
	}
	r, err := render.New(settings, scene, bg)
	if err != nil {
		return err
	}
	grid := r.Grid()

	var store *sqlite.Store
	if bc.DBPath != "" {
		store, err = sqlite.Open(bc.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		r.SetRecorder(store, bc.SceneID)
		if bc.Restore {
			ok, err := grid.RestoreLatest(store, bc.SceneID)
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			logf("restored snapshot: %v (iteration %d)", ok, grid.Iteration())
		}
	}

	var plotter *monitor.GridPlotter
	if bc.Plots && bc.OutDir != "" {
		plotter = monitor.NewGridPlotter(bc.SceneID)
		if err := plotter.Start(filepath.Join(bc.OutDir, "plots")); err != nil {
			return err
		}
	}

	cams := orbit(bc.Cameras, 3, 0.8)
	trainIntr := intrinsicsFor(bc.TrainSize, bc.TrainSize, bc.FOV)
	if bc.MarkUntrained {
		marked, err := r.MarkUntrained(ctx, cams, trainIntr)
		if err != nil {
			return err
		}
		logf("marked %d of %d voxels untrained", marked, grid.Cascades()*grid.Resolution()*grid.Resolution()*grid.Resolution())
	}

	start := time.Now()
	var samples, dropped, rays int
	for it := 0; it < bc.Iterations; it++ {
		if it%bc.UpdateInterval == 0 {
			stats, err := r.UpdateExtraState(ctx)
			if err != nil {
				return fmt.Errorf("update at launch %d: %w", it, err)
			}
			if plotter != nil {
				plotter.Sample(grid)
			}
			logf("update %d: full=%v occupancy=%.2f%% threshold=%.4g mean_count=%d",
				stats.Iteration, stats.FullSweep, 100*stats.OccupancyRate, stats.Threshold, r.MeanCount())
		}
		origins, dirs := pixelRays(cams[it%len(cams)], trainIntr, bc.TrainSize, bc.TrainSize)
		res, err := r.RenderTrain(ctx, origins, dirs, opts)
		if err != nil {
			return fmt.Errorf("training launch %d: %w", it, err)
		}
		samples += res.Samples
		dropped += res.Dropped
		rays += len(origins)
	}
	trainTime := time.Since(start)

	view := lookAt(r3.Vec{X: 2.4, Y: 1.2, Z: 1.8}, r3.Vec{}, r3.Vec{Y: 1})
	renderIntr := intrinsicsFor(bc.RenderSize, bc.RenderSize, bc.FOV)
	origins, dirs := pixelRays(view, renderIntr, bc.RenderSize, bc.RenderSize)
	start = time.Now()
	out, err := r.Render(ctx, origins, dirs, opts)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	renderTime := time.Since(start)

	status := grid.GridStatus()
	fmt.Fprintf(stdout, "scene=%s cascades=%d resolution=%d iteration=%v occupied=%v/%v\n",
		bc.SceneID, grid.Cascades(), grid.Resolution(), status["iteration"], status["occupied_cells"], status["total_cells"])
	if rays > 0 {
		fmt.Fprintf(stdout, "train: launches=%d rays=%d samples/ray=%.2f dropped=%d time=%s\n",
			bc.Iterations, rays, float64(samples)/float64(rays), dropped, trainTime.Round(time.Millisecond))
	}
	fmt.Fprintf(stdout, "render: rays=%d mean_opacity=%.3f time=%s\n",
		len(origins), mean(out.WeightSum), renderTime.Round(time.Millisecond))

	if bc.OutDir != "" {
		if err := writeOutputs(bc.OutDir, out, bc.RenderSize); err != nil {
			return err
		}
		if plotter != nil {
			plotter.Stop()
			n, err := plotter.GeneratePlots()
			if err != nil {
				return fmt.Errorf("plots: %w", err)
			}
			logf("wrote %d plots", n)
		}
	}

	if store != nil {
		id, err := grid.Persist(store, bc.SceneID, "bench")
		if err != nil {
			return err
		}
		logf("persisted snapshot %s", id)
	}

	if bc.Serve != "" {
		ws := monitor.NewWebServer(monitor.WebServerConfig{
			Address: bc.Serve,
			Grid:    grid,
			Store:   storeOrNil(store),
			SceneID: bc.SceneID,
		})
		return ws.Start(ctx)
	}
	return nil
}

// storeOrNil keeps a nil *sqlite.Store from becoming a non-nil interface.
func storeOrNil(s *sqlite.Store) monitor.Store {
	if s == nil {
		return nil
	}
	return s
}

func writeOutputs(dir string, out *render.Result, size int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	img, err := toImage(out.Image, size, size)
	if err != nil {
		return err
	}
	if err := writePNG(filepath.Join(dir, "render.png"), img); err != nil {
		return err
	}
	depth, err := depthImage(out.Depth, size, size)
	if err != nil {
		return err
	}
	return writePNG(filepath.Join(dir, "depth.png"), depth)
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
