package main

import (
	"context"
	"flag"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/field"
	"github.com/pthm-cable/drift/kernel"
	"github.com/pthm-cable/drift/partition"
	"github.com/pthm-cable/drift/particle"
	"github.com/pthm-cable/drift/sim"
	"github.com/pthm-cable/drift/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	kernelPath := flag.String("kernel", "", "Path to a kernel source file (empty = built-in RK4 advection)")
	particles := flag.Int("particles", 100, "Number of particles to seed")
	outputDir := flag.String("output-dir", "", "Output directory (overrides config)")
	seed := flag.Int64("seed", 0, "Kernel RNG seed (overrides config when non-zero)")
	workers := flag.Int("workers", 0, "Worker count (overrides config when non-zero)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *seed != 0 {
		cfg.Execution.Seed = *seed
	}
	if *workers != 0 {
		cfg.Partition.Workers = *workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *kernelPath, *particles); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, kernelPath string, n int) error {
	schema, err := particle.NewSchema()
	if err != nil {
		return err
	}

	src := kernel.AdvectionRK4
	if kernelPath != "" {
		data, err := os.ReadFile(kernelPath)
		if err != nil {
			return err
		}
		src = string(data)
	}
	k, err := kernel.Parse(src, schema)
	if err != nil {
		return err
	}
	chain, err := kernel.NewChain(k)
	if err != nil {
		return err
	}

	fs, err := demoFieldSet(cfg)
	if err != nil {
		return err
	}

	ps, err := seedParticles(schema, n, cfg.Execution.DT)
	if err != nil {
		return err
	}

	var varNames []string
	for _, v := range schema.Vars() {
		if v.ToWrite {
			varNames = append(varNames, v.Name)
		}
	}
	om, err := telemetry.NewOutputManager(cfg.Output.Dir, varNames)
	if err != nil {
		return err
	}
	defer om.Close()
	if err := om.WriteConfig(cfg); err != nil {
		return err
	}

	exOpts := sim.Options{
		Compiled:       cfg.Derived.Compiled,
		Seed:           cfg.Execution.Seed,
		DT:             cfg.Execution.DT,
		OutputInterval: cfg.Execution.OutputInterval,
	}
	if om != nil {
		exOpts.Sink = om
	}

	var report *sim.Report
	if cfg.Partition.Workers > 1 {
		runner, err := partition.NewRunner(chain,
			func() (*field.FieldSet, error) { return demoFieldSet(cfg) },
			partition.Options{
				Workers:        cfg.Partition.Workers,
				RebalanceEvery: cfg.Partition.RebalanceEvery,
				Executor:       exOpts,
			})
		if err != nil {
			return err
		}
		report, err = runner.Run(ctx, ps, cfg.Derived.Endtime)
		if err != nil {
			return err
		}
	} else {
		ex, err := sim.New(ps, fs, chain, exOpts)
		if err != nil {
			return err
		}
		report, err = ex.Run(ctx, cfg.Derived.Endtime)
		if err != nil {
			return err
		}
	}

	if err := om.WriteReport(report); err != nil {
		return err
	}
	slog.Info("simulation complete",
		"steps", report.Steps,
		"completed", report.Completed,
		"deleted", report.Deleted,
		"errored", report.Errored,
		"mean_lon", report.MeanLon,
		"mean_lat", report.MeanLat)
	return nil
}

// demoFieldSet builds an analytic eastward jet on a 1-degree global band:
// u peaks at 1 m/s on the jet axis and decays with latitude, v is zero.
// Each call returns an independent instance, so it doubles as the per-worker
// field provider under partitioned runs.
func demoFieldSet(cfg *config.Config) (*field.FieldSet, error) {
	mesh, err := field.ParseMesh(cfg.Field.Mesh)
	if err != nil {
		return nil, err
	}
	boundary, err := field.ParseBoundary(cfg.Field.Boundary)
	if err != nil {
		return nil, err
	}
	interp, err := field.ParseInterp(cfg.Field.Interp)
	if err != nil {
		return nil, err
	}

	nx, ny := 73, 41
	lons := make([]float64, nx)
	for i := range lons {
		lons[i] = -10 + float64(i)*float64(20)/float64(nx-1)
	}
	lats := make([]float64, ny)
	for j := range lats {
		lats[j] = 30 + float64(j)*float64(20)/float64(ny-1)
	}
	grid, err := field.NewRectilinearGrid(lats, lons, boundary)
	if err != nil {
		return nil, err
	}

	const jetLat, jetWidth = 40.0, 5.0
	u := make([]float64, ny*nx)
	v := make([]float64, ny*nx)
	for j, lat := range lats {
		speed := math.Exp(-((lat - jetLat) * (lat - jetLat)) / (2 * jetWidth * jetWidth))
		for i := 0; i < nx; i++ {
			u[j*nx+i] = speed
		}
	}

	opts := field.Options{Interp: interp, Units: field.Identity{}}
	uf, err := field.New("U", u, nil, nil, grid, opts)
	if err != nil {
		return nil, err
	}
	vf, err := field.New("V", v, nil, nil, grid, opts)
	if err != nil {
		return nil, err
	}

	fs := field.NewFieldSet(mesh)
	if err := fs.AddVelocity(uf, vf, cfg.Field.Interp == "cgrid_velocity"); err != nil {
		return nil, err
	}
	return fs, nil
}

// seedParticles spreads n particles across the jet region.
func seedParticles(schema *particle.Schema, n int, dt float64) (*particle.Set, error) {
	side := int(math.Ceil(math.Sqrt(float64(n))))
	lons := make([]float64, 0, n)
	lats := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		row, col := i/side, i%side
		lons = append(lons, -8+16*float64(col)/float64(side))
		lats = append(lats, 33+14*float64(row)/float64(side))
	}
	return particle.NewSet(schema, lons, lats, nil, nil, dt)
}
