// Package regional evaluates every land point of a region in parallel and
// persists the resulting solution raster.
package regional

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"steel-siting/db/postgres"
	"steel-siting/decision/costs"
	"steel-siting/decision/optimizer"
	"steel-siting/internal/raster"
	"steel-siting/pkg/api"
)

// SolutionStore persists solution rasters by run key.
type SolutionStore interface {
	Load(ctx context.Context, key api.RunKey) (*raster.Grid, bool, error)
	Save(ctx context.Context, key api.RunKey, g *raster.Grid) error
}

// CostSource projects the cost table of an investment year.
type CostSource interface {
	Project(ctx context.Context, investmentYear int) (*costs.CostTable, error)
}

// GeocoderFactory builds one reverse geocoder. It is called once per worker.
type GeocoderFactory func() (optimizer.Geocoder, error)

// LandMask restricts evaluation to land. Implementations must be safe for
// concurrent use.
type LandMask interface {
	Contains(lat, lon float64) bool
}

// Mirror copies a finished solution to a secondary store.
type Mirror interface {
	MirrorGrid(ctx context.Context, runID uuid.UUID, key api.RunKey, g *raster.Grid) error
}

// Ledger records the lifecycle of each region run.
type Ledger interface {
	Start(ctx context.Context, key api.RunKey) (uuid.UUID, error)
	Finish(ctx context.Context, id uuid.UUID, status postgres.RunStatus, points, solved int, runErr error) error
}

// Reporter receives progress events.
type Reporter interface {
	optimizer.Recorder
	RegionCompleted(region string, reused bool, seconds float64)
}

// Config holds the executor settings.
type Config struct {
	Workers              int
	Samples              int
	Seed                 uint64
	BaseloadDemandMW     float64
	BatteryLifetimeYears int
	// ProfileYear selects the profile dataset; 0 uses the run year.
	ProfileYear int
	Remap       optimizer.RemapTable
}

// Executor runs regions. Regions are processed one at a time; points within
// a region are spread over Config.Workers goroutines.
type Executor struct {
	cfg      Config
	store    SolutionStore
	costs    CostSource
	inputs   Inputs
	geocoder GeocoderFactory
	coast    LandMask
	mirror   Mirror
	ledger   Ledger
	reporter Reporter
	log      zerolog.Logger

	mu     sync.Mutex
	tables map[int]*costs.CostTable
}

// Option configures an Executor.
type Option func(*Executor)

// WithCoastline intersects the land raster with coastline polygons.
func WithCoastline(m LandMask) Option {
	return func(e *Executor) { e.coast = m }
}

// WithMirror mirrors every computed region.
func WithMirror(m Mirror) Option {
	return func(e *Executor) { e.mirror = m }
}

// WithLedger records every region run.
func WithLedger(l Ledger) Option {
	return func(e *Executor) { e.ledger = l }
}

// WithReporter attaches progress reporting.
func WithReporter(r Reporter) Option {
	return func(e *Executor) { e.reporter = r }
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config, store SolutionStore, costSource CostSource, inputs Inputs, geocoder GeocoderFactory, log zerolog.Logger, opts ...Option) *Executor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Remap == nil {
		cfg.Remap = optimizer.DefaultRemapTable()
	}
	e := &Executor{
		cfg:      cfg,
		store:    store,
		costs:    costSource,
		inputs:   inputs,
		geocoder: geocoder,
		log:      log,
		tables:   map[int]*costs.CostTable{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CostTable returns the projected table of a year, projecting it on first
// use.
func (e *Executor) CostTable(ctx context.Context, year int) (*costs.CostTable, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tables[year]; ok {
		return t, nil
	}
	t, err := e.costs.Project(ctx, year)
	if err != nil {
		return nil, err
	}
	t.Prepare()
	e.tables[year] = t
	return t, nil
}

// cell is one land point awaiting evaluation.
type cell struct {
	i, j    int
	ceiling *api.Ceiling
}

// RunRegion returns the solution raster of key, computing and persisting it
// unless a stored solution already exists.
func (e *Executor) RunRegion(ctx context.Context, key api.RunKey) (*raster.Grid, error) {
	log := e.log.With().Str("run", key.String()).Logger()

	if g, ok, err := e.store.Load(ctx, key); err != nil {
		return nil, err
	} else if ok {
		log.Info().Msg("Reusing stored solution")
		e.recordReuse(ctx, key)
		return g, nil
	}

	var runID uuid.UUID
	if e.ledger != nil {
		id, err := e.ledger.Start(ctx, key)
		if err != nil {
			log.Warn().Err(err).Msg("Run ledger unavailable")
		}
		runID = id
	}
	if runID == uuid.Nil {
		runID = uuid.New()
	}

	start := time.Now()
	g, points, err := e.compute(log.WithContext(ctx), key)
	if err != nil {
		e.finish(ctx, runID, postgres.StatusFailed, points, 0, err)
		return nil, fmt.Errorf("region %s: %w", key, err)
	}
	g.Attrs["run_id"] = runID.String()
	if err := e.store.Save(ctx, key, g); err != nil {
		e.finish(ctx, runID, postgres.StatusFailed, points, 0, err)
		return nil, err
	}

	solved := g.ValidCount(raster.LayerLCOE)
	if e.mirror != nil {
		if err := e.mirror.MirrorGrid(ctx, runID, key, g); err != nil {
			log.Warn().Err(err).Msg("Failed to mirror solution")
		}
	}
	e.finish(ctx, runID, postgres.StatusSucceeded, points, solved, nil)

	elapsed := time.Since(start)
	if e.reporter != nil {
		e.reporter.RegionCompleted(key.Region, false, elapsed.Seconds())
	}
	log.Info().
		Int("points", points).
		Int("solved", solved).
		Dur("elapsed", elapsed).
		Msg("Region complete")
	return g, nil
}

func (e *Executor) recordReuse(ctx context.Context, key api.RunKey) {
	if e.reporter != nil {
		e.reporter.RegionCompleted(key.Region, true, 0)
	}
	if e.ledger == nil {
		return
	}
	if id, err := e.ledger.Start(ctx, key); err == nil {
		e.finish(ctx, id, postgres.StatusReused, 0, 0, nil)
	}
}

func (e *Executor) finish(ctx context.Context, id uuid.UUID, status postgres.RunStatus, points, solved int, runErr error) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.Finish(ctx, id, status, points, solved, runErr); err != nil {
		e.log.Warn().Err(err).Str("run_id", id.String()).Msg("Failed to update run ledger")
	}
}

func (e *Executor) compute(ctx context.Context, key api.RunKey) (*raster.Grid, int, error) {
	table, err := e.CostTable(ctx, key.Year)
	if err != nil {
		return nil, 0, err
	}
	year := e.cfg.ProfileYear
	if year == 0 {
		year = key.Year
	}
	cube, err := e.inputs.Profiles(key.Region, year)
	if err != nil {
		return nil, 0, err
	}
	cells, err := e.landCells(cube)
	if err != nil {
		return nil, 0, err
	}

	opts := []optimizer.Option{optimizer.WithRemap(e.cfg.Remap)}
	if e.reporter != nil {
		opts = append(opts, optimizer.WithRecorder(e.reporter))
	}
	opt := optimizer.New(optimizer.Config{
		Percentile:           key.Percentile,
		Samples:              e.cfg.Samples,
		Seed:                 e.cfg.Seed,
		BaseloadDemandMW:     e.cfg.BaseloadDemandMW,
		BatteryLifetimeYears: e.cfg.BatteryLifetimeYears,
	}, table, zerolog.Ctx(ctx).With().Logger(), opts...)

	solutions, err := e.evaluate(ctx, opt, cube, cells)
	if err != nil {
		return nil, len(cells), err
	}

	g := raster.NewSolutionGrid(cube.Lats, cube.Lons)
	for k, c := range cells {
		writeSolution(g, c.i, c.j, solutions[k])
	}
	return g, len(cells), nil
}

// landCells lists the profile grid points on land with their ceilings.
func (e *Executor) landCells(cube *raster.Cube) ([]cell, error) {
	land, err := e.inputs.Land()
	if err != nil {
		return nil, err
	}
	capacity, err := e.inputs.MaxCapacity()
	if err != nil {
		return nil, err
	}

	var cells []cell
	for i, lat := range cube.Lats {
		for j, lon := range cube.Lons {
			if v, ok := land.ValueAt(VarLand, lat, lon); !ok || v <= 0 {
				continue
			}
			if e.coast != nil && !e.coast.Contains(lat, lon) {
				continue
			}
			c := cell{i: i, j: j}
			if capacity != nil {
				pv, _ := capacity.ValueAt(VarMaxCapacity, lat, lon)
				wind, _ := capacity.ValueAt(VarMaxWind, lat, lon)
				c.ceiling = optimizer.CeilingFromCapacity(pv, wind, e.cfg.BaseloadDemandMW)
			}
			cells = append(cells, c)
		}
	}
	return cells, nil
}

// evaluate spreads cells over a fixed pool of workers. Each worker builds
// its own geocoder once and uses it for every point it takes.
func (e *Executor) evaluate(ctx context.Context, opt *optimizer.Optimizer, cube *raster.Cube, cells []cell) ([]api.OptimalSolution, error) {
	log := zerolog.Ctx(ctx)
	solutions := make([]api.OptimalSolution, len(cells))
	jobs := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for k := range cells {
			select {
			case jobs <- k:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < e.cfg.Workers; w++ {
		workerID := w
		g.Go(func() error {
			geo, err := e.geocoder()
			if err != nil {
				return fmt.Errorf("worker %d: failed to build geocoder: %w", workerID, err)
			}
			log.Debug().Int("worker", workerID).Msg("Worker started")
			for k := range jobs {
				c := cells[k]
				pt := optimizer.Point{
					Location: api.LatLon{Lat: cube.Lats[c.i], Lon: cube.Lons[c.j]},
					Profile:  cube.Profile(c.i, c.j),
					Ceiling:  c.ceiling,
				}
				sol, err := opt.Optimize(gctx, pt, geo)
				if err != nil {
					return fmt.Errorf("point %s: %w", pt.Location, err)
				}
				solutions[k] = sol
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return solutions, nil
}

func writeSolution(g *raster.Grid, i, j int, sol api.OptimalSolution) {
	cost, _ := sol.InstallationCost.Float64()
	g.Set(raster.LayerInstallationCost, i, j, cost)
	g.Set(raster.LayerSolarFactor, i, j, sol.Design.SolarOverscale)
	g.Set(raster.LayerWindFactor, i, j, sol.Design.WindOverscale)
	g.Set(raster.LayerBatteryFactor, i, j, sol.Design.BatteryOverscale)
	if sol.HasSolution() {
		g.Set(raster.LayerLCOE, i, j, *sol.LCOE)
	}
}

// RunAll runs every region and percentile of a year. Costs are projected
// before any region starts and a projection failure aborts the run. A
// failing region does not stop the others; the returned error joins every
// region failure.
func (e *Executor) RunAll(ctx context.Context, year int, regions []string, percentiles []float64) error {
	if _, err := e.CostTable(ctx, year); err != nil {
		return err
	}
	var errs []error
	for _, p := range percentiles {
		for _, region := range regions {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := api.RunKey{Year: year, Region: region, Percentile: p}
			if _, err := e.RunRegion(ctx, key); err != nil {
				e.log.Error().Err(err).Str("run", key.String()).Msg("Region failed")
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
