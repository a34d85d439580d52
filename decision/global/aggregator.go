// Package global merges regional solution rasters into one global raster.
package global

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"steel-siting/decision/regional"
	"steel-siting/internal/raster"
	"steel-siting/pkg/api"
	serrors "steel-siting/pkg/errors"
)

// Reporter receives aggregation readiness.
type Reporter interface {
	GlobalReady(year, percentile string, ready bool)
}

// Result is the outcome of an aggregation. Grid is nil unless Ready.
type Result struct {
	Grid    *raster.Grid
	Ready   bool
	Missing []string
}

// Aggregator merges the configured regions onto a common grid.
type Aggregator struct {
	store    regional.SolutionStore
	regions  []string
	lats     []float64
	lons     []float64
	reporter Reporter
	log      zerolog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithReporter attaches readiness reporting.
func WithReporter(r Reporter) Option {
	return func(a *Aggregator) { a.reporter = r }
}

// WithAxes replaces the global grid axes.
func WithAxes(lats, lons []float64) Option {
	return func(a *Aggregator) {
		a.lats = lats
		a.lons = lons
	}
}

// Axes returns global cell centres at the given resolution in degrees.
func Axes(resolution float64) (lats, lons []float64) {
	half := resolution / 2
	return raster.RegularAxis(-90+half, 90-half, resolution), raster.RegularAxis(-180+half, 180-half, resolution)
}

// NewAggregator creates an aggregator. Regions earlier in the list take
// precedence where regions overlap.
func NewAggregator(store regional.SolutionStore, regions []string, resolution float64, log zerolog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:   store,
		regions: regions,
		log:     log,
	}
	a.lats, a.lons = Axes(resolution)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate returns the global raster of a year and percentile. A stored
// global raster is returned as is. If any region has no stored solution the
// result is not ready and nothing is merged or persisted.
func (a *Aggregator) Aggregate(ctx context.Context, year int, percentile float64) (Result, error) {
	key := api.RunKey{Year: year, Region: api.GlobalRegion, Percentile: percentile}
	log := a.log.With().Str("run", key.String()).Logger()

	if g, ok, err := a.store.Load(ctx, key); err != nil {
		return Result{}, err
	} else if ok {
		a.report(key, true)
		return Result{Grid: g, Ready: true}, nil
	}

	grids := make([]*raster.Grid, 0, len(a.regions))
	var missing []string
	for _, region := range a.regions {
		g, ok, err := a.store.Load(ctx, api.RunKey{Year: year, Region: region, Percentile: percentile})
		if err != nil {
			return Result{}, err
		}
		if !ok {
			missing = append(missing, region)
			log.Warn().Err(serrors.NewIncompleteAggregation(region)).Str("region", region).Msg("Global raster not ready")
			continue
		}
		grids = append(grids, g)
	}
	if len(missing) > 0 {
		a.report(key, false)
		return Result{Missing: missing}, nil
	}

	merged := Merge(a.lats, a.lons, grids)
	if err := a.store.Save(ctx, key, merged); err != nil {
		return Result{}, err
	}
	a.report(key, true)
	log.Info().
		Int("regions", len(grids)).
		Int("solved", merged.ValidCount(raster.LayerLCOE)).
		Msg("Global raster complete")
	return Result{Grid: merged, Ready: true}, nil
}

func (a *Aggregator) report(key api.RunKey, ready bool) {
	if a.reporter != nil {
		a.reporter.GlobalReady(strconv.Itoa(key.Year), key.PercentileLabel(), ready)
	}
}

// Merge reprojects each grid onto (lats, lons) by nearest neighbour and
// merges them cell by cell. A cell takes every layer from the first grid
// with an LCOE there; cells where no grid has an LCOE take the first grid
// with any data, so evaluated points without a solution stay distinguishable
// from points never evaluated.
func Merge(lats, lons []float64, grids []*raster.Grid) *raster.Grid {
	out := raster.NewSolutionGrid(lats, lons)
	projected := make([]*raster.Grid, len(grids))
	for k, g := range grids {
		projected[k] = g.Reproject(lats, lons)
	}

	for i := range lats {
		for j := range lons {
			src := pick(projected, i, j)
			if src == nil {
				continue
			}
			for _, name := range raster.SolutionLayers {
				if v, ok := src.Value(name, i, j); ok {
					out.Set(name, i, j, v)
				}
			}
		}
	}
	return out
}

func pick(grids []*raster.Grid, i, j int) *raster.Grid {
	for _, g := range grids {
		if _, ok := g.Value(raster.LayerLCOE, i, j); ok {
			return g
		}
	}
	for _, g := range grids {
		for _, name := range raster.SolutionLayers {
			if _, ok := g.Value(name, i, j); ok {
				return g
			}
		}
	}
	return nil
}
