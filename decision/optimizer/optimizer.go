// Package optimizer selects the cheapest accepted design for one grid point.
package optimizer

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"steel-siting/decision/costs"
	"steel-siting/decision/pricing"
	"steel-siting/decision/sampling"
	"steel-siting/pkg/api"
	serrors "steel-siting/pkg/errors"
	"steel-siting/pkg/numeric"
)

// Geocoder resolves a location to an ISO3 country code. Implementations are
// not required to be safe for concurrent use; each worker owns one.
type Geocoder interface {
	Lookup(lat, lon float64) (string, bool)
}

// Outcome classifies how a grid point was resolved.
type Outcome int

const (
	OutcomeSolved Outcome = iota
	OutcomeZeroPotential
	OutcomeInfeasible
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSolved:
		return "solved"
	case OutcomeZeroPotential:
		return "zero_potential"
	case OutcomeInfeasible:
		return "infeasible"
	}
	return "unknown"
}

// Recorder observes optimizer events. The batch metrics implement it.
type Recorder interface {
	PointEvaluated(outcome Outcome)
	LocationUnresolved()
}

type nopRecorder struct{}

func (nopRecorder) PointEvaluated(Outcome) {}
func (nopRecorder) LocationUnresolved()    {}

// Point is one grid point to optimize.
type Point struct {
	Location api.LatLon
	Profile  api.RenewableProfile
	Ceiling  *api.Ceiling
}

// Config holds the per-run optimizer settings.
type Config struct {
	Percentile           float64
	Samples              int
	Seed                 uint64
	BaseloadDemandMW     float64
	BatteryLifetimeYears int
}

// Optimizer evaluates grid points against a shared, read-only cost table.
// It is safe for concurrent use as long as each goroutine passes its own
// Geocoder.
type Optimizer struct {
	cfg      Config
	table    *costs.CostTable
	pricer   *pricing.Pricer
	remap    RemapTable
	recorder Recorder
	log      zerolog.Logger
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithRemap replaces the default remap table.
func WithRemap(r RemapTable) Option {
	return func(o *Optimizer) { o.remap = r }
}

// WithRecorder attaches a Recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Optimizer) {
		if r != nil {
			o.recorder = r
		}
	}
}

// New creates an optimizer. The table is prepared here so the average cost
// row is never computed concurrently.
func New(cfg Config, table *costs.CostTable, log zerolog.Logger, opts ...Option) *Optimizer {
	table.Prepare()
	o := &Optimizer{
		cfg:   cfg,
		table: table,
		pricer: pricing.NewPricer(pricing.Params{
			BaseloadDemandMW:     cfg.BaseloadDemandMW,
			Percentile:           cfg.Percentile,
			BatteryLifetimeYears: cfg.BatteryLifetimeYears,
		}),
		remap:    DefaultRemapTable(),
		recorder: nopRecorder{},
		log:      log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CeilingFromCapacity converts the physical maximum capacity in MW into
// overscale ceilings. A NaN or negative capacity on either technology means
// no ceiling is known.
func CeilingFromCapacity(pvMW, windMW, demandMW float64) *api.Ceiling {
	if math.IsNaN(pvMW) || math.IsNaN(windMW) || pvMW < 0 || windMW < 0 || demandMW <= 0 {
		return nil
	}
	return &api.Ceiling{Solar: pvMW / demandMW, Wind: windMW / demandMW}
}

// Optimize returns the minimum-LCOE accepted design at pt. A point without
// renewable potential gets the zero design at zero cost; a point where no
// design meets the coverage threshold gets a nil LCOE. Neither is an error.
func (o *Optimizer) Optimize(ctx context.Context, pt Point, geo Geocoder) (api.OptimalSolution, error) {
	if err := ctx.Err(); err != nil {
		return api.OptimalSolution{}, err
	}
	if len(pt.Profile.Solar) != len(pt.Profile.Wind) {
		return api.OptimalSolution{}, fmt.Errorf("profile at %s: %d solar hours, %d wind hours",
			pt.Location, len(pt.Profile.Solar), len(pt.Profile.Wind))
	}

	if pt.Profile.IsZero() {
		o.recorder.PointEvaluated(OutcomeZeroPotential)
		return api.OptimalSolution{InstallationCost: decimal.Zero}, nil
	}

	local := o.LocalCosts(pt.Location, geo)
	designs := sampling.CapacitySampling(pt.Profile, o.cfg.Percentile, pt.Ceiling, o.cfg.Samples, o.cfg.Seed)
	priced := o.pricer.Evaluate(designs, pt.Profile, local)
	if len(priced) == 0 {
		o.recorder.PointEvaluated(OutcomeInfeasible)
		o.log.Debug().
			Err(serrors.NewInfeasibleGridPoint(pt.Location.String(), "no design meets the coverage threshold")).
			Float64("lat", pt.Location.Lat).
			Float64("lon", pt.Location.Lon).
			Int("designs", len(designs)).
			Msg("Grid point infeasible")
		return api.OptimalSolution{InstallationCost: decimal.Zero}, nil
	}

	lcoes := make([]float64, len(priced))
	for i, p := range priced {
		lcoes[i] = p.LCOE
	}
	best := priced[numeric.ArgMin(lcoes)]
	lcoe := best.LCOE
	o.recorder.PointEvaluated(OutcomeSolved)
	return api.OptimalSolution{
		LCOE:             &lcoe,
		InstallationCost: best.InstallationCost,
		Design:           best.Design,
	}, nil
}

// LocalCosts resolves the costs for a location. Unresolved locations and
// countries without a cost row fall back to the cross-country average.
func (o *Optimizer) LocalCosts(loc api.LatLon, geo Geocoder) pricing.LocalCosts {
	local := pricing.LocalCosts{
		Storage:        o.table.Storage,
		InvestmentYear: o.table.InvestmentYear,
		Horizon:        o.table.Horizon,
	}

	var iso3 string
	var ok bool
	if geo != nil {
		iso3, ok = geo.Lookup(loc.Lat, loc.Lon)
	}
	if ok {
		iso3 = o.remap.Resolve(iso3)
		if country, found := o.table.Lookup(iso3); found {
			local.Country = country
			return local
		}
	}

	o.recorder.LocationUnresolved()
	o.log.Warn().
		Err(serrors.NewUnresolvedLocation(loc.String(), iso3)).
		Float64("lat", loc.Lat).
		Float64("lon", loc.Lon).
		Str("iso3", iso3).
		Msg("Using average costs")
	local.Country = o.table.Average()
	return local
}
