package optimizer

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steel-siting/decision/costs"
	"steel-siting/decision/pricing"
	"steel-siting/decision/sampling"
	"steel-siting/pkg/api"
)

type staticGeocoder map[api.LatLon]string

func (g staticGeocoder) Lookup(lat, lon float64) (string, bool) {
	iso3, ok := g[api.LatLon{Lat: lat, Lon: lon}]
	return iso3, ok
}

type countingRecorder struct {
	outcomes   map[Outcome]int
	unresolved int
}

func (r *countingRecorder) PointEvaluated(o Outcome) {
	if r.outcomes == nil {
		r.outcomes = map[Outcome]int{}
	}
	r.outcomes[o]++
}

func (r *countingRecorder) LocationUnresolved() { r.unresolved++ }

func testTable() *costs.CostTable {
	row := func(solar, wind, wacc float64) costs.CountryCosts {
		return costs.CountryCosts{
			Capex: map[int]costs.TechCapex{
				2030: {Solar: solar, Wind: wind},
				2031: {Solar: solar * 0.98, Wind: wind * 0.99},
				2032: {Solar: solar * 0.96, Wind: wind * 0.98},
			},
			Opex:          costs.Opex{Solar: 0.02, Wind: 0.03, Battery: 0.01},
			CostOfCapital: wacc,
		}
	}
	return &costs.CostTable{
		InvestmentYear: 2030,
		Horizon:        2,
		Countries: map[string]costs.CountryCosts{
			"FRA": row(400000, 1200000, 0.05),
			"SUR": row(800000, 1600000, 0.12),
		},
		Storage: costs.StorageCostModel{
			CostPerInstalledUnit: []float64{250000, 240000, 230000},
			AvgImpliedStorage:    []float64{4, 4, 4},
			ScalingFactor:        -0.1,
		},
	}
}

func testConfig() Config {
	return Config{
		Percentile:           15,
		Samples:              200,
		Seed:                 12,
		BaseloadDemandMW:     100,
		BatteryLifetimeYears: 10,
	}
}

func dailyProfile(days int) api.RenewableProfile {
	p := api.RenewableProfile{Solar: make([]float64, 24*days), Wind: make([]float64, 24*days)}
	for h := range p.Solar {
		if hour := h % 24; hour >= 6 && hour < 18 {
			p.Solar[h] = math.Sin(math.Pi * float64(hour-6) / 12)
		}
		p.Wind[h] = 0.3 + 0.2*math.Cos(2*math.Pi*float64(h)/37)
	}
	return p
}

func TestOptimizeZeroPotential(t *testing.T) {
	rec := &countingRecorder{}
	o := New(testConfig(), testTable(), zerolog.Nop(), WithRecorder(rec))

	pt := Point{
		Location: api.LatLon{Lat: 0, Lon: -30},
		Profile:  api.RenewableProfile{Solar: []float64{0, 0, 0, 0}, Wind: []float64{0, 0, 0, 0}},
	}
	sol, err := o.Optimize(context.Background(), pt, nil)
	require.NoError(t, err)

	assert.Equal(t, api.Design{}, sol.Design)
	assert.Nil(t, sol.LCOE)
	assert.True(t, sol.InstallationCost.IsZero())
	assert.Equal(t, 1, rec.outcomes[OutcomeZeroPotential])
	assert.Zero(t, rec.unresolved, "zero-potential points skip cost resolution")
}

func TestOptimizeDeterministic(t *testing.T) {
	o := New(testConfig(), testTable(), zerolog.Nop())
	geo := staticGeocoder{{Lat: 45, Lon: 2}: "FRA"}
	pt := Point{Location: api.LatLon{Lat: 45, Lon: 2}, Profile: dailyProfile(4)}

	first, err := o.Optimize(context.Background(), pt, geo)
	require.NoError(t, err)
	second, err := o.Optimize(context.Background(), pt, geo)
	require.NoError(t, err)

	require.True(t, first.HasSolution())
	assert.Equal(t, first.Design, second.Design)
	assert.Equal(t, *first.LCOE, *second.LCOE)
	assert.True(t, first.InstallationCost.Equal(second.InstallationCost))
}

func TestOptimizePicksMinimumLCOE(t *testing.T) {
	cfg := testConfig()
	table := testTable()
	o := New(cfg, table, zerolog.Nop())
	geo := staticGeocoder{{Lat: 45, Lon: 2}: "FRA"}
	pt := Point{Location: api.LatLon{Lat: 45, Lon: 2}, Profile: dailyProfile(4)}

	sol, err := o.Optimize(context.Background(), pt, geo)
	require.NoError(t, err)
	require.True(t, sol.HasSolution())

	designs := sampling.CapacitySampling(pt.Profile, cfg.Percentile, nil, cfg.Samples, cfg.Seed)
	priced := pricing.NewPricer(pricing.Params{
		BaseloadDemandMW:     cfg.BaseloadDemandMW,
		Percentile:           cfg.Percentile,
		BatteryLifetimeYears: cfg.BatteryLifetimeYears,
	}).Evaluate(designs, pt.Profile, o.LocalCosts(pt.Location, geo))
	require.NotEmpty(t, priced)

	for _, p := range priced {
		assert.GreaterOrEqual(t, p.LCOE, *sol.LCOE)
	}
	assert.GreaterOrEqual(t, sol.Design.BatteryOverscale, 0.0)
}

func TestOptimizeInfeasible(t *testing.T) {
	rec := &countingRecorder{}
	o := New(testConfig(), testTable(), zerolog.Nop(), WithRecorder(rec))

	// a zero ceiling forbids any generation
	pt := Point{
		Location: api.LatLon{Lat: 45, Lon: 2},
		Profile:  dailyProfile(2),
		Ceiling:  &api.Ceiling{Solar: 0, Wind: 0},
	}
	sol, err := o.Optimize(context.Background(), pt, staticGeocoder{{Lat: 45, Lon: 2}: "FRA"})
	require.NoError(t, err)
	assert.Nil(t, sol.LCOE)
	assert.False(t, sol.HasSolution())
	assert.Equal(t, 1, rec.outcomes[OutcomeInfeasible])
}

func TestOptimizeRespectsCeiling(t *testing.T) {
	o := New(testConfig(), testTable(), zerolog.Nop())
	pt := Point{
		Location: api.LatLon{Lat: 45, Lon: 2},
		Profile:  dailyProfile(4),
		Ceiling:  &api.Ceiling{Solar: 10, Wind: 2},
	}
	sol, err := o.Optimize(context.Background(), pt, staticGeocoder{{Lat: 45, Lon: 2}: "FRA"})
	require.NoError(t, err)
	if sol.HasSolution() {
		assert.LessOrEqual(t, sol.Design.SolarOverscale, 10.0)
		assert.LessOrEqual(t, sol.Design.WindOverscale, 2.0)
	}
}

func TestOptimizeRejectsMismatchedProfile(t *testing.T) {
	o := New(testConfig(), testTable(), zerolog.Nop())
	pt := Point{Profile: api.RenewableProfile{Solar: []float64{1, 1}, Wind: []float64{1}}}
	_, err := o.Optimize(context.Background(), pt, nil)
	assert.Error(t, err)
}

func TestOptimizeCancelled(t *testing.T) {
	o := New(testConfig(), testTable(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Optimize(ctx, Point{Profile: dailyProfile(1)}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalCosts(t *testing.T) {
	table := testTable()
	rec := &countingRecorder{}
	o := New(testConfig(), table, zerolog.Nop(), WithRecorder(rec))

	geo := staticGeocoder{
		{Lat: 4, Lon: -53}: "GUF",
		{Lat: 45, Lon: 2}:  "FRA",
		{Lat: 10, Lon: 10}: "XXX",
	}

	tests := []struct {
		name       string
		loc        api.LatLon
		geo        Geocoder
		want       costs.CountryCosts
		unresolved int
	}{
		{name: "direct", loc: api.LatLon{Lat: 45, Lon: 2}, geo: geo, want: table.Countries["FRA"]},
		{name: "remapped territory", loc: api.LatLon{Lat: 4, Lon: -53}, geo: geo, want: table.Countries["SUR"]},
		{name: "no cost row", loc: api.LatLon{Lat: 10, Lon: 10}, geo: geo, want: table.Average(), unresolved: 1},
		{name: "not geocoded", loc: api.LatLon{Lat: -60, Lon: 0}, geo: geo, want: table.Average(), unresolved: 2},
		{name: "no geocoder", loc: api.LatLon{Lat: 45, Lon: 2}, geo: nil, want: table.Average(), unresolved: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := o.LocalCosts(tt.loc, tt.geo)
			assert.Equal(t, tt.want, local.Country)
			assert.Equal(t, 2030, local.InvestmentYear)
			assert.Equal(t, 2, local.Horizon)
			assert.Equal(t, tt.unresolved, rec.unresolved)
		})
	}
}

func TestAverageCostsBetweenCountries(t *testing.T) {
	avg := testTable().Average()
	assert.InDelta(t, 600000, avg.Capex[2030].Solar, 1e-6)
	assert.InDelta(t, 0.085, avg.CostOfCapital, 1e-9)
}

func TestCeilingFromCapacity(t *testing.T) {
	c := CeilingFromCapacity(1000, 200, 100)
	require.NotNil(t, c)
	assert.Equal(t, 10.0, c.Solar)
	assert.Equal(t, 2.0, c.Wind)

	assert.Nil(t, CeilingFromCapacity(math.NaN(), 200, 100))
	assert.Nil(t, CeilingFromCapacity(1000, math.NaN(), 100))
	assert.Nil(t, CeilingFromCapacity(1000, 200, 0))
}
