package regional

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steel-siting/db/postgres"
	"steel-siting/decision/costs"
	"steel-siting/decision/optimizer"
	"steel-siting/internal/raster"
	"steel-siting/pkg/api"
)

type memStore struct {
	mu    sync.Mutex
	grids map[api.RunKey]*raster.Grid
	saves int
}

func newMemStore() *memStore {
	return &memStore{grids: map[api.RunKey]*raster.Grid{}}
}

func (s *memStore) Load(_ context.Context, key api.RunKey) (*raster.Grid, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grids[key]
	return g, ok, nil
}

func (s *memStore) Save(_ context.Context, key api.RunKey, g *raster.Grid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grids[key] = g
	s.saves++
	return nil
}

type fakeCosts struct {
	calls int
	err   error
}

func (f *fakeCosts) Project(_ context.Context, year int) (*costs.CostTable, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &costs.CostTable{
		InvestmentYear: year,
		Horizon:        2,
		Countries: map[string]costs.CountryCosts{
			"AAA": {
				Capex: map[int]costs.TechCapex{
					year:     {Solar: 400000, Wind: 1200000},
					year + 1: {Solar: 390000, Wind: 1190000},
					year + 2: {Solar: 380000, Wind: 1180000},
				},
				Opex:          costs.Opex{Solar: 0.02, Wind: 0.03, Battery: 0.01},
				CostOfCapital: 0.06,
			},
		},
		Storage: costs.StorageCostModel{
			CostPerInstalledUnit: []float64{250000, 245000, 240000},
			AvgImpliedStorage:    []float64{4, 4, 4},
			ScalingFactor:        -0.1,
		},
	}, nil
}

type memInputs struct {
	cubes    map[string]*raster.Cube
	land     *raster.Grid
	capacity *raster.Grid
}

func (m *memInputs) Profiles(region string, _ int) (*raster.Cube, error) {
	c, ok := m.cubes[region]
	if !ok {
		return nil, errors.New("no profiles for " + region)
	}
	return c, nil
}

func (m *memInputs) MaxCapacity() (*raster.Grid, error) { return m.capacity, nil }
func (m *memInputs) Land() (*raster.Grid, error)        { return m.land, nil }

type fixedGeocoder string

func (g fixedGeocoder) Lookup(float64, float64) (string, bool) { return string(g), true }

type geocoderCounter struct{ n atomic.Int32 }

func (c *geocoderCounter) factory() (optimizer.Geocoder, error) {
	c.n.Add(1)
	return fixedGeocoder("AAA"), nil
}

type recordingMirror struct {
	runIDs []uuid.UUID
	keys   []api.RunKey
}

func (m *recordingMirror) MirrorGrid(_ context.Context, runID uuid.UUID, key api.RunKey, _ *raster.Grid) error {
	m.runIDs = append(m.runIDs, runID)
	m.keys = append(m.keys, key)
	return nil
}

type recordingLedger struct {
	started  []api.RunKey
	statuses []postgres.RunStatus
	ids      []uuid.UUID
}

func (l *recordingLedger) Start(_ context.Context, key api.RunKey) (uuid.UUID, error) {
	l.started = append(l.started, key)
	id := uuid.New()
	l.ids = append(l.ids, id)
	return id, nil
}

func (l *recordingLedger) Finish(_ context.Context, _ uuid.UUID, status postgres.RunStatus, _, _ int, runErr error) error {
	if runErr != nil {
		status = postgres.StatusFailed
	}
	l.statuses = append(l.statuses, status)
	return nil
}

type countingReporter struct {
	mu       sync.Mutex
	points   int
	computed int
	reused   int
}

func (r *countingReporter) PointEvaluated(optimizer.Outcome) {
	r.mu.Lock()
	r.points++
	r.mu.Unlock()
}
func (r *countingReporter) LocationUnresolved() {}
func (r *countingReporter) RegionCompleted(_ string, reused bool, _ float64) {
	if reused {
		r.reused++
	} else {
		r.computed++
	}
}

// testInputs builds a 2x3 region: (0,0) and (0,1) are land with good
// profiles, (1,0) is land with no potential, the rest is sea.
func testInputs() *memInputs {
	lats := raster.Axis(10, 1, 2)
	lons := raster.Axis(20, 1, 3)
	cube := raster.NewCube(lats, lons, 48)
	good := api.RenewableProfile{Solar: make([]float64, 48), Wind: make([]float64, 48)}
	for h := range good.Solar {
		if hour := h % 24; hour >= 6 && hour < 18 {
			good.Solar[h] = math.Sin(math.Pi * float64(hour-6) / 12)
		}
		good.Wind[h] = 0.35 + 0.15*math.Cos(2*math.Pi*float64(h)/29)
	}
	cube.SetProfile(0, 0, good)
	cube.SetProfile(0, 1, good)
	cube.SetProfile(1, 2, good)

	land := raster.NewGrid(lats, lons)
	land.Set(VarLand, 0, 0, 1)
	land.Set(VarLand, 0, 1, 1)
	land.Set(VarLand, 1, 0, 1)
	land.Set(VarLand, 1, 2, 0)

	return &memInputs{cubes: map[string]*raster.Cube{"alpha": cube}, land: land}
}

func testConfig(workers int) Config {
	return Config{
		Workers:              workers,
		Samples:              150,
		Seed:                 12,
		BaseloadDemandMW:     100,
		BatteryLifetimeYears: 10,
	}
}

func TestRunRegionComputesAndPersists(t *testing.T) {
	store := newMemStore()
	geo := &geocoderCounter{}
	mirror := &recordingMirror{}
	ledger := &recordingLedger{}
	reporter := &countingReporter{}
	e := NewExecutor(testConfig(3), store, &fakeCosts{}, testInputs(), geo.factory, zerolog.Nop(),
		WithMirror(mirror), WithLedger(ledger), WithReporter(reporter))

	key := api.RunKey{Year: 2030, Region: "alpha", Percentile: 15}
	g, err := e.RunRegion(context.Background(), key)
	require.NoError(t, err)

	// land with potential
	for _, j := range []int{0, 1} {
		v, ok := g.Value(raster.LayerLCOE, 0, j)
		require.True(t, ok, "cell (0,%d)", j)
		assert.Greater(t, v, 0.0)
		b, ok := g.Value(raster.LayerBatteryFactor, 0, j)
		require.True(t, ok)
		assert.GreaterOrEqual(t, b, 0.0)
	}

	// land without potential: zero design, no LCOE
	_, ok := g.Value(raster.LayerLCOE, 1, 0)
	assert.False(t, ok)
	cost, ok := g.Value(raster.LayerInstallationCost, 1, 0)
	assert.True(t, ok)
	assert.Equal(t, 0.0, cost)

	// sea
	for _, j := range []int{1, 2} {
		_, ok := g.Value(raster.LayerInstallationCost, 1, j)
		assert.False(t, ok, "cell (1,%d)", j)
	}

	assert.Equal(t, 1, store.saves)
	assert.Equal(t, int32(3), geo.n.Load(), "one geocoder per worker")
	require.Len(t, mirror.keys, 1)
	assert.Equal(t, key, mirror.keys[0])
	assert.Equal(t, ledger.ids[0], mirror.runIDs[0])
	assert.Equal(t, []postgres.RunStatus{postgres.StatusSucceeded}, ledger.statuses)
	assert.Equal(t, 3, reporter.points)
	assert.Equal(t, 1, reporter.computed)
	assert.Equal(t, ledger.ids[0].String(), g.Attrs["run_id"])
}

func TestRunRegionReusesStoredSolution(t *testing.T) {
	store := newMemStore()
	key := api.RunKey{Year: 2030, Region: "alpha", Percentile: 15}
	stored := raster.NewSolutionGrid(raster.Axis(0, 1, 1), raster.Axis(0, 1, 1))
	stored.Set(raster.LayerLCOE, 0, 0, 45)
	store.grids[key] = stored

	costSource := &fakeCosts{}
	geo := &geocoderCounter{}
	ledger := &recordingLedger{}
	reporter := &countingReporter{}
	e := NewExecutor(testConfig(2), store, costSource, testInputs(), geo.factory, zerolog.Nop(),
		WithLedger(ledger), WithReporter(reporter))

	g, err := e.RunRegion(context.Background(), key)
	require.NoError(t, err)
	assert.Same(t, stored, g)
	assert.Zero(t, costSource.calls)
	assert.Zero(t, geo.n.Load())
	assert.Zero(t, store.saves)
	assert.Equal(t, []postgres.RunStatus{postgres.StatusReused}, ledger.statuses)
	assert.Equal(t, 1, reporter.reused)
}

func TestRunRegionIndependentOfWorkerCount(t *testing.T) {
	key := api.RunKey{Year: 2030, Region: "alpha", Percentile: 15}
	run := func(workers int) *raster.Grid {
		geo := &geocoderCounter{}
		e := NewExecutor(testConfig(workers), newMemStore(), &fakeCosts{}, testInputs(), geo.factory, zerolog.Nop())
		g, err := e.RunRegion(context.Background(), key)
		require.NoError(t, err)
		return g
	}

	one, four := run(1), run(4)
	for _, name := range raster.SolutionLayers {
		for i := range one.Lats {
			for j := range one.Lons {
				a, aok := one.Value(name, i, j)
				b, bok := four.Value(name, i, j)
				require.Equal(t, aok, bok)
				if aok {
					assert.Equal(t, a, b, "%s (%d,%d)", name, i, j)
				}
			}
		}
	}
}

type boxMask struct{ maxLon float64 }

func (m boxMask) Contains(_, lon float64) bool { return lon <= m.maxLon }

func TestRunRegionCoastlineMask(t *testing.T) {
	geo := &geocoderCounter{}
	e := NewExecutor(testConfig(2), newMemStore(), &fakeCosts{}, testInputs(), geo.factory, zerolog.Nop(),
		WithCoastline(boxMask{maxLon: 20.5}))

	g, err := e.RunRegion(context.Background(), api.RunKey{Year: 2030, Region: "alpha", Percentile: 15})
	require.NoError(t, err)
	assert.Equal(t, 2, g.ValidCount(raster.LayerInstallationCost))
	_, ok := g.Value(raster.LayerInstallationCost, 0, 1)
	assert.False(t, ok)
}

func TestRunRegionCeilingFromCapacity(t *testing.T) {
	in := testInputs()
	capacity := raster.NewGrid(in.land.Lats, in.land.Lons)
	for j := 0; j < 3; j++ {
		capacity.Set(VarMaxCapacity, 0, j, 300)
		capacity.Set(VarMaxWind, 0, j, 150)
	}
	in.capacity = capacity

	geo := &geocoderCounter{}
	e := NewExecutor(testConfig(2), newMemStore(), &fakeCosts{}, in, geo.factory, zerolog.Nop())
	g, err := e.RunRegion(context.Background(), api.RunKey{Year: 2030, Region: "alpha", Percentile: 15})
	require.NoError(t, err)

	for j := 0; j < 2; j++ {
		s, _ := g.Value(raster.LayerSolarFactor, 0, j)
		w, _ := g.Value(raster.LayerWindFactor, 0, j)
		assert.LessOrEqual(t, s, 3.0)
		assert.LessOrEqual(t, w, 1.5)
	}
}

func TestRunAllIsolatesRegionFailures(t *testing.T) {
	store := newMemStore()
	geo := &geocoderCounter{}
	ledger := &recordingLedger{}
	e := NewExecutor(testConfig(2), store, &fakeCosts{}, testInputs(), geo.factory, zerolog.Nop(), WithLedger(ledger))

	err := e.RunAll(context.Background(), 2030, []string{"missing", "alpha"}, []float64{15})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	_, ok, _ := store.Load(context.Background(), api.RunKey{Year: 2030, Region: "alpha", Percentile: 15})
	assert.True(t, ok, "a failing region must not stop the others")
	assert.Equal(t, []postgres.RunStatus{postgres.StatusFailed, postgres.StatusSucceeded}, ledger.statuses)
}

func TestRunAllAbortsWhenCostsFail(t *testing.T) {
	store := newMemStore()
	geo := &geocoderCounter{}
	e := NewExecutor(testConfig(2), store, &fakeCosts{err: errors.New("no capex sheet")}, testInputs(), geo.factory, zerolog.Nop())

	err := e.RunAll(context.Background(), 2030, []string{"alpha"}, []float64{15})
	require.Error(t, err)
	assert.Zero(t, store.saves)
}

func TestCostTableProjectedOncePerYear(t *testing.T) {
	costSource := &fakeCosts{}
	e := NewExecutor(testConfig(1), newMemStore(), costSource, testInputs(), (&geocoderCounter{}).factory, zerolog.Nop())

	a, err := e.CostTable(context.Background(), 2030)
	require.NoError(t, err)
	b, err := e.CostTable(context.Background(), 2030)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, costSource.calls)
}
