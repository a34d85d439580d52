package costs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"steel-siting/pkg/api"
	serrors "steel-siting/pkg/errors"
)

// LearningRates are the fractional cost reductions per doubling of capacity.
type LearningRates struct {
	Solar float64
	Wind  float64
}

// Config controls a projection.
type Config struct {
	BaseYear             int
	Horizon              int
	LearningRates        LearningRates
	BatteryScalingFactor float64
	CacheDir             string
}

// InputLoader supplies the tabular inputs. It is only called on a cache miss.
type InputLoader func() (*Inputs, error)

// Projector builds the cost of renewables for an investment year.
type Projector struct {
	cfg  Config
	load InputLoader
	log  zerolog.Logger
}

// NewProjector creates a projector reading inputs through load.
func NewProjector(cfg Config, load InputLoader, log zerolog.Logger) *Projector {
	return &Projector{cfg: cfg, load: load, log: log.With().Str("component", "costs").Logger()}
}

// CachePath returns the cache file of an investment year.
func (p *Projector) CachePath(investmentYear int) string {
	return filepath.Join(p.cfg.CacheDir, fmt.Sprintf("cost_of_renewables_%d.json", investmentYear))
}

// Project returns the cost table spanning [investmentYear, investmentYear +
// horizon]. A table cached for the same year is returned without reading any
// input.
func (p *Projector) Project(ctx context.Context, investmentYear int) (*CostTable, error) {
	if p.cfg.CacheDir != "" {
		table, err := LoadCache(p.CachePath(investmentYear))
		if err == nil {
			p.log.Info().Int("year", investmentYear).Str("path", p.CachePath(investmentYear)).Msg("Using cached cost table")
			return table, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in, err := p.load()
	if err != nil {
		return nil, err
	}
	table, err := p.Build(in, investmentYear)
	if err != nil {
		return nil, err
	}

	if p.cfg.CacheDir != "" {
		if err := SaveCache(p.CachePath(investmentYear), table); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// Build projects inputs onto the investment window without touching the cache.
func (p *Projector) Build(in *Inputs, investmentYear int) (*CostTable, error) {
	if investmentYear < p.cfg.BaseYear {
		return nil, serrors.NewInputDataError("config",
			fmt.Sprintf("investment year %d precedes cost base year %d", investmentYear, p.cfg.BaseYear), nil)
	}
	if len(in.Capex) == 0 {
		return nil, serrors.NewInputDataError(CapexFile, "no CAPEX rows", nil)
	}
	endYear := investmentYear + p.cfg.Horizon

	storage, err := p.storageModel(in.Storage, investmentYear)
	if err != nil {
		return nil, err
	}

	table := &CostTable{
		InvestmentYear: investmentYear,
		Horizon:        p.cfg.Horizon,
		Countries:      make(map[string]CountryCosts, len(in.Capex)),
		Storage:        storage,
	}

	maxWACC := globalMax(in.CostOfCapital)

	countries := make([]string, 0, len(in.Capex))
	for iso3 := range in.Capex {
		countries = append(countries, iso3)
	}
	sort.Strings(countries)

	for _, iso3 := range countries {
		base := in.Capex[iso3]
		if base.Solar <= 0 || base.Wind <= 0 {
			return nil, serrors.NewInputDataError(CapexFile,
				fmt.Sprintf("%s has no positive capex for both solar and wind", iso3), nil)
		}
		solar := p.projectTech(in, iso3, api.Solar, base.Solar, p.cfg.LearningRates.Solar, endYear)
		wind := p.projectTech(in, iso3, api.Wind, base.Wind, p.cfg.LearningRates.Wind, endYear)

		row := CountryCosts{
			Capex: make(map[int]TechCapex, p.cfg.Horizon+1),
			Opex:  in.Opex,
		}
		for y := investmentYear; y <= endYear; y++ {
			row.Capex[y] = TechCapex{Solar: solar[y], Wind: wind[y]}
		}

		wacc, ok := in.CostOfCapital[iso3]
		if !ok {
			warn := serrors.NewMissingCostOfCapital(iso3, maxWACC)
			p.log.Warn().Str("iso3", iso3).Str("code", warn.Code).Float64("substitute", maxWACC).
				Msg("Missing cost of capital, using global maximum")
			wacc = maxWACC
		}
		row.CostOfCapital = wacc
		table.Countries[iso3] = row
	}

	table.Prepare()
	p.log.Info().Int("year", investmentYear).Int("countries", len(table.Countries)).Msg("Projected cost table")
	return table, nil
}

// projectTech returns CAPEX by year from the base year to endYear.
func (p *Projector) projectTech(in *Inputs, iso3 string, tech api.Technology, capex0, lr float64, endYear int) map[int]float64 {
	out := make(map[int]float64, endYear-p.cfg.BaseYear+1)
	flat := func() map[int]float64 {
		for y := p.cfg.BaseYear; y <= endYear; y++ {
			out[y] = capex0
		}
		return out
	}

	baseCap, ok := ValueAtOrBefore(in.HistoryCapacity.Get(iso3, tech), p.cfg.BaseYear)
	ssp := in.SSPCapacity.Get(iso3, tech)
	if !ok || len(ssp) == 0 {
		p.log.Debug().Str("iso3", iso3).Str("technology", string(tech)).Msg("No capacity trajectory, holding CAPEX flat")
		return flat()
	}

	capacity := RebaseGrowth(Annualize(ssp, p.cfg.BaseYear, endYear), baseCap)
	for _, v := range ProjectCapex(capacity, capex0, lr) {
		out[v.Year] = v.Value
	}
	return out
}

func (p *Projector) storageModel(rows []StorageYear, investmentYear int) (StorageCostModel, error) {
	if len(rows) == 0 {
		return StorageCostModel{}, serrors.NewInputDataError(StorageFile, "no storage cost rows", nil)
	}
	costs := make([]YearValue, len(rows))
	avgs := make([]YearValue, len(rows))
	for i, r := range rows {
		costs[i] = YearValue{Year: r.Year, Value: r.CostPerInstalledUnit}
		avgs[i] = YearValue{Year: r.Year, Value: r.AvgImpliedStorage}
	}
	endYear := investmentYear + p.cfg.Horizon
	model := StorageCostModel{ScalingFactor: p.cfg.BatteryScalingFactor}
	for _, v := range Annualize(costs, investmentYear, endYear) {
		model.CostPerInstalledUnit = append(model.CostPerInstalledUnit, v.Value)
	}
	for _, v := range Annualize(avgs, investmentYear, endYear) {
		model.AvgImpliedStorage = append(model.AvgImpliedStorage, v.Value)
	}
	return model, nil
}

func globalMax(values map[string]float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	if math.IsInf(m, -1) {
		return 0
	}
	return m
}

// LoadCache reads a cached cost table. A missing file returns an error
// satisfying errors.Is(err, fs.ErrNotExist).
func LoadCache(path string) (*CostTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var table CostTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to decode cost cache %s: %w", path, err)
	}
	table.Prepare()
	return &table, nil
}

// SaveCache writes table atomically to path.
func SaveCache(path string, table *CostTable) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cost table: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cost cache: %w", err)
	}
	return os.Rename(tmp, path)
}
