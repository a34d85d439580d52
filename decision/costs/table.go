// Package costs projects renewable CAPEX along a learning curve and builds
// the per-country cost table consumed by the design pricer.
package costs

import (
	"math"
	"sort"
)

// TechCapex is the CAPEX of the generation technologies in one year,
// USD per MW.
type TechCapex struct {
	Solar float64 `json:"solar"`
	Wind  float64 `json:"wind"`
}

// Opex is the flat yearly operating cost as a fraction of CAPEX.
type Opex struct {
	Solar   float64 `json:"solar"`
	Wind    float64 `json:"wind"`
	Battery float64 `json:"battery"`
}

// CountryCosts is the cost row of one country.
type CountryCosts struct {
	Capex         map[int]TechCapex `json:"capex"`
	Opex          Opex              `json:"opex"`
	CostOfCapital float64           `json:"cost_of_capital"`
}

// CapexAt returns the CAPEX of year, holding the nearest edge of the table
// for years outside it.
func (c CountryCosts) CapexAt(year int) TechCapex {
	if v, ok := c.Capex[year]; ok {
		return v
	}
	years := make([]int, 0, len(c.Capex))
	for y := range c.Capex {
		years = append(years, y)
	}
	if len(years) == 0 {
		return TechCapex{}
	}
	sort.Ints(years)
	if year < years[0] {
		return c.Capex[years[0]]
	}
	return c.Capex[years[len(years)-1]]
}

// StorageCostModel corrects battery CAPEX for modular economies of scale.
// Slices are indexed by year offset from the investment year. Costs are USD
// per MWh of storage.
type StorageCostModel struct {
	CostPerInstalledUnit []float64 `json:"cost_per_installed_unit"`
	AvgImpliedStorage    []float64 `json:"avg_implied_storage"`
	ScalingFactor        float64   `json:"scaling_factor"`
}

// BatteryCapex returns the per-MWh battery CAPEX at year offset for a
// battery of the given overscale:
//
//	cost * (overscale / avg)^scaling   when overscale > 0
//	cost                               otherwise
func (m StorageCostModel) BatteryCapex(offset int, overscale float64) float64 {
	if len(m.CostPerInstalledUnit) == 0 {
		return 0
	}
	i := clampIndex(offset, len(m.CostPerInstalledUnit))
	cost := m.CostPerInstalledUnit[i]
	if overscale <= 0 || len(m.AvgImpliedStorage) == 0 {
		return cost
	}
	avg := m.AvgImpliedStorage[clampIndex(offset, len(m.AvgImpliedStorage))]
	if avg <= 0 {
		return cost
	}
	return cost * math.Pow(overscale/avg, m.ScalingFactor)
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// CostTable is the projected cost of renewables for one investment year.
// It is built once before any parallel work and only read afterwards.
type CostTable struct {
	InvestmentYear int                     `json:"investment_year"`
	Horizon        int                     `json:"horizon"`
	Countries      map[string]CountryCosts `json:"countries"`
	Storage        StorageCostModel        `json:"storage"`

	average *CountryCosts
}

// Years returns every year the table spans, [InvestmentYear, InvestmentYear+Horizon].
func (t *CostTable) Years() []int {
	years := make([]int, 0, t.Horizon+1)
	for y := t.InvestmentYear; y <= t.InvestmentYear+t.Horizon; y++ {
		years = append(years, y)
	}
	return years
}

// Lookup returns the costs of a country.
func (t *CostTable) Lookup(iso3 string) (CountryCosts, bool) {
	c, ok := t.Countries[iso3]
	return c, ok
}

// Average returns the cross-country mean cost row, used when a grid point's
// country has no row of its own.
func (t *CostTable) Average() CountryCosts {
	if t.average == nil {
		avg := averageCosts(t.Countries, t.Years())
		t.average = &avg
	}
	return *t.average
}

// Prepare precomputes derived rows. It must be called before the table is
// shared between goroutines.
func (t *CostTable) Prepare() {
	t.Average()
}

func averageCosts(countries map[string]CountryCosts, years []int) CountryCosts {
	avg := CountryCosts{Capex: make(map[int]TechCapex, len(years))}
	if len(countries) == 0 {
		return avg
	}
	n := float64(len(countries))
	for _, c := range countries {
		for _, y := range years {
			cur := avg.Capex[y]
			v := c.CapexAt(y)
			cur.Solar += v.Solar / n
			cur.Wind += v.Wind / n
			avg.Capex[y] = cur
		}
		avg.Opex.Solar += c.Opex.Solar / n
		avg.Opex.Wind += c.Opex.Wind / n
		avg.Opex.Battery += c.Opex.Battery / n
		avg.CostOfCapital += c.CostOfCapital / n
	}
	return avg
}
