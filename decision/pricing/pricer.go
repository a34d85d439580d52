// Package pricing filters candidate designs by coverage and prices the
// survivors.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"steel-siting/decision/battery"
	"steel-siting/decision/costs"
	"steel-siting/decision/sampling"
	"steel-siting/pkg/api"
	"steel-siting/pkg/numeric"
)

// HoursPerYear annualizes profiles that do not span a full year.
const HoursPerYear = 8760.0

// Params are the plant and threshold settings shared by every grid point.
type Params struct {
	BaseloadDemandMW     float64
	Percentile           float64
	BatteryLifetimeYears int
}

// LocalCosts are the costs resolved for one grid point.
type LocalCosts struct {
	Country        costs.CountryCosts
	Storage        costs.StorageCostModel
	InvestmentYear int
	Horizon        int
}

// Priced is an accepted design with its price.
type Priced struct {
	Design           api.Design
	Coverage         float64
	Curtailed        float64
	LCOE             float64
	InstallationCost decimal.Decimal
}

// Accepted reports whether coverage meets the 1 - p/100 threshold.
func Accepted(coverage, p float64) bool {
	return coverage >= 1-p/100
}

// Pricer prices designs against a fixed baseload demand.
type Pricer struct {
	params Params
}

// NewPricer creates a pricer.
func NewPricer(params Params) *Pricer {
	return &Pricer{params: params}
}

// Params returns the pricer settings.
func (p *Pricer) Params() Params {
	return p.params
}

// Evaluate simulates every design, keeps those meeting the coverage
// threshold and prices them. The returned slice preserves design order and
// is empty when nothing is accepted; callers must then treat the point as
// infeasible.
func (p *Pricer) Evaluate(designs []api.Design, profile api.RenewableProfile, local LocalCosts) []Priced {
	var out []Priced
	net := make([]float64, profile.Len())
	for _, d := range designs {
		sampling.NetEnergyInto(net, profile, d.SolarOverscale, d.WindOverscale)
		dispatch := battery.Simulate(net, d.BatteryOverscale)
		if !Accepted(dispatch.Coverage, p.params.Percentile) {
			continue
		}
		lcoe := p.LCOE(d, profile, dispatch.Curtailed, local)
		if math.IsInf(lcoe, 0) || math.IsNaN(lcoe) {
			continue
		}
		out = append(out, Priced{
			Design:           d,
			Coverage:         dispatch.Coverage,
			Curtailed:        dispatch.Curtailed,
			LCOE:             lcoe,
			InstallationCost: p.InstallationCost(d, local),
		})
	}
	return out
}

// capexYear0 returns the first-year CAPEX per technology: USD/MW for solar
// and wind, USD/MWh for the battery after the modular correction.
func capexYear0(d api.Design, local LocalCosts) api.TechValues {
	c := local.Country.CapexAt(local.InvestmentYear)
	return api.TechValues{
		Solar:   c.Solar,
		Wind:    c.Wind,
		Battery: local.Storage.BatteryCapex(0, d.BatteryOverscale),
	}
}

// InstallationCost is Σ overscale × demand × first-year CAPEX over solar,
// wind and battery, rounded to cents.
func (p *Pricer) InstallationCost(d api.Design, local LocalCosts) decimal.Decimal {
	capex := capexYear0(d, local)
	demand := decimal.NewFromFloat(p.params.BaseloadDemandMW)
	total := decimal.Zero
	for _, tech := range api.Technologies {
		size := decimal.NewFromFloat(d.Overscale(tech)).Mul(demand)
		total = total.Add(size.Mul(decimal.NewFromFloat(capex.Get(tech))))
	}
	return total.Round(2)
}

// LCOE returns the levelized cost in USD/MWh of a design whose dispatch
// curtailed `curtailed` units of normalized energy. Only energy that was not
// curtailed counts as delivered, so oversized builds are penalized. The
// battery is re-bought every BatteryLifetimeYears inside the horizon at the
// projected price of that year. A design delivering no energy has infinite
// LCOE.
func (p *Pricer) LCOE(d api.Design, profile api.RenewableProfile, curtailed float64, local LocalCosts) float64 {
	hours := profile.Len()
	if hours == 0 {
		return math.Inf(1)
	}
	demand := p.params.BaseloadDemandMW

	generated := d.SolarOverscale*numeric.Sum(profile.Solar) + d.WindOverscale*numeric.Sum(profile.Wind)
	energy := (generated - curtailed) * demand * HoursPerYear / float64(hours)
	if energy <= 0 {
		return math.Inf(1)
	}

	capex := capexYear0(d, local)
	opexPct := api.TechValues{
		Solar:   local.Country.Opex.Solar,
		Wind:    local.Country.Opex.Wind,
		Battery: local.Country.Opex.Battery,
	}
	var invest, opex float64
	for _, tech := range api.Technologies {
		c := d.Overscale(tech) * demand * capex.Get(tech)
		invest += c
		opex += opexPct.Get(tech) * c
	}

	lifetime := local.Horizon
	if lifetime < 1 {
		lifetime = 1
	}
	r := local.Country.CostOfCapital
	var spend, delivered float64
	for t := 1; t <= lifetime; t++ {
		df := math.Pow(1+r, -float64(t))
		yearly := opex + p.replacement(d, t, lifetime, local)
		spend += yearly * df
		delivered += energy * df
	}
	return (invest + spend) / delivered
}

func (p *Pricer) replacement(d api.Design, t, lifetime int, local LocalCosts) float64 {
	l := p.params.BatteryLifetimeYears
	if l <= 0 || d.BatteryOverscale <= 0 || t%l != 0 || t >= lifetime {
		return 0
	}
	return d.BatteryOverscale * p.params.BaseloadDemandMW * local.Storage.BatteryCapex(t, d.BatteryOverscale)
}
