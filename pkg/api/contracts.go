// Package api holds the records shared between the cost, design and
// execution engines.
package api

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// GlobalRegion is the region name under which merged global rasters are stored.
const GlobalRegion = "GLOBAL"

// Technology names a generation or storage technology.
type Technology string

const (
	Solar   Technology = "solar"
	Wind    Technology = "wind"
	Battery Technology = "battery"
)

// Technologies lists every technology in a fixed order.
var Technologies = []Technology{Solar, Wind, Battery}

// TechValues carries one value per technology.
type TechValues struct {
	Solar   float64 `json:"solar" yaml:"solar"`
	Wind    float64 `json:"wind" yaml:"wind"`
	Battery float64 `json:"battery" yaml:"battery"`
}

// Get returns the value for tech.
func (v TechValues) Get(tech Technology) float64 {
	switch tech {
	case Solar:
		return v.Solar
	case Wind:
		return v.Wind
	case Battery:
		return v.Battery
	}
	return 0
}

// Set stores value for tech.
func (v *TechValues) Set(tech Technology, value float64) {
	switch tech {
	case Solar:
		v.Solar = value
	case Wind:
		v.Wind = value
	case Battery:
		v.Battery = value
	}
}

// LatLon is a grid point location in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p LatLon) String() string {
	return fmt.Sprintf("(%.4f,%.4f)", p.Lat, p.Lon)
}

// RenewableProfile is the hourly generation of 1 MW nameplate solar and wind
// capacity at one grid point. Profiles are never mutated after loading.
type RenewableProfile struct {
	Solar []float64
	Wind  []float64
}

// Len returns the number of hours in the profile.
func (p RenewableProfile) Len() int {
	return len(p.Solar)
}

// IsZero reports whether both series are identically zero (ocean, ice).
func (p RenewableProfile) IsZero() bool {
	for _, v := range p.Solar {
		if v != 0 {
			return false
		}
	}
	for _, v := range p.Wind {
		if v != 0 {
			return false
		}
	}
	return true
}

// Design is a candidate build expressed as multiples of baseload demand.
type Design struct {
	SolarOverscale   float64 `json:"solar_overscale"`
	WindOverscale    float64 `json:"wind_overscale"`
	BatteryOverscale float64 `json:"battery_overscale"`
}

// Overscale returns the overscale factor of tech.
func (d Design) Overscale(tech Technology) float64 {
	switch tech {
	case Solar:
		return d.SolarOverscale
	case Wind:
		return d.WindOverscale
	case Battery:
		return d.BatteryOverscale
	}
	return 0
}

// Ceiling is the physical overbuild limit at a grid point. A nil *Ceiling
// means no limit is known.
type Ceiling struct {
	Solar float64
	Wind  float64
}

// OptimalSolution is the selected design for one grid point. LCOE is nil when
// no design met the coverage threshold or the point has no renewable
// potential; it is never zero for "no solution".
type OptimalSolution struct {
	LCOE             *float64        `json:"lcoe,omitempty"`
	InstallationCost decimal.Decimal `json:"installation_cost"`
	Design           Design          `json:"design"`
}

// HasSolution reports whether an accepted design was found.
func (s OptimalSolution) HasSolution() bool {
	return s.LCOE != nil && !math.IsNaN(*s.LCOE)
}

// RunKey identifies a persisted solution raster.
type RunKey struct {
	Year       int     `json:"year"`
	Region     string  `json:"region"`
	Percentile float64 `json:"percentile"`
}

// Global returns the key of the merged raster for the same year and percentile.
func (k RunKey) Global() RunKey {
	return RunKey{Year: k.Year, Region: GlobalRegion, Percentile: k.Percentile}
}

// PercentileLabel formats the percentile for file names, e.g. "p15" or "p2.5".
func (k RunKey) PercentileLabel() string {
	return "p" + strconv.FormatFloat(k.Percentile, 'f', -1, 64)
}

func (k RunKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.Year, k.Region, k.PercentileLabel())
}
