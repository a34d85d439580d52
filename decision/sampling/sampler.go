// Package sampling draws candidate solar/wind/battery designs for one grid
// point.
package sampling

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"steel-siting/pkg/api"
	"steel-siting/pkg/numeric"
)

// MeanOverscale is the mean of the exponential prior on solar and wind
// overscale. It favours small builds while keeping a long tail.
const MeanOverscale = 5.0

// CapacitySampling draws nSamples designs for profile. Without a ceiling solar
// and wind are both exponential; with a ceiling wind is uniform over
// [0, ceiling.Wind] and solar is exponential clipped to [0, ceiling.Solar].
// Battery size is derived from each pair with BatterySizing. The same seed
// always yields the same designs.
func CapacitySampling(profile api.RenewableProfile, p float64, ceiling *api.Ceiling, nSamples int, seed uint64) []api.Design {
	if nSamples <= 0 {
		return nil
	}
	solar, wind := drawOverscales(ceiling, nSamples, seed)

	designs := make([]api.Design, nSamples)
	net := make([]float64, profile.Len())
	for i := range designs {
		NetEnergyInto(net, profile, solar[i], wind[i])
		designs[i] = api.Design{
			SolarOverscale:   solar[i],
			WindOverscale:    wind[i],
			BatteryOverscale: BatterySizing(net, p),
		}
	}
	return designs
}

func drawOverscales(ceiling *api.Ceiling, n int, seed uint64) (solar, wind []float64) {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	expo := distuv.Exponential{Rate: 1 / MeanOverscale, Src: src}

	solar = make([]float64, n)
	wind = make([]float64, n)

	if ceiling == nil {
		for i := 0; i < n; i++ {
			solar[i] = expo.Rand()
			wind[i] = expo.Rand()
		}
		return solar, wind
	}

	uni := distuv.Uniform{Min: 0, Max: math.Max(ceiling.Wind, 0), Src: src}
	for i := 0; i < n; i++ {
		solar[i] = numeric.Clamp(expo.Rand(), 0, math.Max(ceiling.Solar, 0))
		if ceiling.Wind > 0 {
			wind[i] = uni.Rand()
		}
	}
	return solar, wind
}

// NetEnergy returns generation minus demand per hour, with demand normalized
// to 1.
func NetEnergy(profile api.RenewableProfile, solar, wind float64) []float64 {
	net := make([]float64, profile.Len())
	NetEnergyInto(net, profile, solar, wind)
	return net
}

// NetEnergyInto is NetEnergy writing into dst, which must have profile.Len()
// elements.
func NetEnergyInto(dst []float64, profile api.RenewableProfile, solar, wind float64) {
	for t := range dst {
		dst[t] = solar*profile.Solar[t] + wind*profile.Wind[t] - 1
	}
}

// BatterySizing estimates the storage needed to bridge the worst deficits a
// design must cover at percentile p.
//
// depth is the p-th percentile of net energy. A non-negative depth means the
// design already covers the target and needs no storage. Otherwise duration
// is the (100-p)-th percentile of the lengths of the runs of negative net
// energy and the battery is |depth| * duration.
func BatterySizing(net []float64, p float64) float64 {
	if len(net) == 0 {
		return 0
	}
	depth := numeric.Percentile(net, p)
	if depth >= 0 {
		return 0
	}
	runs := numeric.NegativeRuns(net)
	if len(runs) == 0 {
		return 0
	}
	duration := numeric.PercentileInts(runs, 100-p)
	return math.Abs(depth) * duration
}
