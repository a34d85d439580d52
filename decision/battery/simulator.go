// Package battery simulates greedy hourly battery dispatch against a
// normalized baseload demand.
//
// Energy is expressed in units of baseload demand: a net energy of -1 means
// the hour has no generation at all, and a capacity of 4 holds four hours of
// demand.
package battery

import (
	"steel-siting/pkg/numeric"
)

// Dispatch is the outcome of simulating one design.
type Dispatch struct {
	SOC       []float64
	Coverage  float64
	Curtailed float64
}

// StateOfCharge runs the dispatch recurrence
//
//	soc[t] = clip(soc[t-1] + net[t], 0, capacity)
//
// with soc[-1] = initial. Surplus beyond capacity is curtailed and unmet
// deficits stay unmet. There is no foresight.
func StateOfCharge(net []float64, capacity, initial float64) []float64 {
	if capacity < 0 {
		capacity = 0
	}
	soc := make([]float64, len(net))
	prev := numeric.Clamp(initial, 0, capacity)
	for t, e := range net {
		prev = numeric.Clamp(prev+e, 0, capacity)
		soc[t] = prev
	}
	return soc
}

// Coverage returns the fraction of hours whose demand is fully met by
// generation plus stored energy. Hour t is covered iff soc[t-1] + net[t] >= 0,
// with soc[-1] = initial.
func Coverage(net, soc []float64, initial float64) float64 {
	if len(net) == 0 {
		return 0
	}
	covered := 0
	prev := initial
	for t, e := range net {
		if prev+e >= 0 {
			covered++
		}
		prev = soc[t]
	}
	return float64(covered) / float64(len(net))
}

// Curtailment returns the total surplus energy that did not fit in storage.
func Curtailment(net, soc []float64, capacity, initial float64) float64 {
	if capacity < 0 {
		capacity = 0
	}
	var total float64
	prev := initial
	for t, e := range net {
		if over := prev + e - capacity; over > 0 {
			total += over
		}
		prev = soc[t]
	}
	return total
}

// Simulate dispatches a battery of the given capacity starting empty.
func Simulate(net []float64, capacity float64) Dispatch {
	soc := StateOfCharge(net, capacity, 0)
	return Dispatch{
		SOC:       soc,
		Coverage:  Coverage(net, soc, 0),
		Curtailed: Curtailment(net, soc, capacity, 0),
	}
}
