package costs

import (
	"math"
	"sort"
)

// Epsilon replaces zero capacities and growth ratios so that later divisions
// stay finite.
const Epsilon = 1e-6

// YearValue is one point of an annual series.
type YearValue struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
}

// LearningExponent returns b = log(1-lr)/log(2) for learning rate lr.
func LearningExponent(lr float64) float64 {
	return math.Log(1-lr) / math.Log(2)
}

// UpdateCapexUsingLearningCurve applies one learning-curve step:
//
//	capex_t = capex_0 * (capacity_t / capacity_0)^b
//
// capacity0 is floored at Epsilon so a zero starting capacity never divides
// by zero.
func UpdateCapexUsingLearningCurve(capacity0, capacityT, capex0, lr float64) float64 {
	c0 := math.Max(capacity0, Epsilon)
	ct := math.Max(capacityT, 0)
	return capex0 * math.Pow(ct/c0, LearningExponent(lr))
}

// RebaseGrowth re-anchors a scenario capacity projection to a historical base
// capacity. The year-over-year ratios of ssp are rolled forward from base:
//
//	capacity[y] = capacity[y-1] * ssp[y]/ssp[y-1]
//
// Zero ratios are replaced by Epsilon. A zero predecessor carries no growth
// information and holds capacity flat. ssp must be annual and sorted.
func RebaseGrowth(ssp []YearValue, base float64) []YearValue {
	if len(ssp) == 0 {
		return nil
	}
	out := make([]YearValue, len(ssp))
	out[0] = YearValue{Year: ssp[0].Year, Value: base}
	for i := 1; i < len(ssp); i++ {
		ratio := 1.0
		if ssp[i-1].Value > 0 {
			ratio = ssp[i].Value / ssp[i-1].Value
		}
		if ratio == 0 {
			ratio = Epsilon
		}
		out[i] = YearValue{Year: ssp[i].Year, Value: out[i-1].Value * ratio}
	}
	return out
}

// Annualize linearly interpolates a sparse series (e.g. five-yearly scenario
// points) onto every year in [from, to]. Years outside the data are held at
// the nearest endpoint.
func Annualize(series []YearValue, from, to int) []YearValue {
	if len(series) == 0 || to < from {
		return nil
	}
	pts := make([]YearValue, len(series))
	copy(pts, series)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Year < pts[j].Year })

	out := make([]YearValue, 0, to-from+1)
	j := 0
	for y := from; y <= to; y++ {
		for j < len(pts)-1 && pts[j+1].Year <= y {
			j++
		}
		var v float64
		switch {
		case y <= pts[0].Year:
			v = pts[0].Value
		case j == len(pts)-1:
			v = pts[j].Value
		default:
			a, b := pts[j], pts[j+1]
			frac := float64(y-a.Year) / float64(b.Year-a.Year)
			v = a.Value + (b.Value-a.Value)*frac
		}
		out = append(out, YearValue{Year: y, Value: v})
	}
	return out
}

// ValueAtOrBefore returns the value of the latest point not after year.
func ValueAtOrBefore(series []YearValue, year int) (float64, bool) {
	found := false
	bestYear := math.MinInt
	var v float64
	for _, p := range series {
		if p.Year <= year && p.Year > bestYear {
			bestYear, v, found = p.Year, p.Value, true
		}
	}
	return v, found
}

// ProjectCapex runs the learning curve along an annual capacity trajectory
// starting at capex0 in the first year of capacity.
func ProjectCapex(capacity []YearValue, capex0, lr float64) []YearValue {
	if len(capacity) == 0 {
		return nil
	}
	out := make([]YearValue, len(capacity))
	out[0] = YearValue{Year: capacity[0].Year, Value: capex0}
	for i := 1; i < len(capacity); i++ {
		out[i] = YearValue{
			Year:  capacity[i].Year,
			Value: UpdateCapexUsingLearningCurve(capacity[i-1].Value, capacity[i].Value, out[i-1].Value, lr),
		}
	}
	return out
}
