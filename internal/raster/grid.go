// Package raster holds regular lat/lon grids with nullable layers and reads
// and writes them as NetCDF.
package raster

import (
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/sparse"
)

// Solution layer names.
const (
	LayerLCOE             = "lcoe"
	LayerInstallationCost = "installation_cost"
	LayerSolarFactor      = "solar_factor"
	LayerWindFactor       = "wind_factor"
	LayerBatteryFactor    = "battery_factor"
)

// SolutionLayers lists the layers of a solution grid in file order.
var SolutionLayers = []string{
	LayerLCOE,
	LayerInstallationCost,
	LayerSolarFactor,
	LayerWindFactor,
	LayerBatteryFactor,
}

// Layer is one named variable of a grid. Values are stored row-major
// (lat, lon). A cell is only meaningful when Valid is set; zero is a value
// like any other.
type Layer struct {
	Data  *sparse.DenseArray
	Valid []bool
}

func newLayer(nlat, nlon int) *Layer {
	return &Layer{
		Data:  sparse.ZerosDense(nlat, nlon),
		Valid: make([]bool, nlat*nlon),
	}
}

// Get returns the value of cell (i, j).
func (l *Layer) Get(i, j int) (float64, bool) {
	idx := i*l.Data.Shape[1] + j
	if !l.Valid[idx] {
		return math.NaN(), false
	}
	return l.Data.Elements[idx], true
}

// Set stores v at cell (i, j). NaN clears the cell.
func (l *Layer) Set(i, j int, v float64) {
	idx := i*l.Data.Shape[1] + j
	if math.IsNaN(v) {
		l.Data.Elements[idx] = 0
		l.Valid[idx] = false
		return
	}
	l.Data.Elements[idx] = v
	l.Valid[idx] = true
}

// Clear marks cell (i, j) as no data.
func (l *Layer) Clear(i, j int) {
	l.Set(i, j, math.NaN())
}

// ValidCount returns the number of cells holding data.
func (l *Layer) ValidCount() int {
	n := 0
	for _, ok := range l.Valid {
		if ok {
			n++
		}
	}
	return n
}

// Grid is a regular lat/lon grid. Lats and Lons are cell centres in
// ascending order.
type Grid struct {
	Lats  []float64
	Lons  []float64
	Attrs map[string]string

	layers map[string]*Layer
	order  []string
}

// NewGrid creates an empty grid over the given axes.
func NewGrid(lats, lons []float64) *Grid {
	return &Grid{
		Lats:   lats,
		Lons:   lons,
		Attrs:  map[string]string{},
		layers: map[string]*Layer{},
	}
}

// NewSolutionGrid creates a grid with every solution layer.
func NewSolutionGrid(lats, lons []float64) *Grid {
	g := NewGrid(lats, lons)
	for _, name := range SolutionLayers {
		g.AddLayer(name)
	}
	return g
}

// Axis returns n cell centres starting at start with the given step.
func Axis(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// RegularAxis returns cell centres covering [min, max] with the given step.
func RegularAxis(min, max, step float64) []float64 {
	if step <= 0 || max < min {
		return nil
	}
	n := int(math.Floor((max-min)/step+1e-9)) + 1
	return Axis(min, step, n)
}

// Shape returns the number of latitudes and longitudes.
func (g *Grid) Shape() (int, int) {
	return len(g.Lats), len(g.Lons)
}

// AddLayer adds an empty layer, or returns the existing one.
func (g *Grid) AddLayer(name string) *Layer {
	if l, ok := g.layers[name]; ok {
		return l
	}
	l := newLayer(len(g.Lats), len(g.Lons))
	g.layers[name] = l
	g.order = append(g.order, name)
	return l
}

// Layer returns a layer by name.
func (g *Grid) Layer(name string) (*Layer, bool) {
	l, ok := g.layers[name]
	return l, ok
}

// LayerNames returns the layer names in insertion order.
func (g *Grid) LayerNames() []string {
	return append([]string(nil), g.order...)
}

// Value returns the value of a layer at cell (i, j).
func (g *Grid) Value(name string, i, j int) (float64, bool) {
	l, ok := g.layers[name]
	if !ok {
		return math.NaN(), false
	}
	return l.Get(i, j)
}

// Set stores v in a layer at cell (i, j), adding the layer if needed.
func (g *Grid) Set(name string, i, j int, v float64) {
	g.AddLayer(name).Set(i, j, v)
}

// ValidCount returns the number of cells of a layer holding data.
func (g *Grid) ValidCount(name string) int {
	l, ok := g.layers[name]
	if !ok {
		return 0
	}
	return l.ValidCount()
}

// Nearest returns the cell whose centre is closest to (lat, lon). ok is false
// when the location lies more than half a cell outside the grid.
func (g *Grid) Nearest(lat, lon float64) (i, j int, ok bool) {
	i, ok = nearestIndex(g.Lats, lat)
	if !ok {
		return 0, 0, false
	}
	j, ok = nearestIndex(g.Lons, lon)
	if !ok {
		return 0, 0, false
	}
	return i, j, true
}

// ValueAt returns the value of a layer at the cell nearest to (lat, lon).
func (g *Grid) ValueAt(name string, lat, lon float64) (float64, bool) {
	i, j, ok := g.Nearest(lat, lon)
	if !ok {
		return math.NaN(), false
	}
	return g.Value(name, i, j)
}

// Reproject resamples every layer onto the target axes by nearest
// neighbour. Target cells outside the source extent hold no data.
func (g *Grid) Reproject(lats, lons []float64) *Grid {
	out := NewGrid(lats, lons)
	for k, v := range g.Attrs {
		out.Attrs[k] = v
	}
	for _, name := range g.order {
		out.AddLayer(name)
	}

	srcJ := make([]int, len(lons))
	inLon := make([]bool, len(lons))
	for j, lon := range lons {
		srcJ[j], inLon[j] = nearestIndex(g.Lons, lon)
	}

	for i, lat := range lats {
		si, ok := nearestIndex(g.Lats, lat)
		if !ok {
			continue
		}
		for j := range lons {
			if !inLon[j] {
				continue
			}
			for _, name := range g.order {
				if v, ok := g.layers[name].Get(si, srcJ[j]); ok {
					out.layers[name].Set(i, j, v)
				}
			}
		}
	}
	return out
}

// CheckSameAxes returns an error unless other shares g's axes.
func (g *Grid) CheckSameAxes(other *Grid) error {
	if len(g.Lats) != len(other.Lats) || len(g.Lons) != len(other.Lons) {
		nlat, nlon := other.Shape()
		return fmt.Errorf("grid shape %dx%d does not match %dx%d", nlat, nlon, len(g.Lats), len(g.Lons))
	}
	for i := range g.Lats {
		if math.Abs(g.Lats[i]-other.Lats[i]) > 1e-9 {
			return fmt.Errorf("latitude %d differs: %v != %v", i, other.Lats[i], g.Lats[i])
		}
	}
	for j := range g.Lons {
		if math.Abs(g.Lons[j]-other.Lons[j]) > 1e-9 {
			return fmt.Errorf("longitude %d differs: %v != %v", j, other.Lons[j], g.Lons[j])
		}
	}
	return nil
}

// nearestIndex finds the closest element of an ascending axis. Locations
// further than half a step beyond either end are outside.
func nearestIndex(axis []float64, v float64) (int, bool) {
	n := len(axis)
	if n == 0 || math.IsNaN(v) {
		return 0, false
	}
	half := 0.5
	if n > 1 {
		half = math.Abs(axis[1]-axis[0]) / 2
	}
	if v < axis[0]-half-1e-9 || v > axis[n-1]+half+1e-9 {
		return 0, false
	}

	k := sort.SearchFloat64s(axis, v)
	switch {
	case k == 0:
		return 0, true
	case k == n:
		return n - 1, true
	}
	if v-axis[k-1] <= axis[k]-v {
		return k - 1, true
	}
	return k, true
}
