package raster

import (
	"fmt"

	"github.com/ctessum/sparse"

	"steel-siting/pkg/api"
)

// Cube is an hourly solar and wind profile dataset over a grid, each array
// shaped (time, lat, lon).
type Cube struct {
	Lats  []float64
	Lons  []float64
	Solar *sparse.DenseArray
	Wind  *sparse.DenseArray
}

// NewCube allocates a zero cube.
func NewCube(lats, lons []float64, hours int) *Cube {
	return &Cube{
		Lats:  lats,
		Lons:  lons,
		Solar: sparse.ZerosDense(hours, len(lats), len(lons)),
		Wind:  sparse.ZerosDense(hours, len(lats), len(lons)),
	}
}

// Hours returns the length of the time axis.
func (c *Cube) Hours() int {
	return c.Solar.Shape[0]
}

// Profile copies the series of cell (i, j).
func (c *Cube) Profile(i, j int) api.RenewableProfile {
	hours := c.Hours()
	p := api.RenewableProfile{Solar: make([]float64, hours), Wind: make([]float64, hours)}
	for t := 0; t < hours; t++ {
		p.Solar[t] = c.Solar.Get(t, i, j)
		p.Wind[t] = c.Wind.Get(t, i, j)
	}
	return p
}

// SetProfile stores the series of cell (i, j).
func (c *Cube) SetProfile(i, j int, p api.RenewableProfile) {
	for t := 0; t < c.Hours() && t < p.Len(); t++ {
		c.Solar.Set(p.Solar[t], t, i, j)
		c.Wind.Set(p.Wind[t], t, i, j)
	}
}

// Grid returns an empty grid over the cube's axes.
func (c *Cube) Grid() *Grid {
	return NewGrid(c.Lats, c.Lons)
}

func (c *Cube) validate() error {
	want := []int{c.Solar.Shape[0], len(c.Lats), len(c.Lons)}
	for _, arr := range []*sparse.DenseArray{c.Solar, c.Wind} {
		if len(arr.Shape) != 3 || arr.Shape[0] != want[0] || arr.Shape[1] != want[1] || arr.Shape[2] != want[2] {
			return fmt.Errorf("profile shape %v does not match (time=%d, lat=%d, lon=%d)", arr.Shape, want[0], want[1], want[2])
		}
	}
	return nil
}
