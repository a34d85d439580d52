package files

import (
	"fmt"
	"path/filepath"
)

// DataLayout locates the input datasets under a data directory:
//
//	profiles/<region>_<year>.nc   hourly solar and wind per MW
//	max_capacity.nc               pv and wind physical ceilings in MW
//	land.nc                       land raster, > 0 on land
type DataLayout struct {
	Root string
}

// ProfilePath returns the profile dataset of a region and weather year.
func (l DataLayout) ProfilePath(region string, year int) string {
	return filepath.Join(l.Root, "profiles", fmt.Sprintf("%s_%d.nc", region, year))
}

// MaxCapacityPath returns the max-capacity raster.
func (l DataLayout) MaxCapacityPath() string {
	return filepath.Join(l.Root, "max_capacity.nc")
}

// LandPath returns the land raster.
func (l DataLayout) LandPath() string {
	return filepath.Join(l.Root, "land.nc")
}
