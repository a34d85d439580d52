package regional

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"steel-siting/db/files"
	"steel-siting/internal/raster"
	serrors "steel-siting/pkg/errors"
)

// Raster variables read from the shared input datasets.
const (
	VarLand        = "land"
	VarMaxCapacity = "pv"
	VarMaxWind     = "wind"
)

// Inputs supplies the gridded datasets of a run.
type Inputs interface {
	// Profiles returns the hourly profile cube of a region.
	Profiles(region string, year int) (*raster.Cube, error)
	// MaxCapacity returns the pv and wind ceilings in MW, or nil when no
	// ceiling dataset exists.
	MaxCapacity() (*raster.Grid, error)
	// Land returns the land raster.
	Land() (*raster.Grid, error)
}

// FileInputs reads inputs from a DataLayout. The global rasters are read
// once and shared read-only between regions.
type FileInputs struct {
	layout files.DataLayout

	capOnce sync.Once
	capGrid *raster.Grid
	capErr  error

	landOnce sync.Once
	landGrid *raster.Grid
	landErr  error
}

// NewFileInputs creates file-backed inputs.
func NewFileInputs(layout files.DataLayout) *FileInputs {
	return &FileInputs{layout: layout}
}

func (f *FileInputs) Profiles(region string, year int) (*raster.Cube, error) {
	path := f.layout.ProfilePath(region, year)
	c, err := raster.ReadCube(path)
	if err != nil {
		return nil, serrors.NewInputDataError(path, fmt.Sprintf("profiles of region %s", region), err)
	}
	return c, nil
}

func (f *FileInputs) MaxCapacity() (*raster.Grid, error) {
	f.capOnce.Do(func() {
		path := f.layout.MaxCapacityPath()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return
		}
		f.capGrid, f.capErr = raster.ReadGrid(path, VarMaxCapacity, VarMaxWind)
		if f.capErr != nil {
			f.capErr = serrors.NewInputDataError(path, "max capacity raster", f.capErr)
		}
	})
	return f.capGrid, f.capErr
}

func (f *FileInputs) Land() (*raster.Grid, error) {
	f.landOnce.Do(func() {
		path := f.layout.LandPath()
		f.landGrid, f.landErr = raster.ReadGrid(path, VarLand)
		if f.landErr != nil {
			f.landErr = serrors.NewInputDataError(path, "land raster", f.landErr)
		}
	})
	return f.landGrid, f.landErr
}
