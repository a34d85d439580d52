// Package files stores solution rasters and locates input datasets on the
// shared filesystem.
package files

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"steel-siting/internal/raster"
	"steel-siting/pkg/api"
)

// SolutionStore persists solution grids as NetCDF files laid out as
// <root>/<year>/<region>_p<percentile>.nc.
type SolutionStore struct {
	root string
}

// NewSolutionStore creates a store rooted at dir.
func NewSolutionStore(dir string) *SolutionStore {
	return &SolutionStore{root: dir}
}

// Path returns the file backing key.
func (s *SolutionStore) Path(key api.RunKey) string {
	name := fmt.Sprintf("%s_%s.nc", key.Region, key.PercentileLabel())
	return filepath.Join(s.root, strconv.Itoa(key.Year), name)
}

// Exists reports whether a solution for key has been persisted.
func (s *SolutionStore) Exists(key api.RunKey) bool {
	info, err := os.Stat(s.Path(key))
	return err == nil && !info.IsDir()
}

// Load returns the persisted solution for key. ok is false when none exists.
func (s *SolutionStore) Load(ctx context.Context, key api.RunKey) (g *raster.Grid, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !s.Exists(key) {
		return nil, false, nil
	}
	g, err = raster.ReadGrid(s.Path(key), raster.SolutionLayers...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load solution %s: %w", key, err)
	}
	return g, true, nil
}

// Save persists g under key, replacing any previous file.
func (s *SolutionStore) Save(ctx context.Context, key api.RunKey, g *raster.Grid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.Attrs["run"] = key.String()
	g.Attrs["region"] = key.Region
	g.Attrs["year"] = strconv.Itoa(key.Year)
	g.Attrs["percentile"] = strconv.FormatFloat(key.Percentile, 'f', -1, 64)
	if err := raster.WriteGrid(s.Path(key), g); err != nil {
		return fmt.Errorf("failed to save solution %s: %w", key, err)
	}
	return nil
}
