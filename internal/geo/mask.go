package geo

import (
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/index/rtree"
)

type landPolygon struct {
	geom.Polygonal
}

// LandMask tests points against land polygons such as a coastline dataset.
// It is read-only after construction and safe for concurrent use.
type LandMask struct {
	tree *rtree.Rtree
}

// NewLandMask indexes the given polygons.
func NewLandMask(polys []geom.Polygonal) *LandMask {
	tree := rtree.NewTree(25, 50)
	for _, p := range polys {
		tree.Insert(&landPolygon{Polygonal: p})
	}
	return &LandMask{tree: tree}
}

// LoadLandMask reads every polygon of a shapefile in geographic coordinates.
func LoadLandMask(path string) (*LandMask, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open coastline shapefile %s: %w", path, err)
	}
	defer dec.Close()

	var polys []geom.Polygonal
	for {
		g, _, more := dec.DecodeRowFields()
		if !more {
			break
		}
		poly, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("coastline shapefile %s: geometry is %T, want polygons", path, g)
		}
		polys = append(polys, poly)
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("coastline shapefile %s: %w", path, err)
	}
	return NewLandMask(polys), nil
}

// Contains reports whether (lat, lon) lies on land.
func (m *LandMask) Contains(lat, lon float64) bool {
	pt := geom.Point{X: lon, Y: lat}
	for _, item := range m.tree.SearchIntersect(pt.Bounds()) {
		if pt.Within(item.(*landPolygon)) != geom.Outside {
			return true
		}
	}
	return false
}
