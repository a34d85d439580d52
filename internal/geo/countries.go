// Package geo resolves grid points to countries and land polygons.
package geo

import (
	"fmt"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/index/rtree"
)

// Country is a country outline tagged with its ISO3 code. Coordinates are
// longitude (X) and latitude (Y) in degrees.
type Country struct {
	geom.Polygonal
	ISO3 string
}

// LoadCountries reads country polygons from a shapefile in geographic
// coordinates. field names the attribute holding the ISO3 code.
func LoadCountries(path, field string) ([]*Country, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open countries shapefile %s: %w", path, err)
	}
	defer dec.Close()

	var out []*Country
	for {
		g, fields, more := dec.DecodeRowFields(field)
		if !more {
			break
		}
		iso3, ok := fields[field]
		if !ok {
			return nil, fmt.Errorf("countries shapefile %s: missing attribute column %s", path, field)
		}
		poly, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("countries shapefile %s: %s is %T, want polygons", path, iso3, g)
		}
		out = append(out, &Country{Polygonal: poly, ISO3: iso3})
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("countries shapefile %s: %w", path, err)
	}
	return out, nil
}

// Index is a reverse geocoder over country polygons. An Index remembers the
// last country it matched and must not be shared between goroutines; build
// one per worker from the same read-only polygon slice.
type Index struct {
	tree *rtree.Rtree
	last *Country
}

// NewIndex builds a spatial index over countries.
func NewIndex(countries []*Country) *Index {
	tree := rtree.NewTree(25, 50)
	for _, c := range countries {
		tree.Insert(c)
	}
	return &Index{tree: tree}
}

// Lookup returns the ISO3 code of the country containing (lat, lon). Points
// on a shared border or inside overlapping outlines resolve to the
// alphabetically first country, whatever the lookup history.
func (ix *Index) Lookup(lat, lon float64) (string, bool) {
	pt := geom.Point{X: lon, Y: lat}
	candidates := ix.tree.SearchIntersect(pt.Bounds())
	if ix.last != nil && pt.Within(ix.last) == geom.Inside && !ix.shadowed(pt, candidates) {
		return ix.last.ISO3, true
	}

	var matches []*Country
	for _, item := range candidates {
		c := item.(*Country)
		if pt.Within(c) != geom.Outside {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ISO3 < matches[j].ISO3 })
	ix.last = matches[0]
	return matches[0].ISO3, true
}

// shadowed reports whether a country sorting before the cached hit also
// contains pt.
func (ix *Index) shadowed(pt geom.Point, candidates []geom.Geom) bool {
	for _, item := range candidates {
		c := item.(*Country)
		if c.ISO3 < ix.last.ISO3 && pt.Within(c) != geom.Outside {
			return true
		}
	}
	return false
}
