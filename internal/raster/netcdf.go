package raster

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

const (
	dimLat = "lat"
	dimLon = "lon"

	varSolar = "solar"
	varWind  = "wind"
)

// Global attributes carried through a read/write round trip.
var gridAttrKeys = []string{"title", "run", "region", "year", "percentile", "run_id"}

// WriteGrid writes every layer of g to a NetCDF file at path. Cells without
// data are written as NaN. The file is written to a temporary name and
// renamed into place so readers never observe a partial file.
func WriteGrid(path string, g *Grid) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".grid-*.nc")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := writeGrid(tmp, g); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeGrid(f *os.File, g *Grid) error {
	nlat, nlon := g.Shape()
	h := cdf.NewHeader([]string{dimLat, dimLon}, []int{nlat, nlon})

	keys := make([]string, 0, len(g.Attrs))
	for k := range g.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.AddAttribute("", k, g.Attrs[k])
	}

	h.AddVariable(dimLat, []string{dimLat}, []float64{0})
	h.AddAttribute(dimLat, "units", "degrees_north")
	h.AddVariable(dimLon, []string{dimLon}, []float64{0})
	h.AddAttribute(dimLon, "units", "degrees_east")
	for _, name := range g.order {
		h.AddVariable(name, []string{dimLat, dimLon}, []float64{0})
		h.AddAttribute(name, "_FillValue", []float64{math.NaN()})
	}
	h.Define()

	nc, err := cdf.Create(f, h)
	if err != nil {
		return err
	}
	if err := writeVar(nc, dimLat, g.Lats); err != nil {
		return err
	}
	if err := writeVar(nc, dimLon, g.Lons); err != nil {
		return err
	}
	for _, name := range g.order {
		l := g.layers[name]
		vals := make([]float64, len(l.Data.Elements))
		for i, v := range l.Data.Elements {
			if l.Valid[i] {
				vals[i] = v
			} else {
				vals[i] = math.NaN()
			}
		}
		if err := writeVar(nc, name, vals); err != nil {
			return err
		}
	}
	return cdf.UpdateNumRecs(f)
}

func writeVar(f *cdf.File, name string, vals []float64) error {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	if _, err := f.Writer(name, start, end).Write(vals); err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	return nil
}

// ReadGrid reads the named (lat, lon) layers from a NetCDF file. With no
// names every two-dimensional variable over (lat, lon) is read. NaN and
// _FillValue cells read back as no data.
func ReadGrid(path string, names ...string) (*Grid, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	nc, err := cdf.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	lats, lons, err := readAxes(nc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if len(names) == 0 {
		for _, v := range nc.Header.Variables() {
			dims := nc.Header.Dimensions(v)
			if len(dims) == 2 && dims[0] == dimLat && dims[1] == dimLon {
				names = append(names, v)
			}
		}
	}

	g := NewGrid(lats, lons)
	for _, k := range gridAttrKeys {
		if s, ok := nc.Header.GetAttribute("", k).(string); ok {
			g.Attrs[k] = s
		}
	}
	for _, name := range names {
		vals, shape, err := readVar(nc, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if len(shape) != 2 || shape[0] != len(lats) || shape[1] != len(lons) {
			return nil, fmt.Errorf("%s: variable %s has shape %v, want (%d, %d)", path, name, shape, len(lats), len(lons))
		}
		fill, hasFill := fillValue(nc, name)
		l := g.AddLayer(name)
		for idx, v := range vals {
			if hasFill && v == fill {
				continue
			}
			l.Set(idx/len(lons), idx%len(lons), v)
		}
	}
	return g, nil
}

// ReadCube reads the solar and wind (time, lat, lon) variables of a profile
// dataset.
func ReadCube(path string) (*Cube, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	nc, err := cdf.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	lats, lons, err := readAxes(nc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c := &Cube{Lats: lats, Lons: lons}
	for _, name := range []string{varSolar, varWind} {
		vals, shape, err := readVar(nc, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if len(shape) != 3 {
			return nil, fmt.Errorf("%s: variable %s has %d dimensions, want (time, lat, lon)", path, name, len(shape))
		}
		arr := sparse.ZerosDense(shape...)
		for i, v := range vals {
			// missing hours carry no generation
			if !math.IsNaN(v) {
				arr.Elements[i] = v
			}
		}
		if name == varSolar {
			c.Solar = arr
		} else {
			c.Wind = arr
		}
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// WriteCube writes a profile dataset. It is the inverse of ReadCube.
func WriteCube(path string, c *Cube) error {
	if err := c.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := cdf.NewHeader([]string{"time", dimLat, dimLon}, []int{c.Hours(), len(c.Lats), len(c.Lons)})
	h.AddVariable(dimLat, []string{dimLat}, []float64{0})
	h.AddVariable(dimLon, []string{dimLon}, []float64{0})
	h.AddVariable(varSolar, []string{"time", dimLat, dimLon}, []float64{0})
	h.AddAttribute(varSolar, "units", "MW/MW")
	h.AddVariable(varWind, []string{"time", dimLat, dimLon}, []float64{0})
	h.AddAttribute(varWind, "units", "MW/MW")
	h.Define()

	nc, err := cdf.Create(f, h)
	if err != nil {
		return err
	}
	for name, vals := range map[string][]float64{
		dimLat:   c.Lats,
		dimLon:   c.Lons,
		varSolar: c.Solar.Elements,
		varWind:  c.Wind.Elements,
	} {
		if err := writeVar(nc, name, vals); err != nil {
			return err
		}
	}
	if err := cdf.UpdateNumRecs(f); err != nil {
		return err
	}
	return f.Close()
}

func readAxes(nc *cdf.File) (lats, lons []float64, err error) {
	lats, _, err = readVar(nc, dimLat)
	if err != nil {
		return nil, nil, err
	}
	lons, _, err = readVar(nc, dimLon)
	if err != nil {
		return nil, nil, err
	}
	if !sort.Float64sAreSorted(lats) || !sort.Float64sAreSorted(lons) {
		return nil, nil, fmt.Errorf("coordinate axes must be ascending")
	}
	return lats, lons, nil
}

func hasVariable(nc *cdf.File, name string) bool {
	for _, v := range nc.Header.Variables() {
		if v == name {
			return true
		}
	}
	return false
}

// readVar reads a whole variable of any numeric type as float64.
func readVar(nc *cdf.File, name string) ([]float64, []int, error) {
	if !hasVariable(nc, name) {
		return nil, nil, fmt.Errorf("missing variable %s", name)
	}
	shape := nc.Header.Lengths(name)
	n := 1
	for _, d := range shape {
		n *= d
	}
	buf := nc.Header.ZeroValue(name, n)
	if _, err := nc.Reader(name, nil, nil).Read(buf); err != nil {
		return nil, nil, fmt.Errorf("variable %s: %w", name, err)
	}
	vals, err := toFloat64(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("variable %s: %w", name, err)
	}
	return vals, shape, nil
}

func fillValue(nc *cdf.File, name string) (float64, bool) {
	for _, attr := range []string{"_FillValue", "missing_value"} {
		vals, err := toFloat64(nc.Header.GetAttribute(name, attr))
		if err == nil && len(vals) > 0 && !math.IsNaN(vals[0]) {
			return vals[0], true
		}
	}
	return 0, false
}

func toFloat64(buf interface{}) ([]float64, error) {
	switch b := buf.(type) {
	case []float64:
		return b, nil
	case []float32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []int16:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []int8:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []uint8:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported data type %T", buf)
}
