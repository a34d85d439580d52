package costs

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"steel-siting/pkg/api"
	serrors "steel-siting/pkg/errors"
)

// Input file names inside the cost input directory.
const (
	CapexFile           = "capex.csv"
	OpexFile            = "opex.csv"
	CostOfCapitalFile   = "cost_of_capital.csv"
	CapacityHistoryFile = "capacity_history.csv"
	CapacitySSPFile     = "capacity_ssp.csv"
	StorageFile         = "storage.csv"
)

// WorldCode is the capacity row used for countries without their own
// trajectory.
const WorldCode = "WLD"

// CapacitySeries holds annual capacity per country and technology.
type CapacitySeries map[string]map[api.Technology][]YearValue

func (s CapacitySeries) add(iso3 string, tech api.Technology, p YearValue) {
	if s[iso3] == nil {
		s[iso3] = make(map[api.Technology][]YearValue)
	}
	s[iso3][tech] = append(s[iso3][tech], p)
}

// Get returns the series of a country, falling back to the world row.
func (s CapacitySeries) Get(iso3 string, tech api.Technology) []YearValue {
	if v := s[iso3][tech]; len(v) > 0 {
		return v
	}
	return s[WorldCode][tech]
}

// StorageYear is one row of the storage cost model input.
type StorageYear struct {
	Year                 int
	CostPerInstalledUnit float64
	AvgImpliedStorage    float64
}

// Inputs are the tabular cost inputs produced by the data-ingestion step.
type Inputs struct {
	Capex           map[string]TechCapex
	Opex            Opex
	CostOfCapital   map[string]float64
	HistoryCapacity CapacitySeries
	SSPCapacity     CapacitySeries
	Storage         []StorageYear
}

// LoadInputs reads every cost table from dir. A missing file or mandatory
// column is a fatal input error.
func LoadInputs(dir string) (*Inputs, error) {
	in := &Inputs{
		Capex:           make(map[string]TechCapex),
		CostOfCapital:   make(map[string]float64),
		HistoryCapacity: make(CapacitySeries),
		SSPCapacity:     make(CapacitySeries),
	}

	seen := make(map[string]map[api.Technology]bool)
	err := readTable(filepath.Join(dir, CapexFile), []string{"iso3", "technology", "capex"}, func(r row) error {
		tech, err := r.tech("technology")
		if err != nil {
			return err
		}
		v, err := r.parseFloat("capex")
		if err != nil {
			return err
		}
		iso3 := r.iso3()
		cur := in.Capex[iso3]
		switch tech {
		case api.Solar:
			cur.Solar = v
		case api.Wind:
			cur.Wind = v
		default:
			return fmt.Errorf("capex is only defined for solar and wind, got %s", tech)
		}
		in.Capex[iso3] = cur
		if seen[iso3] == nil {
			seen[iso3] = make(map[api.Technology]bool, 2)
		}
		seen[iso3][tech] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := checkCapexRows(seen); err != nil {
		return nil, err
	}

	err = readTable(filepath.Join(dir, OpexFile), []string{"technology", "opex_pct"}, func(r row) error {
		tech, err := r.tech("technology")
		if err != nil {
			return err
		}
		v, err := r.parseFloat("opex_pct")
		if err != nil {
			return err
		}
		switch tech {
		case api.Solar:
			in.Opex.Solar = v / 100
		case api.Wind:
			in.Opex.Wind = v / 100
		case api.Battery:
			in.Opex.Battery = v / 100
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readTable(filepath.Join(dir, CostOfCapitalFile), []string{"iso3", "wacc_pct"}, func(r row) error {
		v, err := r.parseFloat("wacc_pct")
		if err != nil {
			return err
		}
		in.CostOfCapital[r.iso3()] = v / 100
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, t := range []struct {
		file   string
		series CapacitySeries
	}{
		{CapacityHistoryFile, in.HistoryCapacity},
		{CapacitySSPFile, in.SSPCapacity},
	} {
		series := t.series
		err = readTable(filepath.Join(dir, t.file), []string{"iso3", "technology", "year", "capacity"}, func(r row) error {
			tech, err := r.tech("technology")
			if err != nil {
				return err
			}
			year, err := r.parseInt("year")
			if err != nil {
				return err
			}
			v, err := r.parseFloat("capacity")
			if err != nil {
				return err
			}
			series.add(r.iso3(), tech, YearValue{Year: year, Value: v})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	err = readTable(filepath.Join(dir, StorageFile), []string{"year", "cost_per_installed_unit", "avg_implied_storage"}, func(r row) error {
		year, err := r.parseInt("year")
		if err != nil {
			return err
		}
		cost, err := r.parseFloat("cost_per_installed_unit")
		if err != nil {
			return err
		}
		avg, err := r.parseFloat("avg_implied_storage")
		if err != nil {
			return err
		}
		in.Storage = append(in.Storage, StorageYear{Year: year, CostPerInstalledUnit: cost, AvgImpliedStorage: avg})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return in, nil
}

type row struct {
	header map[string]int
	record []string
}

func (r row) get(col string) string {
	i, ok := r.header[col]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

func (r row) iso3() string {
	return strings.ToUpper(r.get("iso3"))
}

func (r row) parseFloat(col string) (float64, error) {
	v, err := strconv.ParseFloat(r.get(col), 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", col, err)
	}
	return v, nil
}

func (r row) parseInt(col string) (int, error) {
	v, err := strconv.Atoi(r.get(col))
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", col, err)
	}
	return v, nil
}

func (r row) tech(col string) (api.Technology, error) {
	t := api.Technology(strings.ToLower(r.get(col)))
	switch t {
	case api.Solar, api.Wind, api.Battery:
		return t, nil
	}
	return "", fmt.Errorf("column %s: unknown technology %q", col, r.get(col))
}

// checkCapexRows requires a solar and a wind row for every country listed.
func checkCapexRows(seen map[string]map[api.Technology]bool) error {
	countries := make([]string, 0, len(seen))
	for iso3 := range seen {
		countries = append(countries, iso3)
	}
	sort.Strings(countries)
	for _, iso3 := range countries {
		for _, tech := range []api.Technology{api.Solar, api.Wind} {
			if !seen[iso3][tech] {
				return serrors.NewInputDataError(CapexFile, fmt.Sprintf("%s missing %s capex", iso3, tech), nil)
			}
		}
	}
	return nil
}

// readTable streams a CSV file with a header row through fn after checking
// that every required column is present.
func readTable(path string, required []string, fn func(row) error) error {
	f, err := os.Open(path)
	if err != nil {
		return serrors.NewInputDataError(path, "cannot open input table", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return serrors.NewInputDataError(path, "cannot read header", err)
	}
	headerMap := make(map[string]int, len(headers))
	for i, h := range headers {
		headerMap[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range required {
		if _, ok := headerMap[col]; !ok {
			return serrors.NewInputDataError(path, fmt.Sprintf("missing mandatory column %q", col), nil)
		}
	}

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			return serrors.NewInputDataError(path, fmt.Sprintf("line %d", line), err)
		}
		if err := fn(row{header: headerMap, record: record}); err != nil {
			return serrors.NewInputDataError(path, fmt.Sprintf("line %d", line), err)
		}
	}
}
