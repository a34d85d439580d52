package optimizer

import "sort"

// RemapTable maps territories without a cost row of their own to the country
// whose costs they use.
type RemapTable map[string]string

var defaultRemap = RemapTable{
	"GUF": "SUR", // French Guiana
	"AND": "ESP", // Andorra
	"XKX": "SRB", // Kosovo
	"ESH": "MAR", // Western Sahara
	"SJM": "NOR", // Svalbard
	"MCO": "FRA", // Monaco
	"SMR": "ITA", // San Marino
	"VAT": "ITA", // Vatican
	"LIE": "CHE", // Liechtenstein
}

// DefaultRemapTable returns a copy of the built-in table.
func DefaultRemapTable() RemapTable {
	return defaultRemap.With(nil)
}

// With returns a copy of the table with overrides applied. An override
// mapping a code to itself or to "" removes the entry.
func (r RemapTable) With(overrides map[string]string) RemapTable {
	out := make(RemapTable, len(r)+len(overrides))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range overrides {
		if v == "" || v == k {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Resolve returns the code whose costs iso3 uses.
func (r RemapTable) Resolve(iso3 string) string {
	if to, ok := r[iso3]; ok {
		return to
	}
	return iso3
}

// Codes lists the remapped territories in order.
func (r RemapTable) Codes() []string {
	codes := make([]string, 0, len(r))
	for k := range r {
		codes = append(codes, k)
	}
	sort.Strings(codes)
	return codes
}
