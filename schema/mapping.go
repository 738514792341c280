package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// IdentifierColumn is the required column used as the customer identifier
// when the schema includes it.
const IdentifierColumn = "customer_id"

// Header spellings accepted as the customer identifier when the mapping does
// not provide one.
var customerIDHeaders = []string{"customer_id", "CustomerID", "customerID", "customerId", "CustomerId"}

// ColumnMapping maps required column name to a detected header. An empty value
// means the required column is unset.
type ColumnMapping map[string]string

// CustomerRecord holds one row keyed by required column name.
type CustomerRecord map[string]string

// IncompleteMappingError is returned by Apply when some required columns are
// still unset.
type IncompleteMappingError struct {
	Missing []string
}

func (e *IncompleteMappingError) Error() string {
	return fmt.Sprintf("Column mapping is incomplete: %s", strings.Join(e.Missing, ", "))
}

// Identity maps every required column to the header of the same name.
func Identity(required RequiredSchema) ColumnMapping {
	m := make(ColumnMapping, len(required))
	for _, name := range required {
		m[name] = name
	}
	return m
}

// Unset lists required columns without a header, in schema order.
func (m ColumnMapping) Unset(required RequiredSchema) []string {
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(m[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// ResolveMapping turns a client supplied mapping into a total ColumnMapping
// over required. Keys outside required are rejected. Values naming a header
// that is not in detected stay unset. Absent keys and blank values fall back
// to the header of the same name, then to the only header with the same
// normalized name, and stay unset when there is neither.
func ResolveMapping(required RequiredSchema, supplied map[string]string, detected []string) (ColumnMapping, error) {
	known := make(map[string]struct{}, len(required))
	for _, name := range required {
		known[name] = struct{}{}
	}
	var unknown []string
	for key := range supplied {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, malformed("column_mapping references unknown required column %q.", unknown[0])
	}

	headers := make(map[string]struct{}, len(detected))
	byNormalized := make(map[string][]string, len(detected))
	for _, h := range detected {
		headers[h] = struct{}{}
		n := normalizeName(h)
		byNormalized[n] = append(byNormalized[n], h)
	}

	m := make(ColumnMapping, len(required))
	for _, name := range required {
		header := strings.TrimSpace(supplied[name])
		if header == "" {
			m[name] = defaultHeader(name, headers, byNormalized)
			continue
		}
		if _, ok := headers[header]; !ok {
			header = ""
		}
		m[name] = header
	}
	return m, nil
}

func defaultHeader(name string, headers map[string]struct{}, byNormalized map[string][]string) string {
	if _, ok := headers[name]; ok {
		return name
	}
	if candidates := byNormalized[normalizeName(name)]; len(candidates) == 1 {
		return candidates[0]
	}
	return ""
}

// Apply projects every row of data onto required using mapping. Cells missing
// from short rows become empty strings. No records are produced when any
// required column is unset.
func Apply(required RequiredSchema, mapping ColumnMapping, data *Dataset) ([]CustomerRecord, error) {
	if missing := mapping.Unset(required); len(missing) > 0 {
		return nil, &IncompleteMappingError{Missing: missing}
	}

	positions := make([]int, len(required))
	for i, name := range required {
		idx, ok := data.Column(mapping[name])
		if !ok {
			idx = -1
		}
		positions[i] = idx
	}

	records := make([]CustomerRecord, 0, len(data.Rows))
	for _, row := range data.Rows {
		rec := make(CustomerRecord, len(required))
		for i, name := range required {
			rec[name] = cell(row, positions[i])
		}
		records = append(records, rec)
	}
	return records, nil
}

// CustomerIDs returns an identifier for every row. The mapped identifier
// column wins, then any well-known identifier header, then the 1-based row
// position. Blank cells also fall back to the position.
func CustomerIDs(data *Dataset, mapping ColumnMapping) []string {
	col := -1
	if idx, ok := data.Column(mapping[IdentifierColumn]); ok {
		col = idx
	}
	if col < 0 {
		for _, h := range customerIDHeaders {
			if idx, ok := data.Column(h); ok {
				col = idx
				break
			}
		}
	}

	ids := make([]string, len(data.Rows))
	for i, row := range data.Rows {
		id := strings.TrimSpace(cell(row, col))
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		ids[i] = id
	}
	return ids
}
