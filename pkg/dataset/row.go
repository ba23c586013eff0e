package dataset

import (
	"math"
	"strconv"
	"strings"
)

// Row is one record of a table. Values holds float64 for cells that parse as
// numbers and the raw string otherwise. Columns keeps header order followed by
// any fields added by transforms.
type Row struct {
	Index   int
	Columns []string
	Values  map[string]any
}

// Get returns a field value.
func (r *Row) Get(name string) (any, bool) {
	v, ok := r.Values[name]
	return v, ok
}

// Set assigns a field, appending the column when it is new.
func (r *Row) Set(name string, v any) {
	if _, ok := r.Values[name]; !ok {
		r.Columns = append(r.Columns, name)
	}
	r.Values[name] = v
}

// ID returns the row identifier from the id or policy_id column, or nil.
func (r *Row) ID() any {
	for _, col := range []string{"id", "policy_id"} {
		if v, ok := r.Values[col]; ok && v != "" {
			return v
		}
	}
	return nil
}

// ParseValue types a raw cell: a finite number becomes float64, anything
// else (including the empty string) stays a string.
func ParseValue(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return raw
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return raw
	}
	return f
}
