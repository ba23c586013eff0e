// Package dataset loads per-table CSV extracts into typed row collections
// and builds the cross-table evaluation context.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultTables is the processing order of the portfolio extract.
var DefaultTables = []string{"policy", "claim", "transaction", "intermediary", "client"}

// LoadError reports a missing or unreadable table. It is fatal for the run.
type LoadError struct {
	Table string
	Path  string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("dataset: load %s (%s): %v", e.Table, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Table is one loaded extract.
type Table struct {
	Name   string
	Path   string
	Header []string
	Rows   []*Row
}

// Dataset holds the loaded tables in processing order.
type Dataset struct {
	Tables []*Table
	byName map[string]*Table
}

// New assembles a dataset from already loaded tables, in the given order.
func New(tables ...*Table) *Dataset {
	ds := &Dataset{Tables: tables, byName: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		ds.byName[t.Name] = t
	}
	return ds
}

// NewTable builds an in-memory table from a header and raw cell records.
func NewTable(name string, header []string, records ...[]string) *Table {
	t := &Table{Name: name, Header: header, Rows: make([]*Row, 0, len(records))}
	for i, rec := range records {
		row := &Row{Index: i, Columns: append([]string(nil), header...), Values: make(map[string]any, len(header))}
		for j, h := range header {
			if j < len(rec) {
				row.Values[h] = ParseValue(rec[j])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Table returns the named table or nil.
func (d *Dataset) Table(name string) *Table {
	return d.byName[name]
}

// Files returns the source paths in table order.
func (d *Dataset) Files() []string {
	out := make([]string, len(d.Tables))
	for i, t := range d.Tables {
		out[i] = t.Path
	}
	return out
}

// RowCount returns the total number of rows across all tables.
func (d *Dataset) RowCount() int {
	n := 0
	for _, t := range d.Tables {
		n += len(t.Rows)
	}
	return n
}

// Options controls where tables are read from.
type Options struct {
	Dir string
	// Delimiter is "auto", ",", ";", "\t" or "|". Empty means auto.
	Delimiter string
	// Tables overrides DefaultTables.
	Tables []string
	// Files maps a table to a file name relative to Dir. Default <table>.csv.
	Files map[string]string
}

// Load reads every configured table. Any missing or malformed file aborts.
func Load(opts Options) (*Dataset, error) {
	delim, err := ParseDelimiter(opts.Delimiter)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	tables := opts.Tables
	if len(tables) == 0 {
		tables = DefaultTables
	}
	logger := slog.Default().With("component", "dataset")

	ds := &Dataset{byName: make(map[string]*Table, len(tables))}
	for _, name := range tables {
		if _, dup := ds.byName[name]; dup {
			return nil, fmt.Errorf("dataset: table %q listed twice", name)
		}
		file := opts.Files[name]
		if file == "" {
			file = name + ".csv"
		}
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(opts.Dir, file)
		}
		t, err := LoadTable(name, path, delim)
		if err != nil {
			return nil, err
		}
		logger.Debug("table loaded", "table", name, "path", path, "rows", len(t.Rows), "columns", len(t.Header))
		ds.Tables = append(ds.Tables, t)
		ds.byName[name] = t
	}
	return ds, nil
}

// ParseDelimiter maps a configured delimiter. Zero means sniff from the header.
func ParseDelimiter(s string) (rune, error) {
	switch s {
	case "", "auto":
		return 0, nil
	case ",", ";", "|":
		return rune(s[0]), nil
	case "\t", `\t`, "tab":
		return '\t', nil
	}
	return 0, fmt.Errorf("unsupported delimiter %q", s)
}

// LoadTable reads a single CSV file. delim 0 sniffs the separator.
func LoadTable(name, path string, delim rune) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Table: name, Path: path, Err: err}
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if delim == 0 {
		delim = sniffDelimiter(data)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.FieldsPerRecord = 0

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, &LoadError{Table: name, Path: path, Err: errors.New("missing header row")}
	}
	if err != nil {
		return nil, &LoadError{Table: name, Path: path, Err: err}
	}
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = norm.NFC.String(strings.TrimSpace(h))
		if h == "" {
			return nil, &LoadError{Table: name, Path: path, Err: fmt.Errorf("empty column name at position %d", i+1)}
		}
		if seen[h] {
			return nil, &LoadError{Table: name, Path: path, Err: fmt.Errorf("duplicate column %q", h)}
		}
		seen[h] = true
		header[i] = h
	}

	t := &Table{Name: name, Path: path, Header: header, Rows: []*Row{}}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &LoadError{Table: name, Path: path, Err: err}
		}
		row := &Row{
			Index:   len(t.Rows),
			Columns: append([]string(nil), header...),
			Values:  make(map[string]any, len(header)),
		}
		for i, cell := range rec {
			row.Values[header[i]] = ParseValue(cell)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// sniffDelimiter picks the most frequent candidate separator on the header
// line. Ties go to comma.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestN := ',', bytes.Count(line, []byte{','})
	for _, c := range []rune{';', '\t', '|'} {
		if n := bytes.Count(line, []byte{byte(c)}); n > bestN {
			best, bestN = c, n
		}
	}
	return best
}
