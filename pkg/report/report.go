// Package report implements the blocking gate and builds the regulatory
// submission document from validated data.
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/broker-flow-ai/regpack/pkg/canonicalize"
	"github.com/broker-flow-ai/regpack/pkg/dataset"
	"github.com/broker-flow-ai/regpack/pkg/engine"
	"github.com/broker-flow-ai/regpack/pkg/expr"
	"github.com/broker-flow-ai/regpack/pkg/ruleset"
)

// Output file names inside the run directory.
const (
	ViolationsFile = "violations.json"
	WarningsFile   = "warnings.json"
	ReportFile     = "report.json"
)

// Decision is the outcome of the blocking gate.
type Decision struct {
	Blocked       bool
	BlockingCount int
	WarnCount     int
}

// Gate counts violations by severity. Any BLOCKING violation blocks.
func Gate(vs []engine.Violation) Decision {
	var d Decision
	for _, v := range vs {
		if v.Severity == ruleset.SeverityBlocking {
			d.BlockingCount++
		} else {
			d.WarnCount++
		}
	}
	d.Blocked = d.BlockingCount > 0
	return d
}

// ViolationsReport is the structured list written to violations.json or
// warnings.json.
type ViolationsReport struct {
	Period         string             `json:"period"`
	RulesetVersion string             `json:"ruleset_version"`
	BlockingCount  int                `json:"blocking_count"`
	WarnCount      int                `json:"warn_count"`
	Violations     []engine.Violation `json:"violations"`
}

// NewViolationsReport wraps violations, already in table, row, rule order.
func NewViolationsReport(period, version string, vs []engine.Violation) *ViolationsReport {
	d := Gate(vs)
	if vs == nil {
		vs = []engine.Violation{}
	}
	return &ViolationsReport{
		Period:         period,
		RulesetVersion: version,
		BlockingCount:  d.BlockingCount,
		WarnCount:      d.WarnCount,
		Violations:     vs,
	}
}

// Intermediary identifies the reporting intermediary.
type Intermediary struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// Aggregates are the reported totals as fixed 2-decimal strings.
type Aggregates struct {
	Premiums     string `json:"premiums"`
	ClaimsPaid   string `json:"claims_paid"`
	FinalReserve string `json:"final_reserve"`
}

// Document is the regulatory submission.
type Document struct {
	Period         string       `json:"period"`
	RulesetVersion string       `json:"ruleset_version"`
	Intermediary   Intermediary `json:"intermediary"`
	Aggregates     Aggregates   `json:"aggregates"`
}

// Columns names the source columns of each aggregate.
type Columns struct {
	Premiums     string `yaml:"premiums"`
	ClaimsPaid   string `yaml:"claims_paid"`
	FinalReserve string `yaml:"final_reserve"`
}

// DefaultColumns matches the standard portfolio extract layout.
var DefaultColumns = Columns{
	Premiums:     "premio_netto",
	ClaimsPaid:   "importo_pagato",
	FinalReserve: "riserva",
}

// Options configures Build.
type Options struct {
	Period         string
	RulesetVersion string
	// Intermediary overrides the identity read from the intermediary table.
	Intermediary Intermediary
	Columns      Columns
}

// Build computes aggregates over every policy and claim row. Rows flagged
// by non-blocking violations are included; only non-numeric or missing
// cells are skipped.
func Build(ds *dataset.Dataset, opts Options) *Document {
	cols := opts.Columns
	if cols.Premiums == "" {
		cols.Premiums = DefaultColumns.Premiums
	}
	if cols.ClaimsPaid == "" {
		cols.ClaimsPaid = DefaultColumns.ClaimsPaid
	}
	if cols.FinalReserve == "" {
		cols.FinalReserve = DefaultColumns.FinalReserve
	}

	return &Document{
		Period:         opts.Period,
		RulesetVersion: opts.RulesetVersion,
		Intermediary:   resolveIntermediary(ds, opts.Intermediary),
		Aggregates: Aggregates{
			Premiums:     FormatAmount(Sum(ds.Table("policy"), cols.Premiums)),
			ClaimsPaid:   FormatAmount(Sum(ds.Table("claim"), cols.ClaimsPaid)),
			FinalReserve: FormatAmount(Sum(ds.Table("claim"), cols.FinalReserve)),
		},
	}
}

// Sum adds the numeric values of column across t, ignoring the rest.
func Sum(t *dataset.Table, column string) float64 {
	if t == nil {
		return 0
	}
	var total float64
	for _, r := range t.Rows {
		if f, ok := r.Values[column].(float64); ok {
			total += f
		}
	}
	return total
}

// FormatAmount renders v with two decimals. Negative zero prints as 0.00.
func FormatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if s == "-0.00" {
		return "0.00"
	}
	return s
}

func resolveIntermediary(ds *dataset.Dataset, override Intermediary) Intermediary {
	out := override
	t := ds.Table("intermediary")
	if t == nil || len(t.Rows) == 0 {
		return out
	}
	first := t.Rows[0].Values
	if out.Code == "" {
		out.Code = cellString(first["code"])
	}
	if out.Name == "" {
		out.Name = cellString(first["name"])
	}
	return out
}

func cellString(v any) string {
	if f, ok := v.(float64); ok && !math.IsInf(f, 0) {
		k, _ := expr.Key(f)
		return k
	}
	s, _ := v.(string)
	return s
}

// WriteJSON writes v as canonical JSON to dir/name and returns the path.
func WriteJSON(dir, name string, v any) (string, error) {
	data, err := canonicalize.JCS(v)
	if err != nil {
		return "", fmt.Errorf("report: encode %s: %w", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("report: write %s: %w", name, err)
	}
	return path, nil
}
