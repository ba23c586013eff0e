// Package engine applies a compiled ruleset to every row of a dataset.
//
// Tables are processed in dataset order and rows in file order. Rows of one
// table may be evaluated concurrently; rules on a single row always run in
// source order so a transform is visible to every later rule on that row.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/broker-flow-ai/regpack/pkg/dataset"
	"github.com/broker-flow-ai/regpack/pkg/expr"
	"github.com/broker-flow-ai/regpack/pkg/ruleset"
)

// RuleStats counts outcomes of one rule over the run.
type RuleStats struct {
	RuleID      string `json:"rule_id"`
	Evaluated   int    `json:"evaluated"`
	Passed      int    `json:"passed"`
	Failed      int    `json:"failed"`
	Errored     int    `json:"errored"`
	Transformed int    `json:"transformed"`
}

func (s *RuleStats) merge(o RuleStats) {
	s.Evaluated += o.Evaluated
	s.Passed += o.Passed
	s.Failed += o.Failed
	s.Errored += o.Errored
	s.Transformed += o.Transformed
}

// Result is the outcome of one engine pass.
type Result struct {
	Violations  []Violation
	Stats       []RuleStats
	Diagnostics []Diagnostic
	Rows        int
	Duration    time.Duration
}

// BlockingCount returns the number of BLOCKING violations.
func (r *Result) BlockingCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == ruleset.SeverityBlocking {
			n++
		}
	}
	return n
}

// Options configures an Engine.
type Options struct {
	// Workers bounds row parallelism per table. Zero means runtime.NumCPU().
	Workers int
	Logger  *slog.Logger
}

// Engine evaluates compiled rules over datasets. It is safe to reuse.
type Engine struct {
	rules   []*CompiledRule
	workers int
	logger  *slog.Logger
}

// New returns an Engine for rules.
func New(rules []*CompiledRule, opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rules: rules, workers: workers, logger: logger.With("component", "engine")}
}

// Run evaluates every applicable rule against every row. Rows are mutated in
// place by transforms. Evaluation failures become violations; the only
// returned error is context cancellation.
func (e *Engine) Run(ctx context.Context, ds *dataset.Dataset, dctx *dataset.Context) (*Result, error) {
	start := time.Now()
	sink := &Sink{}
	stats := make([]RuleStats, len(e.rules))
	for i, c := range e.rules {
		stats[i].RuleID = c.Rule.ID
	}
	var (
		statsMu sync.Mutex
		diags   []Diagnostic
		rows    int
	)

	for ti, t := range ds.Tables {
		rules, d := applicable(e.rules, t.Name)
		for _, dg := range d {
			e.logger.Warn("rule not applicable: when failed", "rule", dg.RuleID, "table", dg.Table, "error", dg.Message)
		}
		diags = append(diags, d...)
		rows += len(t.Rows)
		if len(rules) == 0 || len(t.Rows) == 0 {
			continue
		}

		vars := dctx.Vars(t.Name)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.workers)
		for _, chunk := range chunks(len(t.Rows), e.workers) {
			g.Go(func() error {
				local := make([]RuleStats, len(e.rules))
				var out []Violation
				for ri := chunk[0]; ri < chunk[1]; ri++ {
					if err := gctx.Err(); err != nil {
						return err
					}
					out = e.applyRow(out, local, ti, t.Name, t.Rows[ri], rules, vars)
				}
				sink.Add(out...)
				statsMu.Lock()
				for i := range local {
					stats[i].merge(local[i])
				}
				statsMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("engine: table %s: %w", t.Name, err)
		}
		e.logger.Debug("table evaluated", "table", t.Name, "rows", len(t.Rows), "rules", len(rules))
	}

	res := &Result{
		Violations:  sink.Sorted(),
		Stats:       stats,
		Diagnostics: diags,
		Rows:        rows,
		Duration:    time.Since(start),
	}
	e.logger.Info("evaluation complete",
		"rows", rows, "rules", len(e.rules),
		"violations", len(res.Violations), "blocking", res.BlockingCount(),
		"duration", res.Duration)
	return res, nil
}

// applyRow runs rules on one row in order, merging transforms immediately.
func (e *Engine) applyRow(out []Violation, stats []RuleStats, tableIdx int, table string, row *dataset.Row, rules []*CompiledRule, vars map[string]any) []Violation {
	scope := expr.NewScope(row.Values, vars)
	for _, c := range rules {
		st := &stats[c.Index]
		st.Evaluated++

		outcome, err := evaluate(c, row, scope)
		switch outcome {
		case OutcomePass:
			st.Passed++
			continue
		case OutcomeTransform:
			st.Transformed++
			continue
		case OutcomeFail:
			st.Failed++
		case OutcomeError:
			st.Errored++
		}

		v := Violation{
			RuleID:   c.Rule.ID,
			Table:    table,
			RowID:    row.ID(),
			Row:      row.Index,
			Severity: c.Rule.Severity,
			Message:  c.Rule.Message,
			Outcome:  outcome,
			tableIdx: tableIdx,
			ruleIdx:  c.Index,
		}
		if v.Message == "" {
			v.Message = fmt.Sprintf("rule %s failed", c.Rule.ID)
		}
		if err != nil {
			v.Error = err.Error()
		}
		out = append(out, v)
	}
	return out
}

func evaluate(c *CompiledRule, row *dataset.Row, scope *expr.Scope) (Outcome, error) {
	if c.BodyErr != nil {
		return OutcomeError, c.BodyErr
	}
	if c.Transform != nil {
		field, v, err := c.Transform.Derive(scope)
		if err != nil {
			return OutcomeError, err
		}
		row.Set(field, v)
		scope.Touch()
		return OutcomeTransform, nil
	}
	ok, err := c.Assert.Test(scope)
	switch {
	case err != nil:
		return OutcomeError, err
	case ok:
		return OutcomePass, nil
	default:
		return OutcomeFail, nil
	}
}

// chunks splits n rows into at most k contiguous [start, end) ranges.
func chunks(n, k int) [][2]int {
	if k > n {
		k = n
	}
	size := (n + k - 1) / k
	out := make([][2]int, 0, k)
	for s := 0; s < n; s += size {
		end := s + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{s, end})
	}
	return out
}
