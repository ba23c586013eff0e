package engine

import (
	"fmt"

	"github.com/broker-flow-ai/regpack/pkg/expr"
)

// Applies decides whether a rule applies to a table by evaluating its `when`
// with only `table` bound. An empty `when` applies everywhere.
func Applies(c *CompiledRule, table string) (bool, error) {
	if c.WhenErr != nil {
		return false, c.WhenErr
	}
	if c.When == nil {
		return true, nil
	}
	scope := expr.NewScope(map[string]any{}, map[string]any{"table": table})
	ok, err := c.When.Test(scope)
	if err != nil {
		return false, fmt.Errorf("when %q: %w", c.Rule.When, err)
	}
	return ok, nil
}

// Diagnostic records a rule that could not be matched against a table.
type Diagnostic struct {
	RuleID  string `json:"rule_id"`
	Table   string `json:"table"`
	Message string `json:"message"`
}

// applicable filters rules for one table, preserving source order.
func applicable(rules []*CompiledRule, table string) ([]*CompiledRule, []Diagnostic) {
	var (
		out   []*CompiledRule
		diags []Diagnostic
	)
	for _, c := range rules {
		ok, err := Applies(c, table)
		if err != nil {
			diags = append(diags, Diagnostic{RuleID: c.Rule.ID, Table: table, Message: err.Error()})
			continue
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, diags
}
