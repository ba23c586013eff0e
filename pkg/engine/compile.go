package engine

import (
	"fmt"

	"github.com/broker-flow-ai/regpack/pkg/expr"
	"github.com/broker-flow-ai/regpack/pkg/ruleset"
)

// CompiledRule is a rule with its expressions compiled once for the run.
// A failed compilation is kept on the rule rather than aborting: a bad
// `when` makes the rule inapplicable, a bad assert/transform yields ERROR
// outcomes on every row it applies to.
type CompiledRule struct {
	Rule  ruleset.Rule
	Index int

	When      expr.Predicate
	Assert    expr.Predicate
	Transform expr.Derivation

	WhenErr error
	BodyErr error
}

// Problem is a compile failure reported by Lint.
type Problem struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
	Field  string `json:"field"`
	Err    string `json:"error"`
}

func (p Problem) String() string {
	return fmt.Sprintf("line %d: rule %s: %s: %s", p.Line, p.RuleID, p.Field, p.Err)
}

// Compile compiles every rule in source order.
func Compile(rs *ruleset.Ruleset) []*CompiledRule {
	out := make([]*CompiledRule, len(rs.Rules))
	for i, r := range rs.Rules {
		c := &CompiledRule{Rule: r, Index: i}
		if r.When != "" {
			c.When, c.WhenErr = expr.CompilePredicate(r.Lang, r.When)
		}
		if r.IsTransform() {
			c.Transform, c.BodyErr = expr.CompileDerivation(r.Lang, r.Transform)
		} else {
			c.Assert, c.BodyErr = expr.CompilePredicate(r.Lang, r.Assert)
		}
		out[i] = c
	}
	return out
}

// Lint returns every compile failure in rule order.
func Lint(rules []*CompiledRule) []Problem {
	var out []Problem
	for _, c := range rules {
		if c.WhenErr != nil {
			out = append(out, Problem{RuleID: c.Rule.ID, Line: c.Rule.Line, Field: "when", Err: c.WhenErr.Error()})
		}
		if c.BodyErr != nil {
			field := "assert"
			if c.Rule.IsTransform() {
				field = "transform"
			}
			out = append(out, Problem{RuleID: c.Rule.ID, Line: c.Rule.Line, Field: field, Err: c.BodyErr.Error()})
		}
	}
	return out
}
