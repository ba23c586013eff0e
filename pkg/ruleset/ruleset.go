// Package ruleset parses versioned compliance rule definitions.
//
// A ruleset source is a `version:` header followed by rule blocks. Each
// block starts with `id:` and continues with `key: value` lines until the
// next `id:` or end of input:
//
//	version: 2024.1
//	id: R1
//	when: table == 'policy'
//	assert: premio_netto >= 0
//	severity: BLOCKING
//	message: net premium must not be negative
//
// Rule order is preserved; downstream evaluation order is source order.
package ruleset

import (
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/broker-flow-ai/regpack/pkg/expr"
)

// Severity is the gate level of a rule.
type Severity string

const (
	SeverityWarn     Severity = "WARN"
	SeverityBlocking Severity = "BLOCKING"
)

// ParseSeverity normalises a severity value. Empty means WARN.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "WARN":
		return SeverityWarn, nil
	case "BLOCKING":
		return SeverityBlocking, nil
	}
	return "", fmt.Errorf("severity must be WARN or BLOCKING, got %q", s)
}

// Rule is a single compliance rule. Exactly one of Assert and Transform is set.
type Rule struct {
	ID        string    `json:"id"`
	When      string    `json:"when,omitempty"`
	Assert    string    `json:"assert,omitempty"`
	Transform string    `json:"transform,omitempty"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message,omitempty"`
	Lang      expr.Lang `json:"lang"`
	Line      int       `json:"line"`
}

// IsTransform reports whether the rule derives a field instead of asserting.
func (r Rule) IsTransform() bool { return r.Transform != "" }

// Ruleset is the immutable, ordered rule collection for one run.
type Ruleset struct {
	Version string `json:"version"`
	Rules   []Rule `json:"rules"`
}

// Len returns the number of rules.
func (rs *Ruleset) Len() int { return len(rs.Rules) }

// ParseError reports a malformed ruleset source. It is fatal for the run.
type ParseError struct {
	Line   int
	RuleID string
	Msg    string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("ruleset")
	if e.Line > 0 {
		fmt.Fprintf(&b, ": line %d", e.Line)
	}
	if e.RuleID != "" {
		fmt.Fprintf(&b, ": rule %q", e.RuleID)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	return b.String()
}

// LoadFile reads and parses a ruleset file.
func LoadFile(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Msg: fmt.Sprintf("read %s: %v", path, err)}
	}
	return Parse(string(data))
}

// CheckVersion enforces a semver constraint (e.g. ">= 2.0, < 3") on the
// ruleset version. An empty constraint accepts any version.
func CheckVersion(version, constraint string) error {
	if strings.TrimSpace(constraint) == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("ruleset: invalid version constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return &ParseError{Msg: fmt.Sprintf("version %q is not a semantic version, required by constraint %q", version, constraint)}
	}
	if ok, errs := c.Validate(v); !ok {
		reasons := make([]string, len(errs))
		for i, e := range errs {
			reasons[i] = e.Error()
		}
		return &ParseError{Msg: fmt.Sprintf("version %s rejected: %s", version, strings.Join(reasons, "; "))}
	}
	return nil
}
