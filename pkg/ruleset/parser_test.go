package ruleset_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broker-flow-ai/regpack/pkg/expr"
	"github.com/broker-flow-ai/regpack/pkg/ruleset"
)

const sample = `# IVASS quarterly rules
version: "2.1.0"
rules:

- id: R1
  when: table == 'policy'
  assert: premio_netto >= 0
  severity: BLOCKING
  message: "Net premium must not be negative"

- id: T1
  when: table == 'policy' and ramo == '01'
  transform: ramo_normativo = '99'

id: C1
lang: cel
when: table == "claim"
assert: row.importo_pagato <= row.riserva + 1000.0
message: payment exceeds reserve: check claim
`

func TestParse_Sample(t *testing.T) {
	rs, err := ruleset.Parse(sample)
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", rs.Version)
	require.Equal(t, 3, rs.Len())

	r1 := rs.Rules[0]
	assert.Equal(t, "R1", r1.ID)
	assert.Equal(t, "table == 'policy'", r1.When)
	assert.Equal(t, "premio_netto >= 0", r1.Assert)
	assert.Equal(t, ruleset.SeverityBlocking, r1.Severity)
	assert.Equal(t, "Net premium must not be negative", r1.Message)
	assert.Equal(t, expr.LangExpr, r1.Lang)
	assert.False(t, r1.IsTransform())
	assert.Equal(t, 5, r1.Line)

	t1 := rs.Rules[1]
	assert.True(t, t1.IsTransform())
	assert.Equal(t, ruleset.SeverityWarn, t1.Severity)
	assert.Equal(t, "ramo_normativo = '99'", t1.Transform)

	c1 := rs.Rules[2]
	assert.Equal(t, expr.LangCEL, c1.Lang)
	assert.Equal(t, `table == "claim"`, c1.When)
	assert.Equal(t, "payment exceeds reserve: check claim", c1.Message)
}

func TestParse_QuotedExpressionKept(t *testing.T) {
	rs, err := ruleset.Parse("version: 1\nid: Q\nassert: \"a\" == \"b\"\n")
	require.NoError(t, err)
	assert.Equal(t, `"a" == "b"`, rs.Rules[0].Assert)
}

func TestParse_Empty(t *testing.T) {
	rs, err := ruleset.Parse("version: 1.0.0\n")
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
	assert.NotNil(t, rs.Rules)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"missing version", "id: R1\nassert: 1 == 1\n", 1, "missing version"},
		{"no rules no version", "# nothing\n", 0, "missing version"},
		{"both assert and transform", "version: 1\nid: R1\nassert: x > 0\ntransform: y = 1\n", 2, "both assert and transform"},
		{"neither", "version: 1\nid: R1\nwhen: true\n", 2, "neither assert nor transform"},
		{"bad severity", "version: 1\nid: R1\nassert: x > 0\nseverity: FATAL\n", 2, "severity"},
		{"unknown key", "version: 1\nid: R1\nasert: x > 0\n", 3, "unknown key"},
		{"duplicate key", "version: 1\nid: R1\nassert: x > 0\nassert: x < 0\n", 4, "duplicate key"},
		{"duplicate id", "version: 1\nid: R1\nassert: x > 0\nid: R1\nassert: x < 0\n", 4, "duplicate rule id"},
		{"field before id", "version: 1\nassert: x > 0\n", 2, "lacks an id"},
		{"field after blank line", "version: 1\nid: R1\nassert: x > 0\n\nmessage: orphan\n", 5, "lacks an id"},
		{"not key value", "version: 1\nid: R1\nthis is not valid\n", 3, "key: value"},
		{"empty id", "version: 1\nid:\n", 2, "id is empty"},
		{"late version", "version: 1\nid: R1\nassert: x > 0\nversion: 2\n", 4, "precede"},
		{"bad lang", "version: 1\nid: R1\nassert: x > 0\nlang: lua\n", 2, "expression language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ruleset.Parse(tt.src)
			require.Error(t, err)
			var pe *ruleset.ParseError
			require.True(t, errors.As(err, &pe), "want *ParseError, got %T", err)
			assert.Equal(t, tt.line, pe.Line)
			assert.Contains(t, pe.Error(), tt.msg)
		})
	}
}

func TestParse_BlankLineClosesBlock(t *testing.T) {
	rs, err := ruleset.Parse("version: 1\nid: R1\nassert: x > 0\n\n\nid: R2\n# note\ntransform: y = 1\n")
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())
	assert.Empty(t, rs.Rules[0].Message)
	assert.Equal(t, "R2", rs.Rules[1].ID)
	assert.Equal(t, 6, rs.Rules[1].Line)
}

func TestParseError_Format(t *testing.T) {
	err := &ruleset.ParseError{Line: 7, RuleID: "R2", Msg: "boom"}
	assert.Equal(t, `ruleset: line 7: rule "R2": boom`, err.Error())
	assert.Equal(t, "ruleset: boom", (&ruleset.ParseError{Msg: "boom"}).Error())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	rs, err := ruleset.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, rs.Len())

	_, err = ruleset.LoadFile(filepath.Join(dir, "missing.yaml"))
	var pe *ruleset.ParseError
	require.True(t, errors.As(err, &pe))
}

func TestCheckVersion(t *testing.T) {
	require.NoError(t, ruleset.CheckVersion("2.1.0", ""))
	require.NoError(t, ruleset.CheckVersion("2.1.0", ">= 2.0, < 3"))
	require.NoError(t, ruleset.CheckVersion("2.1", "~2.1"))

	err := ruleset.CheckVersion("1.9.0", ">= 2.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")

	err = ruleset.CheckVersion("2024Q1", ">= 2.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a semantic version")

	err = ruleset.CheckVersion("2.0.0", "not a constraint !!")
	require.Error(t, err)
}
