//go:build property
// +build property

// Property-based tests for engine determinism and transform idempotence.
package engine_test

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/broker-flow-ai/regpack/pkg/canonicalize"
	"github.com/broker-flow-ai/regpack/pkg/dataset"
	"github.com/broker-flow-ai/regpack/pkg/engine"
	"github.com/broker-flow-ai/regpack/pkg/ruleset"
)

const propertyRules = `version: 1.0.0
id: T1
when: table == 'policy'
transform: premio_doppio = premio_netto * 2

id: R1
when: table == 'policy'
assert: premio_netto >= 0
severity: BLOCKING

id: R2
when: table == 'policy'
assert: premio_doppio < 1000
`

func policyTable(premiums []float64) *dataset.Table {
	records := make([][]string, len(premiums))
	for i, p := range premiums {
		records[i] = []string{fmt.Sprintf("P%d", i), strconv.FormatFloat(p, 'f', 2, 64)}
	}
	return dataset.NewTable("policy", []string{"id", "premio_netto"}, records...)
}

func compileProperty() []*engine.CompiledRule {
	rs, err := ruleset.Parse(propertyRules)
	if err != nil {
		panic(err)
	}
	return engine.Compile(rs)
}

func violationsJSON(rules []*engine.CompiledRule, premiums []float64, workers int) ([]byte, error) {
	ds := dataset.New(policyTable(premiums))
	res, err := engine.New(rules, engine.Options{Workers: workers}).Run(context.Background(), ds, dataset.NewContext("2024Q1", ds))
	if err != nil {
		return nil, err
	}
	return canonicalize.JCS(res.Violations)
}

// Property: identical inputs yield byte-identical violations for any worker count.
func TestRunDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	rules := compileProperty()

	properties.Property("violations are byte-identical across runs and worker counts", prop.ForAll(
		func(premiums []float64, workers int) bool {
			a, err1 := violationsJSON(rules, premiums, 1)
			b, err2 := violationsJSON(rules, premiums, workers)
			if err1 != nil || err2 != nil {
				return false
			}
			return bytes.Equal(a, b)
		},
		gen.SliceOf(gen.Float64Range(-500, 1500)),
		gen.IntRange(1, 16),
	))

	properties.TestingRun(t)
}

// Property: re-running a derivation over rows that already carry the
// derived field yields the same value.
func TestTransformIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	rules := compileProperty()

	properties.Property("transform applied twice equals transform applied once", prop.ForAll(
		func(premiums []float64) bool {
			ds := dataset.New(policyTable(premiums))
			dctx := dataset.NewContext("2024Q1", ds)
			eng := engine.New(rules, engine.Options{Workers: 2})

			if _, err := eng.Run(context.Background(), ds, dctx); err != nil {
				return false
			}
			first := make([]any, len(ds.Tables[0].Rows))
			for i, r := range ds.Tables[0].Rows {
				first[i], _ = r.Get("premio_doppio")
			}
			if _, err := eng.Run(context.Background(), ds, dctx); err != nil {
				return false
			}
			for i, r := range ds.Tables[0].Rows {
				v, ok := r.Get("premio_doppio")
				if !ok || v != first[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-500, 1500)),
	))

	properties.TestingRun(t)
}
