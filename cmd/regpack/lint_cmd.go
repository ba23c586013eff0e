package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/broker-flow-ai/regpack/pkg/engine"
	"github.com/broker-flow-ai/regpack/pkg/ruleset"
)

type lintReport struct {
	Version  string   `json:"version"`
	Rules    int      `json:"rules"`
	Problems []string `json:"problems"`
}

// runLintCmd implements `regpack lint`. A parse error exits 2; compile
// problems exit 1 since those rules would only ever produce ERROR outcomes.
func runLintCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("lint", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		rulesPath  string
		constraint string
		jsonOutput bool
	)
	cmd.StringVar(&rulesPath, "rules", "", "Ruleset file (REQUIRED)")
	cmd.StringVar(&constraint, "constraint", "", "Semver constraint the ruleset version must satisfy")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if rulesPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --rules is required")
		return 2
	}

	rs, err := ruleset.LoadFile(rulesPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := ruleset.CheckVersion(rs.Version, constraint); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	rep := lintReport{Version: rs.Version, Rules: rs.Len(), Problems: []string{}}
	for _, p := range engine.Lint(engine.Compile(rs)) {
		rep.Problems = append(rep.Problems, p.String())
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(rep, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "Ruleset %s: %d rules, %d problems\n", rep.Version, rep.Rules, len(rep.Problems))
		for _, p := range rep.Problems {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", p)
		}
	}
	if len(rep.Problems) > 0 {
		return 1
	}
	return 0
}
