package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/broker-flow-ai/regpack/pkg/config"
	"github.com/broker-flow-ai/regpack/pkg/observability"
	"github.com/broker-flow-ai/regpack/pkg/pipeline"
)

// runSummary is the --json output of `regpack run`.
type runSummary struct {
	RunID          string   `json:"run_id"`
	Period         string   `json:"period"`
	Status         string   `json:"status"`
	RulesetVersion string   `json:"ruleset_version"`
	Rows           int      `json:"rows"`
	Blocking       int      `json:"blocking"`
	Warnings       int      `json:"warnings"`
	Diagnostics    []string `json:"diagnostics,omitempty"`
	ManifestDigest string   `json:"manifest_digest"`
	Outputs        []string `json:"outputs"`
	PublishedIndex string   `json:"published_index,omitempty"`
}

// runRunCmd implements `regpack run`.
//
// Exit codes:
//
//	0 = report produced
//	1 = blocked by BLOCKING violations
//	2 = ruleset/dataset/runtime error
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		period     string
		configPath string
		dataDir    string
		rulesPath  string
		outDir     string
		schemaPath string
		dsn        string
		workers    int
		jsonOutput bool
	)
	cmd.StringVar(&period, "period", "", "Reporting period, e.g. 2024Q1 (REQUIRED)")
	cmd.StringVar(&configPath, "config", "", "Path to regpack.yaml")
	cmd.StringVar(&dataDir, "data", "", "Directory holding the table extracts")
	cmd.StringVar(&rulesPath, "rules", "", "Ruleset file")
	cmd.StringVar(&outDir, "out", "", "Output directory")
	cmd.StringVar(&schemaPath, "schema", "", "JSON Schema for the report (advisory)")
	cmd.StringVar(&dsn, "db", "", "Run ledger: SQLite path or postgres:// URL, '-' to disable")
	cmd.IntVar(&workers, "workers", 0, "Row workers per table (0 = NumCPU)")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the run summary as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if period == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --period is required")
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	cmd.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.Dataset.Dir = dataDir
		case "rules":
			cfg.Ruleset.Path = rulesPath
		case "out":
			cfg.Report.OutDir = outDir
		case "schema":
			cfg.Schema.Path = schemaPath
		case "db":
			cfg.Store.DSN = dsn
		case "workers":
			cfg.Engine.Workers = workers
		}
	})
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	logger, err := config.InitLogger(cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Telemetry.ServiceVersion = version
	tel, err := observability.New(ctx, cfg.Telemetry)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	p, err := pipeline.New(cfg, pipeline.Options{Logger: logger, Telemetry: tel})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	res, err := p.Run(ctx, period)
	if err != nil && !errors.Is(err, pipeline.ErrBlocked) {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	summary := summarize(res)
	if jsonOutput {
		data, _ := json.MarshalIndent(summary, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printRunSummary(stdout, summary)
	}

	if res.Decision.Blocked {
		return 1
	}
	return 0
}

func summarize(res *pipeline.Result) runSummary {
	s := runSummary{
		RunID:          res.RunID,
		Period:         res.Period,
		Status:         string(res.Status),
		RulesetVersion: res.RulesetVersion,
		Blocking:       res.Decision.BlockingCount,
		Warnings:       res.Decision.WarnCount,
		ManifestDigest: res.ManifestDigest,
		PublishedIndex: res.PublishedIndex,
	}
	if res.Engine != nil {
		s.Rows = res.Engine.Rows
		for _, d := range res.Engine.Diagnostics {
			s.Diagnostics = append(s.Diagnostics, fmt.Sprintf("%s on %s: %s", d.RuleID, d.Table, d.Message))
		}
	}
	paths := append(append([]string{}, res.Outputs...), res.ManifestPath, res.SignaturePath, res.PackPath)
	for _, path := range paths {
		if path != "" {
			s.Outputs = append(s.Outputs, filepath.Base(path))
		}
	}
	return s
}

func printRunSummary(w io.Writer, s runSummary) {
	if s.Blocking > 0 {
		_, _ = fmt.Fprintf(w, "❌ Period %s BLOCKED: %d blocking, %d warnings\n", s.Period, s.Blocking, s.Warnings)
	} else {
		_, _ = fmt.Fprintf(w, "✅ Period %s report produced (%d warnings)\n", s.Period, s.Warnings)
	}
	_, _ = fmt.Fprintf(w, "Run:      %s\n", s.RunID)
	_, _ = fmt.Fprintf(w, "Ruleset:  %s\n", s.RulesetVersion)
	_, _ = fmt.Fprintf(w, "Rows:     %d\n", s.Rows)
	_, _ = fmt.Fprintf(w, "Manifest: %s\n", s.ManifestDigest)
	for _, d := range s.Diagnostics {
		_, _ = fmt.Fprintf(w, "  ! %s\n", d)
	}
	for _, o := range s.Outputs {
		_, _ = fmt.Fprintf(w, "  - %s\n", o)
	}
}
