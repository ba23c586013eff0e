package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/broker-flow-ai/regpack/pkg/config"
	"github.com/broker-flow-ai/regpack/pkg/store"
)

// runHistoryCmd implements `regpack history`: the most recent ledger rows.
func runHistoryCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("history", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		dsn        string
		limit      int
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "Path to regpack.yaml")
	cmd.StringVar(&dsn, "db", "", "Run ledger: SQLite path or postgres:// URL")
	cmd.IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if dsn == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		dsn = cfg.Store.DSN
	}
	if dsn == "" || dsn == "-" {
		_, _ = fmt.Fprintln(stderr, "Error: run ledger is disabled (store.dsn)")
		return 2
	}
	if limit <= 0 {
		_, _ = fmt.Fprintln(stderr, "Error: --limit must be positive")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	runs, err := store.Open(ctx, dsn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = runs.Close() }()

	list, err := runs.List(ctx, limit)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		if list == nil {
			list = []*store.Run{}
		}
		data, _ := json.MarshalIndent(list, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN\tPERIOD\tSTATUS\tRULESET\tROWS\tBLOCKING\tVIOLATIONS\tSTARTED")
	for _, r := range list {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.Period, r.Status, r.RulesetVersion, r.Rows, r.Blocking, r.Violations,
			r.StartedAt.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
	return 0
}
