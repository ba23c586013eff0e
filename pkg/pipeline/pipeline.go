// Package pipeline runs one reporting period end to end: load, evaluate,
// gate, report, evidence. It is the only place that touches the output
// directory, the run ledger and the artifact store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/broker-flow-ai/regpack/pkg/artifacts"
	"github.com/broker-flow-ai/regpack/pkg/config"
	"github.com/broker-flow-ai/regpack/pkg/dataset"
	"github.com/broker-flow-ai/regpack/pkg/engine"
	"github.com/broker-flow-ai/regpack/pkg/evidence"
	"github.com/broker-flow-ai/regpack/pkg/observability"
	"github.com/broker-flow-ai/regpack/pkg/report"
	"github.com/broker-flow-ai/regpack/pkg/ruleset"
	"github.com/broker-flow-ai/regpack/pkg/schema"
	"github.com/broker-flow-ai/regpack/pkg/store"
)

// ErrBlocked is returned with a valid Result when at least one BLOCKING
// violation stopped report generation.
var ErrBlocked = errors.New("pipeline: blocked by BLOCKING violations")

// Result describes a finished run.
type Result struct {
	RunID          string
	Period         string
	RulesetVersion string
	Status         store.Status
	Decision       report.Decision
	Engine         *engine.Result
	Document       *report.Document // nil when blocked
	Schema         *schema.Advisory // nil when blocked
	Outputs        []string         // produced files, in manifest order
	ManifestPath   string
	ManifestDigest string
	SignaturePath  string
	PackPath       string
	PublishedIndex string
}

// Options wires optional collaborators. Nil fields are built from the config.
type Options struct {
	Logger    *slog.Logger
	Telemetry *observability.Provider
	Runs      store.RunStore
	Publisher artifacts.Store
}

// Pipeline is configured once and may run several periods.
type Pipeline struct {
	cfg       *config.Config
	base      *slog.Logger
	logger    *slog.Logger
	telemetry *observability.Provider
	runs      store.RunStore
	publisher artifacts.Store
	now       func() time.Time
}

// New validates cfg and returns a Pipeline.
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tel := opts.Telemetry
	if tel == nil {
		var err error
		if tel, err = observability.New(context.Background(), observability.Config{}); err != nil {
			return nil, fmt.Errorf("pipeline: telemetry: %w", err)
		}
	}
	return &Pipeline{
		cfg:       cfg,
		base:      logger,
		logger:    logger.With("component", "pipeline"),
		telemetry: tel,
		runs:      opts.Runs,
		publisher: opts.Publisher,
		now:       time.Now,
	}, nil
}

// producedFiles are owned by the pipeline and cleared before each run so a
// blocked run never leaves an older report behind.
var producedFiles = []string{
	report.ViolationsFile,
	report.WarningsFile,
	report.ReportFile,
	schema.ValidationFile,
	evidence.ManifestFile,
	evidence.SignatureFile,
	evidence.PackFile,
}

// Run executes the pipeline for period. ParseError and LoadError abort
// before anything is written. ErrBlocked comes with a complete Result.
func (p *Pipeline) Run(ctx context.Context, period string) (*Result, error) {
	if period == "" {
		return nil, errors.New("pipeline: period is required")
	}
	started := p.now()
	res := &Result{RunID: uuid.NewString(), Period: period}
	logger := p.logger.With("run_id", res.RunID, "period", period)
	logger.InfoContext(ctx, "run started")

	err := p.run(ctx, res, logger)
	switch {
	case errors.Is(err, ErrBlocked):
		res.Status = store.StatusBlocked
	case err != nil:
		res.Status = store.StatusFailed
	default:
		res.Status = store.StatusCompleted
	}

	p.record(ctx, res, started, err, logger)
	rows := 0
	if res.Engine != nil {
		rows = res.Engine.Rows
	}
	p.telemetry.RecordRun(ctx, string(res.Status), rows, res.Decision.BlockingCount, res.Decision.WarnCount)

	if err != nil && !errors.Is(err, ErrBlocked) {
		logger.ErrorContext(ctx, "run failed", "error", err)
		return nil, err
	}
	logger.InfoContext(ctx, "run finished",
		"status", res.Status,
		"blocking", res.Decision.BlockingCount,
		"warnings", res.Decision.WarnCount,
		"manifest_digest", res.ManifestDigest,
	)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, res *Result, logger *slog.Logger) error {
	cfg := p.cfg

	// Load
	stageCtx, done := p.telemetry.TrackStage(ctx, "load")
	rs, ds, err := p.load()
	done(err)
	if err != nil {
		return err
	}
	res.RulesetVersion = rs.Version
	logger.InfoContext(stageCtx, "inputs loaded",
		"rules", rs.Len(),
		"tables", len(ds.Tables),
		"rows", ds.RowCount(),
		"ruleset_version", rs.Version,
	)

	// Evaluate
	stageCtx, done = p.telemetry.TrackStage(ctx, "evaluate")
	compiled := engine.Compile(rs)
	eng := engine.New(compiled, engine.Options{Workers: cfg.Engine.Workers, Logger: p.base.With("run_id", res.RunID)})
	out, err := eng.Run(stageCtx, ds, dataset.NewContext(res.Period, ds))
	done(err)
	if err != nil {
		return fmt.Errorf("pipeline: evaluate: %w", err)
	}
	res.Engine = out
	res.Decision = report.Gate(out.Violations)
	logger.InfoContext(stageCtx, "rules evaluated",
		"rows", out.Rows,
		"violations", len(out.Violations),
		"blocking", res.Decision.BlockingCount,
		"diagnostics", len(out.Diagnostics),
		"duration", out.Duration,
	)

	// Report
	stageCtx, done = p.telemetry.TrackStage(ctx, "report")
	err = p.writeOutputs(res, ds)
	done(err)
	if err != nil {
		return err
	}
	if res.Schema != nil && !res.Schema.Valid() {
		logger.WarnContext(stageCtx, "schema advisory", "status", res.Schema.Status, "errors", len(res.Schema.Errors))
	}

	// Evidence
	stageCtx, done = p.telemetry.TrackStage(ctx, "evidence")
	inputs := append(ds.Files(), cfg.Ruleset.Path)
	err = p.writeEvidence(res, inputs)
	done(err)
	if err != nil {
		return err
	}

	p.publish(stageCtx, res, logger)

	if res.Decision.Blocked {
		return ErrBlocked
	}
	return nil
}

func (p *Pipeline) load() (*ruleset.Ruleset, *dataset.Dataset, error) {
	cfg := p.cfg
	rs, err := ruleset.LoadFile(cfg.Ruleset.Path)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Ruleset.VersionConstraint != "" {
		if err := ruleset.CheckVersion(rs.Version, cfg.Ruleset.VersionConstraint); err != nil {
			return nil, nil, err
		}
	}
	ds, err := dataset.Load(dataset.Options{
		Dir:       cfg.Dataset.Dir,
		Delimiter: cfg.Dataset.Delimiter,
		Tables:    cfg.Dataset.Tables,
		Files:     cfg.Dataset.Files,
	})
	if err != nil {
		return nil, nil, err
	}
	return rs, ds, nil
}

func (p *Pipeline) writeOutputs(res *Result, ds *dataset.Dataset) error {
	outDir := p.cfg.Report.OutDir
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("pipeline: create out dir: %w", err)
	}
	for _, name := range producedFiles {
		if err := os.Remove(filepath.Join(outDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("pipeline: clear %s: %w", name, err)
		}
	}

	vs := res.Engine.Violations
	if res.Decision.Blocked {
		path, err := report.WriteJSON(outDir, report.ViolationsFile, report.NewViolationsReport(res.Period, res.RulesetVersion, vs))
		if err != nil {
			return err
		}
		res.Outputs = append(res.Outputs, path)
		return nil
	}

	if res.Decision.WarnCount > 0 {
		path, err := report.WriteJSON(outDir, report.WarningsFile, report.NewViolationsReport(res.Period, res.RulesetVersion, vs))
		if err != nil {
			return err
		}
		res.Outputs = append(res.Outputs, path)
	}

	doc := report.Build(ds, report.Options{
		Period:         res.Period,
		RulesetVersion: res.RulesetVersion,
		Intermediary:   p.cfg.Report.Intermediary,
		Columns:        p.cfg.Report.Columns,
	})
	reportPath, err := report.WriteJSON(outDir, report.ReportFile, doc)
	if err != nil {
		return err
	}
	res.Document = doc
	res.Outputs = append(res.Outputs, reportPath)

	body, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("pipeline: reread report: %w", err)
	}
	adv := schema.Validate(p.cfg.Schema.Path, body)
	advPath, err := report.WriteJSON(outDir, schema.ValidationFile, adv)
	if err != nil {
		return err
	}
	res.Schema = &adv
	res.Outputs = append(res.Outputs, advPath)
	return nil
}

func (p *Pipeline) writeEvidence(res *Result, inputs []string) error {
	cfg := p.cfg
	outDir := cfg.Report.OutDir

	files := append(append([]string{}, inputs...), res.Outputs...)
	if res.Schema != nil && cfg.Schema.Path != "" {
		if _, err := os.Stat(cfg.Schema.Path); err == nil {
			files = append(files, cfg.Schema.Path)
		}
	}
	m, err := evidence.BuildManifest(files...)
	if err != nil {
		return err
	}
	if res.ManifestPath, err = m.Write(outDir); err != nil {
		return err
	}
	res.ManifestDigest = m.Digest()
	extra := map[string][]byte{evidence.ManifestFile: m.Bytes()}

	if cfg.Evidence.SigningKey != "" {
		signer, err := evidence.LoadSigner(cfg.Evidence.SigningKey)
		if err != nil {
			return err
		}
		if res.SignaturePath, err = evidence.WriteSignature(outDir, m.Bytes(), signer); err != nil {
			return err
		}
		sig, err := os.ReadFile(res.SignaturePath)
		if err != nil {
			return fmt.Errorf("pipeline: reread signature: %w", err)
		}
		extra[evidence.SignatureFile] = sig
	}

	if cfg.Evidence.Pack {
		path := filepath.Join(outDir, evidence.PackFile)
		status := store.StatusCompleted
		if res.Decision.Blocked {
			status = store.StatusBlocked
		}
		info := evidence.PackInfo{Period: res.Period, RulesetVersion: res.RulesetVersion, Status: string(status)}
		if err := evidence.ExportPack(path, m, extra, info); err != nil {
			return err
		}
		res.PackPath = path
	}
	return nil
}

// publish pushes the evidence set to the artifact store. Failures are logged.
func (p *Pipeline) publish(ctx context.Context, res *Result, logger *slog.Logger) {
	st := p.publisher
	if st == nil {
		if !p.cfg.Publish.Enabled() {
			return
		}
		var err error
		if st, err = artifacts.New(ctx, p.cfg.Publish); err != nil {
			logger.WarnContext(ctx, "artifact store unavailable", "error", err)
			return
		}
		if c, ok := st.(interface{ Close() error }); ok {
			defer func() { _ = c.Close() }()
		}
	}

	paths := append([]string{}, res.Outputs...)
	for _, extra := range []string{res.ManifestPath, res.SignaturePath, res.PackPath} {
		if extra != "" {
			paths = append(paths, extra)
		}
	}
	digest, idx, err := artifacts.Publish(ctx, st, res.RunID, paths)
	if err != nil {
		logger.WarnContext(ctx, "publication failed", "error", err)
		return
	}
	res.PublishedIndex = digest
	logger.InfoContext(ctx, "evidence published", "index", digest, "files", len(idx.Files))
}

// record writes the ledger row. Failures are logged.
func (p *Pipeline) record(ctx context.Context, res *Result, started time.Time, runErr error, logger *slog.Logger) {
	runs := p.runs
	if runs == nil {
		dsn := p.cfg.Store.DSN
		if dsn == "" || dsn == "-" {
			return
		}
		var err error
		if runs, err = store.Open(ctx, dsn); err != nil {
			logger.WarnContext(ctx, "run ledger unavailable", "error", err)
			return
		}
		defer func() { _ = runs.Close() }()
	}

	run := &store.Run{
		ID:             res.RunID,
		Period:         res.Period,
		RulesetVersion: res.RulesetVersion,
		Status:         res.Status,
		Blocking:       res.Decision.BlockingCount,
		ManifestDigest: res.ManifestDigest,
		PublishedIndex: res.PublishedIndex,
		StartedAt:      started,
		FinishedAt:     p.now(),
	}
	if res.Engine != nil {
		run.Rows = res.Engine.Rows
		run.Violations = len(res.Engine.Violations)
	}
	if runErr != nil && !errors.Is(runErr, ErrBlocked) {
		run.Error = runErr.Error()
	}
	if err := runs.Record(ctx, run); err != nil {
		logger.WarnContext(ctx, "run not recorded", "error", err)
	}
}
