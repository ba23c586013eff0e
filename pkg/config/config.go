// Package config loads the regpack configuration from YAML with
// environment overrides and installs the process logger.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/broker-flow-ai/regpack/pkg/artifacts"
	"github.com/broker-flow-ai/regpack/pkg/dataset"
	"github.com/broker-flow-ai/regpack/pkg/observability"
	"github.com/broker-flow-ai/regpack/pkg/report"
)

// Config is the full run configuration.
type Config struct {
	Logging   LoggingConfig        `yaml:"logging"`
	Dataset   DatasetConfig        `yaml:"dataset"`
	Ruleset   RulesetConfig        `yaml:"ruleset"`
	Engine    EngineConfig         `yaml:"engine"`
	Report    ReportConfig         `yaml:"report"`
	Schema    SchemaConfig         `yaml:"schema"`
	Evidence  EvidenceConfig       `yaml:"evidence"`
	Store     StoreConfig          `yaml:"store"`
	Publish   artifacts.Config     `yaml:"publish"`
	Telemetry observability.Config `yaml:"telemetry"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"
}

type DatasetConfig struct {
	Dir       string            `yaml:"dir"`
	Delimiter string            `yaml:"delimiter"`
	Tables    []string          `yaml:"tables,omitempty"`
	Files     map[string]string `yaml:"files,omitempty"`
}

type RulesetConfig struct {
	Path              string `yaml:"path"`
	VersionConstraint string `yaml:"version_constraint"`
}

type EngineConfig struct {
	Workers int `yaml:"workers"` // 0 = runtime.NumCPU()
}

type ReportConfig struct {
	OutDir       string              `yaml:"out_dir"`
	Intermediary report.Intermediary `yaml:"intermediary"`
	Columns      report.Columns      `yaml:"columns"`
}

type SchemaConfig struct {
	Path string `yaml:"path"`
}

type EvidenceConfig struct {
	SigningKey string `yaml:"signing_key"` // hex Ed25519 seed file
	Pack       bool   `yaml:"pack"`
}

type StoreConfig struct {
	DSN string `yaml:"dsn"` // sqlite path or postgres:// URL; "-" disables the ledger
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "INFO", Format: "json"},
		Dataset:   DatasetConfig{Dir: "data", Delimiter: "auto"},
		Ruleset:   RulesetConfig{Path: "rules/ruleset.yaml"},
		Report:    ReportConfig{OutDir: "out", Columns: report.DefaultColumns},
		Store:     StoreConfig{DSN: "regpack.db"},
		Telemetry: observability.DefaultConfig(),
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: load %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillColumns()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("REGPACK_LOG_LEVEL", &c.Logging.Level)
	setString("REGPACK_LOG_FORMAT", &c.Logging.Format)
	setString("REGPACK_DATA_DIR", &c.Dataset.Dir)
	setString("REGPACK_OUT_DIR", &c.Report.OutDir)
	setString("REGPACK_RULESET", &c.Ruleset.Path)
	setString("REGPACK_DB", &c.Store.DSN)
	setString("REGPACK_SIGNING_KEY", &c.Evidence.SigningKey)

	if v := os.Getenv("REGPACK_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: REGPACK_WORKERS: %w", err)
		}
		c.Engine.Workers = n
	}
	if v := os.Getenv("REGPACK_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	return nil
}

// Partially specified column maps keep the defaults for missing entries.
func (c *Config) fillColumns() {
	cols := &c.Report.Columns
	if cols.Premiums == "" {
		cols.Premiums = report.DefaultColumns.Premiums
	}
	if cols.ClaimsPaid == "" {
		cols.ClaimsPaid = report.DefaultColumns.ClaimsPaid
	}
	if cols.FinalReserve == "" {
		cols.FinalReserve = report.DefaultColumns.FinalReserve
	}
}

// Validate rejects settings no run could honour.
func (c *Config) Validate() error {
	if c.Engine.Workers < 0 {
		return fmt.Errorf("config: engine.workers must be >= 0, got %d", c.Engine.Workers)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: unknown logging.format %q", c.Logging.Format)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := dataset.ParseDelimiter(c.Dataset.Delimiter); err != nil {
		return fmt.Errorf("config: dataset.delimiter: %w", err)
	}
	if err := c.Publish.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("config: telemetry.sample_rate must be within [0,1]")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("config: unknown logging.level %q", s)
	}
	return lvl, nil
}

// InitLogger installs a stderr slog handler as the default logger.
func InitLogger(format, level string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}
