// Package observability wires OpenTelemetry tracing and metrics for a
// pipeline run. Every pipeline stage becomes a span; run outcomes, row
// throughput and violations are exported as counters.
//
// When disabled, the Provider falls back to the global no-op tracer and
// meter so callers never need nil checks.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/broker-flow-ai/regpack"

// Config configures the OpenTelemetry providers.
type Config struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint"` // OTLP gRPC, e.g. localhost:4317
	Insecure       bool    `yaml:"insecure"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"-"`
	SampleRate     float64 `yaml:"sample_rate"`
}

// DefaultConfig leaves telemetry off.
func DefaultConfig() Config {
	return Config{
		Endpoint:    "localhost:4317",
		ServiceName: "regpack",
		SampleRate:  1.0,
	}
}

// Provider owns the trace and metric providers of one process.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	runCounter       metric.Int64Counter
	rowCounter       metric.Int64Counter
	violationCounter metric.Int64Counter
	stageDuration    metric.Float64Histogram
	stageErrors      metric.Int64Counter
}

// New creates a provider. A disabled config yields a no-op provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{
		config: cfg,
		logger: slog.Default().With("component", "observability"),
	}
	if !cfg.Enabled {
		p.tracer = otel.Tracer(instrumentationName)
		p.meter = otel.Meter(instrumentationName)
		if err := p.initMetrics(); err != nil {
			return nil, err
		}
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}
	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init metric provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = p.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", cfg.ServiceName,
		"endpoint", cfg.Endpoint,
		"sample_rate", cfg.SampleRate,
		"insecure", cfg.Insecure,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.Endpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.Endpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}
	// A batch run is short-lived; Shutdown flushes the final collection.
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error
	if p.runCounter, err = p.meter.Int64Counter("regpack.runs.total",
		metric.WithDescription("Pipeline runs by terminal status"),
		metric.WithUnit("{run}")); err != nil {
		return err
	}
	if p.rowCounter, err = p.meter.Int64Counter("regpack.rows.evaluated",
		metric.WithDescription("Rows evaluated by the rule engine"),
		metric.WithUnit("{row}")); err != nil {
		return err
	}
	if p.violationCounter, err = p.meter.Int64Counter("regpack.violations.total",
		metric.WithDescription("Rule violations by severity"),
		metric.WithUnit("{violation}")); err != nil {
		return err
	}
	if p.stageErrors, err = p.meter.Int64Counter("regpack.stage.errors",
		metric.WithDescription("Failed pipeline stages"),
		metric.WithUnit("{error}")); err != nil {
		return err
	}
	p.stageDuration, err = p.meter.Float64Histogram("regpack.stage.duration",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120))
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// TrackStage opens a span for a pipeline stage. The returned function ends
// it and records duration and failure.
func (p *Provider) TrackStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append(attrs, attribute.String("regpack.stage", stage))
	ctx, span := p.tracer.Start(ctx, "regpack."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		opt := metric.WithAttributes(attrs...)
		p.stageDuration.Record(ctx, time.Since(start).Seconds(), opt)
		if err != nil {
			span.RecordError(err)
			p.stageErrors.Add(ctx, 1, opt)
		}
		span.End()
	}
}

// RecordRun counts a finished run and its evaluation volume.
func (p *Provider) RecordRun(ctx context.Context, status string, rows, blocking, warn int) {
	p.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("regpack.status", status)))
	p.rowCounter.Add(ctx, int64(rows))
	p.violationCounter.Add(ctx, int64(blocking), metric.WithAttributes(attribute.String("regpack.severity", "BLOCKING")))
	p.violationCounter.Add(ctx, int64(warn), metric.WithAttributes(attribute.String("regpack.severity", "WARN")))
}
