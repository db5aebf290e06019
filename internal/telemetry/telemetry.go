// Package telemetry sets up OpenTelemetry tracing and metrics for a run.
package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
)

var (
	// ErrNilContext is returned when Init is called without a context.
	ErrNilContext = errors.New("telemetry: nil context")
	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Config controls telemetry behavior.
type Config struct {
	// ServiceName identifies this process in traces and metrics.
	ServiceName    string
	ServiceVersion string

	// Traces selects the trace exporter: "stdout" or "none".
	Traces string
	// Metrics selects the metric exporter: "stdout", "prometheus" or "none".
	Metrics string
	// MetricsFile receives a Prometheus text-format dump on shutdown when
	// the prometheus exporter is used.
	MetricsFile string

	// Writer receives stdout exporter output; nil means os.Stdout.
	Writer io.Writer
}

// DefaultConfig returns a configuration with both exporters disabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "cfgds",
		ServiceVersion: "dev",
		Traces:         ExporterNone,
		Metrics:        ExporterNone,
	}
}

// Telemetry owns the providers installed by Init.
type Telemetry struct {
	cfg           Config
	registry      *prometheus.Registry
	shutdownFuncs []func(context.Context) error
}

// Init installs the configured tracer and meter providers as the otel
// globals. Shutdown must be called on exit to flush them.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	t := &Telemetry{cfg: cfg}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	switch cfg.Traces {
	case "", ExporterNone:
	case ExporterStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		tp := trace.NewTracerProvider(
			trace.WithBatcher(exporter),
			trace.WithResource(res),
			trace.WithSampler(trace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		t.shutdownFuncs = append(t.shutdownFuncs, tp.Shutdown)
	default:
		return nil, fmt.Errorf("%w: traces %s", ErrUnknownExporter, cfg.Traces)
	}

	var reader metric.Reader
	switch cfg.Metrics {
	case "", ExporterNone:
	case ExporterStdout:
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		reader = metric.NewPeriodicReader(exporter)
	case ExporterPrometheus:
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(collectors.NewGoCollector())
		exporter, err := promexporter.New(promexporter.WithRegisterer(t.registry))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		reader = exporter
	default:
		return nil, fmt.Errorf("%w: metrics %s", ErrUnknownExporter, cfg.Metrics)
	}
	if reader != nil {
		mp := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))
		otel.SetMeterProvider(mp)
		t.shutdownFuncs = append(t.shutdownFuncs, mp.Shutdown)
	}

	return t, nil
}

// Registry returns the Prometheus registry, or nil unless the prometheus
// exporter is in use.
func (t *Telemetry) Registry() *prometheus.Registry { return t.registry }

// WriteMetrics writes the current metrics in Prometheus text format.
func (t *Telemetry) WriteMetrics(w io.Writer) error {
	if t.registry == nil {
		return fmt.Errorf("telemetry: prometheus exporter is not enabled")
	}
	families, err := t.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Shutdown dumps metrics to MetricsFile if configured and flushes every
// provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.cfg.MetricsFile != "" && t.registry != nil {
		if err := t.dump(t.cfg.MetricsFile); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range t.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdownFuncs = nil
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func (t *Telemetry) dump(path string) error {
	var buf bytes.Buffer
	if err := t.WriteMetrics(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write metrics file %s: %w", path, err)
	}
	return nil
}
