// Package telemetry installs the OpenTelemetry tracer provider that receives
// the spans emitted by the pipeline and the HTTP service.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"

	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

// ServiceName identifies this service in exported spans.
const ServiceName = "procurewatch"

// Exporters accepted by Setup.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config selects the trace exporter.
type Config struct {
	// Exporter is "none" or "stdout".
	Exporter    string  `yaml:"exporter" envconfig:"EXPORTER" default:"none"`
	SampleRatio float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1"`
}

// Validate checks the exporter name and sample ratio.
func (c Config) Validate() error {
	switch c.Exporter {
	case ExporterNone, ExporterStdout:
	default:
		return fmt.Errorf("%w: unsupported trace exporter %q", riskerr.ErrConfig, c.Exporter)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("%w: trace sample ratio must be in [0,1], got %v", riskerr.ErrConfig, c.SampleRatio)
	}
	return nil
}

// Setup installs a global tracer provider exporting to w and returns the
// function that flushes and stops it. With the "none" exporter the global
// no-op provider is left in place.
func Setup(cfg Config, w io.Writer, logger *slog.Logger) (func(context.Context) error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Exporter == ExporterNone {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized", "exporter", cfg.Exporter, "sample_ratio", cfg.SampleRatio)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("tracer provider shutdown: %w", err)
		}
		return nil
	}, nil
}
