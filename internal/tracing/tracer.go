// Package tracing provides OpenTelemetry tracing for stage lifecycle
// operations: provider construction, a JSONL file exporter, attribute keys
// and span helpers.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/TechDevGroup/obs-impl/internal/log"
)

// DefaultServiceName identifies stagectl in exported traces.
const DefaultServiceName = "stagectl"

// Exporter names accepted by Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterFile   = "file"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const defaultOTLPEndpoint = "localhost:4317"

// Config selects where lifecycle spans go. The zero value disables tracing.
type Config struct {
	// Enabled turns tracing on. Default: false, which yields a no-op tracer.
	Enabled bool

	// Exporter is one of none, file, stdout or otlp. Default: file.
	Exporter string

	// FilePath is the JSONL target of the file exporter. Required for file.
	FilePath string

	// OTLPEndpoint is the collector address. Default: localhost:4317.
	OTLPEndpoint string

	// SampleRate is the sampled fraction of root spans. Default: 1.0.
	SampleRate float64

	// ServiceName is the service.name resource. Default: stagectl.
	ServiceName string

	// Exporters receive every span synchronously, in addition to Exporter.
	Exporters []sdktrace.SpanExporter
}

// DefaultConfig returns the documented defaults with tracing off.
func DefaultConfig() Config {
	return Config{
		Exporter:     ExporterFile,
		OTLPEndpoint: defaultOTLPEndpoint,
		SampleRate:   1.0,
		ServiceName:  DefaultServiceName,
	}
}

// Provider owns the SDK tracer provider, or nothing when tracing is off.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Noop returns a disabled provider.
func Noop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer("noop")}
}

// NewProvider builds the provider described by cfg and installs it as the
// global otel provider. A disabled config costs nothing.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}

	opts := []sdktrace.TracerProviderOption{
		// Schemaless so the resource never conflicts with resource.Default.
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	for _, extra := range cfg.Exporters {
		opts = append(opts, sdktrace.WithSyncer(extra))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	log.Info(log.CatTrace, "Tracing enabled", "exporter", cfg.Exporter, "sample_rate", rate)

	return &Provider{provider: tp, tracer: tp.Tracer(name)}, nil
}

// newExporter returns nil for the none exporter: spans are still recorded
// and reach cfg.Exporters.
func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterNone, "":
		return nil, nil
	case ExporterFile:
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file_path required for file exporter")
		}
		exp, err := NewFileExporter(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("create file exporter: %w", err)
		}
		return exp, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		exp, err := otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.Exporter)
	}
}

// Tracer is safe to use whether or not tracing is enabled.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Enabled reports whether spans are recorded.
func (p *Provider) Enabled() bool { return p.provider != nil }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
