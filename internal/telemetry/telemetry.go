// Package telemetry provides OpenTelemetry tracing and metrics for the gateway.
// When disabled, every instrument is a no-op.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/crewdeck/crewdeck-gateway/internal/config"
)

const (
	// ScopeName is the instrumentation scope for traces and metrics.
	ScopeName          = "crewdeck"
	defaultServiceName = "crewdeck-gateway"
)

// Provider wraps the tracer and meter providers with cleanup.
type Provider struct {
	Tracer  trace.Tracer
	Meter   metric.Meter
	Metrics *Metrics

	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	shutdown func(context.Context) error
}

// Init sets up OpenTelemetry from cfg. The returned Provider must be shut down on exit.
func Init(ctx context.Context, cfg config.TelemetryConfig, version string) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	reader, err := createMetricReader(ctx, cfg)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("create metric reader: %w", err)
	}

	p, err := New(res, exporter, reader, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	return p, nil
}

// New builds a Provider whose metrics are collected by reader. Spans go to
// exporter when it is non-nil and are dropped otherwise.
func New(res *resource.Resource, exporter sdktrace.SpanExporter, reader sdkmetric.Reader, sampleRate float64) (*Provider, error) {
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	if res == nil {
		res = resource.Default()
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	meter := mp.Meter(ScopeName)
	metrics, err := NewMetrics(meter)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	return &Provider{
		Tracer:  tp.Tracer(ScopeName),
		Meter:   meter,
		Metrics: metrics,
		tp:      tp,
		mp:      mp,
		shutdown: func(ctx context.Context) error {
			return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
		},
	}, nil
}

// Noop returns a provider whose tracer and instruments discard everything.
func Noop() *Provider {
	meter := noop.NewMeterProvider().Meter(ScopeName)
	// Noop instruments never fail to construct
	metrics, _ := NewMetrics(meter)
	return &Provider{
		Tracer:   nooptrace.NewTracerProvider().Tracer(ScopeName),
		Meter:    meter,
		Metrics:  metrics,
		shutdown: func(context.Context) error { return nil },
	}
}

// Shutdown flushes and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

func createExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp-http", "":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		return discardExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown exporter: %s (supported: otlp-http, stdout, none)", cfg.Exporter)
	}
}

// createMetricReader pairs the metric exporter with the span exporter choice.
// exporter=none keeps a manual reader so instruments stay live but nothing
// leaves the process.
func createMetricReader(ctx context.Context, cfg config.TelemetryConfig) (sdkmetric.Reader, error) {
	switch cfg.Exporter {
	case "otlp-http", "":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	case "none":
		return sdkmetric.NewManualReader(), nil
	default:
		return nil, fmt.Errorf("unknown exporter: %s (supported: otlp-http, stdout, none)", cfg.Exporter)
	}
}

// discardExporter drops all spans. Used for exporter=none.
type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (discardExporter) Shutdown(context.Context) error                             { return nil }

// Span attribute keys.
var (
	AttrAgentID     = attribute.Key("crewdeck.agent.id")
	AttrExecutionID = attribute.Key("crewdeck.execution.id")
	AttrModel       = attribute.Key("crewdeck.llm.model")
	AttrStatus      = attribute.Key("crewdeck.execution.status")
)

// StartSpan starts an internal span with the given attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
