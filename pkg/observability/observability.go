// Package observability wires OpenTelemetry tracing and metrics for the
// validate/commit path. Without an OTLP endpoint everything stays no-op,
// so instrumented call sites never branch on configuration.
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
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "datapact"

// Config configures the provider. An empty Endpoint disables export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string // OTLP gRPC, e.g. "localhost:4317"
	Insecure       bool
}

// Provider owns the trace and metric pipelines plus the domain instruments.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	validations    metric.Int64Counter
	validationDur  metric.Float64Histogram
	commits        metric.Int64Counter
	semanticCalls  metric.Int64Counter
	errorsByKind   metric.Int64Counter
}

// New builds a provider. With no endpoint the global no-op providers are
// used and Shutdown is free.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{
		logger: slog.Default().With("component", "observability"),
	}

	if cfg.Endpoint != "" {
		res, err := resource.Merge(
			resource.Default(),
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName(cfg.ServiceName),
				semconv.ServiceVersion(cfg.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("observability: building resource: %w", err)
		}

		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}

		traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, fmt.Errorf("observability: trace exporter: %w", err)
		}
		metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			return nil, fmt.Errorf("observability: metric exporter: %w", err)
		}

		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExp),
		)
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(15*time.Second))),
		)
		otel.SetTracerProvider(p.tracerProvider)
		otel.SetMeterProvider(p.meterProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		p.logger.Info("telemetry export enabled", "endpoint", cfg.Endpoint)
	}

	p.tracer = otel.Tracer(scope, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = otel.Meter(scope, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("observability: instruments: %w", err)
	}
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error
	p.validations, err = p.meter.Int64Counter("datapact.validations",
		metric.WithDescription("Validation runs, by strategy, status, and degradation"),
		metric.WithUnit("{run}"))
	if err != nil {
		return err
	}
	p.validationDur, err = p.meter.Float64Histogram("datapact.validation.duration",
		metric.WithDescription("Validation run duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	p.commits, err = p.meter.Int64Counter("datapact.commits",
		metric.WithDescription("Committed contract revisions, by change kind"),
		metric.WithUnit("{commit}"))
	if err != nil {
		return err
	}
	p.semanticCalls, err = p.meter.Int64Counter("datapact.semantic.calls",
		metric.WithDescription("Semantic backend calls, by outcome"),
		metric.WithUnit("{call}"))
	if err != nil {
		return err
	}
	p.errorsByKind, err = p.meter.Int64Counter("datapact.errors",
		metric.WithDescription("Operation failures, by error kind"),
		metric.WithUnit("{error}"))
	return err
}

// Shutdown flushes and stops the pipelines.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.Error("trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.Error("metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// RecordValidation counts one finished validation run.
func (p *Provider) RecordValidation(ctx context.Context, strategy, status string, degraded bool, took time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("status", status),
		attribute.Bool("degraded", degraded),
	)
	p.validations.Add(ctx, 1, attrs)
	p.validationDur.Record(ctx, float64(took)/float64(time.Millisecond), attrs)
}

// RecordCommit counts one committed revision by its change kind.
func (p *Provider) RecordCommit(ctx context.Context, changeKind string) {
	p.commits.Add(ctx, 1, metric.WithAttributes(attribute.String("change", changeKind)))
}

// RecordSemanticCall counts one backend call by outcome
// (ok, rejected, failed, rate_limited).
func (p *Provider) RecordSemanticCall(ctx context.Context, outcome string) {
	p.semanticCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordErrorKind counts one operation failure by taxonomy kind.
func (p *Provider) RecordErrorKind(ctx context.Context, kind string) {
	p.errorsByKind.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// TrackOperation opens a span for name and returns the completion callback.
// The callback records the error (if any) and ends the span.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
