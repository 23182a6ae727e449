// Package telemetry wires OpenTelemetry tracing and metrics.
//
// Telemetry is off unless otel.enabled is set. When off, no-op providers are
// installed. When on, spans and metrics are written to stdout.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "govreview/api"

type Options struct {
	Enabled bool
	Stdout  bool
}

// Providers holds the shutdown hooks of the installed providers.
type Providers struct {
	shutdownFns []func(context.Context) error
}

// Init installs global providers. The returned Providers must be shut down
// on exit to flush buffered spans.
func Init(ctx context.Context, serviceName, version string, opts Options) (*Providers, error) {
	providers := &Providers{}
	if !opts.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return providers, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if opts.Stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)
	providers.shutdownFns = append(providers.shutdownFns, tp.Shutdown)

	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if opts.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)),
		))
	}
	mp := sdkmetric.NewMeterProvider(metricOpts...)
	otel.SetMeterProvider(mp)
	providers.shutdownFns = append(providers.shutdownFns, mp.Shutdown)

	return providers, nil
}

// Shutdown flushes and stops every provider installed by Init.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var firstErr error
	for _, fn := range p.shutdownFns {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.shutdownFns = nil
	return firstErr
}

func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationScope)
}

func Meter() metric.Meter {
	return otel.Meter(instrumentationScope)
}

// ActionMetrics counts submitted actions by type and outcome.
type ActionMetrics struct {
	submitted metric.Int64Counter
	duration  metric.Float64Histogram
}

func NewActionMetrics(meter metric.Meter) (*ActionMetrics, error) {
	submitted, err := meter.Int64Counter("govreview.actions.submitted",
		metric.WithDescription("GRT actions submitted, by type and outcome"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: actions counter: %w", err)
	}
	duration, err := meter.Float64Histogram("govreview.actions.duration",
		metric.WithDescription("Action submission latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: actions histogram: %w", err)
	}
	return &ActionMetrics{submitted: submitted, duration: duration}, nil
}

func (m *ActionMetrics) Record(ctx context.Context, actionType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action.type", actionType),
		attribute.String("action.outcome", outcome),
	)
	m.submitted.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}
