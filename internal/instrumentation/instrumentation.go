// Package instrumentation wires OpenTelemetry metrics and traces for the
// authorization server. Metrics are exposed for Prometheus, spans are exported
// over OTLP/HTTP. Whatever is disabled is a no-op.
package instrumentation

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scopePrefix = "github.com/dgellow/mcp-workers/"

// Config holds instrumentation configuration
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Enabled switches the meter provider from no-op to the SDK with a Prometheus reader.
	Enabled bool

	Tracing TracingConfig
}

// TracingConfig controls span export.
type TracingConfig struct {
	// Enabled exports spans over OTLP/HTTP.
	Enabled bool
	// Endpoint is the full traces URL, e.g. http://collector:4318/v1/traces.
	// Empty falls back to the OTEL_EXPORTER_OTLP_* variables.
	Endpoint string

	// Processor receives spans in addition to the exporter. Tests use it
	// to record spans; setting it alone turns the tracer provider on.
	Processor sdktrace.SpanProcessor
}

func (c TracingConfig) active() bool {
	return c.Enabled || c.Processor != nil
}

// Instrumentation owns the meter and tracer providers.
type Instrumentation struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	registry       *prometheus.Registry
	metrics        *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates the providers described by cfg.
func New(ctx context.Context, cfg Config) (*Instrumentation, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mcp-workers"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}

	inst := &Instrumentation{
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	if cfg.Enabled || cfg.Tracing.active() {
		if err := inst.initSDK(ctx, cfg); err != nil {
			_ = inst.Shutdown(ctx)
			return nil, err
		}
	}

	m, err := newMetrics(inst.Meter("oauth"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	inst.metrics = m
	return inst, nil
}

// NewNoop returns disabled instrumentation, for tests and tools.
func NewNoop() *Instrumentation {
	inst, err := New(context.Background(), Config{})
	if err != nil {
		// no-op instruments cannot fail to register
		panic(err)
	}
	return inst
}

func (i *Instrumentation) initSDK(ctx context.Context, cfg Config) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	if cfg.Enabled {
		i.registry = prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(i.registry))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		i.meterProvider = mp
		i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)
	}

	if cfg.Tracing.active() {
		opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
		if cfg.Tracing.Enabled {
			var exporterOpts []otlptracehttp.Option
			if cfg.Tracing.Endpoint != "" {
				exporterOpts = append(exporterOpts, otlptracehttp.WithEndpointURL(cfg.Tracing.Endpoint))
			}
			exporter, err := otlptracehttp.New(ctx, exporterOpts...)
			if err != nil {
				return fmt.Errorf("failed to create trace exporter: %w", err)
			}
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}
		if cfg.Tracing.Processor != nil {
			opts = append(opts, sdktrace.WithSpanProcessor(cfg.Tracing.Processor))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		i.tracerProvider = tp
		i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)
	}
	return nil
}

// Meter returns a meter named after the given scope.
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a tracer named after the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metric instruments.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// Handler serves the Prometheus exposition, or 404 when disabled.
func (i *Instrumentation) Handler() http.Handler {
	if i.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the SDK providers. Safe to call more than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}
