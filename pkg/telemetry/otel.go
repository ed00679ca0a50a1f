// Package telemetry wires the OpenTelemetry providers and holds the
// process-wide trading metrics.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	tracetype "go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the three providers so shutdown can flush them together
type Telemetry struct {
	traces  *trace.TracerProvider
	meters  *sdkmetric.MeterProvider
	loggers *sdklog.LoggerProvider
}

// Setup installs the global tracer, meter and logger providers. Metrics go
// to the Prometheus registry scraped by the metrics server; traces and OTel
// logs go to stdout. Call Shutdown before process exit.
func Setup(serviceName string) (*Telemetry, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tp, err := newTracerProvider(res)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	mp, err := newMeterProvider(res)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(mp)

	if err := GetGlobalMetrics().InitMetrics(mp.Meter(serviceName)); err != nil {
		return nil, fmt.Errorf("register trading instruments: %w", err)
	}

	lp, err := newLoggerProvider(res)
	if err != nil {
		return nil, err
	}
	global.SetLoggerProvider(lp)

	return &Telemetry{traces: tp, meters: mp, loggers: lp}, nil
}

func newTracerProvider(res *resource.Resource) (*trace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	), nil
}

func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	reader, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("prometheus reader: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	), nil
}

func newLoggerProvider(res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exporter, err := stdoutlog.New(stdoutlog.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("log exporter: %w", err)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	), nil
}

// Shutdown flushes pending spans, metrics and log records
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.traces.Shutdown(ctx),
		t.meters.Shutdown(ctx),
		t.loggers.Shutdown(ctx),
	)
}

// GetTracer returns a tracer from the installed global provider
func GetTracer(name string) tracetype.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// GetMeter returns a meter from the installed global provider
func GetMeter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}
