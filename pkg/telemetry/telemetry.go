// Package telemetry records aggregation-path metrics over
// go.opentelemetry.io/otel, generalized from the teacher's
// telemetry.Init()/telemetry.RecordGatewayStart(ctx, transportMode)
// call shape (pkg/gateway/run.go) and withToolTelemetry wrapper
// (pkg/gateway/dynamic_mcps.go) onto the namespace/backend model: one
// meter recording tool calls and list-tools fan-outs per namespace
// rather than per single process-wide gateway.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationName = "github.com/docker/metamcp-gateway/pkg/telemetry"

// Init points the process's global MeterProvider at an OTLP/gRPC
// collector when endpoint is non-empty, mirroring the teacher's
// telemetry.Init() call site in pkg/gateway/run.go (filtered out of the
// retrieved tree, so only the call shape survives, not the
// implementation). An empty endpoint leaves the global no-op provider in
// place and every Recorder method becomes a harmless no-op.
func Init(ctx context.Context, endpoint string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

// Recorder emits counters/histograms for one process's aggregation
// activity. The zero value is safe to use: every instrument falls back
// to the global otel MeterProvider's no-op implementation until Init is
// called with a real one.
type Recorder struct {
	toolCalls     metric.Int64Counter
	toolCallErrs  metric.Int64Counter
	toolCallSecs  metric.Float64Histogram
	listToolCalls metric.Int64Counter
}

// New builds a Recorder against the process's currently configured
// global MeterProvider. Call otel.SetMeterProvider before New if a real
// exporter (e.g. otlpmetricgrpc) is wired; otherwise instruments are
// harmless no-ops.
func New() *Recorder {
	meter := otel.Meter(instrumentationName)

	toolCalls, _ := meter.Int64Counter("metamcp.tool.calls",
		metric.WithDescription("Number of aggregated tools/call dispatches"))
	toolCallErrs, _ := meter.Int64Counter("metamcp.tool.call_errors",
		metric.WithDescription("Number of aggregated tools/call dispatches that returned an error"))
	toolCallSecs, _ := meter.Float64Histogram("metamcp.tool.call_duration_seconds",
		metric.WithDescription("Latency of aggregated tools/call dispatches"))
	listToolCalls, _ := meter.Int64Counter("metamcp.namespace.refreshes",
		metric.WithDescription("Number of namespace tool-set refreshes"))

	return &Recorder{
		toolCalls:     toolCalls,
		toolCallErrs:  toolCallErrs,
		toolCallSecs:  toolCallSecs,
		listToolCalls: listToolCalls,
	}
}

// RecordToolCall records one tools/call dispatch against mangledName on
// namespaceUUID, its outcome, and how long it took.
func (r *Recorder) RecordToolCall(ctx context.Context, namespaceUUID, mangledName string, isError bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("namespace_uuid", namespaceUUID),
		attribute.String("tool", mangledName),
	)
	r.toolCalls.Add(ctx, 1, attrs)
	if isError {
		r.toolCallErrs.Add(ctx, 1, attrs)
	}
	r.toolCallSecs.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordNamespaceRefresh records one namespace tool-set refresh and the
// number of tools it produced.
func (r *Recorder) RecordNamespaceRefresh(ctx context.Context, namespaceUUID string, toolCount int) {
	if r == nil {
		return
	}
	r.listToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("namespace_uuid", namespaceUUID),
		attribute.Int("tool_count", toolCount),
	))
}
