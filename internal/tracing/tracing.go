// Package tracing sets up OpenTelemetry spans for the pipeline steps
// (discovery, scrape, chunk, llm), exported over OTLP/gRPC. The job's
// total time is recorded as a step timing and metric, not as a span.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "companyprofiler/pipeline"

// Init configures the global tracer provider to export spans to the
// given OTLP/gRPC collector endpoint. Returns a shutdown func to flush
// on process exit. If endpoint is empty, tracing is a no-op.
func Init(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("tracing: building otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("companyprofiler-worker"),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StepSpan starts a span for one pipeline step, tagged with the job's
// company and job IDs, mirroring the monotonic step timings spec.md
// requires (discovery|scrape|chunk|llm|total).
func StepSpan(ctx context.Context, step, jobID, companyID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, step, trace.WithAttributes(
		attribute.String("step", step),
		attribute.String("job_id", jobID),
		attribute.String("company_id", companyID),
	))
}

// Timed runs fn within a step span and returns how long it took,
// recording the duration as a span attribute in addition to the span's
// own start/end timestamps.
func Timed(ctx context.Context, step, jobID, companyID string, fn func(context.Context) error) (time.Duration, error) {
	ctx, span := StepSpan(ctx, step, jobID, companyID)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Float64("duration_seconds", elapsed.Seconds()))
	if err != nil {
		span.RecordError(err)
	}
	return elapsed, err
}
