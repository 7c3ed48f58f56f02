package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// StartStoreSpan starts a span for asset store calls
func StartStoreSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("Store %s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("store.system", "cloudinary"),
			attribute.String("store.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SyncMetrics holds custom sync pipeline metrics
type SyncMetrics struct {
	syncRuns           metric.Int64Counter
	assetsSynced       metric.Int64Counter
	conflictsDetected  metric.Int64Counter
	cleanupAttempts    metric.Int64Counter
	cleanupDeadLetters metric.Int64Counter
	storeCalls         metric.Int64Counter
	mirrorSize         metric.Int64UpDownCounter
}

// NewSyncMetrics creates sync pipeline metrics instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	syncRuns, err := meter.Int64Counter(
		"mediamirror.sync.runs",
		metric.WithDescription("Total number of reconciliation runs"),
		metric.WithUnit("{runs}"),
	)
	if err != nil {
		return nil, err
	}

	assetsSynced, err := meter.Int64Counter(
		"mediamirror.sync.assets",
		metric.WithDescription("Total number of assets written to the mirror"),
		metric.WithUnit("{assets}"),
	)
	if err != nil {
		return nil, err
	}

	conflictsDetected, err := meter.Int64Counter(
		"mediamirror.sync.conflicts",
		metric.WithDescription("Total number of sync conflicts detected"),
		metric.WithUnit("{conflicts}"),
	)
	if err != nil {
		return nil, err
	}

	cleanupAttempts, err := meter.Int64Counter(
		"mediamirror.cleanup.attempts",
		metric.WithDescription("Total number of cleanup deletion attempts"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, err
	}

	cleanupDeadLetters, err := meter.Int64Counter(
		"mediamirror.cleanup.dead_letters",
		metric.WithDescription("Total number of cleanup items dead-lettered"),
		metric.WithUnit("{items}"),
	)
	if err != nil {
		return nil, err
	}

	storeCalls, err := meter.Int64Counter(
		"mediamirror.store.calls",
		metric.WithDescription("Total number of asset store API calls"),
		metric.WithUnit("{calls}"),
	)
	if err != nil {
		return nil, err
	}

	mirrorSize, err := meter.Int64UpDownCounter(
		"mediamirror.mirror.assets",
		metric.WithDescription("Number of live rows in the mirror"),
		metric.WithUnit("{assets}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncRuns:           syncRuns,
		assetsSynced:       assetsSynced,
		conflictsDetected:  conflictsDetected,
		cleanupAttempts:    cleanupAttempts,
		cleanupDeadLetters: cleanupDeadLetters,
		storeCalls:         storeCalls,
		mirrorSize:         mirrorSize,
	}, nil
}

// RecordSyncRun records one reconciliation run
func (m *SyncMetrics) RecordSyncRun(ctx context.Context, source string, processed, failed int, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("source", source),
		attribute.Bool("success", success),
	}
	m.syncRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.assetsSynced.Add(ctx, int64(processed), metric.WithAttributes(attrs...))
	if failed > 0 {
		m.conflictsDetected.Add(ctx, int64(failed), metric.WithAttributes(attrs...))
	}
}

// RecordConflict records one detected conflict
func (m *SyncMetrics) RecordConflict(ctx context.Context, kind string) {
	m.conflictsDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordCleanupAttempt records one cleanup deletion attempt
func (m *SyncMetrics) RecordCleanupAttempt(ctx context.Context, success, deadLettered bool) {
	m.cleanupAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
	if deadLettered {
		m.cleanupDeadLetters.Add(ctx, 1)
	}
}

// RecordStoreCall records one asset store API call
func (m *SyncMetrics) RecordStoreCall(ctx context.Context, operation string, success bool) {
	m.storeCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("store.operation", operation),
		attribute.Bool("success", success),
	))
}

// AdjustMirrorSize moves the live-row gauge by delta
func (m *SyncMetrics) AdjustMirrorSize(ctx context.Context, delta int64) {
	m.mirrorSize.Add(ctx, delta)
}
