// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires OpenTelemetry tracing and metrics for the
// task-queue core and its collaborators, and correlates trace context into
// structured log lines.
package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer and Meter are the package-wide OpenTelemetry handles used by the
// queue and executor packages.
var (
	Tracer = otel.Tracer("localqueue.hal")
	Meter  = otel.Meter("localqueue.hal")
)

// LoggerWithTrace returns a logger enriched with trace_id/span_id extracted
// from ctx, or logger unchanged if ctx carries no valid span.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// QueueMetrics are the counters/histograms the task queue records. They are
// created only by NewQueueMetrics; a queue constructed with nil Metrics
// records nothing.
type QueueMetrics struct {
	TasksIssued      metric.Int64Counter
	TasksRetired     metric.Int64Counter
	WaitsElided      metric.Int64Counter
	ArenaBytes       metric.Int64Histogram
	OutstandingCount metric.Int64UpDownCounter
}

// NewQueueMetrics initializes QueueMetrics from Meter. Errors from
// individual instrument creation are returned joined; callers that cannot
// tolerate degraded observability may inspect the error, but the queue
// itself treats a nil/partial QueueMetrics as "metrics disabled" rather
// than a fatal condition.
func NewQueueMetrics() (*QueueMetrics, error) {
	var errs []error
	qm := &QueueMetrics{}

	var err error
	qm.TasksIssued, err = Meter.Int64Counter("hal_tasks_issued_total",
		metric.WithDescription("Number of issue tasks that ran"))
	errs = appendIfErr(errs, err)

	qm.TasksRetired, err = Meter.Int64Counter("hal_tasks_retired_total",
		metric.WithDescription("Number of retire tasks that ran"))
	errs = appendIfErr(errs, err)

	qm.WaitsElided, err = Meter.Int64Counter("hal_waits_elided_total",
		metric.WithDescription("Number of enqueue_timepoint calls satisfied immediately"))
	errs = appendIfErr(errs, err)

	qm.ArenaBytes, err = Meter.Int64Histogram("hal_arena_bytes",
		metric.WithDescription("Bytes bump-allocated per submission arena"))
	errs = appendIfErr(errs, err)

	qm.OutstandingCount, err = Meter.Int64UpDownCounter("hal_outstanding_submissions",
		metric.WithDescription("In-flight submissions per queue scope"))
	errs = appendIfErr(errs, err)

	return qm, errors.Join(errs...)
}

func appendIfErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}
