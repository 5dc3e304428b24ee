// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("kgexplore.pipeline")
	meter  = otel.Meter("kgexplore.pipeline")
)

// schedulerMetrics holds the scheduler instruments. Shared by a processor
// and every pipeline it creates.
type schedulerMetrics struct {
	once sync.Once

	pipelinesCreated metric.Int64Counter
	dispatched       metric.Int64Counter
	failures         metric.Int64Counter
	duration         metric.Float64Histogram
	active           metric.Int64UpDownCounter
}

// init lazily creates the instruments. Creation errors are logged once and
// leave the affected instrument nil.
func (m *schedulerMetrics) init(logger *slog.Logger) {
	m.once.Do(func() {
		var initErrors []string
		var err error

		m.pipelinesCreated, err = meter.Int64Counter("kgexplore_pipelines_created_total",
			metric.WithDescription("Number of analysis pipelines created, one per run id"),
		)
		if err != nil {
			initErrors = append(initErrors, "pipelines_created: "+err.Error())
		}

		m.dispatched, err = meter.Int64Counter("kgexplore_analysis_dispatched_total",
			metric.WithDescription("Number of analyses submitted to the worker pool"),
		)
		if err != nil {
			initErrors = append(initErrors, "dispatched: "+err.Error())
		}

		m.failures, err = meter.Int64Counter("kgexplore_analysis_failures_total",
			metric.WithDescription("Number of analyses whose compute returned an error"),
		)
		if err != nil {
			initErrors = append(initErrors, "failures: "+err.Error())
		}

		m.duration, err = meter.Float64Histogram("kgexplore_analysis_duration_seconds",
			metric.WithDescription("Time spent in analysis compute"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "duration: "+err.Error())
		}

		m.active, err = meter.Int64UpDownCounter("kgexplore_analysis_active",
			metric.WithDescription("Number of analyses currently computing"),
		)
		if err != nil {
			initErrors = append(initErrors, "active: "+err.Error())
		}

		if len(initErrors) > 0 {
			logger.Error("failed to initialize some scheduler metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

func (m *schedulerMetrics) pipelineCreated(ctx context.Context) {
	if m.pipelinesCreated != nil {
		m.pipelinesCreated.Add(ctx, 1)
	}
}

func (m *schedulerMetrics) analysisDispatched(ctx context.Context, service string) {
	if m.dispatched != nil {
		m.dispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
	}
}

func (m *schedulerMetrics) analysisStarted(ctx context.Context, service string) {
	if m.active != nil {
		m.active.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
	}
}

func (m *schedulerMetrics) analysisFinished(ctx context.Context, service string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("service", service))
	if m.active != nil {
		m.active.Add(ctx, -1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if err != nil && m.failures != nil {
		m.failures.Add(ctx, 1, attrs)
	}
}
