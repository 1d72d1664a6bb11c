// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testrun

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

// Package-level tracer and meter for test runs.
var (
	tracer = otel.Tracer("pipeline.testrun")
	meter  = otel.Meter("pipeline.testrun")
)

var (
	attemptLatency metric.Float64Histogram
	attemptTotal   metric.Int64Counter
	runTotal       metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		attemptLatency, err = meter.Float64Histogram(
			"testrun_attempt_duration_seconds",
			metric.WithDescription("Duration of a single test attempt"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		attemptTotal, err = meter.Int64Counter(
			"testrun_attempts_total",
			metric.WithDescription("Total test attempts by error class"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"testrun_runs_total",
			metric.WithDescription("Total completed test runs by outcome"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordAttempt(ctx context.Context, class task.ErrorClass, passed bool, elapsed time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("class", string(class)),
		attribute.Bool("passed", passed),
	)
	attemptTotal.Add(ctx, 1, attrs)
	attemptLatency.Record(ctx, elapsed.Seconds(), attrs)
}

func recordRun(ctx context.Context, success bool, attempts int) {
	if initMetrics() != nil {
		return
	}
	runTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.Int("attempts", attempts),
	))
}
