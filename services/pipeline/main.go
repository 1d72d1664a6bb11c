// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/jinterlante1206/AleutianPipeline/pkg/logging"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/coordinator"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/events"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/gate"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/gen"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/routes"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/runner"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/store"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/testrun"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "pipeline-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("pipeline-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	port := os.Getenv("PIPELINE_PORT")
	if port == "" {
		port = "12230"
	}

	logger := logging.FromEnv("pipeline-service")
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	storePath := os.Getenv("PIPELINE_STORE_PATH")
	if storePath == "" {
		storePath = "/var/lib/pipeline/store"
	}
	st, err := store.Open(store.DefaultConfig(storePath))
	if err != nil {
		log.Fatalf("FATAL: could not open the change store: %v", err)
	}
	defer st.Close()

	hub := events.NewHub(logger)
	notifier := events.NewSequencer(hub)
	defer notifier.Close()

	var generator gen.Generator
	if oa, err := gen.NewOpenAIGenerator(); err != nil {
		slog.Warn("code generator unavailable, submissions will not auto-stage",
			"error", err)
	} else {
		generator = oa
	}

	runnerAdapter := runner.NewHTTPRunner(runner.ConfigFromEnv(), nil)
	orch := testrun.New(runnerAdapter, generator, testrun.DefaultConfig(), logger,
		testrun.WithAttemptObserver(func(taskID string, attempt task.TestAttempt) {
			notifier.Publish(events.Event{
				Kind:      events.KindTestAttempt,
				SubjectID: taskID,
				Payload: map[string]any{
					"attempt":     attempt.AttemptNumber,
					"error_class": string(attempt.ErrorClass),
					"fix_applied": attempt.FixApplied,
					"elapsed_ms":  attempt.ElapsedMs,
				},
			})
		}))

	targetRoot := os.Getenv("PIPELINE_TARGET_ROOT")
	if targetRoot == "" {
		targetRoot = "/var/lib/pipeline/applied"
	}
	stagingRoot := os.Getenv("PIPELINE_STAGING_ROOT")
	applier := gate.NewFSApplier(targetRoot, stagingRoot)
	g := gate.New(st, applier, notifier, gate.DefaultConfig(), logger)

	coord := coordinator.New(st, orch, generator, notifier, logger)

	router := gin.Default()
	router.Use(otelgin.Middleware("pipeline-service"))

	routes.SetupRoutes(router, coord, g, st, hub)

	log.Println("Starting the pipeline server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
