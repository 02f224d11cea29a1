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
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTriage/pkg/logging"
	"github.com/AleutianAI/AleutianTriage/services/triage/activework"
	"github.com/AleutianAI/AleutianTriage/services/triage/analyzer"
	"github.com/AleutianAI/AleutianTriage/services/triage/devin"
	"github.com/AleutianAI/AleutianTriage/services/triage/github"
	"github.com/AleutianAI/AleutianTriage/services/triage/history"
	"github.com/AleutianAI/AleutianTriage/services/triage/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/observability"
	"github.com/AleutianAI/AleutianTriage/services/triage/router"
	"github.com/AleutianAI/AleutianTriage/services/triage/routes"
	"github.com/AleutianAI/AleutianTriage/services/triage/storage"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	// Get the collector URL from the env var we set in podman-compose.yml
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "aleutian-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("triage-service")))
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

// buildHistoryStore opens the durable journal when TRIAGE_DATA_DIR is
// set and replays it into a fresh store. Journal problems degrade to
// in-memory operation; they never keep the service from starting.
func buildHistoryStore(dataDir string, logger *slog.Logger) (*history.Store, *storage.Journal) {
	if dataDir == "" {
		slog.Info("TRIAGE_DATA_DIR not set, history will not survive restarts")
		hist, err := history.NewStore(history.WithLogger(logger))
		if err != nil {
			log.Fatalf("failed to create history store: %v", err)
		}
		return hist, nil
	}

	journal, err := storage.Open(storage.Config{
		Path:       filepath.Join(dataDir, "history"),
		SyncWrites: true,
		Logger:     logger,
	})
	if err != nil {
		slog.Warn("Failed to open history journal, continuing in-memory",
			"data_dir", dataDir, "error", err)
		hist, err := history.NewStore(history.WithLogger(logger))
		if err != nil {
			log.Fatalf("failed to create history store: %v", err)
		}
		return hist, nil
	}

	hist, err := history.NewStore(history.WithJournal(journal), history.WithLogger(logger))
	if err != nil {
		slog.Warn("Failed to replay history journal, continuing in-memory", "error", err)
		_ = journal.Close()
		hist, err = history.NewStore(history.WithLogger(logger))
		if err != nil {
			log.Fatalf("failed to create history store: %v", err)
		}
		return hist, nil
	}
	return hist, journal
}

func main() {
	port := os.Getenv("TRIAGE_PORT")
	if port == "" {
		port = "12270"
	}

	appLogger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("TRIAGE_LOG_LEVEL")),
		LogDir:  strings.Trim(os.Getenv("TRIAGE_LOG_DIR"), "\"' "),
		Service: "triage",
		JSON:    true,
	})
	defer appLogger.Close()
	logger := appLogger.Slog()
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	// Sanitize: Trim quotes and whitespace just in case Podman passes them literally
	configPath := strings.Trim(os.Getenv("TRIAGE_CONFIG_FILE"), "\"' ")
	dataDir := strings.Trim(os.Getenv("TRIAGE_DATA_DIR"), "\"' ")

	cfg := router.DefaultConfig()
	if configPath != "" {
		cfg, err = router.LoadFile(configPath)
		if err != nil {
			log.Fatalf("failed to load routing config %s: %v", configPath, err)
		}
		slog.Info("Loaded routing config", "path", configPath)
	}

	hist, journal := buildHistoryStore(dataDir, logger)

	devinClient := devin.NewClient(devin.Config{Logger: logger})
	if !devinClient.Configured() {
		slog.Warn("Devin API key not configured; error reports will be recorded but never dispatched")
	}
	ghClient := github.NewClient(github.Config{Logger: logger})
	inspector := activework.New(hist, ghClient, activework.WithLogger(logger))

	llmClient := llm.NewFromEnv(logger)
	if !llmClient.Configured() {
		slog.Warn("No LLM credentials; AI duplicate analysis will use conservative fallbacks")
	}
	classifier := analyzer.New(llmClient, analyzer.Config{}, logger)

	metrics := observability.InitMetrics()

	rt, err := router.New(cfg, router.Deps{
		Dispatcher: devinClient,
		Classifier: classifier,
		Inspector:  inspector,
		History:    hist,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("failed to build the routing pipeline: %v", err)
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	var watcher *router.ConfigWatcher
	if configPath != "" {
		watcher, err = router.NewConfigWatcher(configPath, rt, logger)
		if err != nil {
			slog.Warn("Config hot-reload unavailable", "error", err)
		} else {
			watcher.Start(watchCtx)
		}
	}

	engine := gin.Default()
	engine.Use(otelgin.Middleware("triage-service"))

	routes.SetupRoutes(engine, rt, metrics)
	log.Println("started up the container")

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down triage service")
		stopWatch()
		if watcher != nil {
			_ = watcher.Stop()
		}
		if journal != nil {
			if err := journal.Close(); err != nil {
				slog.Error("failed to close history journal", "error", err)
			}
		}
		cleanup(context.Background())
		_ = appLogger.Close()
		os.Exit(0)
	}()

	log.Println("Starting the triage server on port ", port)
	if err := engine.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
