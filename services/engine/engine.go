// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine assembles the workflow execution service.
//
// # Description
//
// The engine coordinates all components: the Badger-backed store, the
// upload file store, the LLM client, the node executor, the job
// orchestrator with its bounded queue, HTTP routing, OpenTelemetry
// tracing and Prometheus metrics.
//
// # Usage
//
//	cfg, _ := config.Load("")
//	svc, err := engine.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/loomworks/loom/pkg/logging"
	"github.com/loomworks/loom/services/engine/agent"
	"github.com/loomworks/loom/services/engine/config"
	"github.com/loomworks/loom/services/engine/extract"
	"github.com/loomworks/loom/services/engine/format"
	"github.com/loomworks/loom/services/engine/job"
	"github.com/loomworks/loom/services/engine/node"
	"github.com/loomworks/loom/services/engine/observability"
	"github.com/loomworks/loom/services/engine/routes"
	"github.com/loomworks/loom/services/engine/store"
	"github.com/loomworks/loom/services/llm"
)

const serviceName = "loom-engine"

// Service is the assembled engine.
//
// Thread Safety: safe after construction; Run is called at most once.
type Service struct {
	cfg           config.Config
	logger        *logging.Logger
	router        *gin.Engine
	store         *store.Store
	orchestrator  *job.Orchestrator
	tracerCleanup func(context.Context)
}

// New builds the service from configuration.
func New(cfg config.Config) (*Service, error) {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: serviceName,
		JSON:    cfg.Log.JSON,
	})

	s := &Service{cfg: cfg, logger: logger}

	if cfg.Otel.Enabled {
		cleanup, err := initTracer(cfg.Otel.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	metrics := observability.InitMetrics()

	st, err := store.New(store.DefaultConfig(config.ExpandPath(cfg.Data.Dir)))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	s.store = st

	fileStore, err := extract.NewFileStore(config.ExpandPath(cfg.Data.UploadDir))
	if err != nil {
		s.close()
		return nil, err
	}

	llmClient, err := llm.NewOpenAIClient()
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	agentExec := agent.NewExecutor(llmClient, format.Apply, logger)
	nodeExec := node.NewExecutor(st, llmClient, extract.TextExtractor{}, agentExec, metrics, logger)
	queue := job.NewQueue(cfg.Queue.MaxConcurrentPerWorkflow, cfg.Queue.MaxQueueSize)
	s.orchestrator = job.NewOrchestrator(st, queue, nodeExec, cfg.Engine.SeedText, metrics, logger)

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(s.router, st, s.orchestrator, fileStore, cfg.Queue.MaxQueueSize)
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return s, nil
}

// Router exposes the gin engine for integration tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then drains in-flight jobs
// and shuts down cleanly.
func (s *Service) Run(ctx context.Context) error {
	defer s.close()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: s.router}

	s.logger.Info("starting engine server", "addr", addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.logger.Info("server stopped, draining jobs")
	s.orchestrator.Wait()
	return err
}

func (s *Service) close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	_ = s.logger.Close()
}

// initTracer sets up the OTLP trace exporter. The connection is
// insecure gRPC, appropriate for internal collectors.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			fmt.Printf("failed to shutdown OTLP exporter: %v\n", err)
		}
	}, nil
}
