// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the core orchestration service for BuildCore.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, the sandbox pool and its reaper, the AI
// operation orchestrator, the deployment pipeline manager, and the
// observability infrastructure.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12300}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pria-cloud/buildcore/services/aiops"
	"github.com/pria-cloud/buildcore/services/deploy"
	"github.com/pria-cloud/buildcore/services/orchestrator/observability"
	"github.com/pria-cloud/buildcore/services/orchestrator/routes"
	"github.com/pria-cloud/buildcore/services/sandbox"
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

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestration service.
//
// # Description
//
// Service abstracts the service lifecycle, enabling testing and alternative
// implementations. The interface follows the minimal surface area principle -
// only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
//
// # Assumptions
//
//   - Service is fully initialized before Run() is called
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	//
	// # Description
	//
	// Starts the Gin HTTP server on the configured port. This method
	// blocks until the server stops (due to error or shutdown signal).
	// All background components are released when it returns.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server fails to start or encounters a
	//     fatal error
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Description
	//
	// Provides access to the configured Gin router, primarily for
	// integration testing where direct HTTP calls are needed.
	//
	// # Outputs
	//
	//   - *gin.Engine: The configured router with all routes registered
	//
	// # Assumptions
	//
	//   - Caller will not modify the router
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestration service configuration options.
//
// # Description
//
// Config centralizes all configuration for the service. Values can be
// populated from environment variables, config files, or programmatically
// for testing. Quota and timing knobs live in the limits file referenced
// by LimitsPath; Config covers wiring only.
//
// # Required Fields
//
// None - all fields have sensible defaults.
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg := Config{}
//
//	// Full configuration
//	cfg := Config{
//	    Port:         12300,
//	    DataDir:      "/var/lib/buildcore",
//	    LimitsPath:   "/etc/buildcore/limits.yaml",
//	    OTelEndpoint: "localhost:4317",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12300
	Port int

	// DataDir is the directory for the persistent operation store.
	// If empty, operations are held in memory only.
	DataDir string

	// LimitsPath is the path to the YAML limits file. If empty, every
	// component runs on its built-in defaults.
	LimitsPath string

	// WorkRoot is the directory for per-run pipeline workspaces.
	// Default: the system temp directory.
	WorkRoot string

	// CanaryCommand, PromoteCommand, and PointCommand are the operator
	// shell commands that shift traffic. Empty commands make the
	// corresponding shift a logged no-op.
	CanaryCommand  string
	PromoteCommand string
	PointCommand   string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "buildcore-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus metrics endpoint.
	// Default: true
	EnableMetrics bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - The sandbox pool, provider, and background reaper
//   - The AI operation orchestrator and its persistent store
//   - The deployment pipeline manager
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
//
// # Assumptions
//
//   - All external services (sandbox provider, AI backend, OTel) are
//     reachable if configured
type service struct {
	config Config
	limits Limits
	router *gin.Engine

	pool      *sandbox.Pool
	reaper    *sandbox.Reaper
	ops       *aiops.Orchestrator
	pipelines *deploy.Manager

	opStore       *aiops.BadgerStore
	errorRates    *deploy.InfluxErrorRates
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestration Service with the given configuration.
//
// # Description
//
// New initializes all service components:
//  1. Applies default configuration for missing values
//  2. Loads the limits file, if configured
//  3. Initializes OpenTelemetry tracing
//  4. Initializes Prometheus metrics
//  5. Opens the operation store (persistent when DataDir is set)
//  6. Creates the sandbox pool and starts the reaper
//  7. Creates the AI operation orchestrator
//  8. Creates the deployment pipeline manager
//  9. Sets up HTTP routes
//
// The sandbox provider and AI backend are required; initialization fails
// when their credentials are absent. The InfluxDB telemetry source is
// optional - without it, canary windows promote unconditionally.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run orchestration service
//   - error: Non-nil if initialization fails
//
// # Assumptions
//
//   - Environment variables are set for the sandbox provider and AI
//     backend (DAYTONA_API_KEY, OPENAI_API_KEY)
//   - Network is available for external service connections
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	limits, err := LoadLimits(s.config.LimitsPath)
	if err != nil {
		return nil, err
	}
	s.limits = limits

	// Initialize OpenTelemetry tracer
	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics
	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	}

	// Initialize sandbox pool and reaper
	if err := s.initSandboxPool(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize sandbox pool: %w", err)
	}

	// Initialize AI operation orchestrator
	if err := s.initOperations(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize operation orchestrator: %w", err)
	}

	// Initialize deployment pipeline manager
	s.initPipelines()

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
//
// # Description
//
// Starts the Gin HTTP server on the configured port. This method blocks
// until the server stops due to error or shutdown signal. Cleanup is
// automatic on return.
//
// # Outputs
//
//   - error: Non-nil if the server fails to start or encounters a fatal
//     error
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestration server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12300
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "buildcore-otel-collector:4317"
	}
	// EnableMetrics defaults to true (zero value is false, so we need explicit check)
	// We'll handle this by always enabling unless explicitly disabled via a setter
	cfg.EnableMetrics = true

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up OTLP trace exporter to send spans to the configured collector.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
//
// # Assumptions
//
//   - OTel collector is reachable at configured endpoint
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("buildcore-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initSandboxPool creates the sandbox provider, pool, and reaper.
//
// # Description
//
// The Daytona provider is the only supported provider and requires
// credentials in the environment. The reaper starts immediately and
// sweeps on the configured interval.
//
// # Outputs
//
//   - error: Non-nil if provider credentials are missing
func (s *service) initSandboxPool() error {
	provider, err := sandbox.NewDaytonaProvider()
	if err != nil {
		return err
	}

	poolCfg := sandbox.DefaultPoolConfig()
	if s.limits.Sandbox.TenantCeiling > 0 {
		poolCfg.TenantCeiling = s.limits.Sandbox.TenantCeiling
	}
	if s.limits.Sandbox.WallClock.Duration > 0 {
		poolCfg.DefaultTimeout = s.limits.Sandbox.WallClock.Duration
	}
	if s.limits.Sandbox.IdleTimeout.Duration > 0 {
		poolCfg.IdleTimeout = s.limits.Sandbox.IdleTimeout.Duration
	}
	s.pool = sandbox.NewPool(provider, poolCfg)

	reaperCfg := sandbox.DefaultReaperConfig()
	if s.limits.Sandbox.ReapInterval.Duration > 0 {
		reaperCfg.Interval = s.limits.Sandbox.ReapInterval.Duration
	}
	if s.config.EnableMetrics {
		reaperCfg.OnSweep = observability.SweepRecorder(observability.DefaultMetrics)
	}
	s.reaper = sandbox.NewReaper(s.pool, reaperCfg)
	if err := s.reaper.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start sandbox reaper: %w", err)
	}

	slog.Info("Sandbox pool initialized",
		"tenant_ceiling", poolCfg.TenantCeiling,
		"reap_interval", reaperCfg.Interval.String())
	return nil
}

// initOperations creates the operation store, AI backend, and orchestrator.
//
// # Description
//
// With DataDir set, operation state survives restarts via a Badger store;
// otherwise an in-memory store is used and a warning is logged.
//
// # Outputs
//
//   - error: Non-nil if the store cannot be opened or backend credentials
//     are missing
func (s *service) initOperations() error {
	var store aiops.Store
	if s.config.DataDir != "" {
		badgerStore, err := aiops.NewBadgerStore(aiops.BadgerConfig{
			Path:       s.config.DataDir,
			SyncWrites: true,
		})
		if err != nil {
			return err
		}
		s.opStore = badgerStore
		store = badgerStore
		slog.Info("Operation store opened", "path", s.config.DataDir)
	} else {
		store = aiops.NewMemoryStore()
		slog.Warn("DataDir not configured, operation history is not persistent")
	}

	backend, err := aiops.NewOpenAIBackend()
	if err != nil {
		return err
	}

	opsCfg := aiops.DefaultOrchestratorConfig()
	if s.limits.Operations.Workers > 0 {
		opsCfg.Workers = s.limits.Operations.Workers
	}
	if s.limits.Operations.MaxRetries > 0 {
		opsCfg.MaxRetries = s.limits.Operations.MaxRetries
	}
	if s.limits.Operations.GenerationRPM > 0 {
		opsCfg.Rate.GenerationRPM = s.limits.Operations.GenerationRPM
	}
	if s.limits.Operations.DefaultRPM > 0 {
		opsCfg.Rate.DefaultRPM = s.limits.Operations.DefaultRPM
	}
	if s.limits.Operations.BackendCall.Duration > 0 {
		opsCfg.BackendTimeout = s.limits.Operations.BackendCall.Duration
	}
	if s.limits.Operations.Execute.Duration > 0 {
		opsCfg.ExecuteTimeout = s.limits.Operations.Execute.Duration
	}
	if s.config.EnableMetrics {
		opsCfg.Observer = observability.NewOperationObserver(observability.DefaultMetrics)
	}

	s.ops = aiops.NewOrchestrator(backend, s.pool, store, opsCfg)
	slog.Info("Operation orchestrator initialized", "workers", opsCfg.Workers)
	return nil
}

// initPipelines creates the deployment pipeline manager.
//
// # Description
//
// Stages run through the shell command runner; traffic shifts run through
// the operator-supplied commands. Canary error rates come from InfluxDB
// when configured, otherwise every canary window promotes.
func (s *service) initPipelines() {
	canaryCfg := deploy.DefaultCanaryConfig()
	if s.limits.Canary.TrafficPercent > 0 {
		canaryCfg.TrafficPercent = s.limits.Canary.TrafficPercent
	}
	if s.limits.Canary.Window.Duration > 0 {
		canaryCfg.Window = s.limits.Canary.Window.Duration
	}
	if s.limits.Canary.SampleInterval.Duration > 0 {
		canaryCfg.SampleInterval = s.limits.Canary.SampleInterval.Duration
	}
	if s.limits.Canary.ErrorThreshold > 0 {
		canaryCfg.ErrorThreshold = s.limits.Canary.ErrorThreshold
	}

	var errorRates deploy.ErrorRateSource
	influx, err := deploy.NewInfluxErrorRates(canaryCfg.Window)
	if err != nil {
		slog.Warn("InfluxDB not configured, canary windows promote unconditionally",
			"error", err)
		errorRates = deploy.ZeroErrorRates{}
	} else {
		s.errorRates = influx
		errorRates = influx
	}

	traffic := &deploy.CommandTrafficController{
		Runner:         deploy.ShellRunner{},
		CanaryCommand:  s.config.CanaryCommand,
		PromoteCommand: s.config.PromoteCommand,
		PointCommand:   s.config.PointCommand,
	}

	managerCfg := deploy.ManagerConfig{
		Canary:   canaryCfg,
		WorkRoot: s.config.WorkRoot,
	}
	if s.config.EnableMetrics {
		managerCfg.Observer = observability.NewPipelineObserver(observability.DefaultMetrics)
	}

	s.pipelines = deploy.NewManager(deploy.ShellRunner{}, traffic, errorRates, managerCfg)
	slog.Info("Pipeline manager initialized",
		"canary_percent", canaryCfg.TrafficPercent,
		"canary_window", canaryCfg.Window.String())
}

// initRouter sets up the Gin HTTP router with all routes.
//
// # Assumptions
//
//   - All dependencies (pool, orchestrator, pipeline manager) are
//     initialized
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("buildcore-orchestrator"))

	routes.SetupRoutes(s.router, s.pool, s.ops, s.pipelines)
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure. Stops the reaper,
// drains the orchestrator and pipeline manager, closes the operation
// store, and shuts down the tracer. Each step tolerates components that
// were never initialized.
func (s *service) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.reaper != nil {
		s.reaper.Stop()
	}

	if s.ops != nil {
		if err := s.ops.Shutdown(ctx); err != nil {
			slog.Warn("Operation orchestrator shutdown error", "error", err)
		}
	}

	if s.pipelines != nil {
		if err := s.pipelines.Shutdown(ctx); err != nil {
			slog.Warn("Pipeline manager shutdown error", "error", err)
		}
	}

	if s.opStore != nil {
		if err := s.opStore.Close(); err != nil {
			slog.Warn("Operation store close error", "error", err)
		}
	}

	if s.errorRates != nil {
		s.errorRates.Close()
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
