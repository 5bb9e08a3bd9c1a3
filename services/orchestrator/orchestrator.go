// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the AleutianInsight orchestrator service.
//
// # Description
//
// This package wires the request pipeline together: the resilience registry,
// the session store and its TTL sweeper, the admission gate, the response
// validator, the LLM backend, and the optional insights aggregation client.
// Everything is constructed by New() and injected explicitly; nothing in
// this package reaches for package-level singletons besides the Prometheus
// metrics instance.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210, LLMBackend: "ollama"}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianInsight/services/insights"
	"github.com/AleutianAI/AleutianInsight/services/llm"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/admission"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/quality"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/resilience"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/session"
)

// =============================================================================
// Service Interface
// =============================================================================

// Service is the orchestrator's public surface.
//
// # Description
//
// A Service is created fully wired by New(). Run() blocks serving HTTP;
// Stop() releases background resources (the session sweeper and the trace
// exporter). Router() exposes the configured Gin engine for integration
// testing.
type Service interface {
	// Run starts the HTTP server and blocks until it stops.
	Run() error

	// Stop releases background resources. Safe to call multiple times;
	// Run() calls it automatically on return.
	Stop()

	// Router returns the configured Gin engine for testing.
	//
	// # Assumptions
	//
	//   - Caller will not modify the router
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the orchestrator service.
// Values can be populated from environment variables, a YAML config file
// via LoadConfigFile, or programmatically for testing.
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
//	// Custom port and LLM backend
//	cfg := Config{
//	    Port:       12210,
//	    LLMBackend: "openai",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// LLMBackend specifies the LLM provider.
	// Valid values: "openai", "ollama"
	// Default: "ollama"
	LLMBackend string

	// InsightsURL is the context aggregation service URL. If empty, the
	// INSIGHTS_BASE_URL environment variable is consulted; if neither is
	// set, context enrichment is disabled and the pipeline runs on the
	// conversation alone.
	InsightsURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "insight-otel-collector:4317"
	OTelEndpoint string

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// MaxSessions caps live conversation sessions. Default: 1000
	MaxSessions int

	// MaxHistory caps retained turns per session. Default: 50
	MaxHistory int

	// SessionTimeout is the idle time before a session is evictable.
	// Default: 30 minutes
	SessionTimeout time.Duration

	// SweepInterval is how often the background sweeper evicts expired
	// sessions. Default: 1 minute
	SweepInterval time.Duration

	// AdmissionCapacity is the maximum concurrently executing pipeline
	// requests. Default: 8
	AdmissionCapacity int

	// AdmissionQueue is the maximum queued requests before rejection.
	// Default: 64
	AdmissionQueue int

	// BreakerFailureThreshold is consecutive failures before a dependency
	// breaker opens. Default: 5
	BreakerFailureThreshold int

	// BreakerOpenTimeout is how long an open breaker waits before probing.
	// Default: 30 seconds
	BreakerOpenTimeout time.Duration

	// GenerationTimeout is the per-call deadline on LLM generation.
	// Default: 60 seconds
	GenerationTimeout time.Duration

	// ContextFetchTimeout is the per-call deadline on context fetches.
	// Default: 5 seconds
	ContextFetchTimeout time.Duration

	// QualityMinLength is the validator's minimum acceptable response
	// length. Default: 10
	QualityMinLength int

	// QualityMaxLength is the response length above which the validator
	// warns. Default: 8000
	QualityMaxLength int
}

// configFile is the YAML shape of Config. Durations are strings in
// time.ParseDuration form ("30s", "10m") since YAML has no duration scalar.
type configFile struct {
	Port                    int    `yaml:"port"`
	LLMBackend              string `yaml:"llm_backend"`
	InsightsURL             string `yaml:"insights_url"`
	OTelEndpoint            string `yaml:"otel_endpoint"`
	GinMode                 string `yaml:"gin_mode"`
	MaxSessions             int    `yaml:"max_sessions"`
	MaxHistory              int    `yaml:"max_history"`
	SessionTimeout          string `yaml:"session_timeout"`
	SweepInterval           string `yaml:"sweep_interval"`
	AdmissionCapacity       int    `yaml:"admission_capacity"`
	AdmissionQueue          int    `yaml:"admission_queue"`
	BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
	BreakerOpenTimeout      string `yaml:"breaker_open_timeout"`
	GenerationTimeout       string `yaml:"generation_timeout"`
	ContextFetchTimeout     string `yaml:"context_fetch_timeout"`
	QualityMinLength        int    `yaml:"quality_min_length"`
	QualityMaxLength        int    `yaml:"quality_max_length"`
}

// LoadConfigFile reads a YAML config file into a Config.
//
// # Description
//
// Parses the file at path and returns the resulting Config. Fields absent
// from the file keep their zero values and pick up defaults in New().
//
// # Outputs
//
//   - Config: The parsed configuration.
//   - error: Non-nil if the file cannot be read or parsed, or if a
//     duration field is malformed.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := Config{
		Port:                    file.Port,
		LLMBackend:              file.LLMBackend,
		InsightsURL:             file.InsightsURL,
		OTelEndpoint:            file.OTelEndpoint,
		GinMode:                 file.GinMode,
		MaxSessions:             file.MaxSessions,
		MaxHistory:              file.MaxHistory,
		AdmissionCapacity:       file.AdmissionCapacity,
		AdmissionQueue:          file.AdmissionQueue,
		BreakerFailureThreshold: file.BreakerFailureThreshold,
		QualityMinLength:        file.QualityMinLength,
		QualityMaxLength:        file.QualityMaxLength,
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"session_timeout", file.SessionTimeout, &cfg.SessionTimeout},
		{"sweep_interval", file.SweepInterval, &cfg.SweepInterval},
		{"breaker_open_timeout", file.BreakerOpenTimeout, &cfg.BreakerOpenTimeout},
		{"generation_timeout", file.GenerationTimeout, &cfg.GenerationTimeout},
		{"context_fetch_timeout", file.ContextFetchTimeout, &cfg.ContextFetchTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q in %s: %w", d.name, d.value, path, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
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
//   - Circuit breaker registry and admission gate
//   - Session store with a background TTL sweeper
//   - LLM client management
//   - Optional insights aggregation client
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns; mutable state lives inside the injected components.
type service struct {
	config Config

	router    *gin.Engine
	registry  *resilience.Registry
	store     *session.Store
	sweeper   *session.Sweeper
	gate      *admission.Controller
	validator *quality.Validator
	llmClient llm.Client
	insights  *insights.Client
	pipeline  *pipeline.Pipeline

	tracerCleanup func(context.Context)
	stopOnce      sync.Once
	startedAt     time.Time
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics (first call only)
//  4. Creates the resilience registry with metric-reporting breakers
//  5. Creates the session store and starts its TTL sweeper
//  6. Creates the admission gate and response validator
//  7. Creates the LLM client for the configured backend
//  8. Creates the insights client if an aggregation service is configured
//  9. Assembles the pipeline and sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if initialization fails
//
// # Limitations
//
//   - LLM client creation fails if the provider's environment is not set
//   - The insights client is optional; its absence is not an error
//
// # Assumptions
//
//   - Environment variables are set for the chosen LLM provider
func New(cfg Config) (Service, error) {
	s := &service{
		config:    applyConfigDefaults(cfg),
		startedAt: time.Now(),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// promauto panics on duplicate registration, so only the first
	// service instance in a process initializes the singleton.
	if observability.DefaultMetrics == nil {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for the pipeline")
	}

	s.initResilience()
	s.initSessions()

	s.gate = admission.NewController(admission.Config{
		Capacity: s.config.AdmissionCapacity,
		MaxQueue: s.config.AdmissionQueue,
	})
	s.validator = quality.NewValidator(quality.Config{
		MinLength: s.config.QualityMinLength,
		MaxLength: s.config.QualityMaxLength,
	})

	if err := s.initLLMClient(); err != nil {
		s.Stop()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	// Insights aggregation is optional
	if err := s.initInsightsClient(); err != nil {
		slog.Warn("Insights client unavailable, context enrichment disabled",
			"error", err)
	}

	s.initPipeline()
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
// until the server stops due to error or shutdown signal. Stop() runs
// automatically on return.
//
// # Outputs
//
//   - error: Non-nil if the server fails to start or encounters a fatal error
func (s *service) Run() error {
	defer s.Stop()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server",
		"port", s.config.Port,
		"llm_backend", s.config.LLMBackend,
		"insights_enabled", s.insights != nil,
	)

	return s.router.Run(addr)
}

// Stop releases background resources held by the service.
//
// # Description
//
// Stops the session sweeper and shuts down the trace exporter. Idempotent;
// subsequent calls are no-ops.
func (s *service) Stop() {
	s.stopOnce.Do(func() {
		if s.sweeper != nil {
			if err := s.sweeper.Stop(); err != nil {
				slog.Warn("Session sweeper stop error", "error", err)
			}
		}
		if s.tracerCleanup != nil {
			s.tracerCleanup(context.Background())
		}
	})
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
		cfg.Port = 12210
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "insight-otel-collector:4317"
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 1000
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = 50
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.AdmissionCapacity == 0 {
		cfg.AdmissionCapacity = 8
	}
	if cfg.AdmissionQueue == 0 {
		cfg.AdmissionQueue = 64
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerOpenTimeout == 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}
	if cfg.GenerationTimeout == 0 {
		cfg.GenerationTimeout = 60 * time.Second
	}
	if cfg.ContextFetchTimeout == 0 {
		cfg.ContextFetchTimeout = 5 * time.Second
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter to send spans to the configured collector.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses an insecure gRPC connection (appropriate for internal networks)
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
		resource.WithAttributes(semconv.ServiceNameKey.String("insight-orchestrator")))
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

// initResilience creates the breaker registry and its named breakers.
//
// # Description
//
// Both dependency breakers are created eagerly so their state gauges exist
// before the first request, each with an OnStateChange hook that reports
// transitions to the breaker_state metric.
func (s *service) initResilience() {
	s.registry = resilience.NewRegistry(resilience.Config{
		FailureThreshold: s.config.BreakerFailureThreshold,
		OpenTimeout:      s.config.BreakerOpenTimeout,
	})

	s.registry.GetWithConfig(pipeline.BreakerGeneration, resilience.Config{
		FailureThreshold: s.config.BreakerFailureThreshold,
		OpenTimeout:      s.config.BreakerOpenTimeout,
		CallTimeout:      s.config.GenerationTimeout,
		OnStateChange:    breakerGaugeHook(pipeline.BreakerGeneration),
	})
	s.registry.GetWithConfig(pipeline.BreakerContext, resilience.Config{
		FailureThreshold: s.config.BreakerFailureThreshold,
		OpenTimeout:      s.config.BreakerOpenTimeout,
		CallTimeout:      s.config.ContextFetchTimeout,
		OnStateChange:    breakerGaugeHook(pipeline.BreakerContext),
	})
}

// breakerGaugeHook returns an OnStateChange callback that reports the new
// state of one dependency's breaker to the Prometheus gauge.
func breakerGaugeHook(dependency string) func(from, to resilience.CircuitState) {
	return func(from, to resilience.CircuitState) {
		slog.Info("Circuit breaker state changed",
			"dependency", dependency,
			"from", from.String(),
			"to", to.String(),
		)
		m := observability.DefaultMetrics
		if m == nil {
			return
		}
		m.SetBreakerState(dependency, breakerStateValue(to))
	}
}

// breakerStateValue maps a breaker state onto its gauge encoding
// (0 closed, 1 half-open, 2 open).
func breakerStateValue(state resilience.CircuitState) float64 {
	switch state {
	case resilience.CircuitHalfOpen:
		return 1
	case resilience.CircuitOpen:
		return 2
	default:
		return 0
	}
}

// initSessions creates the session store and starts the TTL sweeper.
func (s *service) initSessions() {
	s.store = session.NewStore(session.StoreConfig{
		MaxSessions:    s.config.MaxSessions,
		MaxHistory:     s.config.MaxHistory,
		SessionTimeout: s.config.SessionTimeout,
	})
	s.sweeper = session.NewSweeper(s.store, s.config.SweepInterval)

	if err := s.sweeper.Start(context.Background()); err != nil {
		// Only fails when already running, which cannot happen here.
		slog.Warn("Session sweeper start error", "error", err)
	}
}

// initLLMClient initializes the LLM provider client.
//
// # Description
//
// Creates the appropriate LLM client based on the configured backend type.
//
// # Outputs
//
//   - error: Non-nil if LLM client creation fails
//
// # Limitations
//
//   - Only supports: openai, ollama
//
// # Assumptions
//
//   - Required environment variables are set for the chosen provider
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to ollama",
			"backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewOllamaClient()
	}

	return err
}

// initInsightsClient initializes the optional context aggregation client.
//
// # Outputs
//
//   - error: Non-nil if no aggregation service is configured or the client
//     cannot be built. Callers treat this as a downgrade, not a failure.
func (s *service) initInsightsClient() error {
	var err error

	if s.config.InsightsURL != "" {
		s.insights, err = insights.NewClient(insights.Config{
			BaseURL: s.config.InsightsURL,
			Timeout: s.config.ContextFetchTimeout,
		})
	} else {
		s.insights, err = insights.NewClientFromEnv()
	}
	return err
}

// initPipeline assembles the request pipeline over the wired components.
func (s *service) initPipeline() {
	// A typed nil *insights.Client must not become a non-nil interface.
	var fetcher pipeline.ContextFetcher
	if s.insights != nil {
		fetcher = s.insights
	}

	s.pipeline = pipeline.New(s.registry, s.store, s.validator,
		s.llmClient, fetcher, pipeline.Config{})
}

// initRouter sets up the Gin HTTP router with all routes.
//
// # Description
//
// Creates the Gin engine, applies tracing and request-id middleware, and
// registers all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("insight-orchestrator"))
	s.router.Use(middleware.RequestID())

	routes.SetupRoutes(s.router, routes.Deps{
		Pipeline:  s.pipeline,
		Registry:  s.registry,
		Store:     s.store,
		Gate:      s.gate,
		StartedAt: s.startedAt,
	})
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
