// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway assembles the research gateway HTTP service.
//
// # Description
//
// The gateway sits between research clients (the desk CLI, browsers) and
// the research backend. It resolves the caller's session, attaches the
// backend service credentials and the caller's identity, and relays the
// backend's answers. It owns no research state of its own.
//
//	┌──────────────┐  session token   ┌──────────────────┐  service token   ┌──────────────────┐
//	│ research CLI │ ───────────────► │ research-gateway │ ───────────────► │ research backend │
//	└──────────────┘                  │  /api/documents  │  X-User-Id       │  /documents      │
//	                                  │  /api/research   │  X-User-Email    │  /research       │
//	                                  └──────────────────┘                  └──────────────────┘
//
// # Usage
//
//	svc, err := gateway.New(gateway.Config{
//	    Port:         3000,
//	    ServiceToken: os.Getenv("BACKEND_SERVICE_TOKEN"),
//	    AuthProvider: provider,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = svc.Run(ctx)
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianResearch/pkg/extensions"
	"github.com/AleutianAI/AleutianResearch/services/gateway/backend"
	"github.com/AleutianAI/AleutianResearch/services/gateway/handlers"
	"github.com/AleutianAI/AleutianResearch/services/gateway/observability"
	"github.com/AleutianAI/AleutianResearch/services/gateway/routes"
)

// ServiceName is reported to the tracing backend.
const ServiceName = "research-gateway"

// =============================================================================
// Interface
// =============================================================================

// Service is a runnable research gateway.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails, then
	// shuts down gracefully and flushes traces.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the gateway.
type Config struct {
	// Port is the HTTP port. Default: 3000
	Port int `validate:"gte=0,lte=65535"`

	// BackendBaseURL is the research backend base URL. Takes precedence
	// over LegacyBackendURL.
	BackendBaseURL string `validate:"omitempty,url"`

	// LegacyBackendURL is a single-endpoint URL whose origin is used when
	// BackendBaseURL is empty. Unparseable values fall back to the default.
	LegacyBackendURL string

	// ServiceToken authenticates the gateway to the backend. Required.
	ServiceToken string

	// AuthProvider validates session tokens. Default: NopAuthProvider.
	AuthProvider extensions.AuthProvider

	// ResearchPerMinute limits research submissions per user. Zero disables.
	ResearchPerMinute int `validate:"gte=0"`

	// ResearchBurst is the limiter burst. Default: ResearchPerMinute.
	ResearchBurst int `validate:"gte=0"`

	// OTelEndpoint is the OTLP gRPC collector. Empty disables export.
	OTelEndpoint string

	// Registry receives the proxy metrics and backs /metrics. Nil uses the
	// Prometheus default registry.
	Registry *prometheus.Registry

	// DisableMetrics omits /metrics and metric recording.
	DisableMetrics bool

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string `validate:"omitempty,oneof=debug release test"`

	// BackendTimeout bounds one backend call. Default: backend.DefaultTimeout
	BackendTimeout time.Duration `validate:"gte=0"`

	// Logger is the service logger. Default: slog.Default().
	Logger *slog.Logger

	// AuditLogger receives one event per proxied request.
	// Default: an audit logger writing to Logger.
	AuditLogger extensions.AuditLogger
}

var configValidator = validator.New()

// applyConfigDefaults fills in zero-valued fields.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.AuthProvider == nil {
		cfg.AuthProvider = &extensions.NopAuthProvider{}
	}
	if cfg.ResearchBurst == 0 {
		cfg.ResearchBurst = cfg.ResearchPerMinute
	}
	if cfg.BackendTimeout == 0 {
		cfg.BackendTimeout = backend.DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AuditLogger == nil {
		cfg.AuditLogger = extensions.NewSlogAuditLogger(cfg.Logger)
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config        Config
	router        *gin.Engine
	backend       *backend.Gateway
	tracerCleanup func(context.Context)
}

// New builds the gateway.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: backend.ErrServiceTokenMissing when no service token is set,
//     a validation error for malformed config, or a tracer setup error.
func New(cfg Config) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	if err := configValidator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}

	gw, err := backend.New(backend.Config{
		BaseURL:      backend.ResolveBaseURL(cfg.BackendBaseURL, cfg.LegacyBackendURL),
		ServiceToken: cfg.ServiceToken,
		HTTPClient:   &http.Client{Timeout: cfg.BackendTimeout},
	})
	if err != nil {
		return nil, err
	}

	s := &service{config: cfg, backend: gw}

	if cfg.OTelEndpoint != "" {
		cleanup, err := initTracer(cfg.OTelEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	s.initRouter()
	cfg.Logger.Info("Research gateway configured",
		"backend", gw.BaseURL(),
		"port", cfg.Port,
		"research_per_minute", cfg.ResearchPerMinute,
		"tracing", cfg.OTelEndpoint != "",
	)
	return s, nil
}

// Run serves until ctx is done.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.config.Logger.Info("Starting research gateway", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.config.Logger.Info("Shutting down research gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Router returns the Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(ServiceName))

	var metrics *observability.ProxyMetrics
	if !s.config.DisableMetrics {
		var reg prometheus.Registerer = prometheus.DefaultRegisterer
		handler := promhttp.Handler()
		if s.config.Registry != nil {
			reg = s.config.Registry
			handler = promhttp.HandlerFor(s.config.Registry, promhttp.HandlerOpts{})
		}
		metrics = observability.NewProxyMetrics(reg)
		s.router.GET("/metrics", gin.WrapH(handler))
	}

	routes.SetupRoutes(s.router, routes.Options{
		Deps: handlers.Deps{
			Backend: s.backend,
			Metrics: metrics,
			Logger:  s.config.Logger,
			Audit:   s.config.AuditLogger,
		},
		AuthProvider:      s.config.AuthProvider,
		ResearchPerMinute: s.config.ResearchPerMinute,
		ResearchBurst:     s.config.ResearchBurst,
	})
}

func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// initTracer exports spans to an OTLP collector over insecure gRPC.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(ServiceName)))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		_ = conn.Close()
	}, nil
}
