package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	appkitchen "github.com/kds/backend/internal/application/kitchen"
	"github.com/kds/backend/internal/domain/kitchen"
	"github.com/kds/backend/internal/infrastructure/clover"
	"github.com/kds/backend/internal/infrastructure/config"
	"github.com/kds/backend/internal/infrastructure/logger"
	"github.com/kds/backend/internal/infrastructure/persistence"
	"github.com/kds/backend/internal/infrastructure/telemetry"
	"github.com/kds/backend/internal/interfaces/http/handler"
	"github.com/kds/backend/internal/interfaces/http/middleware"
	"github.com/kds/backend/internal/interfaces/http/router"
	"github.com/kds/backend/internal/interfaces/realtime"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting kitchen display backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{IncludeRuntime: true})

	// Completion store, restored from the last snapshot
	repo, err := persistence.NewSnapshotStore(ctx, &cfg.Store, &cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to open completion snapshot backend", zap.Error(err))
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error("Error closing snapshot backend", zap.Error(err))
		}
	}()
	log.Info("Completion snapshot backend ready", zap.String("backend", cfg.Store.Backend))

	store := appkitchen.NewCompletionStore(repo,
		appkitchen.WithStoreLogger(log),
		appkitchen.WithStoreMetrics(metrics),
	)
	store.Load(ctx)

	// Upstream client and order sync
	syncService, err := newSyncService(newOrderSource(cfg, log, metrics), store, cfg, log, metrics)
	if err != nil {
		log.Fatal("Failed to create sync service", zap.Error(err))
	}

	// Realtime gateway
	gateway := realtime.NewGateway(store,
		realtime.WithLogger(log),
		realtime.WithMetrics(metrics),
		realtime.WithClientBuffer(cfg.Realtime.ClientBuffer),
		realtime.WithMaxClients(cfg.Realtime.MaxClients),
		realtime.WithHeartbeat(cfg.Realtime.Heartbeat),
	)
	gateway.Start()
	defer gateway.Stop()

	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimitEnabled {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
		defer limiter.Stop()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine, err := newEngine(cfg, log, metrics, limiter, router.Handlers{
		Kitchen: handler.NewKitchenHandler(syncService, store, gateway),
		System:  handler.NewSystemHandler(cfg.App.Name, cfg.App.Version, gateway),
		WebSocket: realtime.NewWebSocketHandler(gateway,
			realtime.WithAllowedOrigins(cfg.Realtime.AllowedOrigins),
			realtime.WithPongWait(cfg.Realtime.PongWait),
			realtime.WithWebSocketLogger(log),
		),
		SSE: realtime.NewSSEHandler(gateway, log),
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// streaming clients never finish on their own; close them first
	gateway.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// unavailableSource stands in for the upstream client when it cannot be
// configured; every sync then degrades to an empty order list
type unavailableSource struct {
	err error
}

func (s unavailableSource) FetchOrders(context.Context) ([]kitchen.Order, error) {
	return nil, s.err
}

func (s unavailableSource) FetchLineItems(context.Context, string) ([]kitchen.LineItem, error) {
	return nil, s.err
}

// newOrderSource builds the Clover client. Missing credentials do not stop
// the server: the display keeps serving completion state with no orders.
func newOrderSource(cfg *config.Config, log *zap.Logger, metrics *telemetry.Metrics) appkitchen.OrderSource {
	client, err := clover.NewClient(&clover.Config{
		APIKey:            cfg.Clover.APIKey,
		MerchantID:        cfg.Clover.MerchantID,
		APIBaseURL:        cfg.Clover.BaseURL,
		Timeout:           cfg.Clover.Timeout,
		RequestsPerSecond: cfg.Clover.RequestsPerSecond,
		Burst:             cfg.Clover.Burst,
	},
		clover.WithRetryPolicy(clover.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			Multiplier:   cfg.Retry.Multiplier,
		}),
		clover.WithLogger(log),
		clover.WithMetrics(metrics),
	)
	if err != nil {
		log.Error("Clover client not configured, orders will be empty", zap.Error(err))
		return unavailableSource{err: err}
	}
	return client
}

func newSyncService(source appkitchen.OrderSource, store *appkitchen.CompletionStore, cfg *config.Config, log *zap.Logger, metrics *telemetry.Metrics) (*appkitchen.SyncService, error) {
	loc, err := kitchen.LoadLocation(cfg.Sync.Timezone)
	if err != nil {
		return nil, err
	}
	return appkitchen.NewSyncService(source, store, appkitchen.SyncConfig{
		WindowSize:        cfg.Sync.WindowSize,
		Location:          loc,
		TimeLayout:        cfg.Sync.TimeLayout,
		EnrichConcurrency: cfg.Sync.EnrichConcurrency,
	},
		appkitchen.WithSyncLogger(log),
		appkitchen.WithSyncMetrics(metrics),
	), nil
}

// newEngine builds the gin engine with the middleware stack and every route.
// limiter may be nil.
func newEngine(cfg *config.Config, log *zap.Logger, metrics *telemetry.Metrics, limiter *middleware.RateLimiter, h router.Handlers) (*gin.Engine, error) {
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, err
	}

	middleware.SetupValidator()

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log, "/health", "/metrics"))

	tracingCfg := middleware.DefaultTracingConfig()
	tracingCfg.ServiceName = cfg.Telemetry.ServiceName
	tracingCfg.Enabled = cfg.Telemetry.Enabled
	engine.Use(middleware.TracingWithConfig(tracingCfg))
	if cfg.Telemetry.Enabled {
		engine.Use(middleware.SpanErrorMarker())
	}

	engine.Use(middleware.HTTPMetrics(metrics))

	if cfg.HTTP.SecurityHeaders {
		secCfg := middleware.DefaultSecurityConfig()
		secCfg.HSTSEnabled = cfg.HTTP.SecurityEnableHSTS
		engine.Use(middleware.SecureWithConfig(secCfg))
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	engine.Use(middleware.CORSWithConfig(corsCfg))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	if limiter != nil {
		h.ToggleMiddleware = append(h.ToggleMiddleware, middleware.RateLimit(limiter))
	}
	if cfg.Telemetry.MetricsEnabled {
		h.Metrics = metrics.Handler()
	}
	h.StaticDir = cfg.HTTP.StaticDir

	router.Setup(engine, h)
	return engine, nil
}
