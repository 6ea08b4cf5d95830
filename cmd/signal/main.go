package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamrelay/internal/core/services"
	httphandlers "streamrelay/internal/handlers/http"
	"streamrelay/internal/infrastructure/distributed"
	"streamrelay/internal/infrastructure/monitoring"
	"streamrelay/internal/infrastructure/repositories"
	wsignal "streamrelay/internal/infrastructure/signal"
	"streamrelay/pkg/circuitbreaker"
	"streamrelay/pkg/config"
	"streamrelay/pkg/logger"
	"streamrelay/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPaths := []string{
		os.Getenv("STREAMRELAY_CONFIG"),
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		if path == "" {
			continue
		}
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("no usable config file, using defaults", "error", err)
	}

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(reg)

	registry := services.NewRegistryService(repoFactory.CreatePeerRegistry(), collector, log)
	if cfg.Registry.Breaker.Enabled {
		registry.EnableBreaker(circuitbreaker.Config{
			FailureThreshold: cfg.Registry.Breaker.FailureThreshold,
			OpenTimeout:      cfg.Registry.Breaker.OpenTimeout,
		})
	}

	relay := services.NewRelay(services.NewRoomManager(), log)
	relay.SetMetrics(collector)
	relay.SetNotifyDeliveryFailure(cfg.Signal.NotifyDeliveryFailure)

	health := monitoring.NewHealthChecker()
	health.AddRegistryCheck(registry, 5*time.Second, 2*time.Second)

	if client := repoFactory.RedisClient(); client != nil {
		instanceID := uuid.NewString()
		relay.SetEventPublisher(distributed.NewEventBus(client, instanceID, log))
		health.AddRedisCheck(client, 0, 2*time.Second)
		log.Infow("publishing membership events", "instance_id", instanceID)
	}

	wsOpts := wsignal.ServerOptions{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendQueueSize:  cfg.Signal.SendQueueSize,
		MaxMessageSize: int64(cfg.RateLimiting.WebSocket.MaxMessageSizeBytes),
		AllowedOrigins: cfg.Signal.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		wsOpts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		wsOpts.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	wsServer := wsignal.NewWebSocketServer(relay, wsOpts, log)
	wsServer.SetMetrics(collector)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	deps := httphandlers.RouterDeps{
		Config:    cfg,
		Registry:  registry,
		Rooms:     relay,
		Health:    health,
		WebSocket: wsServer.HandleWebSocket,
		Logger:    log,
	}
	if cfg.Monitoring.PrometheusEnabled {
		deps.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		log.Infow("prometheus metrics enabled", "path", cfg.Monitoring.MetricsPath)
	}

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     httphandlers.NewRouter(deps),
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout would cut hijacked websocket connections short, so it
		// is left to the per-connection write deadline.
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting signaling relay", "address", cfg.Server.Address, "ws_path", cfg.Signal.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked connections are not tracked by http.Server.
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("websocket connections did not close in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		_ = srv.Close()
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error flushing traces", "error", err)
	}

	log.Infow("signaling relay stopped")
}
