package http

import (
	"net/http"

	"streamrelay/internal/core/ports"
	"streamrelay/internal/infrastructure/middleware"
	"streamrelay/internal/infrastructure/monitoring"
	"streamrelay/pkg/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Config   *config.Config
	Registry ports.PeerRegistry
	Rooms    RoomReader
	Health   *monitoring.HealthChecker

	// WebSocket serves signaling connections at Config.Signal.Path.
	WebSocket http.HandlerFunc
	// Metrics is mounted at Config.Monitoring.MetricsPath when set.
	Metrics http.Handler

	Logger *zap.SugaredLogger
}

// NewRouter wires the signaling endpoint, the REST API and the operational
// endpoints onto one gin engine.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logger))

	health := deps.Health
	if health == nil {
		health = monitoring.NewHealthChecker()
	}
	NewHealthHandler(health, deps.Rooms).SetupRoutes(router)

	if deps.Metrics != nil {
		router.GET(deps.Config.Monitoring.MetricsPath, gin.WrapH(deps.Metrics))
	}

	if deps.WebSocket != nil {
		router.GET(deps.Config.Signal.Path,
			middleware.NewWebSocketRateLimitMiddleware(deps.Config),
			gin.WrapF(deps.WebSocket),
		)
	}

	api := router.Group("/api/v1")
	api.Use(
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(deps.Config),
		middleware.ErrorHandlerMiddleware(logger),
	)
	NewRegistryHandler(deps.Registry).SetupRoutes(api)
	NewRoomHandler(deps.Rooms).SetupRoutes(api)

	return router
}
