package http

import (
	"context"
	"net/http"
	"time"

	"streamrelay/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker *monitoring.HealthChecker
	rooms   RoomReader
	started time.Time
}

func NewHealthHandler(checker *monitoring.HealthChecker, rooms RoomReader) *HealthHandler {
	return &HealthHandler{checker: checker, rooms: rooms, started: time.Now()}
}

func (h *HealthHandler) SetupRoutes(router gin.IRoutes) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

// Health reports liveness; it does not run dependency checks.
func (h *HealthHandler) Health(c *gin.Context) {
	stats := h.rooms.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"uptime":      time.Since(h.started).Round(time.Second).String(),
		"connections": stats.Connections,
		"rooms":       stats.Rooms,
	})
}

// Ready runs the registered dependency checks.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	status := h.checker.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
