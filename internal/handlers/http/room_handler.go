package http

import (
	"net/http"

	"streamrelay/internal/core/domain"
	apperrors "streamrelay/pkg/errors"

	"github.com/gin-gonic/gin"
)

// RoomReader is the read side of the relay.
type RoomReader interface {
	Snapshot(streamID domain.StreamID) (domain.RoomSnapshot, bool)
	Stats() domain.RelayStats
}

type RoomHandler struct {
	rooms RoomReader
}

func NewRoomHandler(rooms RoomReader) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

func (h *RoomHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/rooms/:streamId", h.GetRoom)
	api.GET("/stats", h.GetStats)
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	streamID := domain.StreamID(c.Param("streamId"))

	snapshot, ok := h.rooms.Snapshot(streamID)
	if !ok {
		_ = c.Error(apperrors.NewNotFoundError("room").WithDetail("stream_id", streamID))
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *RoomHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.rooms.Stats())
}
