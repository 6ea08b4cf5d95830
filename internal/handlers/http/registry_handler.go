package http

import (
	"errors"
	"net/http"
	"strings"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	apperrors "streamrelay/pkg/errors"

	"github.com/gin-gonic/gin"
)

// RegistryHandler exposes a PeerRegistry over HTTP so nodes in other
// processes can share it.
type RegistryHandler struct {
	registry ports.PeerRegistry
}

func NewRegistryHandler(registry ports.PeerRegistry) *RegistryHandler {
	return &RegistryHandler{registry: registry}
}

func (h *RegistryHandler) SetupRoutes(api *gin.RouterGroup) {
	api.PUT("/registry/:stableId", h.Register)
	api.GET("/registry/:stableId", h.Lookup)
}

type registerRequest struct {
	NetworkID domain.NetworkID `json:"networkId" binding:"required"`
}

type registryEntry struct {
	StableID  domain.StableID  `json:"stableId"`
	NetworkID domain.NetworkID `json:"networkId"`
}

func (h *RegistryHandler) Register(c *gin.Context) {
	stableID := domain.StableID(c.Param("stableId"))

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("body must be {\"networkId\": string}"))
		return
	}
	req.NetworkID = domain.NetworkID(strings.TrimSpace(string(req.NetworkID)))

	if err := h.registry.Register(c.Request.Context(), stableID, req.NetworkID); err != nil {
		_ = c.Error(registryError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RegistryHandler) Lookup(c *gin.Context) {
	stableID := domain.StableID(c.Param("stableId"))

	networkID, err := h.registry.Lookup(c.Request.Context(), stableID)
	if err != nil {
		_ = c.Error(registryError(err).WithDetail("stable_id", stableID))
		return
	}

	c.JSON(http.StatusOK, registryEntry{StableID: stableID, NetworkID: networkID})
}

func registryError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return apperrors.NewNotFoundError("registry entry")
	case errors.Is(err, domain.ErrInvalidIdentity):
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, domain.ErrRegistryUnavailable):
		return apperrors.NewServiceUnavailableError("registry temporarily unavailable")
	default:
		return apperrors.NewBadGatewayError(err, "registry unavailable")
	}
}
