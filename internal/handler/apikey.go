package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/license-issuer-api/internal/handler/dto"
	"github.com/makkenzo/license-issuer-api/internal/handler/middleware"
	"github.com/makkenzo/license-issuer-api/internal/ierr"
	"github.com/makkenzo/license-issuer-api/internal/service"
	"go.uber.org/zap"
)

// APIKeyHandler manages the keys that guard the admin API.
type APIKeyHandler struct {
	keys   *service.APIKeyService
	logger *zap.Logger
}

func NewAPIKeyHandler(keys *service.APIKeyService, logger *zap.Logger) *APIKeyHandler {
	return &APIKeyHandler{
		keys:   keys,
		logger: logger.Named("APIKeyHandler"),
	}
}

// Create godoc
// @Summary Mint an admin API key
// @Description The full key is only present in this response.
// @Router /apikeys [post]
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req dto.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	callerID, _ := middleware.GetAPIKeyID(c)
	created, err := h.keys.CreateAPIKey(c.Request.Context(), req.Description)
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.logger.Info("API key minted",
		zap.String("id", created.ID.String()),
		zap.String("prefix", created.Prefix),
		zap.String("created_by", callerID.String()))
	c.JSON(http.StatusCreated, created)
}

// List godoc
// @Summary List admin API keys, masked
// @Router /apikeys [get]
func (h *APIKeyHandler) List(c *gin.Context) {
	keys, err := h.keys.ListAPIKeys(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

// Revoke godoc
// @Summary Disable an admin API key
// @Failure 409 {object} dto.APIErrorResponse "last enabled key"
// @Router /apikeys/{id} [delete]
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	id, ok := pathUUID(c, "api key", h.logger)
	if !ok {
		return
	}

	callerID, _ := middleware.GetAPIKeyID(c)
	if err := h.keys.RevokeAPIKey(c.Request.Context(), id, callerID); err != nil {
		h.logger.Warn("API key revocation failed", zap.String("id", id.String()), zap.Error(err))
		_ = c.Error(err)
		return
	}

	h.logger.Info("API key revoked", zap.String("id", id.String()), zap.String("revoked_by", callerID.String()))
	c.Status(http.StatusNoContent)
}
