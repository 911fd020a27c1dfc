package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/license-issuer-api/internal/service"
	"go.uber.org/zap"
)

type ProductHandler struct {
	licenseService *service.LicenseService
	logger         *zap.Logger
}

func NewProductHandler(licenseService *service.LicenseService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		licenseService: licenseService,
		logger:         logger.Named("ProductHandler"),
	}
}

func (h *ProductHandler) List(c *gin.Context) {
	products, err := h.licenseService.ListProducts(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list products", zap.Error(err))
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}
