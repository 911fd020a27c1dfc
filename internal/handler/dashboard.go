package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/license-issuer-api/internal/handler/dto"
	"github.com/makkenzo/license-issuer-api/internal/service"
	"go.uber.org/zap"
)

type DashboardHandler struct {
	licenseService *service.LicenseService
	logger         *zap.Logger
}

func NewDashboardHandler(licenseService *service.LicenseService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		licenseService: licenseService,
		logger:         logger.Named("DashboardHandler"),
	}
}

// GetSummary godoc
// @Summary      Get dashboard summary
// @Description  Aggregated license counts by effective status, category and SKU, plus licenses expiring within 30 days.
// @Tags         dashboard
// @Produce      json
// @Param        expiring_within_days query int false "Expiring-soon window in days (1-365)" default(30)
// @Security     ApiKeyAuth
// @Success      200 {object} dto.DashboardSummaryResponse "Dashboard summary data"
// @Failure      400 {object} dto.APIErrorResponse "Invalid window"
// @Failure      500 {object} dto.APIErrorResponse "Internal Server Error"
// @Router       /dashboard/summary [get]
func (h *DashboardHandler) GetSummary(c *gin.Context) {
	var req dto.DashboardSummaryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid dashboard summary query", zap.Error(err))
		_ = c.Error(err)
		return
	}

	summary, err := h.licenseService.GetDashboardSummary(c.Request.Context(), req.ExpiringWithinDays)
	if err != nil {
		h.logger.Error("Failed to get dashboard summary from service", zap.Error(err))
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
