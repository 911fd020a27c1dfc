package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/makkenzo/license-issuer-api/internal/handler/dto"
	"github.com/makkenzo/license-issuer-api/internal/ierr"
	"github.com/makkenzo/license-issuer-api/internal/service"
	"go.uber.org/zap"
)

type LicenseHandler struct {
	service *service.LicenseService
	logger  *zap.Logger
}

func NewLicenseHandler(service *service.LicenseService, logger *zap.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.Named("LicenseHandler"),
	}
}

// Activate answers 200 for every activation outcome; rejections carry valid=false.
func (h *LicenseHandler) Activate(c *gin.Context) {
	var req dto.ActivateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind activation request", zap.Error(err))
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.Request.UserAgent()
	}

	result, err := h.service.Activate(c.Request.Context(), req.LicenseKey, service.RequesterInfo{
		IPAddress: c.ClientIP(),
		UserAgent: userAgent,
	})
	if err != nil {
		h.logger.Error("Service failed to activate license", zap.Error(err))
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, newActivateResponse(result))
}

func newActivateResponse(result *service.ActivationResult) *dto.ActivateLicenseResponse {
	if !result.Valid {
		return &dto.ActivateLicenseResponse{
			Valid:     false,
			ErrorKind: string(result.ErrorKind),
			Reason:    result.Reason,
		}
	}
	return &dto.ActivateLicenseResponse{
		Valid:    true,
		License:  dto.NewLicenseResponse(result.License),
		Features: result.Features,
		Deliverables: &dto.DeliverablesResponse{
			Kind:     result.Deliverables.Kind,
			MaxUsers: result.Deliverables.MaxUsers,
		},
		ActivationToken: result.Token,
	}
}

func (h *LicenseHandler) List(c *gin.Context) {
	h.logger.Debug("Received request to list licenses")
	var req dto.ListLicensesRequest

	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Failed to bind or validate query parameters", zap.Error(err))
		_ = c.Error(err)
		return
	}

	licenses, totalCount, err := h.service.ListLicenses(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.PaginatedLicenseResponse{
		Licenses:   dto.NewLicenseResponses(licenses),
		TotalCount: totalCount,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
}

func (h *LicenseHandler) GetByID(c *gin.Context) {
	id, ok := pathUUID(c, "license", h.logger)
	if !ok {
		return
	}

	lic, err := h.service.GetLicenseByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Info("License lookup failed", zap.String("id", id.String()), zap.Error(err))
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewLicenseResponse(lic))
}

func (h *LicenseHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathUUID(c, "license", h.logger)
	if !ok {
		return
	}

	var req dto.UpdateLicenseStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind or validate status update request body", zap.String("id", id.String()), zap.Error(err))
		_ = c.Error(err)
		return
	}

	if err := h.service.UpdateLicenseStatus(c.Request.Context(), id, *req.Status); err != nil {
		h.logger.Error("Service failed to update license status", zap.String("id", id.String()), zap.Error(err))
		_ = c.Error(err)
		return
	}

	h.logger.Info("License status updated", zap.String("id", id.String()), zap.String("new_status", string(*req.Status)))
	c.JSON(http.StatusOK, gin.H{"message": "License status updated successfully"})
}

// pathUUID reads the :id route parameter and reports a validation error when it is malformed.
func pathUUID(c *gin.Context, resource string, logger *zap.Logger) (uuid.UUID, bool) {
	raw := c.Param("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		logger.Warn("Invalid UUID in path", zap.String("resource", resource), zap.String("id_param", raw), zap.Error(err))
		_ = c.Error(fmt.Errorf("%w: invalid %s id format", ierr.ErrValidation, resource))
		return uuid.Nil, false
	}
	return id, true
}
