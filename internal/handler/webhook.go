package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/makkenzo/license-issuer-api/internal/domain/order"
	"github.com/makkenzo/license-issuer-api/internal/handler/dto"
	"github.com/makkenzo/license-issuer-api/internal/ierr"
	"github.com/makkenzo/license-issuer-api/internal/metrics"
	"github.com/makkenzo/license-issuer-api/internal/service"
	"go.uber.org/zap"
)

// EventDeduplicator records webhook event ids that have already been handled.
type EventDeduplicator interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type WebhookHandler struct {
	service *service.LicenseService
	dedup   EventDeduplicator
	logger  *zap.Logger
}

func NewWebhookHandler(service *service.LicenseService, dedup EventDeduplicator, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		dedup:   dedup,
		logger:  logger.Named("WebhookHandler"),
	}
}

// Commerce handles signed deliveries from the commerce platform. Only order.paid
// issues licenses; other event types are acknowledged and ignored.
func (h *WebhookHandler) Commerce(c *gin.Context) {
	var evt dto.WebhookEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		h.logger.Warn("Failed to bind webhook envelope", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid").Inc()
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	log := h.logger.With(zap.String("event_id", evt.EventID), zap.String("event_type", evt.EventType))
	resp := dto.WebhookResponse{EventID: evt.EventID, EventType: evt.EventType}

	if evt.EventType != dto.EventOrderPaid {
		log.Debug("Ignoring webhook event type")
		metrics.WebhookEvents.WithLabelValues(eventTypeLabel(evt.EventType), "ignored").Inc()
		resp.Ignored = true
		c.JSON(http.StatusAccepted, resp)
		return
	}

	ctx := c.Request.Context()
	claimed, err := h.dedup.Claim(ctx, evt.EventID)
	if err != nil {
		// Each order line holds at most one license in the store, so a
		// missed dedup only costs a lookup.
		log.Warn("Event de-duplication unavailable, processing anyway", zap.Error(err))
		claimed = true
	}
	if !claimed {
		log.Info("Duplicate webhook delivery acknowledged")
		metrics.WebhookEvents.WithLabelValues(dto.EventOrderPaid, "duplicate").Inc()
		resp.Duplicate = true
		c.JSON(http.StatusOK, resp)
		return
	}

	var ord order.Order
	if err := json.Unmarshal(evt.Data, &ord); err != nil {
		h.release(ctx, log, evt.EventID)
		metrics.WebhookEvents.WithLabelValues(dto.EventOrderPaid, "invalid").Inc()
		_ = c.Error(fmt.Errorf("%w: malformed order payload: %v", ierr.ErrValidation, err))
		return
	}
	if err := binding.Validator.ValidateStruct(&ord); err != nil {
		h.release(ctx, log, evt.EventID)
		metrics.WebhookEvents.WithLabelValues(dto.EventOrderPaid, "invalid").Inc()
		_ = c.Error(err)
		return
	}

	issued, err := h.service.IssueLicenses(ctx, &ord)
	if err != nil {
		h.release(ctx, log, evt.EventID)
		metrics.WebhookEvents.WithLabelValues(dto.EventOrderPaid, "failed").Inc()
		log.Error("License issuance failed", zap.String("order_id", ord.ID), zap.Int("issued_before_failure", len(issued)), zap.Error(err))
		_ = c.Error(err)
		return
	}

	metrics.WebhookEvents.WithLabelValues(dto.EventOrderPaid, "processed").Inc()
	log.Info("Order processed", zap.String("order_id", ord.ID), zap.Int("issued", len(issued)))

	resp.Issued = len(issued)
	resp.Licenses = dto.NewLicenseResponses(issued)
	c.JSON(http.StatusOK, resp)
}

// eventTypeLabel keeps the metric label set bounded; event types come from the caller.
func eventTypeLabel(eventType string) string {
	if eventType == dto.EventOrderPaid {
		return eventType
	}
	return "other"
}

func (h *WebhookHandler) release(ctx context.Context, log *zap.Logger, eventID string) {
	if err := h.dedup.Release(ctx, eventID); err != nil {
		log.Error("Failed to release webhook event claim", zap.Error(err))
	}
}
