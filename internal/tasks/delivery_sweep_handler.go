package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"github.com/makkenzo/license-issuer-api/internal/mailer"
	"go.uber.org/zap"
)

const deliverySweepPageSize = 500

// DeliveryScheduler queues the delivery email for one license.
type DeliveryScheduler interface {
	EnqueueDelivery(ctx context.Context, licenseID uuid.UUID) error
}

// DeliverySweepHandler re-queues delivery for licenses that were issued but never
// emailed, for example because the queue was unreachable at issuance time.
// Licenses younger than grace are left to the delivery already in flight.
type DeliverySweepHandler struct {
	repo      license.Repository
	scheduler DeliveryScheduler
	grace     time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewDeliverySweepHandler(repo license.Repository, scheduler DeliveryScheduler, grace time.Duration, logger *zap.Logger) *DeliverySweepHandler {
	return &DeliverySweepHandler{
		repo:      repo,
		scheduler: scheduler,
		grace:     grace,
		now:       time.Now,
		logger:    logger.Named("DeliverySweepHandler"),
	}
}

func (h *DeliverySweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeDeliverySweep {
		return fmt.Errorf("unexpected task type: %s: %w", t.Type(), asynq.SkipRetry)
	}

	requeued, err := h.sweep(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		h.logger.Info("Re-queued undelivered licenses", zap.Int("count", requeued))
	}
	return nil
}

func (h *DeliverySweepHandler) sweep(ctx context.Context) (int, error) {
	cutoff := h.now().UTC().Add(-h.grace)
	active := license.StatusActive
	params := license.ListParams{
		Status:      &active,
		Undelivered: true,
		SortBy:      "created_at",
		SortOrder:   "ASC",
		Limit:       deliverySweepPageSize,
	}

	requeued := 0
	for {
		page, _, err := h.repo.List(ctx, params)
		if err != nil {
			return requeued, fmt.Errorf("repository error listing undelivered licenses: %w", err)
		}

		for _, lic := range page {
			if lic.CreatedAt.After(cutoff) {
				// Oldest first, so the rest are still inside the grace period.
				return requeued, nil
			}
			if !mailer.IsDeliverableAddress(lic.CustomerEmail) {
				continue
			}
			if err := h.scheduler.EnqueueDelivery(ctx, lic.ID); err != nil {
				h.logger.Warn("Failed to re-queue license delivery", zap.String("license_id", lic.ID.String()), zap.Error(err))
				return requeued, err
			}
			requeued++
		}

		if len(page) < params.Limit {
			return requeued, nil
		}
		params.Offset += params.Limit
	}
}
