package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"github.com/makkenzo/license-issuer-api/internal/domain/order"
	"github.com/makkenzo/license-issuer-api/internal/mailer"
	"github.com/makkenzo/license-issuer-api/internal/metrics"
	"go.uber.org/zap"
)

// Enqueuer is the part of *asynq.Client the delivery enqueuer needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DeliveryEnqueuer hands freshly issued licenses to the worker for email delivery.
type DeliveryEnqueuer struct {
	client   Enqueuer
	maxRetry int
	logger   *zap.Logger
}

func NewDeliveryEnqueuer(client Enqueuer, maxRetry int, logger *zap.Logger) *DeliveryEnqueuer {
	return &DeliveryEnqueuer{
		client:   client,
		maxRetry: maxRetry,
		logger:   logger.Named("DeliveryEnqueuer"),
	}
}

func (e *DeliveryEnqueuer) NotifyLicenseIssued(ctx context.Context, lic *license.License, ord *order.Order) error {
	if err := e.EnqueueDelivery(ctx, lic.ID); err != nil {
		return err
	}
	e.logger.Debug("Delivery requested for order", zap.String("license_id", lic.ID.String()), zap.String("order_id", ord.ID))
	return nil
}

// EnqueueDelivery queues the email for licenseID. A delivery already queued for
// the same license is not an error.
func (e *DeliveryEnqueuer) EnqueueDelivery(ctx context.Context, licenseID uuid.UUID) error {
	task, err := NewLicenseDeliverTask(licenseID, asynq.MaxRetry(e.maxRetry), asynq.Queue(QueueCritical))
	if err != nil {
		return fmt.Errorf("failed to build delivery task: %w", err)
	}

	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			e.logger.Debug("Delivery already queued", zap.String("license_id", licenseID.String()))
			return nil
		}
		return fmt.Errorf("failed to enqueue delivery for license %s: %w", licenseID, err)
	}

	e.logger.Info("License delivery queued",
		zap.String("license_id", licenseID.String()),
		zap.String("task_id", info.ID),
	)
	return nil
}

type LicenseDeliveryHandler struct {
	repo   license.Repository
	mailer mailer.Mailer
	now    func() time.Time
	logger *zap.Logger
}

func NewLicenseDeliveryHandler(repo license.Repository, m mailer.Mailer, logger *zap.Logger) *LicenseDeliveryHandler {
	return &LicenseDeliveryHandler{
		repo:   repo,
		mailer: m,
		now:    time.Now,
		logger: logger.Named("LicenseDeliveryHandler"),
	}
}

func (h *LicenseDeliveryHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeLicenseDeliver {
		return fmt.Errorf("unexpected task type: %s: %w", t.Type(), asynq.SkipRetry)
	}

	var p DeliverLicensePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.logger.Error("Failed to unmarshal payload for license delivery task", zap.Error(err), zap.ByteString("payload", t.Payload()))
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(zap.String("license_id", p.LicenseID.String()))

	lic, err := h.repo.FindByID(ctx, p.LicenseID)
	if err != nil {
		if errors.Is(err, license.ErrNotFound) {
			log.Warn("License to deliver no longer exists")
			return fmt.Errorf("license %s not found: %w", p.LicenseID, asynq.SkipRetry)
		}
		return fmt.Errorf("repository error loading license %s: %w", p.LicenseID, err)
	}

	if lic.DeliveredAt != nil {
		log.Info("License already delivered, skipping", zap.Time("delivered_at", *lic.DeliveredAt))
		return nil
	}

	msg, err := mailer.LicenseIssuedMessage(lic)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := h.mailer.Send(ctx, msg); err != nil {
		metrics.DeliveryFailures.Inc()
		log.Warn("License email failed, will retry", zap.Error(err))
		return err
	}

	if err := h.repo.MarkDelivered(ctx, lic.ID, h.now().UTC()); err != nil {
		log.Error("License emailed but delivery could not be recorded", zap.Error(err))
		return fmt.Errorf("failed to mark license %s delivered: %w", lic.ID, err)
	}

	log.Info("License delivered", zap.String("to", lic.CustomerEmail))
	return nil
}
