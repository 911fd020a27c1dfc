package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"github.com/makkenzo/license-issuer-api/internal/metrics"
	"go.uber.org/zap"
)

const lapsedScanPageSize = 1000

// LapsedLicenseHandler counts licenses that are still stored as active but whose
// expiry has passed. Expiry stays derived at read time; the scan never rewrites status.
type LapsedLicenseHandler struct {
	repo   license.Repository
	now    func() time.Time
	logger *zap.Logger
}

func NewLapsedLicenseHandler(repo license.Repository, logger *zap.Logger) *LapsedLicenseHandler {
	return &LapsedLicenseHandler{
		repo:   repo,
		now:    time.Now,
		logger: logger.Named("LapsedLicenseHandler"),
	}
}

func (h *LapsedLicenseHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeLapsedScan {
		return fmt.Errorf("unexpected task type: %s", t.Type())
	}

	var p LapsedScanPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.logger.Error("Failed to unmarshal payload for lapsed license scan", zap.Error(err), zap.ByteString("payload", t.Payload()))
		return fmt.Errorf("invalid payload: %v", err)
	}

	h.logger.Info("Processing lapsed license scan...")

	lapsed, processed, err := h.scan(ctx)
	if err != nil {
		return err
	}

	metrics.LapsedLicenses.Set(float64(lapsed))
	h.logger.Info("Lapsed license scan finished", zap.Int("processed_licenses", processed), zap.Int("lapsed", lapsed))
	return nil
}

func (h *LapsedLicenseHandler) scan(ctx context.Context) (lapsed, processed int, err error) {
	now := h.now().UTC()
	active := license.StatusActive
	params := license.ListParams{
		Status:    &active,
		SortBy:    "expires_at",
		SortOrder: "ASC",
		Limit:     lapsedScanPageSize,
	}

	for {
		page, total, err := h.repo.List(ctx, params)
		if err != nil {
			h.logger.Error("Failed to list active licenses for lapsed scan", zap.Error(err))
			return 0, 0, fmt.Errorf("repository error listing active licenses: %w", err)
		}
		processed += len(page)

		for _, lic := range page {
			if lic.EffectiveState(now) != license.StateExpired {
				// Sorted by expiry, so everything after this is still valid.
				return lapsed, processed, nil
			}
			lapsed++
		}

		if len(page) < params.Limit {
			break
		}
		params.Offset += params.Limit
		if int64(params.Offset) >= total {
			break
		}
	}
	return lapsed, processed, nil
}
