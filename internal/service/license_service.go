package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"github.com/makkenzo/license-issuer-api/internal/domain/order"
	"github.com/makkenzo/license-issuer-api/internal/domain/product"
	"github.com/makkenzo/license-issuer-api/internal/handler/dto"
	"github.com/makkenzo/license-issuer-api/internal/ierr"
	"github.com/makkenzo/license-issuer-api/internal/mailer"
	"github.com/makkenzo/license-issuer-api/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultMaxKeyAttempts   = 5
	DefaultExpiringSoonDays = 30
	summaryPageSize         = 500
)

// Notifier delivers a freshly issued license to its customer.
type Notifier interface {
	NotifyLicenseIssued(ctx context.Context, lic *license.License, ord *order.Order) error
}

type LicenseService struct {
	repo           license.Repository
	catalog        product.Catalog
	notifier       Notifier
	tokens         *ActivationTokenSigner
	logger         *zap.Logger
	now            func() time.Time
	maxKeyAttempts int
}

type LicenseServiceOption func(*LicenseService)

func WithClock(now func() time.Time) LicenseServiceOption {
	return func(s *LicenseService) { s.now = now }
}

func WithActivationTokens(signer *ActivationTokenSigner) LicenseServiceOption {
	return func(s *LicenseService) { s.tokens = signer }
}

func NewLicenseService(repo license.Repository, catalog product.Catalog, notifier Notifier, logger *zap.Logger, opts ...LicenseServiceOption) *LicenseService {
	s := &LicenseService{
		repo:           repo,
		catalog:        catalog,
		notifier:       notifier,
		logger:         logger.Named("LicenseService"),
		now:            time.Now,
		maxKeyAttempts: defaultMaxKeyAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueLicenses creates one license per eligible line item of a paid order.
//
// Unknown or missing SKUs and items that do not deliver a license key are skipped.
// A storage failure stops issuance and is returned together with the licenses
// persisted so far. Each order line holds at most one license: a redelivery of the
// order, including one racing the first delivery, gets the stored license back.
// Licenses not yet emailed are handed to the notifier again on every pass.
func (s *LicenseService) IssueLicenses(ctx context.Context, ord *order.Order) ([]*license.License, error) {
	if ord == nil || strings.TrimSpace(ord.ID) == "" {
		return nil, fmt.Errorf("%w: order id is required", ierr.ErrValidation)
	}
	if len(ord.LineItems) == 0 {
		return nil, fmt.Errorf("%w: order %s has no line items", ierr.ErrValidation, ord.ID)
	}

	log := s.logger.With(zap.String("order_id", ord.ID))
	log.Info("Issuing licenses for order", zap.Int("line_items", len(ord.LineItems)))

	previous, err := s.previouslyIssued(ctx, ord.ID)
	if err != nil {
		return nil, err
	}

	issuedAt := s.now().UTC()
	issued := make([]*license.License, 0, len(ord.LineItems))

	for i, item := range ord.LineItems {
		itemLog := log.With(zap.Int("line", i), zap.String("sku", item.SKU))

		sku := strings.TrimSpace(item.SKU)
		if sku == "" {
			itemLog.Warn("Skipping line item without SKU")
			metrics.IssueSkipped.WithLabelValues("missing_sku").Inc()
			continue
		}

		p, err := s.catalog.GetBySKU(ctx, sku)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				itemLog.Warn("Skipping line item with unknown SKU")
				metrics.IssueSkipped.WithLabelValues("unknown_sku").Inc()
			} else {
				itemLog.Error("Skipping line item, product lookup failed", zap.Error(err))
				metrics.IssueSkipped.WithLabelValues("catalog_error").Inc()
			}
			continue
		}

		if !p.IssuesLicenseKey() {
			itemLog.Debug("Line item does not deliver a license key",
				zap.Bool("digital", p.Digital), zap.String("deliverable", string(p.Deliverable.Kind)))
			metrics.IssueSkipped.WithLabelValues("not_license_key").Inc()
			continue
		}

		lic, created := previous[i], false
		if lic != nil {
			itemLog.Info("License already issued for line item, reusing", zap.String("license_id", lic.ID.String()))
		} else {
			lic, created, err = s.createLicense(ctx, ord, i, p, issuedAt)
			if err != nil {
				itemLog.Error("Failed to persist license, aborting issuance", zap.Error(err))
				return issued, fmt.Errorf("failed to issue license for %s on order %s: %w", sku, ord.ID, err)
			}
		}
		if lic.ProductSKU != sku {
			itemLog.Warn("Stored license for line item has a different SKU", zap.String("stored_sku", lic.ProductSKU))
		}
		if created {
			metrics.LicensesIssued.WithLabelValues(string(lic.Category), string(lic.Edition)).Inc()
		}

		if lic.DeliveredAt == nil {
			s.notify(ctx, itemLog, lic, ord)
		}

		issued = append(issued, lic)
	}

	log.Info("Order issuance finished", zap.Int("issued", len(issued)))
	return issued, nil
}

// createLicense stores a license for line lineIndex of ord. When another delivery of
// the same order stored that line first, its license is returned with created false.
func (s *LicenseService) createLicense(ctx context.Context, ord *order.Order, lineIndex int, p *product.Product, issuedAt time.Time) (*license.License, bool, error) {
	maxUsers := p.Deliverable.MaxUsers
	if maxUsers <= 0 {
		maxUsers = 1
	}

	for attempt := 1; attempt <= s.maxKeyAttempts; attempt++ {
		key, err := license.GenerateKey(p.Category, p.Edition)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ierr.ErrInternalServer, err)
		}

		newLicense := &license.License{
			LicenseKey:      key,
			OrderID:         ord.ID,
			LineIndex:       lineIndex,
			CustomerID:      ord.CustomerID,
			CustomerEmail:   strings.TrimSpace(ord.CustomerEmail),
			ProductSKU:      p.SKU,
			ProductName:     p.Name,
			Category:        p.Category,
			Edition:         p.Edition,
			Term:            p.Term,
			Features:        append([]string{}, p.Features...),
			DeliverableKind: p.Deliverable.Kind,
			Status:          license.StatusActive,
			IssuedAt:        issuedAt,
			ExpiresAt:       license.CalculateExpiration(p.Term, issuedAt),
			MaxUsers:        maxUsers,
			IPAddresses:     []string{},
			UserAgents:      []string{},
		}

		insertedID, err := s.repo.Create(ctx, newLicense)
		if err != nil {
			if errors.Is(err, license.ErrDuplicateKey) {
				s.logger.Warn("License key collision, regenerating", zap.String("key", key), zap.Int("attempt", attempt))
				continue
			}
			if errors.Is(err, license.ErrLineAlreadyIssued) {
				existing, findErr := s.repo.FindByOrderLine(ctx, ord.ID, lineIndex)
				if findErr != nil {
					return nil, false, fmt.Errorf("failed to load license stored concurrently for order %s line %d: %w", ord.ID, lineIndex, findErr)
				}
				s.logger.Info("Order line issued by a concurrent delivery, reusing",
					zap.String("order_id", ord.ID), zap.Int("line", lineIndex), zap.String("license_id", existing.ID.String()))
				return existing, false, nil
			}
			return nil, false, fmt.Errorf("repository error during license creation: %w", err)
		}

		created, err := s.repo.FindByID(ctx, insertedID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to retrieve created license (id: %s): %w", insertedID, err)
		}

		s.logger.Info("License created", zap.String("id", created.ID.String()), zap.String("key", created.LicenseKey),
			zap.Time("expires_at", created.ExpiresAt))
		return created, true, nil
	}

	return nil, false, ierr.ErrKeyGenerationLimit
}

// notify schedules delivery of lic. Failures are logged and counted; the license stays
// issued and the worker's delivery sweep schedules it again later.
func (s *LicenseService) notify(ctx context.Context, log *zap.Logger, lic *license.License, ord *order.Order) {
	if !mailer.IsDeliverableAddress(lic.CustomerEmail) {
		log.Warn("Order has no usable customer email, license will not be emailed",
			zap.String("license_id", lic.ID.String()), zap.String("customer_email", lic.CustomerEmail))
		metrics.DeliveryFailures.Inc()
		return
	}
	if err := s.notifier.NotifyLicenseIssued(ctx, lic, ord); err != nil {
		log.Error("Failed to schedule license delivery", zap.String("license_id", lic.ID.String()), zap.Error(err))
		metrics.DeliveryFailures.Inc()
	}
}

// previouslyIssued maps line index to the license an earlier delivery stored for it.
func (s *LicenseService) previouslyIssued(ctx context.Context, orderID string) (map[int]*license.License, error) {
	existing, _, err := s.repo.List(ctx, license.ListParams{OrderID: &orderID})
	if err != nil {
		return nil, fmt.Errorf("failed to look up licenses already issued for order %s: %w", orderID, err)
	}
	out := make(map[int]*license.License, len(existing))
	for _, lic := range existing {
		out[lic.LineIndex] = lic
	}
	return out, nil
}

func (s *LicenseService) GetLicenseByID(ctx context.Context, id uuid.UUID) (*license.License, error) {
	lic, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, license.ErrNotFound) {
			return nil, fmt.Errorf("%w: license %s", ierr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("repository error fetching license %s: %w", id, err)
	}
	return lic, nil
}

func (s *LicenseService) ListLicenses(ctx context.Context, req *dto.ListLicensesRequest) ([]*license.License, int64, error) {
	params := license.ListParams{
		Status:        req.Status,
		CustomerEmail: req.CustomerEmail,
		ProductSKU:    req.ProductSKU,
		OrderID:       req.OrderID,
		SortBy:        req.SortBy,
		SortOrder:     req.SortOrder,
		Limit:         req.Limit,
		Offset:        req.Offset,
	}

	licenses, total, err := s.repo.List(ctx, params)
	if err != nil {
		s.logger.Error("Failed to list licenses", zap.Error(err))
		return nil, 0, fmt.Errorf("repository error listing licenses: %w", err)
	}
	return licenses, total, nil
}

// UpdateLicenseStatus revokes or reinstates a license. Expiry is derived from
// expires_at and cannot be set by hand.
func (s *LicenseService) UpdateLicenseStatus(ctx context.Context, id uuid.UUID, status license.LicenseStatus) error {
	if status == license.StatusExpired {
		return fmt.Errorf("%w: status %q is derived from the expiration date", ierr.ErrValidation, status)
	}

	s.logger.Info("Updating license status", zap.String("id", id.String()), zap.String("status", string(status)))
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, license.ErrNotFound) {
			return fmt.Errorf("%w: license %s", ierr.ErrNotFound, id)
		}
		return fmt.Errorf("%w: %v", ierr.ErrUpdateFailed, err)
	}
	return nil
}

func (s *LicenseService) ListProducts(ctx context.Context) ([]*product.Product, error) {
	products, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog error listing products: %w", err)
	}
	return products, nil
}

// GetDashboardSummary aggregates every license by effective status, category and SKU,
// and reports active licenses expiring within windowDays.
func (s *LicenseService) GetDashboardSummary(ctx context.Context, windowDays int) (*dto.DashboardSummaryResponse, error) {
	if windowDays <= 0 {
		windowDays = DefaultExpiringSoonDays
	}
	now := s.now().UTC()
	horizon := now.AddDate(0, 0, windowDays)

	summary := &dto.DashboardSummaryResponse{
		StatusCounts:   make(map[license.LicenseStatus]int64),
		CategoryCounts: make(map[product.Category]int64),
		ProductCounts:  make(map[string]int64),
		ExpiringSoon:   dto.ExpiringSoonSummary{PeriodDays: windowDays},
	}

	params := license.ListParams{SortBy: "created_at", SortOrder: "ASC", Limit: summaryPageSize}
	for {
		page, total, err := s.repo.List(ctx, params)
		if err != nil {
			s.logger.Error("Failed to list licenses for dashboard summary", zap.Error(err))
			return nil, fmt.Errorf("repository error building dashboard summary: %w", err)
		}
		summary.TotalLicenses = total

		for _, lic := range page {
			summary.StatusCounts[lic.EffectiveStatus(now)]++
			summary.CategoryCounts[lic.Category]++
			summary.ProductCounts[lic.ProductSKU]++
			if lic.ActivatedAt != nil {
				summary.ActivatedCount++
			}

			if lic.EffectiveState(now) == license.StateActive && !lic.ExpiresAt.After(horizon) {
				summary.ExpiringSoon.Count++
				next := summary.ExpiringSoon.NextToExpire
				if next == nil || lic.ExpiresAt.Before(next.ExpiresAt) {
					summary.ExpiringSoon.NextToExpire = &dto.LicenseInfo{
						LicenseKey:  lic.LicenseKey,
						ExpiresAt:   lic.ExpiresAt,
						ProductName: lic.ProductName,
					}
				}
			}
		}

		if len(page) < params.Limit {
			break
		}
		params.Offset += params.Limit
	}

	return summary, nil
}
