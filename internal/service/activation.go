package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"github.com/makkenzo/license-issuer-api/internal/domain/product"
	"github.com/makkenzo/license-issuer-api/internal/metrics"
	"go.uber.org/zap"
)

type ActivationErrorKind string

const (
	KeyNotFound     ActivationErrorKind = "KeyNotFound"
	LicenseInactive ActivationErrorKind = "LicenseInactive"
	LicenseExpired  ActivationErrorKind = "LicenseExpired"
)

type RequesterInfo struct {
	IPAddress string
	UserAgent string
}

type Deliverables struct {
	Kind     product.DeliverableKind
	MaxUsers int
}

// ActivationResult is either a valid activation carrying the updated license,
// or a rejection with ErrorKind and Reason set. Rejections are not errors.
type ActivationResult struct {
	Valid        bool
	License      *license.License
	Features     []string
	Deliverables Deliverables
	Token        string
	ErrorKind    ActivationErrorKind
	Reason       string
}

type activationRejection struct {
	kind   ActivationErrorKind
	reason string
}

func (r *activationRejection) Error() string { return r.reason }

// Activate validates a license key and records the usage event.
// The check-and-update runs under the repository's per-key exclusivity,
// so concurrent activations of one key never lose an increment.
func (s *LicenseService) Activate(ctx context.Context, key string, info RequesterInfo) (*ActivationResult, error) {
	key = strings.TrimSpace(key)
	log := s.logger.With(zap.String("license_key", key))

	if key == "" {
		return s.reject(log, KeyNotFound, "License key not found"), nil
	}

	now := s.now().UTC()
	updated, err := s.repo.UpdateUsage(ctx, key, func(lic *license.License) error {
		switch lic.EffectiveState(now) {
		case license.StateInactive:
			return &activationRejection{kind: LicenseInactive, reason: fmt.Sprintf("License is %s", lic.Status)}
		case license.StateExpired:
			return &activationRejection{kind: LicenseExpired, reason: fmt.Sprintf("License expired on %s", lic.ExpiresAt.Format("2006-01-02"))}
		}
		lic.RecordAccess(now, strings.TrimSpace(info.IPAddress), strings.TrimSpace(info.UserAgent))
		return nil
	})
	if err != nil {
		var rejection *activationRejection
		switch {
		case errors.Is(err, license.ErrNotFound):
			return s.reject(log, KeyNotFound, "License key not found"), nil
		case errors.As(err, &rejection):
			return s.reject(log, rejection.kind, rejection.reason), nil
		default:
			log.Error("Failed to record license activation", zap.Error(err))
			metrics.Activations.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to record license activation: %w", err)
		}
	}

	result := &ActivationResult{
		Valid:    true,
		License:  updated,
		Features: updated.Features,
		Deliverables: Deliverables{
			Kind:     updated.DeliverableKind,
			MaxUsers: updated.MaxUsers,
		},
	}

	if s.tokens != nil {
		token, err := s.tokens.Sign(updated, now)
		if err != nil {
			log.Error("Failed to sign activation token", zap.Error(err))
		} else {
			result.Token = token
		}
	}

	metrics.Activations.WithLabelValues("valid").Inc()
	log.Info("License activated", zap.Int64("access_count", updated.AccessCount), zap.String("ip", info.IPAddress))
	return result, nil
}

func (s *LicenseService) reject(log *zap.Logger, kind ActivationErrorKind, reason string) *ActivationResult {
	metrics.Activations.WithLabelValues(string(kind)).Inc()
	log.Info("License activation rejected", zap.String("kind", string(kind)), zap.String("reason", reason))
	return &ActivationResult{Valid: false, ErrorKind: kind, Reason: reason}
}
