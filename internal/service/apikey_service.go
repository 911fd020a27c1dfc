package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/makkenzo/license-issuer-api/internal/domain/apikey"
	"github.com/makkenzo/license-issuer-api/internal/handler/dto"
	"github.com/makkenzo/license-issuer-api/internal/ierr"
	"github.com/makkenzo/license-issuer-api/internal/util"
	"go.uber.org/zap"
)

type APIKeyService struct {
	repo   apikey.Repository
	logger *zap.Logger
}

func NewAPIKeyService(repo apikey.Repository, logger *zap.Logger) *APIKeyService {
	return &APIKeyService{
		repo:   repo,
		logger: logger.Named("APIKeyService"),
	}
}

// CreateAPIKey stores a new admin key. The full key is only ever returned here.
func (s *APIKeyService) CreateAPIKey(ctx context.Context, description string) (*dto.CreateAPIKeyResponse, error) {
	s.logger.Info("Generating new API key", zap.String("description", description))

	fullKey, prefix, keyHash, err := util.GenerateAPIKey()
	if err != nil {
		s.logger.Error("Failed to generate api key components", zap.Error(err))
		return nil, fmt.Errorf("%w: failed generating key: %v", ierr.ErrInternalServer, err)
	}

	insertedID, err := s.repo.Create(ctx, &apikey.APIKey{
		KeyHash:     keyHash,
		Prefix:      prefix,
		Description: description,
		IsEnabled:   true,
	})
	if err != nil {
		s.logger.Error("Failed to save new api key", zap.Error(err))
		return nil, fmt.Errorf("repository error creating api key: %w", err)
	}

	s.logger.Info("API key created successfully", zap.String("id", insertedID.String()), zap.String("prefix", prefix))
	return &dto.CreateAPIKeyResponse{
		ID:          insertedID,
		FullKey:     fullKey,
		Prefix:      prefix,
		Description: description,
	}, nil
}

func (s *APIKeyService) ListAPIKeys(ctx context.Context) ([]*dto.APIKeyResponse, error) {
	s.logger.Debug("Listing API keys")
	keys, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list api keys from repository", zap.Error(err))
		return nil, fmt.Errorf("repository error listing api keys: %w", err)
	}

	responses := make([]*dto.APIKeyResponse, len(keys))
	for i, key := range keys {
		responses[i] = &dto.APIKeyResponse{
			ID:          key.ID,
			Prefix:      key.Prefix,
			Masked:      key.Masked(),
			Description: key.Description,
			IsEnabled:   key.IsEnabled,
			CreatedAt:   key.CreatedAt,
			LastUsedAt:  key.LastUsedAt,
		}
	}
	return responses, nil
}

// RevokeAPIKey disables a key. Revoking the last enabled key is refused so the
// admin API cannot be locked out; requestedBy is the key making the call.
func (s *APIKeyService) RevokeAPIKey(ctx context.Context, id, requestedBy uuid.UUID) error {
	s.logger.Info("Attempting to revoke API key", zap.String("id", id.String()), zap.String("requested_by", requestedBy.String()))

	keys, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("repository error listing api keys: %w", err)
	}
	var target *apikey.APIKey
	enabled := 0
	for _, k := range keys {
		if k.IsEnabled {
			enabled++
		}
		if k.ID == id {
			target = k
		}
	}
	if target == nil {
		return fmt.Errorf("%w: api key %s", ierr.ErrNotFound, id)
	}
	if target.IsEnabled && enabled <= 1 {
		s.logger.Warn("Refusing to revoke the last enabled API key", zap.String("id", id.String()))
		return fmt.Errorf("%w: %v", ierr.ErrConflict, apikey.ErrLastActiveKey)
	}
	if id == requestedBy {
		s.logger.Info("API key is revoking itself", zap.String("id", id.String()))
	}

	if err := s.repo.Disable(ctx, id); err != nil {
		if errors.Is(err, apikey.ErrAPIKeyNotFound) {
			return fmt.Errorf("%w: api key %s", ierr.ErrNotFound, id)
		}
		s.logger.Error("Failed to revoke api key via repository", zap.String("id", id.String()), zap.Error(err))
		return fmt.Errorf("repository error revoking api key %s: %w", id, err)
	}
	s.logger.Info("API key revoked successfully", zap.String("id", id.String()))
	return nil
}
