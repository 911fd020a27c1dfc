package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/makkenzo/license-issuer-api/internal/domain/apikey"
	"github.com/makkenzo/license-issuer-api/internal/ierr"
	"github.com/makkenzo/license-issuer-api/internal/util"
)

const (
	apiKeyHeader         = "X-API-Key"
	apiKeyIDContextKey   = "apiKeyID"
	lastUsedWriteTimeout = 5 * time.Second
)

func APIKeyAuthMiddleware(apiKeyRepo apikey.Repository, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("APIKeyAuthMiddleware")
	return func(c *gin.Context) {
		apiKeyFromHeader := c.GetHeader(apiKeyHeader)
		if apiKeyFromHeader == "" {
			log.Debug("API Key header is missing", zap.String("header", apiKeyHeader))
			_ = c.Error(fmt.Errorf("%w: api key required", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		prefix, ok := util.ParseAPIKey(apiKeyFromHeader)
		if !ok {
			log.Warn("Invalid API key format received")
			_ = c.Error(fmt.Errorf("%w: invalid api key format", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		keyRecord, err := apiKeyRepo.FindByPrefix(c.Request.Context(), prefix)
		if err != nil {
			if errors.Is(err, apikey.ErrAPIKeyNotFound) {
				log.Warn("API key not found or disabled", zap.String("prefix", prefix))
				_ = c.Error(fmt.Errorf("%w: invalid or disabled api key", ierr.ErrForbidden))
				c.Abort()
				return
			}

			log.Error("Failed to query API key repository", zap.String("prefix", prefix), zap.Error(err))
			_ = c.Error(fmt.Errorf("api key lookup failed: %w", err))
			c.Abort()
			return
		}

		if !util.CompareAPIKey(keyRecord.KeyHash, apiKeyFromHeader) {
			log.Warn("API key hash mismatch", zap.String("prefix", prefix), zap.String("key_id", keyRecord.ID.String()))
			_ = c.Error(fmt.Errorf("%w: invalid or disabled api key", ierr.ErrForbidden))
			c.Abort()
			return
		}

		go func(id uuid.UUID, repo apikey.Repository, l *zap.Logger) {
			ctxAsync, cancel := context.WithTimeout(context.Background(), lastUsedWriteTimeout)
			defer cancel()
			errUpdate := repo.UpdateLastUsed(ctxAsync, id, time.Now().UTC())
			if errUpdate != nil {
				l.Error("Failed to update API key last used time asynchronously", zap.String("key_id", id.String()), zap.Error(errUpdate))
			}
		}(keyRecord.ID, apiKeyRepo, log)

		log.Debug("API key validated successfully", zap.String("prefix", prefix), zap.String("key_id", keyRecord.ID.String()))
		c.Set(apiKeyIDContextKey, keyRecord.ID)
		c.Next()
	}
}

// GetAPIKeyID returns the id of the admin key that authenticated the request.
func GetAPIKeyID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(apiKeyIDContextKey)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := value.(uuid.UUID)
	return id, ok
}
