package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/makkenzo/license-issuer-api/internal/ierr"
	"github.com/makkenzo/license-issuer-api/internal/storage/memstorage"
	"github.com/makkenzo/license-issuer-api/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAPIKeyService(t *testing.T) {
	ctx := context.Background()
	repo := memstorage.NewAPIKeyRepository()
	svc := NewAPIKeyService(repo, zap.NewNop())

	first, err := svc.CreateAPIKey(ctx, "ops")
	require.NoError(t, err)

	prefix, ok := util.ParseAPIKey(first.FullKey)
	require.True(t, ok)
	assert.Equal(t, first.Prefix, prefix)

	stored, err := repo.FindByPrefix(ctx, prefix)
	require.NoError(t, err)
	assert.True(t, util.CompareAPIKey(stored.KeyHash, first.FullKey))
	assert.NotContains(t, stored.KeyHash, first.FullKey)

	err = svc.RevokeAPIKey(ctx, first.ID, first.ID)
	assert.ErrorIs(t, err, ierr.ErrConflict, "last enabled key")

	second, err := svc.CreateAPIKey(ctx, "ci")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAPIKey(ctx, first.ID, second.ID))
	assert.ErrorIs(t, svc.RevokeAPIKey(ctx, uuid.New(), second.ID), ierr.ErrNotFound)

	keys, err := svc.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	for _, k := range keys {
		assert.Equal(t, k.ID == second.ID, k.IsEnabled)
		assert.NotContains(t, k.Masked, second.FullKey)
	}
}
