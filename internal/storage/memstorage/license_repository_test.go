package memstorage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLicense(key, email string, expiresAt time.Time) *license.License {
	return &license.License{
		LicenseKey:    key,
		OrderID:       "O-" + key,
		CustomerEmail: email,
		ProductSKU:    "FHIR-DEV-PRO-1Y",
		Status:        license.StatusActive,
		IssuedAt:      time.Now().UTC(),
		ExpiresAt:     expiresAt,
	}
}

func TestLicenseRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewLicenseRepository()

	id, err := repo.Create(ctx, newTestLicense("FHIR-LIC-PRO-AAAAAAAA", "a@example.com", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	byID, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "FHIR-LIC-PRO-AAAAAAAA", byID.LicenseKey)
	assert.False(t, byID.CreatedAt.IsZero())

	byKey, err := repo.FindByKey(ctx, "FHIR-LIC-PRO-AAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, id, byKey.ID)

	_, err = repo.FindByKey(ctx, "missing")
	assert.ErrorIs(t, err, license.ErrNotFound)

	_, err = repo.Create(ctx, newTestLicense("FHIR-LIC-PRO-AAAAAAAA", "b@example.com", time.Now()))
	assert.ErrorIs(t, err, license.ErrDuplicateKey)
}

func TestLicenseRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewLicenseRepository()

	id, err := repo.Create(ctx, newTestLicense("K1", "a@example.com", time.Now()))
	require.NoError(t, err)

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	got.AccessCount = 99
	got.IPAddresses = append(got.IPAddresses, "1.1.1.1")

	again, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, again.AccessCount)
	assert.Empty(t, again.IPAddresses)
}

func TestLicenseRepository_UpdateUsageAbortLeavesRecord(t *testing.T) {
	ctx := context.Background()
	repo := NewLicenseRepository()
	_, err := repo.Create(ctx, newTestLicense("K1", "a@example.com", time.Now()))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = repo.UpdateUsage(ctx, "K1", func(lic *license.License) error {
		lic.AccessCount = 42
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.FindByKey(ctx, "K1")
	require.NoError(t, err)
	assert.Zero(t, got.AccessCount)

	_, err = repo.UpdateUsage(ctx, "missing", func(lic *license.License) error { return nil })
	assert.ErrorIs(t, err, license.ErrNotFound)
}

func TestLicenseRepository_UpdateUsageSerializes(t *testing.T) {
	ctx := context.Background()
	repo := NewLicenseRepository()
	_, err := repo.Create(ctx, newTestLicense("K1", "a@example.com", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.UpdateUsage(ctx, "K1", func(lic *license.License) error {
				lic.RecordAccess(time.Now(), "10.0.0.1", "agent")
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.FindByKey(ctx, "K1")
	require.NoError(t, err)
	assert.EqualValues(t, workers, got.AccessCount)
	assert.Equal(t, []string{"10.0.0.1"}, got.IPAddresses)
}

func TestLicenseRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewLicenseRepository()
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	for i, email := range []string{"a@example.com", "b@example.com", "a@example.com"} {
		_, err := repo.Create(ctx, newTestLicense(string(rune('A'+i)), email, base.AddDate(0, i, 0)))
		require.NoError(t, err)
	}
	ids, _, err := repo.List(ctx, license.ListParams{})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatus(ctx, ids[0].ID, license.StatusRevoked))

	email := "a@example.com"
	got, total, err := repo.List(ctx, license.ListParams{CustomerEmail: &email, SortBy: "expires_at", SortOrder: "ASC"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].LicenseKey)
	assert.Equal(t, "C", got[1].LicenseKey)

	active := license.StatusActive
	_, total, err = repo.List(ctx, license.ListParams{Status: &active})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	page, total, err := repo.List(ctx, license.ListParams{Limit: 1, Offset: 1, SortBy: "expires_at", SortOrder: "ASC"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "B", page[0].LicenseKey)

	empty, _, err := repo.List(ctx, license.ListParams{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLicenseRepository_MarkDelivered(t *testing.T) {
	ctx := context.Background()
	repo := NewLicenseRepository()
	id, err := repo.Create(ctx, newTestLicense("K1", "a@example.com", time.Now()))
	require.NoError(t, err)

	at := time.Date(2026, time.February, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkDelivered(ctx, id, at))

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.DeliveredAt)
	assert.Equal(t, at, *got.DeliveredAt)
}

func TestLicenseRepository_OneLicensePerOrderLine(t *testing.T) {
	ctx := context.Background()
	repo := NewLicenseRepository()

	first := newTestLicense("K1", "a@example.com", time.Now())
	first.OrderID, first.LineIndex = "O9", 0
	id, err := repo.Create(ctx, first)
	require.NoError(t, err)

	again := newTestLicense("K2", "a@example.com", time.Now())
	again.OrderID, again.LineIndex = "O9", 0
	_, err = repo.Create(ctx, again)
	assert.ErrorIs(t, err, license.ErrLineAlreadyIssued)

	next := newTestLicense("K3", "a@example.com", time.Now())
	next.OrderID, next.LineIndex = "O9", 1
	_, err = repo.Create(ctx, next)
	require.NoError(t, err)

	got, err := repo.FindByOrderLine(ctx, "O9", 0)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	_, err = repo.FindByOrderLine(ctx, "O9", 2)
	assert.ErrorIs(t, err, license.ErrNotFound)
}

func TestLicenseRepository_ListUndelivered(t *testing.T) {
	ctx := context.Background()
	repo := NewLicenseRepository()

	sent, err := repo.Create(ctx, newTestLicense("K1", "a@example.com", time.Now()))
	require.NoError(t, err)
	pending, err := repo.Create(ctx, newTestLicense("K2", "a@example.com", time.Now()))
	require.NoError(t, err)
	require.NoError(t, repo.MarkDelivered(ctx, sent, time.Now()))

	got, total, err := repo.List(ctx, license.ListParams{Undelivered: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, got, 1)
	assert.Equal(t, pending, got[0].ID)
}

func TestEventDeduplicator(t *testing.T) {
	ctx := context.Background()
	d := NewEventDeduplicator(time.Hour)

	first, err := d.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := d.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, second)

	require.NoError(t, d.Release(ctx, "evt_1"))
	third, err := d.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, third)
}
