package memstorage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/license-issuer-api/internal/domain/license"
)

// LicenseRepository keeps licenses in process memory. A single mutex
// serializes every write, which also gives UpdateUsage its exclusivity.
type LicenseRepository struct {
	mu          sync.RWMutex
	byID        map[uuid.UUID]*license.License
	byKey       map[string]uuid.UUID
	byOrderLine map[orderLine]uuid.UUID
	now         func() time.Time
}

type orderLine struct {
	orderID string
	index   int
}

func NewLicenseRepository() *LicenseRepository {
	return &LicenseRepository{
		byID:        make(map[uuid.UUID]*license.License),
		byKey:       make(map[string]uuid.UUID),
		byOrderLine: make(map[orderLine]uuid.UUID),
		now:         time.Now,
	}
}

var _ license.Repository = (*LicenseRepository)(nil)

func (r *LicenseRepository) Create(ctx context.Context, lic *license.License) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[lic.LicenseKey]; exists {
		return uuid.Nil, license.ErrDuplicateKey
	}
	line := orderLine{orderID: lic.OrderID, index: lic.LineIndex}
	if _, exists := r.byOrderLine[line]; exists {
		return uuid.Nil, license.ErrLineAlreadyIssued
	}

	stored := lic.Clone()
	stored.ID = uuid.New()
	now := r.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.byID[stored.ID] = stored
	r.byKey[stored.LicenseKey] = stored.ID
	r.byOrderLine[line] = stored.ID
	return stored.ID, nil
}

func (r *LicenseRepository) FindByID(ctx context.Context, id uuid.UUID) (*license.License, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lic, ok := r.byID[id]
	if !ok {
		return nil, license.ErrNotFound
	}
	return lic.Clone(), nil
}

func (r *LicenseRepository) FindByKey(ctx context.Context, key string) (*license.License, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, license.ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *LicenseRepository) FindByOrderLine(ctx context.Context, orderID string, lineIndex int) (*license.License, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byOrderLine[orderLine{orderID: orderID, index: lineIndex}]
	if !ok {
		return nil, license.ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *LicenseRepository) List(ctx context.Context, params license.ListParams) ([]*license.License, int64, error) {
	r.mu.RLock()
	matched := make([]*license.License, 0, len(r.byID))
	for _, lic := range r.byID {
		if matches(lic, params) {
			matched = append(matched, lic.Clone())
		}
	}
	r.mu.RUnlock()

	asc := params.SortOrder == "ASC"
	sort.Slice(matched, func(i, j int) bool {
		a, b := sortValue(matched[i], params.SortBy), sortValue(matched[j], params.SortBy)
		if a.Equal(b) {
			return matched[i].LicenseKey < matched[j].LicenseKey
		}
		if asc {
			return a.Before(b)
		}
		return a.After(b)
	})

	total := int64(len(matched))
	if params.Offset >= len(matched) {
		return []*license.License{}, total, nil
	}
	matched = matched[params.Offset:]
	if params.Limit > 0 && params.Limit < len(matched) {
		matched = matched[:params.Limit]
	}
	return matched, total, nil
}

func (r *LicenseRepository) UpdateUsage(ctx context.Context, key string, fn license.UsageMutator) (*license.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, license.ErrNotFound
	}

	working := r.byID[id].Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = r.now().UTC()
	r.byID[id] = working
	return working.Clone(), nil
}

func (r *LicenseRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status license.LicenseStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.byID[id]
	if !ok {
		return license.ErrNotFound
	}
	lic.Status = status
	lic.UpdatedAt = r.now().UTC()
	return nil
}

func (r *LicenseRepository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.byID[id]
	if !ok {
		return license.ErrNotFound
	}
	delivered := at
	lic.DeliveredAt = &delivered
	lic.UpdatedAt = r.now().UTC()
	return nil
}

func matches(lic *license.License, p license.ListParams) bool {
	if p.Status != nil && lic.Status != *p.Status {
		return false
	}
	if p.CustomerEmail != nil && lic.CustomerEmail != *p.CustomerEmail {
		return false
	}
	if p.ProductSKU != nil && lic.ProductSKU != *p.ProductSKU {
		return false
	}
	if p.OrderID != nil && lic.OrderID != *p.OrderID {
		return false
	}
	if p.Undelivered && lic.DeliveredAt != nil {
		return false
	}
	return true
}

func sortValue(lic *license.License, sortBy string) time.Time {
	switch sortBy {
	case "expires_at":
		return lic.ExpiresAt
	case "issued_at":
		return lic.IssuedAt
	default:
		return lic.CreatedAt
	}
}
