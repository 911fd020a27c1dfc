package license

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("license not found")
	ErrDuplicateKey = errors.New("license key already exists")
	ErrUpdateFailed = errors.New("license update failed")
	// ErrLineAlreadyIssued is returned by Create when the order line already has a license.
	ErrLineAlreadyIssued = errors.New("order line already has a license")
)

type ListParams struct {
	Status        *LicenseStatus
	CustomerEmail *string
	ProductSKU    *string
	OrderID       *string
	// Undelivered restricts the result to licenses whose email has not been sent.
	Undelivered bool
	SortBy      string
	SortOrder   string
	Limit       int
	Offset      int
}

// UsageMutator is applied to a license while the repository holds it exclusively.
// Returning an error aborts the update and leaves the stored record untouched.
type UsageMutator func(lic *License) error

type Repository interface {
	Create(ctx context.Context, license *License) (uuid.UUID, error)
	FindByID(ctx context.Context, id uuid.UUID) (*License, error)
	FindByKey(ctx context.Context, key string) (*License, error)
	FindByOrderLine(ctx context.Context, orderID string, lineIndex int) (*License, error)
	List(ctx context.Context, params ListParams) ([]*License, int64, error)
	UpdateUsage(ctx context.Context, key string, fn UsageMutator) (*License, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status LicenseStatus) error
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
}
