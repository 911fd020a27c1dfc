package apikey

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAPIKeyNotFound = errors.New("api key not found or disabled")
	// ErrLastActiveKey guards against revoking the only key that can still reach the admin API.
	ErrLastActiveKey = errors.New("cannot revoke the last enabled api key")
)

type Repository interface {
	FindByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	Create(ctx context.Context, key *APIKey) (uuid.UUID, error)
	List(ctx context.Context) ([]*APIKey, error)
	Disable(ctx context.Context, id uuid.UUID) error
	UpdateLastUsed(ctx context.Context, id uuid.UUID, lastUsed time.Time) error
}
