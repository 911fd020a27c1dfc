package apikey

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type APIKey struct {
	ID          uuid.UUID  `db:"id"`
	KeyHash     string     `db:"key_hash"`
	Prefix      string     `db:"prefix"`
	Description string     `db:"description"`
	IsEnabled   bool       `db:"is_enabled"`
	CreatedAt   time.Time  `db:"created_at"`
	LastUsedAt  *time.Time `db:"last_used_at"`
}

// Masked renders the key for listings without its secret part.
func (k *APIKey) Masked() string {
	return fmt.Sprintf(APIKeyFormat, k.Prefix, "********")
}

const (
	APIKeyPrefixLength = 8
	APIKeySecretLength = 32
	APIKeyFormat       = "lia_%s_%s"
	APIKeyScheme       = "lia"
)
