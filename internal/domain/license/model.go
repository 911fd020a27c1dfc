package license

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/license-issuer-api/internal/domain/product"
)

type LicenseStatus string

// MaxTrackedValues bounds the distinct addresses and user agents kept per license.
const MaxTrackedValues = 64

const (
	StatusActive   LicenseStatus = "active"
	StatusInactive LicenseStatus = "inactive"
	StatusExpired  LicenseStatus = "expired"
	StatusRevoked  LicenseStatus = "revoked"
)

type License struct {
	ID            uuid.UUID `db:"id" json:"id"`
	LicenseKey    string    `db:"license_key" json:"license_key"`
	OrderID       string    `db:"order_id" json:"order_id"`
	LineIndex     int       `db:"line_index" json:"line_index"`
	CustomerID    string    `db:"customer_id" json:"customer_id"`
	CustomerEmail string    `db:"customer_email" json:"customer_email"`

	ProductSKU      string                  `db:"product_sku" json:"product_sku"`
	ProductName     string                  `db:"product_name" json:"product_name"`
	Category        product.Category        `db:"category" json:"category"`
	Edition         product.Edition         `db:"edition" json:"edition"`
	Term            product.Term            `db:"term" json:"term"`
	Features        []string                `db:"features" json:"features"`
	DeliverableKind product.DeliverableKind `db:"deliverable_kind" json:"deliverable_kind"`

	Status    LicenseStatus `db:"status" json:"status"`
	IssuedAt  time.Time     `db:"issued_at" json:"issued_at"`
	ExpiresAt time.Time     `db:"expires_at" json:"expires_at"`

	ActivatedAt    *time.Time `db:"activated_at" json:"activated_at,omitempty"`
	LastAccessedAt *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`
	AccessCount    int64      `db:"access_count" json:"access_count"`
	MaxUsers       int        `db:"max_users" json:"max_users"`
	CurrentUsers   int        `db:"current_users" json:"current_users"`
	IPAddresses    []string   `db:"ip_addresses" json:"ip_addresses"`
	UserAgents     []string   `db:"user_agents" json:"user_agents"`

	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// EffectiveState is the status of a license as seen at a given instant.
// Expiry is never written back to Status; it is derived from ExpiresAt.
type EffectiveState int

const (
	StateActive EffectiveState = iota
	StateExpired
	StateInactive
)

func (l *License) EffectiveState(now time.Time) EffectiveState {
	if l.Status != StatusActive {
		return StateInactive
	}
	if now.After(l.ExpiresAt) {
		return StateExpired
	}
	return StateActive
}

// EffectiveStatus maps EffectiveState back onto the status vocabulary for reporting.
func (l *License) EffectiveStatus(now time.Time) LicenseStatus {
	if l.EffectiveState(now) == StateExpired {
		return StatusExpired
	}
	return l.Status
}

// RecordAccess applies one successful activation to the usage fields.
func (l *License) RecordAccess(now time.Time, ipAddress, userAgent string) {
	if l.ActivatedAt == nil {
		activated := now
		l.ActivatedAt = &activated
	}
	accessed := now
	l.LastAccessedAt = &accessed
	l.AccessCount++
	l.IPAddresses = appendUnique(l.IPAddresses, ipAddress)
	l.UserAgents = appendUnique(l.UserAgents, userAgent)
}

func appendUnique(set []string, value string) []string {
	if value == "" || len(set) >= MaxTrackedValues || slices.Contains(set, value) {
		return set
	}
	return append(set, value)
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (l *License) Clone() *License {
	c := *l
	c.Features = slices.Clone(l.Features)
	c.IPAddresses = slices.Clone(l.IPAddresses)
	c.UserAgents = slices.Clone(l.UserAgents)
	if l.ActivatedAt != nil {
		t := *l.ActivatedAt
		c.ActivatedAt = &t
	}
	if l.LastAccessedAt != nil {
		t := *l.LastAccessedAt
		c.LastAccessedAt = &t
	}
	if l.DeliveredAt != nil {
		t := *l.DeliveredAt
		c.DeliveredAt = &t
	}
	return &c
}
