package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"github.com/makkenzo/license-issuer-api/internal/domain/product"
)

type LicenseResponse struct {
	ID              uuid.UUID               `json:"id"`
	LicenseKey      string                  `json:"license_key"`
	OrderID         string                  `json:"order_id"`
	CustomerID      string                  `json:"customer_id,omitempty"`
	CustomerEmail   string                  `json:"customer_email"`
	ProductSKU      string                  `json:"product_sku"`
	ProductName     string                  `json:"product_name"`
	Category        product.Category        `json:"category"`
	Edition         product.Edition         `json:"edition"`
	Term            product.Term            `json:"term"`
	Features        []string                `json:"features"`
	DeliverableKind product.DeliverableKind `json:"deliverable_kind"`
	Status          license.LicenseStatus   `json:"status"`
	EffectiveStatus license.LicenseStatus   `json:"effective_status"`
	IssuedAt        time.Time               `json:"issued_at"`
	ExpiresAt       time.Time               `json:"expires_at"`
	ActivatedAt     *time.Time              `json:"activated_at,omitempty"`
	LastAccessedAt  *time.Time              `json:"last_accessed_at,omitempty"`
	AccessCount     int64                   `json:"access_count"`
	MaxUsers        int                     `json:"max_users"`
	CurrentUsers    int                     `json:"current_users"`
	IPAddresses     []string                `json:"ip_addresses"`
	UserAgents      []string                `json:"user_agents"`
	DeliveredAt     *time.Time              `json:"delivered_at,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

func NewLicenseResponse(lic *license.License) *LicenseResponse {
	return &LicenseResponse{
		ID:              lic.ID,
		LicenseKey:      lic.LicenseKey,
		OrderID:         lic.OrderID,
		CustomerID:      lic.CustomerID,
		CustomerEmail:   lic.CustomerEmail,
		ProductSKU:      lic.ProductSKU,
		ProductName:     lic.ProductName,
		Category:        lic.Category,
		Edition:         lic.Edition,
		Term:            lic.Term,
		Features:        emptyIfNil(lic.Features),
		DeliverableKind: lic.DeliverableKind,
		Status:          lic.Status,
		EffectiveStatus: lic.EffectiveStatus(time.Now()),
		IssuedAt:        lic.IssuedAt,
		ExpiresAt:       lic.ExpiresAt,
		ActivatedAt:     lic.ActivatedAt,
		LastAccessedAt:  lic.LastAccessedAt,
		AccessCount:     lic.AccessCount,
		MaxUsers:        lic.MaxUsers,
		CurrentUsers:    lic.CurrentUsers,
		IPAddresses:     emptyIfNil(lic.IPAddresses),
		UserAgents:      emptyIfNil(lic.UserAgents),
		DeliveredAt:     lic.DeliveredAt,
		CreatedAt:       lic.CreatedAt,
		UpdatedAt:       lic.UpdatedAt,
	}
}

func NewLicenseResponses(licenses []*license.License) []*LicenseResponse {
	out := make([]*LicenseResponse, len(licenses))
	for i, lic := range licenses {
		out[i] = NewLicenseResponse(lic)
	}
	return out
}

type ListLicensesRequest struct {
	Status        *license.LicenseStatus `form:"status" binding:"omitempty,oneof=active inactive expired revoked"`
	CustomerEmail *string                `form:"email" binding:"omitempty,email"`
	ProductSKU    *string                `form:"sku"`
	OrderID       *string                `form:"order_id"`
	Limit         int                    `form:"limit,default=20" binding:"omitempty,gte=0,lte=500"`
	Offset        int                    `form:"offset,default=0" binding:"omitempty,gte=0"`
	SortBy        string                 `form:"sort_by,default=created_at" binding:"omitempty,oneof=created_at issued_at expires_at"`
	SortOrder     string                 `form:"sort_order,default=DESC" binding:"omitempty,oneof=ASC DESC"`
}

type PaginatedLicenseResponse struct {
	Licenses   []*LicenseResponse `json:"licenses"`
	TotalCount int64              `json:"totalCount"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

type UpdateLicenseStatusRequest struct {
	Status *license.LicenseStatus `json:"status" binding:"required,oneof=active inactive revoked"`
}

type ActivateLicenseRequest struct {
	LicenseKey string `json:"license_key" binding:"max=256"`
	UserAgent  string `json:"user_agent,omitempty" binding:"omitempty,max=512"`
}

type DeliverablesResponse struct {
	Kind     product.DeliverableKind `json:"kind"`
	MaxUsers int                     `json:"max_users"`
}

type ActivateLicenseResponse struct {
	Valid           bool                  `json:"valid"`
	License         *LicenseResponse      `json:"license,omitempty"`
	Features        []string              `json:"features,omitempty"`
	Deliverables    *DeliverablesResponse `json:"deliverables,omitempty"`
	ActivationToken string                `json:"activation_token,omitempty"`
	ErrorKind       string                `json:"error_kind,omitempty"`
	Reason          string                `json:"reason,omitempty"`
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
