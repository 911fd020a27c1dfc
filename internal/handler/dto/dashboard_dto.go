package dto

import (
	"time"

	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"github.com/makkenzo/license-issuer-api/internal/domain/product"
)

type DashboardSummaryRequest struct {
	ExpiringWithinDays int `form:"expiring_within_days,default=30" binding:"omitempty,gte=1,lte=365"`
}

type DashboardSummaryResponse struct {
	TotalLicenses  int64                           `json:"totalLicenses"`
	ActivatedCount int64                           `json:"activatedCount"`
	StatusCounts   map[license.LicenseStatus]int64 `json:"statusCounts"`
	CategoryCounts map[product.Category]int64      `json:"categoryCounts"`
	ProductCounts  map[string]int64                `json:"productCounts"`
	ExpiringSoon   ExpiringSoonSummary             `json:"expiringSoon"`
}

type ExpiringSoonSummary struct {
	Count        int64        `json:"count"`
	PeriodDays   int          `json:"periodDays"`
	NextToExpire *LicenseInfo `json:"nextToExpire,omitempty"`
}

type LicenseInfo struct {
	LicenseKey  string    `json:"licenseKey"`
	ExpiresAt   time.Time `json:"expiresAt"`
	ProductName string    `json:"productName"`
}
