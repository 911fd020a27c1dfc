package license

import (
	"time"

	"github.com/makkenzo/license-issuer-api/internal/domain/product"
)

// CalculateExpiration returns the fixed access window for a term, measured from issuedAt.
// Single-use terms still get a one-year window to redeem the purchase.
func CalculateExpiration(term product.Term, issuedAt time.Time) time.Time {
	switch term {
	case product.TermMonthly:
		return issuedAt.AddDate(0, 1, 0)
	case product.TermAnnual, product.TermTeamPackage:
		return issuedAt.AddDate(1, 0, 0)
	case product.TermSingleSeat, product.TermSingleDay, product.TermHoursBlock:
		return issuedAt.AddDate(1, 0, 0)
	default:
		return issuedAt.AddDate(1, 0, 0)
	}
}
