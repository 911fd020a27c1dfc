package license

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/makkenzo/license-issuer-api/internal/domain/product"
)

const (
	DefaultKeyPrefix   = "FHIR-GEN"
	DefaultEditionCode = "STD"
	KeySuffixLength    = 8

	keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var categoryPrefixes = map[product.Category]string{
	product.CategoryLicense:    "FHIR-LIC",
	product.CategoryTraining:   "FHIR-TRN",
	product.CategoryConsulting: "FHIR-CON",
	product.CategoryBundle:     "FHIR-BDL",
	product.CategoryAddon:      "FHIR-ADD",
}

var editionCodes = map[product.Edition]string{
	product.EditionBasic:        "BAS",
	product.EditionProfessional: "PRO",
	product.EditionEnterprise:   "ENT",
	product.EditionFundamentals: "FUN",
	product.EditionAdvanced:     "ADV",
	product.EditionTeam:         "TEAM",
	product.EditionStarter:      "STR",
	product.EditionPremium:      "PRM",
	product.EditionOnsite:       "ONS",
	product.EditionStartup:      "STU",
}

func KeyPrefix(category product.Category) string {
	if p, ok := categoryPrefixes[category]; ok {
		return p
	}
	return DefaultKeyPrefix
}

func EditionCode(edition product.Edition) string {
	if c, ok := editionCodes[edition]; ok {
		return c
	}
	return DefaultEditionCode
}

// GenerateKey builds a key of the form <PREFIX>-<EDITION_CODE>-<8 uppercase alphanumerics>.
// Uniqueness is enforced by the store; callers retry on ErrDuplicateKey.
func GenerateKey(category product.Category, edition product.Edition) (string, error) {
	suffix, err := randomSuffix(KeySuffixLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate license key suffix: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", KeyPrefix(category), EditionCode(edition), suffix), nil
}

func randomSuffix(n int) (string, error) {
	max := big.NewInt(int64(len(keyAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = keyAlphabet[idx.Int64()]
	}
	return string(b), nil
}
