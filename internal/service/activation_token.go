package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/makkenzo/license-issuer-api/internal/domain/license"
)

type ActivationClaims struct {
	LicenseKey string   `json:"license_key"`
	ProductSKU string   `json:"sku"`
	Edition    string   `json:"edition"`
	Features   []string `json:"features"`
	MaxUsers   int      `json:"max_users"`
	jwt.RegisteredClaims
}

// ActivationTokenSigner issues HS256 tokens that let clients verify an
// activation offline until the license expires.
type ActivationTokenSigner struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewActivationTokenSigner returns nil when no secret is configured.
func NewActivationTokenSigner(secret, issuer string) *ActivationTokenSigner {
	if secret == "" {
		return nil
	}
	return &ActivationTokenSigner{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (s *ActivationTokenSigner) Sign(lic *license.License, now time.Time) (string, error) {
	claims := ActivationClaims{
		LicenseKey: lic.LicenseKey,
		ProductSKU: lic.ProductSKU,
		Edition:    string(lic.Edition),
		Features:   lic.Features,
		MaxUsers:   lic.MaxUsers,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   lic.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(lic.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign activation token: %w", err)
	}
	return signed, nil
}

func (s *ActivationTokenSigner) Verify(raw string) (*ActivationClaims, error) {
	var claims ActivationClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("invalid activation token: %w", err)
	}
	return &claims, nil
}
