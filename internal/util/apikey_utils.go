package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/makkenzo/license-issuer-api/internal/domain/apikey"
	"golang.org/x/crypto/bcrypt"
)

func generateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func generateRandomString(length int) (string, error) {
	// over-allocate: '-' and '_' are stripped from the encoding below
	byteLength := length
	b, err := generateRandomBytes(byteLength)
	if err != nil {
		return "", err
	}

	str := base64.URLEncoding.EncodeToString(b)
	str = strings.ReplaceAll(str, "-", "")
	str = strings.ReplaceAll(str, "_", "")
	if len(str) > length {
		return str[:length], nil
	}

	return str, nil
}

func GenerateAPIKey() (fullKey string, prefix string, keyHash string, err error) {
	prefix, err = generateRandomString(apikey.APIKeyPrefixLength)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate prefix: %w", err)
	}

	secret, err := generateRandomString(apikey.APIKeySecretLength)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	fullKey = fmt.Sprintf(apikey.APIKeyFormat, prefix, secret)

	keyHash, err = HashAPIKey(fullKey)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash api key: %w", err)
	}

	return fullKey, prefix, keyHash, nil
}

func HashAPIKey(fullKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CompareAPIKey(keyHash, fullKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(fullKey)) == nil
}

// ParseAPIKey splits "lia_<prefix>_<secret>" and returns the lookup prefix.
func ParseAPIKey(fullKey string) (string, bool) {
	parts := strings.SplitN(fullKey, "_", 3)
	if len(parts) < 3 || parts[0] != apikey.APIKeyScheme || parts[1] == "" || parts[2] == "" {
		return "", false
	}
	return parts[1], true
}
