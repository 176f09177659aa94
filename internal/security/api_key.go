package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

// apiKeyPrefix is the prefix used for generated ops API keys.
const apiKeyPrefix = "area_"

// bcryptCost defines the bcrypt work factor for stored key hashes.
const bcryptCost = 12

// GenerateAPIKey creates a new random ops API key string.
func GenerateAPIKey() (token string, err error) {
	secret := make([]byte, 32)
	if _, err = io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	secretHex := hex.EncodeToString(secret)
	token = apiKeyPrefix + secretHex
	return token, nil
}

// HashAPIKey hashes an API key for storage in configuration.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckAPIKey compares a stored bcrypt hash with a presented key.
func CheckAPIKey(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
