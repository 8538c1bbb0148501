package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseAPIKey extracts secret_id and random_data from the API key format.
// Format: cv-v1-<secret_id>-<random_data> (102 chars total).
// Returns ErrInvalidKeyFormat if the format doesn't match.
func ParseAPIKey(key string) (secretID, randomData string, err error) {
	parts := strings.Split(key, "-")
	if len(parts) != 4 {
		return "", "", ErrInvalidKeyFormat
	}
	if parts[0] != "cv" || parts[1] != "v1" {
		return "", "", ErrInvalidKeyFormat
	}

	secretID = parts[2]
	randomData = parts[3]

	// secret_id is a UUID without hyphens, random_data 256 bits of hex
	if len(secretID) != 32 || len(randomData) != 64 {
		return "", "", ErrInvalidKeyFormat
	}
	for _, c := range secretID + randomData {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", "", ErrInvalidKeyFormat
		}
	}
	return secretID, randomData, nil
}

// FormatAPIKey constructs an API key from its components. Used during key
// generation.
func FormatAPIKey(secretID, randomData string) string {
	return fmt.Sprintf("cv-v1-%s-%s", secretID, randomData)
}

// NewAPIKey generates a fresh API key bound to secretID.
func NewAPIKey(secretID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	return FormatAPIKey(secretID, hex.EncodeToString(buf)), nil
}

// ComputeHMAC computes the HMAC-SHA256 signature of an API key, hex encoded
// for storage in the key table.
func ComputeHMAC(secret []byte, apiKey string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(apiKey))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC compares two signatures in constant time.
func VerifyHMAC(expected, computed string) bool {
	return hmac.Equal([]byte(expected), []byte(computed))
}
