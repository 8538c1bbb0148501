// Package config provides configuration management for the Cultivar server.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds server configuration: HTTP surface, database, dispatcher
// sizing, and the background recompute schedule.
type Config struct {
	Host           string
	Port           int
	RequestTimeout time.Duration

	DatabaseURL string

	LogLevel  string
	LogFormat string

	DispatcherWorkers int
	DispatcherQueue   int
	AdapterTimeout    time.Duration

	// RecomputeInterval is the cadence of the background segment recompute
	// loop. Zero disables it.
	RecomputeInterval time.Duration
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              8080,
		RequestTimeout:    30 * time.Second,
		DatabaseURL:       "sqlite://cultivar.db",
		LogLevel:          "info",
		LogFormat:         "json",
		DispatcherWorkers: 4,
		DispatcherQueue:   256,
		AdapterTimeout:    10 * time.Second,
		RecomputeInterval: 15 * time.Minute,
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports CULTIVAR_HMAC_SECRET (single) and CULTIVAR_HMAC_SECRET_N
// (rotation, old and new keys both valid during migration).
// Returns a map of secret_id to decoded secret bytes. Secret IDs are
// UUIDv7 rendered as 32 hex chars without hyphens, matching the API key
// format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(envKey, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", envKey, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' in environment (check CULTIVAR_HMAC_SECRET and CULTIVAR_HMAC_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
		return nil
	}

	// Format of each variable: <secret_id>:<base64_secret>
	if val := os.Getenv("CULTIVAR_HMAC_SECRET"); val != "" {
		if err := add("CULTIVAR_HMAC_SECRET", val); err != nil {
			return nil, err
		}
	}
	for i := 1; ; i++ {
		key := fmt.Sprintf("CULTIVAR_HMAC_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}
	return secrets, nil
}

// ParseHMACSecret decodes a base64-encoded HMAC secret.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses the secret_id:base64_secret format.
// Secret ID must be 32 hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUIDv7 without hyphens)")
	}
	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(secret) < 32 {
		return "", nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(secret))
	}
	return secretID, secret, nil
}
