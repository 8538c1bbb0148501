// Package auth provides HMAC-based API key authentication for the HTTP API.
//
// Keys have the form cv-v1-<secret_id>-<random>. The secret_id selects an
// HMAC secret from the environment; the HMAC-SHA256 of the full key is
// looked up in the key table. The server never stores raw keys.
package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// contextKey is a typed context key to avoid collisions.
type contextKey string

const keyNameKey = contextKey("api_key_name")

// Queries is the database surface needed for authentication. Implemented by
// *db.Queries.
type Queries interface {
	Get(ctx context.Context, name string, dest interface{}, args ...interface{}) error
	Exec(ctx context.Context, name string, args ...interface{}) (sql.Result, error)
}

// Authenticator validates API keys against HMAC secrets and the key table.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
}

// NewAuthenticator creates an authenticator from the environment secret map
// and the named query set.
func NewAuthenticator(secrets map[string][]byte, queries Queries) *Authenticator {
	return &Authenticator{secrets: secrets, queries: queries}
}

// Authenticate validates an API key and returns the key's name on success.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	computed := ComputeHMAC(secret, apiKey)

	var result struct {
		APIKeyID   string         `db:"api_key_id"`
		Name       string         `db:"name"`
		RevokedAt  sql.NullString `db:"revoked_at"`
		LastUsedAt sql.NullString `db:"last_used_at"`
	}
	err = a.queries.Get(ctx, "get-api-key-by-hash", &result, computed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("database error: %w", err)
	}

	if result.RevokedAt.Valid && result.RevokedAt.String != "" {
		return "", ErrKeyRevoked
	}

	// Throttled last-used tracking: one write per key per minute keeps the
	// audit column fresh without write amplification from busy clients.
	if shouldUpdateLastUsed(result.LastUsedAt) {
		now := time.Now().UTC().Format(time.RFC3339)
		_, _ = a.queries.Exec(ctx, "update-last-used", now, result.APIKeyID)
	}

	return result.Name, nil
}

func shouldUpdateLastUsed(lastUsed sql.NullString) bool {
	if !lastUsed.Valid || lastUsed.String == "" {
		return true
	}
	t, err := time.Parse(time.RFC3339, lastUsed.String)
	if err != nil {
		return true
	}
	return time.Since(t) > time.Minute
}

// Middleware authenticates requests via the X-API-Key header and injects
// the key name into the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			writeAuthError(w, http.StatusUnauthorized, ErrMissingKey)
			return
		}

		name, err := a.Authenticate(r.Context(), apiKey)
		if err != nil {
			switch {
			case errors.Is(err, ErrKeyRevoked):
				writeAuthError(w, http.StatusForbidden, err)
			case strings.Contains(err.Error(), "database error"):
				writeAuthError(w, http.StatusServiceUnavailable, err)
			default:
				writeAuthError(w, http.StatusUnauthorized, err)
			}
			return
		}

		ctx := context.WithValue(r.Context(), keyNameKey, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// KeyNameFromContext returns the authenticated key's name, empty if the
// request was not authenticated.
func KeyNameFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(keyNameKey).(string); ok {
		return name
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
