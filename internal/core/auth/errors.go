package auth

import "errors"

// Authentication failure modes. Missing and invalid keys both answer 401
// without confirming whether the key exists; revoked answers 403 because
// the key is known but blocked.
var (
	ErrMissingKey       = errors.New("API key required in X-API-Key header")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownKey       = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrKeyRevoked       = errors.New("API key has been revoked")
)
