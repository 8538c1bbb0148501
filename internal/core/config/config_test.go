package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHMACSecrets(t *testing.T) {
	os.Unsetenv("CULTIVAR_HMAC_SECRET")
	os.Unsetenv("CULTIVAR_HMAC_SECRET_1")
	os.Unsetenv("CULTIVAR_HMAC_SECRET_2")

	t.Run("single secret", func(t *testing.T) {
		os.Setenv("CULTIVAR_HMAC_SECRET", "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		defer os.Unsetenv("CULTIVAR_HMAC_SECRET")

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 1 {
			t.Errorf("expected 1 secret, got %d", len(secrets))
		}
		if _, ok := secrets["0123456789abcdef0123456789abcdef"]; !ok {
			t.Errorf("secret_id not found in map")
		}
	})

	t.Run("multiple numbered secrets", func(t *testing.T) {
		os.Setenv("CULTIVAR_HMAC_SECRET_1", "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		os.Setenv("CULTIVAR_HMAC_SECRET_2", "fedcba9876543210fedcba9876543210:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		defer os.Unsetenv("CULTIVAR_HMAC_SECRET_1")
		defer os.Unsetenv("CULTIVAR_HMAC_SECRET_2")

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 2 {
			t.Errorf("expected 2 secrets, got %d", len(secrets))
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		os.Setenv("CULTIVAR_HMAC_SECRET", "invalid_format")
		defer os.Unsetenv("CULTIVAR_HMAC_SECRET")

		if _, err := HMACSecrets(); err == nil {
			t.Error("expected error for invalid format")
		}
	})

	t.Run("duplicate secret_id", func(t *testing.T) {
		os.Setenv("CULTIVAR_HMAC_SECRET_1", "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		os.Setenv("CULTIVAR_HMAC_SECRET_2", "0123456789abcdef0123456789abcdef:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		defer os.Unsetenv("CULTIVAR_HMAC_SECRET_1")
		defer os.Unsetenv("CULTIVAR_HMAC_SECRET_2")

		if _, err := HMACSecrets(); err == nil {
			t.Error("expected error for duplicate secret_id")
		}
	})
}

func TestParseHMACSecretWithID(t *testing.T) {
	t.Run("valid format", func(t *testing.T) {
		secretID, secret, err := ParseHMACSecretWithID("0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		if err != nil {
			t.Fatalf("ParseHMACSecretWithID failed: %v", err)
		}
		if secretID != "0123456789abcdef0123456789abcdef" {
			t.Errorf("unexpected secret_id: %s", secretID)
		}
		if len(secret) == 0 {
			t.Error("secret should not be empty")
		}
	})

	t.Run("missing colon", func(t *testing.T) {
		if _, _, err := ParseHMACSecretWithID("0123456789abcdef0123456789abcdef"); err == nil {
			t.Error("expected error for missing colon")
		}
	})

	t.Run("short secret_id", func(t *testing.T) {
		if _, _, err := ParseHMACSecretWithID("tooshort:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"); err == nil {
			t.Error("expected error for short secret_id")
		}
	})

	t.Run("non-hex secret_id", func(t *testing.T) {
		if _, _, err := ParseHMACSecretWithID("0123456789abcdefGHIJKLMNOPQRSTUV:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"); err == nil {
			t.Error("expected error for non-hex secret_id")
		}
	})

	t.Run("secret too short", func(t *testing.T) {
		if _, _, err := ParseHMACSecretWithID("0123456789abcdef0123456789abcdef:c2hvcnQ="); err == nil {
			t.Error("expected error for secret < 32 bytes")
		}
	})
}

func TestLoad(t *testing.T) {
	os.Unsetenv("CULTIVAR_HTTP_HOST")
	os.Unsetenv("CULTIVAR_HTTP_PORT")

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Host != "0.0.0.0" {
			t.Errorf("expected host 0.0.0.0, got %s", cfg.Host)
		}
		if cfg.Port != 8080 {
			t.Errorf("expected port 8080, got %d", cfg.Port)
		}
		if cfg.RequestTimeout != 30*time.Second {
			t.Errorf("expected timeout 30s, got %v", cfg.RequestTimeout)
		}
		if cfg.DatabaseURL != "sqlite://cultivar.db" {
			t.Errorf("unexpected database url %s", cfg.DatabaseURL)
		}
		if cfg.DispatcherWorkers != 4 || cfg.DispatcherQueue != 256 {
			t.Errorf("unexpected dispatcher sizing %d/%d", cfg.DispatcherWorkers, cfg.DispatcherQueue)
		}
		if cfg.RecomputeInterval != 15*time.Minute {
			t.Errorf("expected recompute interval 15m, got %v", cfg.RecomputeInterval)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		os.Setenv("CULTIVAR_HTTP_PORT", "9999")
		os.Setenv("CULTIVAR_HTTP_HOST", "127.0.0.1")
		defer os.Unsetenv("CULTIVAR_HTTP_PORT")
		defer os.Unsetenv("CULTIVAR_HTTP_HOST")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Port != 9999 {
			t.Errorf("expected port 9999, got %d", cfg.Port)
		}
		if cfg.Host != "127.0.0.1" {
			t.Errorf("expected host 127.0.0.1, got %s", cfg.Host)
		}
	})

	t.Run("config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cultivar.yaml")
		content := `http:
  port: 9090
dispatcher:
  workers: 8
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Port != 9090 {
			t.Errorf("expected port 9090 from file, got %d", cfg.Port)
		}
		if cfg.DispatcherWorkers != 8 {
			t.Errorf("expected 8 workers from file, got %d", cfg.DispatcherWorkers)
		}
	})

	t.Run("secret in config file rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cultivar.yaml")
		content := `http:
  hmac_secret: "should_be_rejected"
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		if _, err := Load(path); err == nil {
			t.Error("expected error for secret in config file")
		}
	})

	t.Run("invalid port range", func(t *testing.T) {
		os.Setenv("CULTIVAR_HTTP_PORT", "70000")
		defer os.Unsetenv("CULTIVAR_HTTP_PORT")

		if _, err := Load(""); err == nil {
			t.Error("expected error for port > 65535")
		}
	})

	t.Run("invalid worker count", func(t *testing.T) {
		os.Setenv("CULTIVAR_DISPATCHER_WORKERS", "-1")
		defer os.Unsetenv("CULTIVAR_DISPATCHER_WORKERS")

		if _, err := Load(""); err == nil {
			t.Error("expected error for negative worker count")
		}
	})

	t.Run("invalid log format", func(t *testing.T) {
		os.Setenv("CULTIVAR_LOG_FORMAT", "xml")
		defer os.Unsetenv("CULTIVAR_LOG_FORMAT")

		if _, err := Load(""); err == nil {
			t.Error("expected error for unknown log format")
		}
	})
}
