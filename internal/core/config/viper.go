package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration with viper.
// Precedence: CLI flags > environment > config file > defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("http.host", def.Host)
	v.SetDefault("http.port", def.Port)
	v.SetDefault("http.request_timeout", def.RequestTimeout.String())
	v.SetDefault("database.url", def.DatabaseURL)
	v.SetDefault("log.level", def.LogLevel)
	v.SetDefault("log.format", def.LogFormat)
	v.SetDefault("dispatcher.workers", def.DispatcherWorkers)
	v.SetDefault("dispatcher.queue_size", def.DispatcherQueue)
	v.SetDefault("dispatcher.adapter_timeout", def.AdapterTimeout.String())
	v.SetDefault("recompute.interval", def.RecomputeInterval.String())

	v.SetEnvPrefix("CULTIVAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Secrets are environment-only; a secret in a config file is a
	// deployment mistake, not a supported option.
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Host:              v.GetString("http.host"),
		Port:              v.GetInt("http.port"),
		RequestTimeout:    v.GetDuration("http.request_timeout"),
		DatabaseURL:       v.GetString("database.url"),
		LogLevel:          v.GetString("log.level"),
		LogFormat:         v.GetString("log.format"),
		DispatcherWorkers: v.GetInt("dispatcher.workers"),
		DispatcherQueue:   v.GetInt("dispatcher.queue_size"),
		AdapterTimeout:    v.GetDuration("dispatcher.adapter_timeout"),
		RecomputeInterval: v.GetDuration("recompute.interval"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.RequestTimeout)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database.url must be set")
	}
	if cfg.DispatcherWorkers <= 0 {
		return fmt.Errorf("dispatcher.workers must be positive, got %d", cfg.DispatcherWorkers)
	}
	if cfg.DispatcherQueue <= 0 {
		return fmt.Errorf("dispatcher.queue_size must be positive, got %d", cfg.DispatcherQueue)
	}
	if cfg.AdapterTimeout <= 0 {
		return fmt.Errorf("dispatcher.adapter_timeout must be positive, got %v", cfg.AdapterTimeout)
	}
	if cfg.RecomputeInterval < 0 {
		return fmt.Errorf("recompute.interval must not be negative, got %v", cfg.RecomputeInterval)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", cfg.LogFormat)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.IsSet("hmac_secret") || v.IsSet("http.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use CULTIVAR_HMAC_SECRET environment variable)")
	}
	return nil
}
