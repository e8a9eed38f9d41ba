package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/opensource-finance/turnstile/internal/domain"
	"gopkg.in/yaml.v3"
)

// loadConfig builds the configuration for the selected tier, overlays the
// YAML file named by TURNSTILE_CONFIG, then applies TURNSTILE_* overrides
// from getenv. Secrets are only read from the environment.
func loadConfig(getenv func(string) string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if getenv("TURNSTILE_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	if path := getenv("TURNSTILE_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if getenv("TURNSTILE_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	if v := getenv("TURNSTILE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	cfg.Fingerprint.Secret = getenv("TURNSTILE_FINGERPRINT_SECRET")
	if cfg.Fingerprint.Secret == "" {
		return nil, fmt.Errorf("TURNSTILE_FINGERPRINT_SECRET is required")
	}

	if v := getenv("TURNSTILE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid TURNSTILE_PORT %q", v)
		}
		cfg.Server.Port = port
	}

	if v := getenv("TURNSTILE_DB_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := getenv("TURNSTILE_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := getenv("TURNSTILE_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	cfg.Repository.PostgresPassword = getenv("TURNSTILE_POSTGRES_PASSWORD")
	cfg.Risk.RedisPassword = getenv("TURNSTILE_REDIS_PASSWORD")
	cfg.EventBus.NATSToken = getenv("TURNSTILE_NATS_TOKEN")

	if v := getenv("TURNSTILE_REDIS_ADDR"); v != "" {
		cfg.Risk.RedisAddr = v
	}
	if v := getenv("TURNSTILE_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := getenv("TURNSTILE_NATS_QUEUE_GROUP"); v != "" {
		cfg.EventBus.NATSQueueGroup = v
	}

	if v := getenv("TURNSTILE_GATEWAY"); v != "" {
		cfg.Gateway.Type = v
	}
	if v := getenv("TURNSTILE_GATEWAY_URL"); v != "" {
		cfg.Gateway.URL = v
	}
	if v := getenv("TURNSTILE_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	cfg.Gateway.APISecret = getenv("TURNSTILE_GATEWAY_API_SECRET")
	if v := getenv("TURNSTILE_GATEWAY_TLS_CERT"); v != "" {
		cfg.Gateway.TLSCertFile = v
	}
	if v := getenv("TURNSTILE_GATEWAY_TLS_KEY"); v != "" {
		cfg.Gateway.TLSKeyFile = v
	}
	if v := getenv("TURNSTILE_GATEWAY_TLS_CA"); v != "" {
		cfg.Gateway.TLSCAFile = v
	}

	if v := getenv("TURNSTILE_FARE_EXPRESSION"); v != "" {
		cfg.Fare.Expression = v
	}
	if v := getenv("TURNSTILE_FARE_RATE"); v != "" {
		cfg.Fare.RatePerSecond = v
	}

	return cfg, nil
}

// loadFile decodes a YAML file over cfg. Keys absent from the file keep
// their current values.
func loadFile(path string, cfg *domain.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// asyncEnabled reports whether submitted taps go through the bus worker.
func asyncEnabled(cfg *domain.Config, getenv func(string) string) bool {
	return cfg.Tier == domain.TierPro || getenv("TURNSTILE_ASYNC_WORKER") == "true"
}
