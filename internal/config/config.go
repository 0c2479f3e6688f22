// Package config loads facilitator configuration from defaults, an optional
// YAML file, and environment variables. Environment variables always win so
// deployments can override a checked-in file without editing it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/x402svm/facilitator/pkg/x402"
)

// Load builds the configuration. The path argument is optional; when empty
// the CONFIG_FILE environment variable is consulted, and when that is empty
// too the file step is skipped entirely.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         3000,
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 30 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "production",
		},
		Chain: ChainConfig{
			Network:           x402.NetworkDevnet,
			SubmitMaxAttempts: 3,
			SubmitTimeout:     Duration{Duration: 30 * time.Second},
		},
		Verification: VerificationConfig{
			CacheSize:       1000,
			CacheTTL:        Duration{Duration: 30 * time.Second},
			DedupMaxEntries: 10000,
			DedupWindow:     Duration{Duration: 5 * time.Minute},
			PaymentExpiry:   Duration{Duration: 10 * time.Minute},
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			PerSecond: 10,
			BurstSize: 20,
		},
		Webhook: WebhookConfig{
			Timeout:       Duration{Duration: 10 * time.Second},
			RetryAttempts: 3,
			QueueSize:     256,
		},
		Audit: AuditConfig{
			Backend:   "log",
			QueueSize: 1024,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:  false,
			ChainRPC: defaultBreaker(),
			Webhook:  defaultBreaker(),
		},
	}
}

func defaultBreaker() BreakerServiceConfig {
	return BreakerServiceConfig{
		MaxRequests:         3,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 30 * time.Second},
		ConsecutiveFailures: 5,
		FailureRatio:        0.6,
		MinRequests:         10,
	}
}

func (c *Config) parseFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
