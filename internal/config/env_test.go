package config

import (
	"os"
	"testing"
	"time"
)

func TestEnvOverrides(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "SOLANA_RPC_URL override",
			envVars: map[string]string{
				"SOLANA_RPC_URL": "https://custom-rpc.example.com",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Chain.RPCURL != "https://custom-rpc.example.com" {
					t.Errorf("Expected custom RPC URL, got %s", cfg.Chain.RPCURL)
				}
			},
		},
		{
			name: "NETWORK override",
			envVars: map[string]string{
				"NETWORK": "solana",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Chain.Network != "solana" {
					t.Errorf("Expected solana, got %s", cfg.Chain.Network)
				}
			},
		},
		{
			name: "PORT numeric override",
			envVars: map[string]string{
				"PORT": "8080",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != 8080 {
					t.Errorf("Expected 8080, got %d", cfg.Server.Port)
				}
			},
		},
		{
			name: "PORT non-numeric ignored",
			envVars: map[string]string{
				"PORT": "not-a-port",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != 3000 {
					t.Errorf("Expected default 3000, got %d", cfg.Server.Port)
				}
			},
		},
		{
			name: "ENABLE_RATE_LIMIT boolean (false)",
			envVars: map[string]string{
				"ENABLE_RATE_LIMIT": "false",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.RateLimit.Enabled {
					t.Error("Expected rate limit disabled")
				}
			},
		},
		{
			name: "CIRCUIT_BREAKER_ENABLED boolean (1)",
			envVars: map[string]string{
				"CIRCUIT_BREAKER_ENABLED": "1",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if !cfg.CircuitBreaker.Enabled {
					t.Error("Expected circuit breaker enabled")
				}
			},
		},
		{
			name: "CACHE_TTL_SECONDS whole seconds",
			envVars: map[string]string{
				"CACHE_TTL_SECONDS": "90",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Verification.CacheTTL.Duration != 90*time.Second {
					t.Errorf("Expected 90s, got %v", cfg.Verification.CacheTTL.Duration)
				}
			},
		},
		{
			name: "DEDUP_WINDOW_SECONDS negative ignored",
			envVars: map[string]string{
				"DEDUP_WINDOW_SECONDS": "-5",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Verification.DedupWindow.Duration != 5*time.Minute {
					t.Errorf("Expected default 5m, got %v", cfg.Verification.DedupWindow.Duration)
				}
			},
		},
		{
			name: "webhook settings",
			envVars: map[string]string{
				"WEBHOOK_URL":             "https://merchant.example.com/hooks",
				"WEBHOOK_SECRET":          "shh",
				"WEBHOOK_TIMEOUT_SECONDS": "5",
				"WEBHOOK_RETRY_ATTEMPTS":  "2",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if !cfg.Webhook.Enabled() {
					t.Error("Expected webhook enabled")
				}
				if cfg.Webhook.Timeout.Duration != 5*time.Second {
					t.Errorf("Expected 5s timeout, got %v", cfg.Webhook.Timeout.Duration)
				}
				if cfg.Webhook.RetryAttempts != 2 {
					t.Errorf("Expected 2 retries, got %d", cfg.Webhook.RetryAttempts)
				}
			},
		},
		{
			name: "audit backend selection",
			envVars: map[string]string{
				"AUDIT_BACKEND":      "postgres",
				"AUDIT_POSTGRES_DSN": "postgres://audit:pw@localhost/audit",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Audit.Backend != "postgres" {
					t.Errorf("Expected postgres, got %s", cfg.Audit.Backend)
				}
				if cfg.Audit.PostgresDSN == "" {
					t.Error("Expected DSN to be set")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}
