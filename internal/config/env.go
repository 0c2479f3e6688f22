package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIntIfEnv(&c.Server.Port, "PORT")

	// Logging config
	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "ENVIRONMENT")

	// Chain config
	setIfEnv(&c.Chain.RPCURL, "SOLANA_RPC_URL")
	setIfEnv(&c.Chain.Network, "NETWORK")
	setIfEnv(&c.Chain.FeePayerKey, "FEE_PAYER_PRIVATE_KEY")

	// Verification config
	setIntIfEnv(&c.Verification.CacheSize, "CACHE_SIZE")
	setSecondsIfEnv(&c.Verification.CacheTTL, "CACHE_TTL_SECONDS")
	setIntIfEnv(&c.Verification.DedupMaxEntries, "DEDUP_MAX_ENTRIES")
	setSecondsIfEnv(&c.Verification.DedupWindow, "DEDUP_WINDOW_SECONDS")
	setSecondsIfEnv(&c.Verification.PaymentExpiry, "PAYMENT_EXPIRY_SECONDS")

	// Rate limit config
	setBoolIfEnv(&c.RateLimit.Enabled, "ENABLE_RATE_LIMIT")
	setIntIfEnv(&c.RateLimit.PerSecond, "RATE_LIMIT_PER_SECOND")
	setIntIfEnv(&c.RateLimit.BurstSize, "RATE_LIMIT_BURST_SIZE")

	// Webhook config
	setIfEnv(&c.Webhook.URL, "WEBHOOK_URL")
	setIfEnv(&c.Webhook.Secret, "WEBHOOK_SECRET")
	setSecondsIfEnv(&c.Webhook.Timeout, "WEBHOOK_TIMEOUT_SECONDS")
	setIntIfEnv(&c.Webhook.RetryAttempts, "WEBHOOK_RETRY_ATTEMPTS")
	setIntIfEnv(&c.Webhook.QueueSize, "WEBHOOK_QUEUE_SIZE")

	// Audit config
	setIfEnv(&c.Audit.Backend, "AUDIT_BACKEND")
	setIfEnv(&c.Audit.PostgresDSN, "AUDIT_POSTGRES_DSN")
	setIfEnv(&c.Audit.MongoDBURI, "AUDIT_MONGODB_URI")
	setIfEnv(&c.Audit.MongoDBDatabase, "AUDIT_MONGODB_DATABASE")
	setIntIfEnv(&c.Audit.QueueSize, "AUDIT_QUEUE_SIZE")

	// Circuit breaker config
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
// Non-numeric values are ignored so a typo falls back to the default.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setSecondsIfEnv sets a Duration pointer from an environment variable
// holding a whole number of seconds.
func setSecondsIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			*target = Duration{Duration: time.Duration(n) * time.Second}
		}
	}
}
