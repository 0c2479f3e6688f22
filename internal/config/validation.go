package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/x402svm/facilitator/pkg/x402"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	// Backfill fields a config file may have explicitly blanked
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Chain.Network == "" {
		c.Chain.Network = x402.NetworkDevnet
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Chain.SubmitMaxAttempts == 0 {
		c.Chain.SubmitMaxAttempts = 3
	}
	if c.Chain.SubmitTimeout.Duration == 0 {
		c.Chain.SubmitTimeout = Duration{Duration: 30 * time.Second}
	}
	if c.Verification.CacheTTL.Duration == 0 {
		c.Verification.CacheTTL = Duration{Duration: 30 * time.Second}
	}
	if c.Verification.DedupWindow.Duration == 0 {
		c.Verification.DedupWindow = Duration{Duration: 5 * time.Minute}
	}
	if c.Verification.PaymentExpiry.Duration == 0 {
		c.Verification.PaymentExpiry = Duration{Duration: 10 * time.Minute}
	}
	if c.Webhook.Timeout.Duration == 0 {
		c.Webhook.Timeout = Duration{Duration: 10 * time.Second}
	}
	if c.Webhook.RetryAttempts == 0 {
		c.Webhook.RetryAttempts = 3
	}
	if c.Webhook.QueueSize == 0 {
		c.Webhook.QueueSize = 256
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = "log"
	}
	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = 1024
	}

	// Burst below refill makes the limiter reject sustained traffic it
	// should admit, so clamp it up
	if c.RateLimit.Enabled && c.RateLimit.BurstSize < c.RateLimit.PerSecond {
		c.RateLimit.BurstSize = c.RateLimit.PerSecond
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
// Key material is checked for presence only; decode failures surface when
// the signer loads the key.
func (c *Config) validate() error {
	var errs []string

	if c.Chain.RPCURL == "" {
		errs = append(errs, "SOLANA_RPC_URL is required")
	} else if !strings.HasPrefix(c.Chain.RPCURL, "http://") && !strings.HasPrefix(c.Chain.RPCURL, "https://") {
		errs = append(errs, fmt.Sprintf("SOLANA_RPC_URL must start with http:// or https://, got %q", c.Chain.RPCURL))
	}
	if c.Chain.FeePayerKey == "" {
		errs = append(errs, "FEE_PAYER_PRIVATE_KEY is required")
	}
	if !x402.NetworkSupported(c.Chain.Network) {
		errs = append(errs, fmt.Sprintf("NETWORK must be one of %s, got %q",
			strings.Join(x402.SupportedNetworks, ", "), c.Chain.Network))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Verification.CacheSize < 1 {
		errs = append(errs, fmt.Sprintf("CACHE_SIZE must be at least 1, got %d", c.Verification.CacheSize))
	}
	if c.Verification.DedupMaxEntries < 1 {
		errs = append(errs, fmt.Sprintf("DEDUP_MAX_ENTRIES must be at least 1, got %d", c.Verification.DedupMaxEntries))
	}
	if c.RateLimit.Enabled && c.RateLimit.PerSecond < 1 {
		errs = append(errs, fmt.Sprintf("RATE_LIMIT_PER_SECOND must be at least 1, got %d", c.RateLimit.PerSecond))
	}

	switch c.Audit.Backend {
	case "log", "postgres", "mongodb":
	default:
		errs = append(errs, fmt.Sprintf("AUDIT_BACKEND must be log, postgres, or mongodb, got %q", c.Audit.Backend))
	}
	if c.Audit.Backend == "postgres" && c.Audit.PostgresDSN == "" {
		errs = append(errs, "AUDIT_POSTGRES_DSN is required when AUDIT_BACKEND=postgres")
	}
	if c.Audit.Backend == "mongodb" && c.Audit.MongoDBURI == "" {
		errs = append(errs, "AUDIT_MONGODB_URI is required when AUDIT_BACKEND=mongodb")
	}

	if c.Webhook.URL != "" && c.Webhook.Secret == "" {
		errs = append(errs, "WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
