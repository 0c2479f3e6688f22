package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds facilitator configuration aggregated from defaults, an
// optional YAML file, and environment variables (environment wins).
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Chain          ChainConfig          `yaml:"chain"`
	Verification   VerificationConfig   `yaml:"verification"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Webhook        WebhookConfig        `yaml:"webhook"`
	Audit          AuditConfig          `yaml:"audit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               int      `yaml:"port"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug | info | warn | error
	Format      string `yaml:"format"` // json | console
	Environment string `yaml:"environment"`
}

// ChainConfig holds the RPC endpoint, network identity, and the fee-payer
// key the settlement path signs with.
type ChainConfig struct {
	RPCURL            string   `yaml:"rpc_url"`
	Network           string   `yaml:"network"` // solana | solana-devnet | solana-testnet
	FeePayerKey       string   `yaml:"-"`       // base58; env only, never in files
	SubmitMaxAttempts int      `yaml:"submit_max_attempts"`
	SubmitTimeout     Duration `yaml:"submit_timeout"` // per attempt
}

// VerificationConfig bounds the account cache, the replay-dedup store, and
// the payment expiry window.
type VerificationConfig struct {
	CacheSize       int      `yaml:"cache_size"`
	CacheTTL        Duration `yaml:"cache_ttl"`
	DedupMaxEntries int      `yaml:"dedup_max_entries"`
	DedupWindow     Duration `yaml:"dedup_window"`
	PaymentExpiry   Duration `yaml:"payment_expiry"`
}

// RateLimitConfig holds request rate limiting configuration.
type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	PerSecond int  `yaml:"per_second"`
	BurstSize int  `yaml:"burst_size"`
}

// WebhookConfig holds the signed callback endpoint configuration. Both URL
// and secret must be set for delivery to be enabled.
type WebhookConfig struct {
	URL           string   `yaml:"url"`
	Secret        string   `yaml:"-"` // env only
	Timeout       Duration `yaml:"timeout"`
	RetryAttempts int      `yaml:"retry_attempts"`
	QueueSize     int      `yaml:"queue_size"`
}

// Enabled reports whether webhook delivery is configured.
func (w WebhookConfig) Enabled() bool {
	return w.URL != "" && w.Secret != ""
}

// AuditConfig selects the audit journal backend.
type AuditConfig struct {
	Backend         string             `yaml:"backend"` // log | postgres | mongodb
	PostgresDSN     string             `yaml:"-"`       // env only
	MongoDBURI      string             `yaml:"-"`       // env only
	MongoDBDatabase string             `yaml:"mongodb_database"`
	QueueSize       int                `yaml:"queue_size"`
	Pool            PostgresPoolConfig `yaml:"pool"`
}

// PostgresPoolConfig bounds the audit journal's database connection pool.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// CircuitBreakerConfig holds per-service breaker settings.
type CircuitBreakerConfig struct {
	Enabled  bool                 `yaml:"enabled"`
	ChainRPC BreakerServiceConfig `yaml:"chain_rpc"`
	Webhook  BreakerServiceConfig `yaml:"webhook"`
}

// BreakerServiceConfig configures a single circuit breaker.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
