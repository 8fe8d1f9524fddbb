// Package config loads and validates the warden server configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (WARDEN_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Store configuration follows a type-discriminator pattern: each backend
// selection carries a `type` field plus a type-specific section, and only
// the section matching the selected type is decoded (by the factories in
// factories.go).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete warden server configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains the HTTP server settings.
	Server ServerConfig `mapstructure:"server"`

	// Auth configures session-token verification.
	Auth AuthConfig `mapstructure:"auth"`

	// Tree selects and configures the storage tree backend.
	Tree TreeStoreConfig `mapstructure:"tree"`

	// Content selects and configures the content broker backend.
	Content ContentStoreConfig `mapstructure:"content"`

	// Audit selects and configures the audit sink.
	Audit AuditConfig `mapstructure:"audit"`

	// RateLimit configures quotas and the counter backend.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum level to output: trace, debug, info, warn or
	// error.
	Level string `mapstructure:"level" validate:"required,oneof=trace debug info warn error"`

	// Format is json or console.
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// ListenAddress is the host:port the server binds.
	ListenAddress string `mapstructure:"listen_address" validate:"required"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// AllowedOrigins configures CORS. Empty disallows browser
	// cross-origin access.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig configures session-token verification.
type AuthConfig struct {
	// Secret is the HMAC key session tokens are signed with. Required;
	// short secrets are rejected.
	Secret string `mapstructure:"secret" validate:"required,min=16"`
}

// TreeStoreConfig selects the storage tree backend.
type TreeStoreConfig struct {
	// Type is memory or badger.
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Badger holds badger-specific settings; used only when Type is
	// badger.
	Badger map[string]any `mapstructure:"badger"`
}

// ContentStoreConfig selects the content broker backend.
type ContentStoreConfig struct {
	// Type is memory or s3.
	Type string `mapstructure:"type" validate:"required,oneof=memory s3"`

	// S3 holds s3-specific settings; used only when Type is s3.
	S3 map[string]any `mapstructure:"s3"`
}

// AuditConfig selects the audit sink.
type AuditConfig struct {
	// Type is memory or badger.
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Badger holds badger-specific settings; used only when Type is
	// badger.
	Badger map[string]any `mapstructure:"badger"`

	// BufferSize is the recorder's dispatch channel capacity.
	BufferSize int `mapstructure:"buffer_size" validate:"gte=0"`
}

// QuotaConfig is the per-window limit for one operation class.
type QuotaConfig struct {
	// Limit is the number of operations allowed per window.
	Limit int `mapstructure:"limit" validate:"gt=0"`

	// Window is the fixed window length.
	Window time.Duration `mapstructure:"window" validate:"required,gt=0"`
}

// CounterConfig selects the rate-limit counter backend.
type CounterConfig struct {
	// Type is memory or redis. Memory counters are per-instance; multi-
	// instance deployments need redis so quotas are shared.
	Type string `mapstructure:"type" validate:"required,oneof=memory redis"`

	// Redis holds redis-specific settings; used only when Type is redis.
	Redis map[string]any `mapstructure:"redis"`
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	// FailClosed rejects requests when the counter store is unreachable.
	// The default (false) fails open: a transient limiter outage should
	// not block storage access, and every degraded decision is audited.
	FailClosed bool `mapstructure:"fail_closed"`

	// Counter selects the counter backend.
	Counter CounterConfig `mapstructure:"counter"`

	// StorageOps is the quota for list/create/rename/delete/visibility.
	StorageOps QuotaConfig `mapstructure:"storage_ops"`

	// Download is the quota for signed-URL issuance.
	Download QuotaConfig `mapstructure:"download"`
}

// Load reads configuration from file, environment, and defaults.
//
// An empty configPath skips the file and uses environment plus defaults;
// a missing file at an explicit path is an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// WARDEN_SERVER_LISTEN_ADDRESS overrides server.listen_address, etc.
	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so keys
	// set purely through the environment need an explicit binding for
	// Unmarshal to see them.
	for _, key := range []string{
		"logging.level", "logging.format",
		"server.listen_address", "server.shutdown_timeout",
		"auth.secret",
		"tree.type", "tree.badger.path", "tree.badger.sync_writes",
		"content.type", "content.s3.endpoint", "content.s3.region",
		"content.s3.bucket", "content.s3.access_key_id",
		"content.s3.secret_access_key", "content.s3.key_prefix",
		"content.s3.force_path_style", "content.s3.url_expiry",
		"audit.type", "audit.badger.path", "audit.buffer_size",
		"rate_limit.fail_closed", "rate_limit.counter.type",
		"rate_limit.counter.redis.addr", "rate_limit.counter.redis.password",
		"rate_limit.counter.redis.db", "rate_limit.counter.redis.key_prefix",
		"rate_limit.storage_ops.limit", "rate_limit.storage_ops.window",
		"rate_limit.download.limit", "rate_limit.download.window",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
