package config

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"

	"github.com/wardenfs/warden/internal/ratelimiter"
	"github.com/wardenfs/warden/pkg/audit"
	auditbadger "github.com/wardenfs/warden/pkg/audit/badger"
	auditmemory "github.com/wardenfs/warden/pkg/audit/memory"
	"github.com/wardenfs/warden/pkg/content"
	contentmemory "github.com/wardenfs/warden/pkg/content/memory"
	contents3 "github.com/wardenfs/warden/pkg/content/s3"
	"github.com/wardenfs/warden/pkg/storage"
	storagebadger "github.com/wardenfs/warden/pkg/storage/badger"
	storagememory "github.com/wardenfs/warden/pkg/storage/memory"
)

// badgerYAMLConfig is the shared shape of badger sections.
type badgerYAMLConfig struct {
	Path       string `mapstructure:"path"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

// s3YAMLConfig is the shape of the content.s3 section.
type s3YAMLConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	URLExpiry       string `mapstructure:"url_expiry"`
}

// redisYAMLConfig is the shape of the rate_limit.counter.redis section.
type redisYAMLConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// NewTreeStore builds the configured storage tree backend.
func NewTreeStore(ctx context.Context, cfg TreeStoreConfig) (storage.TreeStore, error) {
	switch cfg.Type {
	case "memory":
		return storagememory.NewMemoryTreeStore(), nil
	case "badger":
		var badgerCfg badgerYAMLConfig
		if err := mapstructure.Decode(cfg.Badger, &badgerCfg); err != nil {
			return nil, fmt.Errorf("invalid badger config: %w", err)
		}
		if badgerCfg.Path == "" {
			return nil, fmt.Errorf("badger path is required")
		}

		store, err := storagebadger.NewBadgerTreeStore(ctx, storagebadger.BadgerTreeStoreConfig{
			DBPath:     badgerCfg.Path,
			SyncWrites: badgerCfg.SyncWrites,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open tree database: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown tree store type: %q", cfg.Type)
	}
}

// NewContentStore builds the configured content broker.
func NewContentStore(ctx context.Context, cfg ContentStoreConfig) (content.Store, error) {
	switch cfg.Type {
	case "memory":
		return contentmemory.NewMemoryBroker(), nil
	case "s3":
		var s3Cfg s3YAMLConfig
		if err := mapstructure.Decode(cfg.S3, &s3Cfg); err != nil {
			return nil, fmt.Errorf("invalid s3 config: %w", err)
		}
		if s3Cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required")
		}
		if s3Cfg.Region == "" {
			return nil, fmt.Errorf("s3 region is required")
		}

		var urlExpiry time.Duration
		if s3Cfg.URLExpiry != "" {
			var err error
			urlExpiry, err = time.ParseDuration(s3Cfg.URLExpiry)
			if err != nil {
				return nil, fmt.Errorf("invalid s3 url_expiry: %w", err)
			}
		}

		client, err := contents3.NewClient(ctx, contents3.ClientConfig{
			Region:          s3Cfg.Region,
			Endpoint:        s3Cfg.Endpoint,
			AccessKeyID:     s3Cfg.AccessKeyID,
			SecretAccessKey: s3Cfg.SecretAccessKey,
			UsePathStyle:    s3Cfg.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 client: %w", err)
		}

		broker, err := contents3.NewS3Broker(ctx, contents3.S3BrokerConfig{
			Client:    client,
			Bucket:    s3Cfg.Bucket,
			KeyPrefix: s3Cfg.KeyPrefix,
			URLExpiry: urlExpiry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 broker: %w", err)
		}
		return broker, nil
	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

// NewAuditSink builds the configured audit sink. The returned closer
// releases backend resources and is a no-op for the memory sink.
func NewAuditSink(cfg AuditConfig) (audit.Sink, func() error, error) {
	switch cfg.Type {
	case "memory":
		return auditmemory.NewMemorySink(), func() error { return nil }, nil
	case "badger":
		var badgerCfg badgerYAMLConfig
		if err := mapstructure.Decode(cfg.Badger, &badgerCfg); err != nil {
			return nil, nil, fmt.Errorf("invalid badger config: %w", err)
		}
		if badgerCfg.Path == "" {
			return nil, nil, fmt.Errorf("badger path is required")
		}

		sink, err := auditbadger.NewBadgerSink(auditbadger.BadgerSinkConfig{
			DBPath:     badgerCfg.Path,
			SyncWrites: badgerCfg.SyncWrites,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		return sink, sink.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit sink type: %q", cfg.Type)
	}
}

// NewLimiter builds the rate limiter with the configured counter backend.
// The returned closer releases the backend connection and is a no-op for
// the memory counter.
func NewLimiter(ctx context.Context, cfg RateLimitConfig) (*ratelimiter.Limiter, func() error, error) {
	var (
		store  ratelimiter.CounterStore
		closer = func() error { return nil }
	)

	switch cfg.Counter.Type {
	case "memory":
		store = ratelimiter.NewMemoryCounterStore()
	case "redis":
		var redisCfg redisYAMLConfig
		if err := mapstructure.Decode(cfg.Counter.Redis, &redisCfg); err != nil {
			return nil, nil, fmt.Errorf("invalid redis config: %w", err)
		}
		if redisCfg.Addr == "" {
			return nil, nil, fmt.Errorf("redis addr is required")
		}

		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})

		redisStore, err := ratelimiter.NewRedisCounterStore(ctx, ratelimiter.RedisCounterStoreConfig{
			Client:    client,
			KeyPrefix: redisCfg.KeyPrefix,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to initialize redis counter store: %w", err)
		}
		store = redisStore
		closer = client.Close
	default:
		return nil, nil, fmt.Errorf("unknown counter store type: %q", cfg.Counter.Type)
	}

	limiter := ratelimiter.New(ratelimiter.LimiterConfig{
		Store: store,
		Quotas: map[ratelimiter.Class]ratelimiter.Quota{
			ratelimiter.ClassStorageOps: {Limit: cfg.StorageOps.Limit, Window: cfg.StorageOps.Window},
			ratelimiter.ClassDownload:   {Limit: cfg.Download.Limit, Window: cfg.Download.Window},
		},
		FailOpen: !cfg.FailClosed,
	})
	return limiter, closer, nil
}
