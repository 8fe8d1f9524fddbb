package config

import "time"

// ApplyDefaults fills in zero values with sensible defaults so a minimal
// configuration file (or none at all, plus WARDEN_AUTH_SECRET) is enough
// to run a development server.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Tree.Type == "" {
		cfg.Tree.Type = "memory"
	}
	if cfg.Content.Type == "" {
		cfg.Content.Type = "memory"
	}
	if cfg.Audit.Type == "" {
		cfg.Audit.Type = "memory"
	}

	if cfg.RateLimit.Counter.Type == "" {
		cfg.RateLimit.Counter.Type = "memory"
	}
	if cfg.RateLimit.StorageOps.Limit == 0 {
		cfg.RateLimit.StorageOps = QuotaConfig{Limit: 120, Window: time.Minute}
	}
	if cfg.RateLimit.Download.Limit == 0 {
		cfg.RateLimit.Download = QuotaConfig{Limit: 30, Window: time.Minute}
	}
}
