package config

import (
	"fmt"
	"strings"
)

// Validate checks backend selections and the fields they require.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Version == "" {
		errs = append(errs, "version is required")
	}

	switch cfg.Reasoning.Backend {
	case "canned":
	case "http":
		if cfg.Reasoning.Endpoint == "" {
			errs = append(errs, "reasoning: endpoint is required for the http backend")
		}
		if cfg.Reasoning.Model == "" {
			errs = append(errs, "reasoning: model is required for the http backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("reasoning: unknown backend %q (want canned or http)", cfg.Reasoning.Backend))
	}

	switch cfg.Storage.Backend {
	case "memory":
	case "sqlite":
		if cfg.Storage.SQLitePath == "" {
			errs = append(errs, "storage: sqlite_path is required for the sqlite backend")
		}
	case "redis":
		if cfg.Storage.RedisAddr == "" {
			errs = append(errs, "storage: redis_addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (want memory, sqlite, or redis)", cfg.Storage.Backend))
	}

	if cfg.Engine.SwarmWorkers < 1 {
		errs = append(errs, "engine: swarm_workers must be positive")
	}
	if cfg.Engine.QueueDepth < 1 {
		errs = append(errs, "engine: queue_depth must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
