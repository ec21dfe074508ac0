package config

import (
	"os"
	"strconv"
)

// ApplyEnv applies environment variable overrides to the configuration.
// Environment variables take precedence over the config file but are overridden by command-line flags.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("MILTER_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("MILTER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MILTER_LISTEN"); v != "" {
		cfg.Listeners = []ListenerConfig{{Address: v}}
	}
	if v := os.Getenv("MILTER_DISPATCH_URL"); v != "" {
		cfg.Dispatch.URL = v
	}
	if v := os.Getenv("MILTER_DISPATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.Concurrency = n
		}
	}
	if v := os.Getenv("MILTER_DISPATCH_TIMEOUT"); v != "" {
		cfg.Timeouts.Dispatch = v
	}
	if v := os.Getenv("MILTER_EVENT_LOG_TYPE"); v != "" {
		cfg.EventLog.Type = v
	}
	if v := os.Getenv("MILTER_EVENT_LOG_PATH"); v != "" {
		cfg.EventLog.Path = v
	}
	if v := os.Getenv("MILTER_REDIS_ADDRESS"); v != "" {
		cfg.EventLog.Redis.Address = v
	}
	if v := os.Getenv("MILTER_REDIS_PASSWORD"); v != "" {
		cfg.EventLog.Redis.Password = v
	}
	if v := os.Getenv("MILTER_SESSION_IDS"); v != "" {
		cfg.SessionIDs = v
	}
	if v := os.Getenv("MILTER_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}

	return cfg
}
