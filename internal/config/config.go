// Package config provides configuration management for the attachment milter.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/infodancer/attachment-milter/internal/logging"
	"github.com/infodancer/attachment-milter/internal/sessionid"
)

// Event log sink types.
const (
	EventLogBuffered = "buffered"
	EventLogDirect   = "direct"
	EventLogRedis    = "redis"
)

// FileConfig is the top-level wrapper for the configuration file.
type FileConfig struct {
	Milter Config `toml:"milter" yaml:"milter"`
}

// Config holds the complete milter configuration.
type Config struct {
	Name       string           `toml:"name" yaml:"name"`
	LogLevel   string           `toml:"log_level" yaml:"log_level"`
	Listeners  []ListenerConfig `toml:"listeners" yaml:"listeners"`
	Timeouts   TimeoutsConfig   `toml:"timeouts" yaml:"timeouts"`
	Actions    ActionsConfig    `toml:"actions" yaml:"actions"`
	Dispatch   DispatchConfig   `toml:"dispatch" yaml:"dispatch"`
	EventLog   EventLogConfig   `toml:"event_log" yaml:"event_log"`
	SessionIDs string           `toml:"session_ids" yaml:"session_ids"`
	Metrics    MetricsConfig    `toml:"metrics" yaml:"metrics"`
}

// ListenerConfig defines settings for a single listener.
type ListenerConfig struct {
	Address string `toml:"address" yaml:"address"`
}

// TimeoutsConfig defines timeout durations.
type TimeoutsConfig struct {
	Idle     string `toml:"idle" yaml:"idle"`
	Dispatch string `toml:"dispatch" yaml:"dispatch"`
}

// ActionsConfig lists the message modification capabilities declared to the
// MTA during negotiation. Unset values default to true.
type ActionsConfig struct {
	AddHeaders    *bool `toml:"add_headers" yaml:"add_headers"`
	ChangeBody    *bool `toml:"change_body" yaml:"change_body"`
	AddRecipients *bool `toml:"add_recipients" yaml:"add_recipients"`
}

// DispatchConfig configures the artifact ingestion endpoint.
type DispatchConfig struct {
	URL         string `toml:"url" yaml:"url"`
	Concurrency int    `toml:"concurrency" yaml:"concurrency"`
}

// EventLogConfig selects where session events are written.
type EventLogConfig struct {
	Type      string      `toml:"type" yaml:"type"`
	QueueSize int         `toml:"queue_size" yaml:"queue_size"`
	Path      string      `toml:"path" yaml:"path"`
	Redis     RedisConfig `toml:"redis" yaml:"redis"`
}

// RedisConfig holds connection settings for the redis event log.
type RedisConfig struct {
	Address  string `toml:"address" yaml:"address"`
	Password string `toml:"password" yaml:"password"`
	DB       int    `toml:"db" yaml:"db"`
	Key      string `toml:"key" yaml:"key"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Address string `toml:"address" yaml:"address"`
	Path    string `toml:"path" yaml:"path"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		Name:     "attachment-milter",
		LogLevel: "info",
		Listeners: []ListenerConfig{
			{Address: "inet:9900@localhost"},
		},
		Timeouts: TimeoutsConfig{
			Idle:     "600s",
			Dispatch: "30s",
		},
		Dispatch: DispatchConfig{
			URL:         "http://localhost:8080/artifacts",
			Concurrency: 1,
		},
		EventLog: EventLogConfig{
			Type:      EventLogBuffered,
			QueueSize: 4,
			Path:      "/var/log/attachment-milter.log",
			Redis: RedisConfig{
				Address: "localhost:6379",
				Key:     "attachment-milter:events",
			},
		},
		SessionIDs: string(sessionid.KindCounter),
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9100",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}

	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}

	if len(c.Listeners) == 0 {
		return errors.New("at least one listener is required")
	}

	for i, l := range c.Listeners {
		if l.Address == "" {
			return fmt.Errorf("listener %d: address is required", i)
		}
		if _, _, err := ParseAddress(l.Address); err != nil {
			return fmt.Errorf("listener %d: %w", i, err)
		}
	}

	if c.Timeouts.Idle != "" {
		if _, err := time.ParseDuration(c.Timeouts.Idle); err != nil {
			return fmt.Errorf("invalid idle timeout: %w", err)
		}
	}

	if c.Timeouts.Dispatch != "" {
		d, err := time.ParseDuration(c.Timeouts.Dispatch)
		if err != nil {
			return fmt.Errorf("invalid dispatch timeout: %w", err)
		}
		if d <= 0 {
			return errors.New("dispatch timeout must be positive")
		}
	}

	if c.Dispatch.URL == "" {
		return errors.New("dispatch url is required")
	}
	u, err := url.Parse(c.Dispatch.URL)
	if err != nil {
		return fmt.Errorf("invalid dispatch url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("dispatch url %q must use http or https", c.Dispatch.URL)
	}

	if c.Dispatch.Concurrency <= 0 {
		return errors.New("dispatch concurrency must be positive")
	}

	switch c.EventLog.Type {
	case EventLogBuffered:
		if c.EventLog.QueueSize <= 0 {
			return errors.New("event_log queue_size must be positive")
		}
	case EventLogDirect:
		if c.EventLog.Path == "" {
			return errors.New("event_log path is required for the direct sink")
		}
	case EventLogRedis:
		if c.EventLog.Redis.Address == "" {
			return errors.New("event_log redis address is required for the redis sink")
		}
	default:
		return fmt.Errorf("invalid event_log type %q (valid: buffered, direct, redis)", c.EventLog.Type)
	}

	if !sessionid.Valid(sessionid.Kind(c.SessionIDs)) {
		return fmt.Errorf("invalid session_ids %q (valid: counter, uuid)", c.SessionIDs)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

// IdleTimeout returns the idle timeout as a time.Duration.
// Returns 600 seconds if not configured or invalid.
func (c *TimeoutsConfig) IdleTimeout() time.Duration {
	return parseDurationOr(c.Idle, 600*time.Second)
}

// DispatchTimeout returns the per-upload timeout as a time.Duration.
// Returns 30 seconds if not configured or invalid.
func (c *TimeoutsConfig) DispatchTimeout() time.Duration {
	return parseDurationOr(c.Dispatch, 30*time.Second)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// AddHeadersEnabled reports whether the add-headers capability is declared.
func (a ActionsConfig) AddHeadersEnabled() bool { return boolOr(a.AddHeaders, true) }

// ChangeBodyEnabled reports whether the change-body capability is declared.
func (a ActionsConfig) ChangeBodyEnabled() bool { return boolOr(a.ChangeBody, true) }

// AddRecipientsEnabled reports whether the add-recipients capability is declared.
func (a ActionsConfig) AddRecipientsEnabled() bool { return boolOr(a.AddRecipients, true) }

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
